// Package schedule computes who is on call for a rotation at a given
// instant. Everything here is pure: time is always an input, never read
// from the clock.
package schedule

import (
	"time"

	"github.com/sofianedjerbi/rouse/internal/model"
)

// WhoIsOnCall resolves the on-call participant at the given instant.
// Active overrides win over the rotation; among overlapping overrides the
// latest-created one wins.
func WhoIsOnCall(s *model.Schedule, at time.Time) (string, error) {
	if len(s.Participants) == 0 {
		return "", model.ErrScheduleRequiresParticipant
	}

	// Overrides are stored in creation order, so scanning backwards
	// yields last-write-wins.
	for i := len(s.Overrides) - 1; i >= 0; i-- {
		if s.Overrides[i].ActiveAt(at) {
			return s.Overrides[i].UserID, nil
		}
	}

	idx, err := turnIndex(s, at, 0)
	if err != nil {
		return "", err
	}
	return s.Participants[idx], nil
}

// WhoIsOnCallNext resolves the participant offset rotation turns after
// the one on call at the given instant. Overrides are ignored: "next in
// rotation" is a statement about the rotation itself.
func WhoIsOnCallNext(s *model.Schedule, at time.Time, offset int) (string, error) {
	if len(s.Participants) == 0 {
		return "", model.ErrScheduleRequiresParticipant
	}
	idx, err := turnIndex(s, at, offset)
	if err != nil {
		return "", err
	}
	return s.Participants[idx], nil
}

// turnIndex counts elapsed handoff boundaries since the schedule anchor
// in the schedule's timezone, plus an optional turn offset, modulo the
// participant count. Instants before the anchor are valid and resolve via
// floored modulo.
func turnIndex(s *model.Schedule, at time.Time, offset int) (int, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return 0, model.ErrUnknownTimezone
	}

	period := s.Rotation.Period()
	if period <= 0 {
		// Zero-period custom rotation: first participant holds the pager.
		return 0, nil
	}

	elapsed := at.In(loc).Sub(s.Anchor.In(loc))
	turns := floorDiv(int64(elapsed), int64(period)) + int64(offset)

	n := int64(len(s.Participants))
	return int(((turns % n) + n) % n), nil
}

// floorDiv divides rounding toward negative infinity, so pre-anchor
// instants land on the turn that precedes the anchor.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
