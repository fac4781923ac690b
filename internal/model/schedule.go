package model

import (
	"time"

	"github.com/google/uuid"
)

// RotationKind represents the recurrence rule of a rotation
type RotationKind string

const (
	RotationDaily  RotationKind = "daily"
	RotationWeekly RotationKind = "weekly"
	RotationCustom RotationKind = "custom"
)

// Rotation assigns on-call turns to participants over recurring periods.
type Rotation struct {
	Kind RotationKind `json:"kind"`
	// PeriodSeconds is the turn length for custom rotations. Ignored for
	// daily and weekly.
	PeriodSeconds int64 `json:"period_seconds,omitempty"`
}

// Period returns the rotation turn length.
func (r Rotation) Period() time.Duration {
	switch r.Kind {
	case RotationDaily:
		return 24 * time.Hour
	case RotationWeekly:
		return 7 * 24 * time.Hour
	default:
		return time.Duration(r.PeriodSeconds) * time.Second
	}
}

// Override is a time-bounded substitution of the computed on-call
// participant. The interval is half-open: [StartsAt, EndsAt).
type Override struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ActiveAt reports whether the override covers the given instant.
func (o Override) ActiveAt(at time.Time) bool {
	return !at.Before(o.StartsAt) && at.Before(o.EndsAt)
}

// Schedule defines an on-call rotation over an ordered participant list.
// The anchor is the instant of the first handoff; turn boundaries repeat
// every rotation period from there, interpreted in the schedule timezone.
type Schedule struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Timezone     string     `json:"timezone"`
	Rotation     Rotation   `json:"rotation"`
	Anchor       time.Time  `json:"anchor"`
	Participants []string   `json:"participants"`
	Overrides    []Override `json:"overrides,omitempty"`
}

// NewSchedule creates a schedule. At least one participant is required.
func NewSchedule(name, timezone string, rotation Rotation, anchor time.Time, participants []string) (*Schedule, error) {
	if len(participants) == 0 {
		return nil, ErrScheduleRequiresParticipant
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, ErrUnknownTimezone
	}
	return &Schedule{
		ID:           uuid.New().String(),
		Name:         name,
		Timezone:     timezone,
		Rotation:     rotation,
		Anchor:       anchor,
		Participants: participants,
	}, nil
}

// AddOverride appends an override. Overrides may overlap; the
// latest-created one wins at resolution time, so append order is the
// tie-break and must be preserved.
func (s *Schedule) AddOverride(userID string, startsAt, endsAt, now time.Time) (Override, []Event, error) {
	if !endsAt.After(startsAt) {
		return Override{}, nil, ErrInvalidOverridePeriod
	}
	ovr := Override{
		ID:        uuid.New().String(),
		UserID:    userID,
		StartsAt:  startsAt,
		EndsAt:    endsAt,
		CreatedAt: now,
	}
	s.Overrides = append(s.Overrides, ovr)
	return ovr, []Event{{
		Type:       EventOnCallChanged,
		ScheduleID: s.ID,
		UserID:     userID,
		OccurredAt: now,
	}}, nil
}

// RemoveOverride deletes an override by id. Removing an unknown override
// is a no-op.
func (s *Schedule) RemoveOverride(overrideID string, now time.Time) []Event {
	for i, ovr := range s.Overrides {
		if ovr.ID == overrideID {
			s.Overrides = append(s.Overrides[:i], s.Overrides[i+1:]...)
			return []Event{{
				Type:       EventOnCallChanged,
				ScheduleID: s.ID,
				OccurredAt: now,
			}}
		}
	}
	return nil
}
