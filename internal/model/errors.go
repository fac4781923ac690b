package model

import "errors"

var (
	// ErrAlertAlreadyResolved is returned when acting on a resolved alert
	ErrAlertAlreadyResolved = errors.New("alert is already resolved")

	// ErrScheduleRequiresParticipant is returned when a schedule has no participants
	ErrScheduleRequiresParticipant = errors.New("schedule requires at least one participant")

	// ErrInvalidPhoneFormat is returned when a phone number is not valid E.164
	ErrInvalidPhoneFormat = errors.New("invalid phone format")

	// ErrInvalidOverridePeriod is returned when an override ends before it starts
	ErrInvalidOverridePeriod = errors.New("invalid override period")

	// ErrInvalidID is returned when an identifier is not a valid UUID
	ErrInvalidID = errors.New("invalid id")

	// ErrPolicyRequiresStep is returned when a policy has no steps
	ErrPolicyRequiresStep = errors.New("policy requires at least one step")

	// ErrStepRequiresTarget is returned when a step has no targets
	ErrStepRequiresTarget = errors.New("step requires at least one target")

	// ErrStepRequiresChannel is returned when a step has no channels
	ErrStepRequiresChannel = errors.New("step requires at least one channel")

	// ErrTeamRequiresMember is returned when a team has no members
	ErrTeamRequiresMember = errors.New("team requires at least one member")

	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnknownTimezone is returned when a schedule references a timezone
	// that is not in the IANA database
	ErrUnknownTimezone = errors.New("unknown timezone")
)
