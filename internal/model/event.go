package model

import "time"

// EventType identifies a domain event variant
type EventType string

const (
	EventAlertReceived           EventType = "alert.received"
	EventAlertDeduplicated       EventType = "alert.deduplicated"
	EventAlertAcknowledged       EventType = "alert.acknowledged"
	EventAlertResolved           EventType = "alert.resolved"
	EventEscalationStepScheduled EventType = "escalation.step_scheduled"
	EventEscalationStepFired     EventType = "escalation.step_fired"
	EventEscalationStepCancelled EventType = "escalation.step_cancelled"
	EventEscalationExhausted     EventType = "escalation.exhausted"
	EventNotificationQueued      EventType = "notification.queued"
	EventNotificationSent        EventType = "notification.sent"
	EventNotificationDead        EventType = "notification.dead"
	EventOnCallChanged           EventType = "oncall.changed"
)

// Event is a domain event emitted by an aggregate operation. Aggregates
// return events alongside their new state and never apply side effects
// themselves; publishing is the caller's job and is best effort.
type Event struct {
	Type        EventType `json:"type"`
	AlertID     string    `json:"alert_id,omitempty"`
	ScheduleID  string    `json:"schedule_id,omitempty"`
	PolicyID    string    `json:"policy_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Source      string    `json:"source,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Channel     string    `json:"channel,omitempty"`
	Target      string    `json:"target,omitempty"`
	StepOrder   int       `json:"step_order,omitempty"`
	ExternalID  string    `json:"external_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
