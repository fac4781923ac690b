package storage

import (
	"context"
	"time"

	"github.com/sofianedjerbi/rouse/internal/model"
)

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Status   model.AlertStatus
	Severity *model.Severity
	Source   string
	Limit    int
	Offset   int
}

// AlertRepository persists alert aggregates. The backing store is ground
// truth: callers re-read what they need per operation and never cache
// aggregates across calls.
type AlertRepository interface {
	// SaveAlert inserts or updates an alert
	SaveAlert(ctx context.Context, alert *model.Alert) error

	// GetAlert returns an alert by id, or model.ErrNotFound
	GetAlert(ctx context.Context, id string) (*model.Alert, error)

	// FindOpenByFingerprint returns the newest non-resolved alert with the
	// fingerprint, or nil if there is none
	FindOpenByFingerprint(ctx context.Context, fingerprint string) (*model.Alert, error)

	// ListAlerts returns alerts matching the filter, newest first
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*model.Alert, error)
}

// ScheduleRepository persists on-call schedules.
type ScheduleRepository interface {
	SaveSchedule(ctx context.Context, schedule *model.Schedule) error
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
	ListSchedules(ctx context.Context) ([]*model.Schedule, error)
}

// PolicyRepository persists escalation policies.
type PolicyRepository interface {
	SavePolicy(ctx context.Context, policy *model.Policy) error
	GetPolicy(ctx context.Context, id string) (*model.Policy, error)
}

// UserRepository persists users and teams.
type UserRepository interface {
	SaveUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	SaveTeam(ctx context.Context, team *model.Team) error
	GetTeam(ctx context.Context, id string) (*model.Team, error)
}

// EscalationQueue is the claim-based work queue over materialized
// escalation steps. ClaimDueSteps is the atomic arbiter between workers
// and cancellation: a row is handed to exactly one caller per due cycle.
type EscalationQueue interface {
	// EnqueueSteps persists freshly materialized pending steps
	EnqueueSteps(ctx context.Context, steps []*model.StepInstance) error

	// ClaimDueSteps atomically claims every pending step due at now.
	// Claims older than the visibility timeout are released first, so a
	// crash between claim and completion is retried on a later tick.
	ClaimDueSteps(ctx context.Context, now time.Time, visibility time.Duration) ([]*model.StepInstance, error)

	// MarkStepFired finishes a claimed step as fired
	MarkStepFired(ctx context.Context, id string) error

	// MarkStepCancelled finishes a claimed step as cancelled
	MarkStepCancelled(ctx context.Context, id string) error

	// CancelPendingSteps cancels every pending step for an alert and
	// returns how many rows it won
	CancelPendingSteps(ctx context.Context, alertID string) (int64, error)
}

// NotificationQueue is the claim-based work queue over pending
// notifications, with the same claim semantics as EscalationQueue.
type NotificationQueue interface {
	EnqueueNotifications(ctx context.Context, notifications []*model.Notification) error

	ClaimDueNotifications(ctx context.Context, now time.Time, visibility time.Duration) ([]*model.Notification, error)

	// MarkNotificationSent finishes a claimed notification as sent
	MarkNotificationSent(ctx context.Context, id string, sentAt time.Time) error

	// MarkNotificationFailed records a transient failure: the row goes
	// back to pending with the error and an increased retry count, due at
	// nextAttempt
	MarkNotificationFailed(ctx context.Context, id, errMsg string, nextAttempt time.Time) error

	// MarkNotificationDead finishes a claimed notification as dead after
	// retries are exhausted. Dead rows stay queryable.
	MarkNotificationDead(ctx context.Context, id, errMsg string) error

	CancelPendingNotifications(ctx context.Context, alertID string) (int64, error)

	// ListDeadNotifications returns dead-lettered notifications for
	// operator visibility
	ListDeadNotifications(ctx context.Context) ([]*model.Notification, error)
}

// NoiseRepository persists per-fingerprint noise scores.
type NoiseRepository interface {
	GetOrCreateNoiseScore(ctx context.Context, fingerprint string) (*model.NoiseScore, error)
	SaveNoiseScore(ctx context.Context, score *model.NoiseScore) error
	NoisiestFingerprints(ctx context.Context, minFires int64) ([]*model.NoiseScore, error)
}

// GroupRepository persists alert groups.
type GroupRepository interface {
	SaveGroup(ctx context.Context, group *model.AlertGroup) error
	FindActiveGroupByKey(ctx context.Context, key string) (*model.AlertGroup, error)
}
