package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationStatus represents the queue status of a notification
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusClaimed   NotificationStatus = "claimed"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusDead      NotificationStatus = "dead"
	NotificationStatusCancelled NotificationStatus = "cancelled"
)

// Notification is a persisted delivery attempt for one recipient on one
// channel. It is created when an escalation step fires and mutated only
// by the notification dispatch worker. Sent, dead and cancelled are
// terminal; a transient failure goes back to pending with a later
// NextAttemptAt.
type Notification struct {
	ID            string             `json:"id"`
	AlertID       string             `json:"alert_id"`
	Channel       string             `json:"channel"`
	Target        string             `json:"target"`
	Payload       string             `json:"payload"`
	Status        NotificationStatus `json:"status"`
	NextAttemptAt time.Time          `json:"next_attempt_at"`
	RetryCount    int                `json:"retry_count"`
	CreatedAt     time.Time          `json:"created_at"`
	SentAt        *time.Time         `json:"sent_at,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// NewNotification creates a pending notification due immediately.
func NewNotification(alertID, channel, target, payload string, now time.Time) *Notification {
	return &Notification{
		ID:            uuid.New().String(),
		AlertID:       alertID,
		Channel:       channel,
		Target:        target,
		Payload:       payload,
		Status:        NotificationStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}
