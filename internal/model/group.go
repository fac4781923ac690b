package model

import (
	"time"

	"github.com/google/uuid"
)

// AlertGroup collects related alerts that arrived within a rolling time
// window, so a burst pages once instead of once per alert.
type AlertGroup struct {
	ID          string    `json:"id"`
	RootAlertID string    `json:"root_alert_id"`
	MemberIDs   []string  `json:"member_ids"`
	GroupingKey string    `json:"grouping_key"`
	WindowSecs  int64     `json:"window_secs"`
	CreatedAt   time.Time `json:"created_at"`
	LastAddedAt time.Time `json:"last_added_at"`
}

// NewAlertGroup creates a group rooted at the given alert.
func NewAlertGroup(rootAlertID, groupingKey string, window time.Duration, now time.Time) *AlertGroup {
	return &AlertGroup{
		ID:          uuid.New().String(),
		RootAlertID: rootAlertID,
		MemberIDs:   []string{rootAlertID},
		GroupingKey: groupingKey,
		WindowSecs:  int64(window.Seconds()),
		CreatedAt:   now,
		LastAddedAt: now,
	}
}

// AddMember appends an alert to the group and advances the window.
func (g *AlertGroup) AddMember(alertID string, now time.Time) {
	g.MemberIDs = append(g.MemberIDs, alertID)
	g.LastAddedAt = now
}

// Window returns the group's rolling window.
func (g *AlertGroup) Window() time.Duration {
	return time.Duration(g.WindowSecs) * time.Second
}

// GroupingKey derives the deterministic grouping key for an alert from
// its source and service label.
func GroupingKey(alert *Alert) string {
	if service, ok := alert.Labels["service"]; ok {
		return alert.Source + ":" + service
	}
	return alert.Source
}

// ShouldGroup reports whether an alert created at the given instant still
// falls inside the group's window.
func ShouldGroup(group *AlertGroup, alertCreatedAt time.Time, window time.Duration) bool {
	return alertCreatedAt.Before(group.LastAddedAt.Add(window))
}
