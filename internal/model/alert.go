package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// AlertStatus represents the current status of an alert
type AlertStatus string

const (
	AlertStatusFiring       AlertStatus = "firing"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Severity is an ordered alert severity: info < warning < critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// ParseSeverity maps a severity string to a Severity. Unknown values
// degrade to info rather than failing, since severity comes from
// external payloads.
func ParseSeverity(s string) Severity {
	switch s {
	case "critical":
		return SeverityCritical
	case "warning":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// RawAlert is an inbound alert before domain validation, produced by a
// source-specific parser.
type RawAlert struct {
	ExternalID string            `json:"external_id"`
	Source     string            `json:"source"`
	Severity   string            `json:"severity"`
	Labels     map[string]string `json:"labels"`
	Summary    string            `json:"summary"`
	Status     string            `json:"status"`
}

// Fingerprint computes the stable dedup identity of an alert from its
// source and labels. Label order is irrelevant.
func Fingerprint(source string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(source))
	for _, k := range keys {
		fmt.Fprintf(h, "\x00%s=%s", k, labels[k])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Alert is the aggregate root for a single incident signal. It is mutated
// only through its state machine methods; a resolved alert never changes
// again, recurrences create a fresh aggregate.
type Alert struct {
	ID             string            `json:"id"`
	ExternalID     string            `json:"external_id"`
	Fingerprint    string            `json:"fingerprint"`
	Source         string            `json:"source"`
	Severity       Severity          `json:"severity"`
	Status         AlertStatus       `json:"status"`
	Labels         map[string]string `json:"labels"`
	Summary        string            `json:"summary"`
	PolicyID       string            `json:"policy_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string            `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
}

// NewAlert creates a firing alert from a raw signal and returns it with
// the events it produced.
func NewAlert(raw RawAlert, now time.Time) (*Alert, []Event) {
	labels := make(map[string]string, len(raw.Labels))
	for k, v := range raw.Labels {
		labels[k] = v
	}

	alert := &Alert{
		ID:          uuid.New().String(),
		ExternalID:  raw.ExternalID,
		Fingerprint: Fingerprint(raw.Source, labels),
		Source:      raw.Source,
		Severity:    ParseSeverity(raw.Severity),
		Status:      AlertStatusFiring,
		Labels:      labels,
		Summary:     raw.Summary,
		CreatedAt:   now,
	}

	events := []Event{{
		Type:       EventAlertReceived,
		AlertID:    alert.ID,
		Source:     alert.Source,
		Severity:   alert.Severity.String(),
		OccurredAt: now,
	}}
	return alert, events
}

// Acknowledge transitions the alert from firing to acknowledged.
// Acknowledging an already acknowledged alert is idempotent and produces
// no events; acknowledging a resolved alert fails.
func (a *Alert) Acknowledge(userID string, now time.Time) ([]Event, error) {
	switch a.Status {
	case AlertStatusResolved:
		return nil, ErrAlertAlreadyResolved
	case AlertStatusAcknowledged:
		return nil, nil
	default:
		a.Status = AlertStatusAcknowledged
		a.AcknowledgedAt = &now
		a.AcknowledgedBy = userID
		return []Event{{
			Type:       EventAlertAcknowledged,
			AlertID:    a.ID,
			UserID:     userID,
			OccurredAt: now,
		}}, nil
	}
}

// Resolve transitions the alert to resolved from firing or acknowledged.
// Resolved is terminal.
func (a *Alert) Resolve(resolvedBy string, now time.Time) ([]Event, error) {
	if a.Status == AlertStatusResolved {
		return nil, ErrAlertAlreadyResolved
	}
	a.Status = AlertStatusResolved
	a.ResolvedAt = &now
	return []Event{{
		Type:       EventAlertResolved,
		AlertID:    a.ID,
		UserID:     resolvedBy,
		OccurredAt: now,
	}}, nil
}

// Refresh applies a duplicate signal to an open alert. Labels and severity
// are updated if the new signal differs; escalation is not restarted.
func (a *Alert) Refresh(raw RawAlert, now time.Time) []Event {
	a.Severity = ParseSeverity(raw.Severity)
	for k, v := range raw.Labels {
		a.Labels[k] = v
	}
	if raw.Summary != "" {
		a.Summary = raw.Summary
	}
	return []Event{{
		Type:        EventAlertDeduplicated,
		AlertID:     a.ID,
		Fingerprint: a.Fingerprint,
		OccurredAt:  now,
	}}
}

// ValidateID checks that an externally supplied identifier is a UUID.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidID, id)
	}
	return nil
}
