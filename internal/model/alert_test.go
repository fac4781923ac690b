package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testNow() time.Time {
	return time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
}

func makeRawAlert() RawAlert {
	return RawAlert{
		ExternalID: "ext-123",
		Source:     "alertmanager",
		Severity:   "critical",
		Labels:     map[string]string{"alertname": "HighCPU", "instance": "web-01"},
		Summary:    "CPU is high",
		Status:     "firing",
	}
}

func TestNewAlert(t *testing.T) {
	alert, events := NewAlert(makeRawAlert(), testNow())

	require.Equal(t, AlertStatusFiring, alert.Status)
	require.Equal(t, SeverityCritical, alert.Severity)
	require.NotEmpty(t, alert.ID)
	require.NotEmpty(t, alert.Fingerprint)
	require.Equal(t, testNow(), alert.CreatedAt)
	require.Nil(t, alert.AcknowledgedAt)

	require.Len(t, events, 1)
	require.Equal(t, EventAlertReceived, events[0].Type)
	require.Equal(t, alert.ID, events[0].AlertID)
}

func TestFingerprint_LabelOrderIrrelevant(t *testing.T) {
	a := Fingerprint("src", map[string]string{"a": "1", "b": "2", "c": "3"})
	b := Fingerprint("src", map[string]string{"c": "3", "a": "1", "b": "2"})
	require.Equal(t, a, b)
}

func TestFingerprint_DistinguishesSourceAndLabels(t *testing.T) {
	base := Fingerprint("src", map[string]string{"a": "1"})
	require.NotEqual(t, base, Fingerprint("other", map[string]string{"a": "1"}))
	require.NotEqual(t, base, Fingerprint("src", map[string]string{"a": "2"}))
	// Key/value boundaries must not be ambiguous
	require.NotEqual(t,
		Fingerprint("src", map[string]string{"ab": "c"}),
		Fingerprint("src", map[string]string{"a": "bc"}))
}

func TestAlert_AcknowledgeFromFiring(t *testing.T) {
	alert, _ := NewAlert(makeRawAlert(), testNow())

	events, err := alert.Acknowledge("user-1", testNow())
	require.NoError(t, err)
	require.Equal(t, AlertStatusAcknowledged, alert.Status)
	require.NotNil(t, alert.AcknowledgedAt)
	require.Equal(t, "user-1", alert.AcknowledgedBy)
	require.Len(t, events, 1)
	require.Equal(t, EventAlertAcknowledged, events[0].Type)
}

func TestAlert_AcknowledgeTwiceIsNoop(t *testing.T) {
	alert, _ := NewAlert(makeRawAlert(), testNow())

	_, err := alert.Acknowledge("user-1", testNow())
	require.NoError(t, err)

	events, err := alert.Acknowledge("user-2", testNow())
	require.NoError(t, err)
	require.Empty(t, events)
	require.Equal(t, "user-1", alert.AcknowledgedBy)
}

func TestAlert_AcknowledgeResolvedFails(t *testing.T) {
	alert, _ := NewAlert(makeRawAlert(), testNow())
	_, err := alert.Resolve("operator", testNow())
	require.NoError(t, err)

	_, err = alert.Acknowledge("user-1", testNow())
	require.ErrorIs(t, err, ErrAlertAlreadyResolved)
}

func TestAlert_ResolveFromFiring(t *testing.T) {
	alert, _ := NewAlert(makeRawAlert(), testNow())

	events, err := alert.Resolve("operator", testNow())
	require.NoError(t, err)
	require.Equal(t, AlertStatusResolved, alert.Status)
	require.NotNil(t, alert.ResolvedAt)
	require.Len(t, events, 1)
	require.Equal(t, EventAlertResolved, events[0].Type)
}

func TestAlert_ResolveFromAcknowledged(t *testing.T) {
	alert, _ := NewAlert(makeRawAlert(), testNow())
	_, err := alert.Acknowledge("user-1", testNow())
	require.NoError(t, err)

	_, err = alert.Resolve("operator", testNow())
	require.NoError(t, err)
	require.Equal(t, AlertStatusResolved, alert.Status)
}

func TestAlert_ResolveTwiceFails(t *testing.T) {
	alert, _ := NewAlert(makeRawAlert(), testNow())
	_, err := alert.Resolve("operator", testNow())
	require.NoError(t, err)

	_, err = alert.Resolve("operator", testNow())
	require.ErrorIs(t, err, ErrAlertAlreadyResolved)
}

func TestAlert_RefreshUpdatesSeverityAndLabels(t *testing.T) {
	alert, _ := NewAlert(makeRawAlert(), testNow())

	raw := makeRawAlert()
	raw.Severity = "warning"
	raw.Labels["region"] = "eu-west"

	events := alert.Refresh(raw, testNow().Add(time.Minute))
	require.Equal(t, SeverityWarning, alert.Severity)
	require.Equal(t, "eu-west", alert.Labels["region"])
	require.Len(t, events, 1)
	require.Equal(t, EventAlertDeduplicated, events[0].Type)
}

func TestParseSeverity(t *testing.T) {
	require.Equal(t, SeverityCritical, ParseSeverity("critical"))
	require.Equal(t, SeverityWarning, ParseSeverity("warning"))
	require.Equal(t, SeverityInfo, ParseSeverity("info"))
	require.Equal(t, SeverityInfo, ParseSeverity("bogus"))
}

func TestSeverity_Ordered(t *testing.T) {
	require.True(t, SeverityInfo < SeverityWarning)
	require.True(t, SeverityWarning < SeverityCritical)
}

func TestValidateID(t *testing.T) {
	alert, _ := NewAlert(makeRawAlert(), testNow())
	require.NoError(t, ValidateID(alert.ID))
	require.ErrorIs(t, ValidateID("not-a-uuid"), ErrInvalidID)
}
