package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNoiseScoreThresholds(t *testing.T) {
	score := NewNoiseScore("fp-1")
	require.Zero(t, score.Score())
	require.False(t, score.IsNoise())

	for i := 0; i < 100; i++ {
		score.RecordFire()
	}
	for i := 0; i < 85; i++ {
		score.RecordDismiss()
	}
	require.InDelta(t, 0.85, score.Score(), 0.001)
	require.True(t, score.IsNoise())
	require.False(t, score.SuggestSuppression())

	for i := 0; i < 11; i++ {
		score.RecordDismiss()
	}
	require.True(t, score.SuggestSuppression())
}

func TestClassifyDismissed(t *testing.T) {
	slowResolve := 5 * time.Minute
	fastResolve := 30 * time.Second

	// Reflexive ack.
	require.True(t, ClassifyDismissed(2*time.Second, nil))
	// Quick resolve after a considered ack.
	require.True(t, ClassifyDismissed(time.Minute, &fastResolve))
	// Considered ack, slow resolve: acted on.
	require.False(t, ClassifyDismissed(time.Minute, &slowResolve))
	require.False(t, ClassifyDismissed(time.Minute, nil))
}

func TestGroupingKeyUsesServiceLabel(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	withService, _ := NewAlert(RawAlert{Source: "prometheus", Labels: map[string]string{"service": "api"}}, now)
	require.Equal(t, "prometheus:api", GroupingKey(withService))

	without, _ := NewAlert(RawAlert{Source: "prometheus", Labels: map[string]string{"host": "h1"}}, now)
	require.Equal(t, "prometheus", GroupingKey(without))
}

func TestShouldGroupWindow(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	group := NewAlertGroup("alert-1", "prometheus:api", 5*time.Minute, now)

	require.True(t, ShouldGroup(group, now.Add(time.Minute), 5*time.Minute))
	require.False(t, ShouldGroup(group, now.Add(5*time.Minute), 5*time.Minute))

	// The window rolls forward as members join.
	group.AddMember("alert-2", now.Add(4*time.Minute))
	require.True(t, ShouldGroup(group, now.Add(8*time.Minute), 5*time.Minute))
}
