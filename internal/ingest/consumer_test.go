package ingest

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sofianedjerbi/rouse/internal/alert"
	"github.com/sofianedjerbi/rouse/internal/events"
	"github.com/sofianedjerbi/rouse/internal/model"
	"github.com/sofianedjerbi/rouse/internal/storage"
	"github.com/sofianedjerbi/rouse/internal/testutil"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestConsumerIngestsAlertCommands(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	store, err := storage.NewStore(zap.NewNop(), filepath.Join(t.TempDir(), "rouse.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service := alert.NewService(zap.NewNop(), store,
		alert.NewRouter(nil, ""), events.NopPublisher{}, 0)
	consumer := NewConsumer(zap.NewNop(), js, service)
	require.NoError(t, consumer.Start(ctx))

	raw := model.RawAlert{
		Source:   "prometheus",
		Severity: "critical",
		Labels:   map[string]string{"service": "api"},
		Summary:  "api is down",
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	_, err = js.Publish(SubjectAlert, data)
	require.NoError(t, err)

	fingerprint := model.Fingerprint(raw.Source, raw.Labels)
	var stored *model.Alert
	waitFor(t, func() bool {
		stored, err = store.FindOpenByFingerprint(context.Background(), fingerprint)
		require.NoError(t, err)
		return stored != nil
	})
	require.Equal(t, model.AlertStatusFiring, stored.Status)

	// Acknowledge over the wire.
	ack, err := json.Marshal(AckCommand{AlertID: stored.ID, UserID: "alice"})
	require.NoError(t, err)
	_, err = js.Publish(SubjectAck, ack)
	require.NoError(t, err)

	waitFor(t, func() bool {
		got, err := store.GetAlert(context.Background(), stored.ID)
		require.NoError(t, err)
		return got.Status == model.AlertStatusAcknowledged
	})

	// Resolve over the wire.
	resolve, err := json.Marshal(ResolveCommand{AlertID: stored.ID, UserID: "alice"})
	require.NoError(t, err)
	_, err = js.Publish(SubjectResolve, resolve)
	require.NoError(t, err)

	waitFor(t, func() bool {
		got, err := store.GetAlert(context.Background(), stored.ID)
		require.NoError(t, err)
		return got.Status == model.AlertStatusResolved
	})
}

func TestConsumerSurvivesMalformedPayloads(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	store, err := storage.NewStore(zap.NewNop(), filepath.Join(t.TempDir(), "rouse.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service := alert.NewService(zap.NewNop(), store,
		alert.NewRouter(nil, ""), events.NopPublisher{}, 0)
	consumer := NewConsumer(zap.NewNop(), js, service)
	require.NoError(t, consumer.Start(ctx))

	_, err = js.Publish(SubjectAlert, []byte("not json"))
	require.NoError(t, err)

	// A valid alert after the garbage still lands.
	raw := model.RawAlert{Source: "grafana", Labels: map[string]string{"a": "1"}}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	_, err = js.Publish(SubjectAlert, data)
	require.NoError(t, err)

	fingerprint := model.Fingerprint(raw.Source, raw.Labels)
	waitFor(t, func() bool {
		stored, err := store.FindOpenByFingerprint(context.Background(), fingerprint)
		require.NoError(t, err)
		return stored != nil
	})
}
