package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sofianedjerbi/rouse/internal/model"
	"github.com/sofianedjerbi/rouse/internal/testutil"
)

func TestJetStreamPublisherCreatesStreamAndPublishes(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	publisher, err := NewJetStreamPublisher(zap.NewNop(), js)
	require.NoError(t, err)

	info, err := js.StreamInfo(StreamName)
	require.NoError(t, err)
	require.Equal(t, []string{"rouse.event.>"}, info.Config.Subjects)

	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	publisher.Publish(context.Background(), model.Event{
		Type:       model.EventAlertReceived,
		AlertID:    "alert-1",
		Source:     "prometheus",
		Severity:   "critical",
		OccurredAt: now,
	})
	publisher.Publish(context.Background(), model.Event{
		Type:       model.EventAlertResolved,
		AlertID:    "alert-1",
		UserID:     "alice",
		OccurredAt: now.Add(time.Minute),
	})

	sub, err := js.SubscribeSync("rouse.event.alert.received",
		nats.DeliverAll(), nats.AckExplicit())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var event model.Event
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	require.Equal(t, model.EventAlertReceived, event.Type)
	require.Equal(t, "alert-1", event.AlertID)
	require.Equal(t, "critical", event.Severity)
}

func TestJetStreamPublisherIsIdempotentOnStream(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	_, err := NewJetStreamPublisher(zap.NewNop(), js)
	require.NoError(t, err)
	_, err = NewJetStreamPublisher(zap.NewNop(), js)
	require.NoError(t, err)
}
