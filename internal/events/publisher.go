// Package events publishes domain events for external consumers. Event
// delivery is best effort: the paging pipeline never fails because an
// observer is down.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sofianedjerbi/rouse/internal/model"
)

// Publisher emits domain events. Implementations must not block the
// caller on downstream failures.
type Publisher interface {
	Publish(ctx context.Context, event model.Event)
}

// StreamName is the JetStream stream holding all domain events.
const StreamName = "ROUSE_EVENTS"

// subjectPrefix is prepended to the event type to form the subject, so
// consumers can filter on e.g. "rouse.event.alert.>".
const subjectPrefix = "rouse.event."

// JetStreamPublisher publishes events to a JetStream stream.
type JetStreamPublisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewJetStreamPublisher creates the event stream if needed and returns a
// publisher bound to it.
func NewJetStreamPublisher(logger *zap.Logger, js nats.JetStreamContext) (*JetStreamPublisher, error) {
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{subjectPrefix + ">"},
		Storage:  nats.FileStorage,
	}); err != nil {
		return nil, fmt.Errorf("failed to create event stream: %w", err)
	}

	return &JetStreamPublisher{
		logger: logger.Named("events"),
		js:     js,
	}, nil
}

// Publish implements Publisher.Publish. Failures are logged and dropped.
func (p *JetStreamPublisher) Publish(ctx context.Context, event model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event",
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return
	}

	if _, err := p.js.Publish(subjectPrefix+string(event.Type), data); err != nil {
		p.logger.Warn("Failed to publish event",
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.Event) {}

// Recorder collects published events in memory for tests.
type Recorder struct {
	Events []model.Event
}

func (r *Recorder) Publish(_ context.Context, event model.Event) {
	r.Events = append(r.Events, event)
}
