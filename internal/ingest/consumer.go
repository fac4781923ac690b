// Package ingest receives alert lifecycle commands over NATS and feeds
// them into the alert service. Monitoring systems publish raw alerts and
// operators publish acknowledge/resolve commands; everything else is
// internal to the pipeline.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sofianedjerbi/rouse/internal/alert"
	"github.com/sofianedjerbi/rouse/internal/model"
)

// StreamName is the JetStream stream holding inbound commands.
const StreamName = "ROUSE_INGEST"

const (
	SubjectAlert   = "rouse.ingest.alert"
	SubjectAck     = "rouse.ingest.ack"
	SubjectResolve = "rouse.ingest.resolve"
)

// AckCommand acknowledges an alert on behalf of a user.
type AckCommand struct {
	AlertID string `json:"alert_id"`
	UserID  string `json:"user_id"`
}

// ResolveCommand resolves an alert on behalf of a user.
type ResolveCommand struct {
	AlertID string `json:"alert_id"`
	UserID  string `json:"user_id"`
}

// Consumer subscribes to the ingest subjects and applies each command
// through the alert service.
type Consumer struct {
	logger  *zap.Logger
	js      nats.JetStreamContext
	service *alert.Service
	subs    []*nats.Subscription
}

// NewConsumer creates an ingest consumer bound to the alert service.
func NewConsumer(logger *zap.Logger, js nats.JetStreamContext, service *alert.Service) *Consumer {
	return &Consumer{
		logger:  logger.Named("ingest"),
		js:      js,
		service: service,
	}
}

// Start creates the ingest stream and subscribes to the command
// subjects. Subscriptions are drained when the context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if _, err := c.js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"rouse.ingest.>"},
		Storage:  nats.FileStorage,
	}); err != nil {
		return fmt.Errorf("failed to create ingest stream: %w", err)
	}

	handlers := map[string]nats.MsgHandler{
		SubjectAlert:   c.handleAlert,
		SubjectAck:     c.handleAck,
		SubjectResolve: c.handleResolve,
	}
	for subject, handler := range handlers {
		sub, err := c.js.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
	}

	go func() {
		<-ctx.Done()
		for _, sub := range c.subs {
			sub.Unsubscribe()
		}
	}()

	c.logger.Info("Ingest consumer started")
	return nil
}

func (c *Consumer) handleAlert(msg *nats.Msg) {
	var raw model.RawAlert
	if err := json.Unmarshal(msg.Data, &raw); err != nil {
		c.logger.Error("Failed to unmarshal raw alert", zap.Error(err))
		msg.Ack()
		return
	}

	if _, err := c.service.Receive(context.Background(), raw, time.Now()); err != nil {
		c.logger.Error("Failed to ingest alert",
			zap.String("source", raw.Source),
			zap.Error(err))
		return
	}
	msg.Ack()
}

func (c *Consumer) handleAck(msg *nats.Msg) {
	var cmd AckCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		c.logger.Error("Failed to unmarshal ack command", zap.Error(err))
		msg.Ack()
		return
	}

	if _, err := c.service.Acknowledge(context.Background(), cmd.AlertID, cmd.UserID, time.Now()); err != nil {
		// Late or duplicate commands are expected; log and move on.
		c.logger.Warn("Acknowledge command rejected",
			zap.String("alert_id", cmd.AlertID),
			zap.Error(err))
	}
	msg.Ack()
}

func (c *Consumer) handleResolve(msg *nats.Msg) {
	var cmd ResolveCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		c.logger.Error("Failed to unmarshal resolve command", zap.Error(err))
		msg.Ack()
		return
	}

	if _, err := c.service.Resolve(context.Background(), cmd.AlertID, cmd.UserID, time.Now()); err != nil {
		c.logger.Warn("Resolve command rejected",
			zap.String("alert_id", cmd.AlertID),
			zap.Error(err))
	}
	msg.Ack()
}
