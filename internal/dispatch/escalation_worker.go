// Package dispatch runs the polling workers that drain the escalation
// and notification queues. Each tick claims due rows atomically, so any
// number of worker processes can share one database without double
// delivery.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sofianedjerbi/rouse/internal/escalation"
	"github.com/sofianedjerbi/rouse/internal/events"
	"github.com/sofianedjerbi/rouse/internal/model"
	"github.com/sofianedjerbi/rouse/internal/storage"
)

// EscalationWorker fires due escalation steps: it claims them, resolves
// targets through the engine and enqueues the resulting notifications.
type EscalationWorker struct {
	logger        *zap.Logger
	steps         storage.EscalationQueue
	notifications storage.NotificationQueue
	engine        *escalation.Engine
	publisher     events.Publisher
	interval      time.Duration
	visibility    time.Duration
	stop          chan struct{}
}

// NewEscalationWorker creates an escalation dispatch worker.
func NewEscalationWorker(
	logger *zap.Logger,
	steps storage.EscalationQueue,
	notifications storage.NotificationQueue,
	engine *escalation.Engine,
	publisher events.Publisher,
	interval time.Duration,
	visibility time.Duration,
) *EscalationWorker {
	return &EscalationWorker{
		logger:        logger.Named("escalation-worker"),
		steps:         steps,
		notifications: notifications,
		engine:        engine,
		publisher:     publisher,
		interval:      interval,
		visibility:    visibility,
		stop:          make(chan struct{}),
	}
}

// Start runs the polling loop until the context is cancelled or Stop is
// called.
func (w *EscalationWorker) Start(ctx context.Context) {
	w.logger.Info("Starting escalation worker",
		zap.Duration("interval", w.interval))
	go w.loop(ctx)
}

// Stop stops the worker
func (w *EscalationWorker) Stop() {
	w.logger.Info("Stopping escalation worker")
	close(w.stop)
}

func (w *EscalationWorker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case now := <-ticker.C:
			w.Tick(ctx, now)
		}
	}
}

// Tick processes one claim cycle at the given instant. Exported so the
// wall clock stays out of the dispatch logic.
func (w *EscalationWorker) Tick(ctx context.Context, now time.Time) {
	claimed, err := w.steps.ClaimDueSteps(ctx, now, w.visibility)
	if err != nil {
		w.logger.Error("Failed to claim due steps", zap.Error(err))
		return
	}

	for _, inst := range claimed {
		w.fire(ctx, inst)
	}
}

// fire handles one claimed step. On an internal error the step is left
// claimed; the visibility timeout returns it to the queue later.
func (w *EscalationWorker) fire(ctx context.Context, inst *model.StepInstance) {
	result, err := w.engine.Fire(ctx, inst)
	if err != nil {
		w.logger.Error("Failed to fire escalation step",
			zap.String("step_id", inst.ID),
			zap.String("alert_id", inst.AlertID),
			zap.Error(err))
		return
	}

	if result.Cancelled {
		if err := w.steps.MarkStepCancelled(ctx, inst.ID); err != nil {
			w.logger.Error("Failed to mark step cancelled",
				zap.String("step_id", inst.ID),
				zap.Error(err))
			return
		}
	} else {
		if err := w.notifications.EnqueueNotifications(ctx, result.Notifications); err != nil {
			w.logger.Error("Failed to enqueue notifications",
				zap.String("step_id", inst.ID),
				zap.Error(err))
			return
		}
		if err := w.steps.MarkStepFired(ctx, inst.ID); err != nil {
			w.logger.Error("Failed to mark step fired",
				zap.String("step_id", inst.ID),
				zap.Error(err))
			return
		}
		w.logger.Info("Escalation step fired",
			zap.String("alert_id", inst.AlertID),
			zap.Int("step_order", inst.StepOrder),
			zap.Int("notifications", len(result.Notifications)))
	}

	for _, event := range result.Events {
		w.publisher.Publish(ctx, event)
	}
}
