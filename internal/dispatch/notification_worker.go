package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sofianedjerbi/rouse/internal/events"
	"github.com/sofianedjerbi/rouse/internal/model"
	"github.com/sofianedjerbi/rouse/internal/storage"
)

// NotificationWorker delivers claimed notifications through registered
// channel notifiers, with retries and a dead letter terminal state.
type NotificationWorker struct {
	logger     *zap.Logger
	queue      storage.NotificationQueue
	registry   *Registry
	strategy   RetryStrategy
	publisher  events.Publisher
	maxRetries int
	interval   time.Duration
	visibility time.Duration
	stop       chan struct{}
}

// NewNotificationWorker creates a notification dispatch worker.
func NewNotificationWorker(
	logger *zap.Logger,
	queue storage.NotificationQueue,
	registry *Registry,
	strategy RetryStrategy,
	publisher events.Publisher,
	maxRetries int,
	interval time.Duration,
	visibility time.Duration,
) *NotificationWorker {
	return &NotificationWorker{
		logger:     logger.Named("notification-worker"),
		queue:      queue,
		registry:   registry,
		strategy:   strategy,
		publisher:  publisher,
		maxRetries: maxRetries,
		interval:   interval,
		visibility: visibility,
		stop:       make(chan struct{}),
	}
}

// Start runs the polling loop until the context is cancelled or Stop is
// called.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info("Starting notification worker",
		zap.Duration("interval", w.interval),
		zap.Int("max_retries", w.maxRetries))
	go w.loop(ctx)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() {
	w.logger.Info("Stopping notification worker")
	close(w.stop)
}

func (w *NotificationWorker) loop(ctx context.Context) {
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

// Tick processes one claim cycle at the given instant.
func (w *NotificationWorker) Tick(ctx context.Context, now time.Time) {
	claimed, err := w.queue.ClaimDueNotifications(ctx, now, w.visibility)
	if err != nil {
		w.logger.Error("Failed to claim due notifications", zap.Error(err))
		return
	}

	for _, n := range claimed {
		w.deliver(ctx, n, now)
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, n *model.Notification, now time.Time) {
	notifier, err := w.registry.Get(n.Channel)
	if err != nil {
		// No notifier will ever appear mid-flight for this channel.
		w.dead(ctx, n, err, now)
		return
	}

	result, err := notifier.Notify(ctx, n)
	if err != nil {
		w.failed(ctx, n, err, now)
		return
	}

	if err := w.queue.MarkNotificationSent(ctx, n.ID, now); err != nil {
		w.logger.Error("Failed to mark notification sent",
			zap.String("notification_id", n.ID),
			zap.Error(err))
		return
	}

	w.logger.Info("Notification delivered",
		zap.String("alert_id", n.AlertID),
		zap.String("channel", n.Channel),
		zap.String("external_id", result.ExternalID),
		zap.Int("retry_count", n.RetryCount))
	w.publisher.Publish(ctx, model.Event{
		Type:       model.EventNotificationSent,
		AlertID:    n.AlertID,
		Channel:    n.Channel,
		Target:     n.Target,
		ExternalID: result.ExternalID,
		OccurredAt: now,
	})
}

// failed routes a delivery error: permanent errors dead-letter
// immediately, transient ones retry with backoff until the attempt
// budget is spent.
func (w *NotificationWorker) failed(ctx context.Context, n *model.Notification, deliveryErr error, now time.Time) {
	if errors.Is(deliveryErr, ErrInvalidTarget) {
		w.dead(ctx, n, deliveryErr, now)
		return
	}

	attempts := n.RetryCount + 1
	if attempts >= w.maxRetries {
		w.dead(ctx, n, deliveryErr, now)
		return
	}

	nextAttempt := now.Add(w.strategy.NextRetry(attempts))
	if err := w.queue.MarkNotificationFailed(ctx, n.ID, deliveryErr.Error(), nextAttempt); err != nil {
		w.logger.Error("Failed to mark notification failed",
			zap.String("notification_id", n.ID),
			zap.Error(err))
		return
	}

	w.logger.Warn("Notification delivery failed, will retry",
		zap.String("alert_id", n.AlertID),
		zap.String("channel", n.Channel),
		zap.Int("attempt", attempts),
		zap.Time("next_attempt_at", nextAttempt),
		zap.Error(deliveryErr))
}

func (w *NotificationWorker) dead(ctx context.Context, n *model.Notification, deliveryErr error, now time.Time) {
	if err := w.queue.MarkNotificationDead(ctx, n.ID, deliveryErr.Error()); err != nil {
		w.logger.Error("Failed to mark notification dead",
			zap.String("notification_id", n.ID),
			zap.Error(err))
		return
	}

	w.logger.Error("Notification dead lettered",
		zap.String("alert_id", n.AlertID),
		zap.String("channel", n.Channel),
		zap.String("target", n.Target),
		zap.Int("retry_count", n.RetryCount),
		zap.Error(deliveryErr))
	w.publisher.Publish(ctx, model.Event{
		Type:       model.EventNotificationDead,
		AlertID:    n.AlertID,
		Channel:    n.Channel,
		Target:     n.Target,
		Error:      deliveryErr.Error(),
		OccurredAt: now,
	})
}
