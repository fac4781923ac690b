// Package alert implements the alert lifecycle service: ingestion with
// fingerprint deduplication, policy routing, burst grouping, the
// acknowledge and resolve transitions, and noise accounting.
package alert

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sofianedjerbi/rouse/internal/escalation"
	"github.com/sofianedjerbi/rouse/internal/events"
	"github.com/sofianedjerbi/rouse/internal/model"
	"github.com/sofianedjerbi/rouse/internal/storage"
)

// Service orchestrates alert state changes against the store. All
// mutations go through here so that escalation bookkeeping and event
// publishing stay consistent with the alert rows.
type Service struct {
	logger         *zap.Logger
	alerts         storage.AlertRepository
	policies       storage.PolicyRepository
	steps          storage.EscalationQueue
	notifications  storage.NotificationQueue
	noise          storage.NoiseRepository
	groups         storage.GroupRepository
	router         *Router
	publisher      events.Publisher
	groupingWindow time.Duration
}

// NewService creates the alert lifecycle service.
func NewService(
	logger *zap.Logger,
	store *storage.Store,
	router *Router,
	publisher events.Publisher,
	groupingWindow time.Duration,
) *Service {
	return &Service{
		logger:         logger.Named("alert"),
		alerts:         store,
		policies:       store,
		steps:          store,
		notifications:  store,
		noise:          store,
		groups:         store,
		router:         router,
		publisher:      publisher,
		groupingWindow: groupingWindow,
	}
}

// Receive ingests a raw signal. A signal whose fingerprint matches an
// open alert refreshes that alert instead of creating a new one, and
// never restarts escalation. A fresh alert is routed to a policy and its
// escalation steps are materialized immediately.
func (s *Service) Receive(ctx context.Context, raw model.RawAlert, now time.Time) (*model.Alert, error) {
	fingerprint := model.Fingerprint(raw.Source, raw.Labels)

	open, err := s.alerts.FindOpenByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if open != nil {
		evs := open.Refresh(raw, now)
		if err := s.alerts.SaveAlert(ctx, open); err != nil {
			return nil, err
		}
		s.recordFire(ctx, fingerprint)
		s.publish(ctx, evs)
		s.logger.Debug("Alert deduplicated",
			zap.String("alert_id", open.ID),
			zap.String("fingerprint", fingerprint))
		return open, nil
	}

	alert, evs := model.NewAlert(raw, now)
	alert.PolicyID = s.router.Route(alert)
	if err := s.alerts.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}
	s.recordFire(ctx, fingerprint)

	grouped, err := s.group(ctx, alert, now)
	if err != nil {
		return nil, err
	}

	// A grouped alert rides the root alert's escalation; paging it again
	// would double up on the same burst.
	if !grouped && alert.PolicyID != "" {
		routeEvents, err := s.startEscalation(ctx, alert, now)
		if err != nil {
			return nil, err
		}
		evs = append(evs, routeEvents...)
	}

	s.publish(ctx, evs)
	s.logger.Info("Alert received",
		zap.String("alert_id", alert.ID),
		zap.String("source", alert.Source),
		zap.String("severity", alert.Severity.String()),
		zap.String("policy_id", alert.PolicyID),
		zap.Bool("grouped", grouped))
	return alert, nil
}

// Acknowledge transitions an alert to acknowledged and cancels all of
// its pending escalation work. A duplicate acknowledge is a no-op.
func (s *Service) Acknowledge(ctx context.Context, alertID, userID string, now time.Time) (*model.Alert, error) {
	if err := model.ValidateID(alertID); err != nil {
		return nil, err
	}
	alert, err := s.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	evs, err := alert.Acknowledge(userID, now)
	if err != nil {
		return nil, err
	}
	if evs == nil {
		return alert, nil
	}

	if err := s.alerts.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}
	s.cancelPending(ctx, alert, now, &evs)
	s.publish(ctx, evs)

	s.logger.Info("Alert acknowledged",
		zap.String("alert_id", alert.ID),
		zap.String("user_id", userID))
	return alert, nil
}

// Resolve transitions an alert to resolved, cancels its pending
// escalation work and folds the handling timeline into the
// fingerprint's noise score.
func (s *Service) Resolve(ctx context.Context, alertID, resolvedBy string, now time.Time) (*model.Alert, error) {
	if err := model.ValidateID(alertID); err != nil {
		return nil, err
	}
	alert, err := s.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	evs, err := alert.Resolve(resolvedBy, now)
	if err != nil {
		return nil, err
	}
	if err := s.alerts.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}
	s.cancelPending(ctx, alert, now, &evs)
	s.scoreResolution(ctx, alert)
	s.publish(ctx, evs)

	s.logger.Info("Alert resolved",
		zap.String("alert_id", alert.ID),
		zap.String("resolved_by", resolvedBy))
	return alert, nil
}

// Get returns an alert by id.
func (s *Service) Get(ctx context.Context, alertID string) (*model.Alert, error) {
	return s.alerts.GetAlert(ctx, alertID)
}

// List returns alerts matching the filter.
func (s *Service) List(ctx context.Context, filter storage.AlertFilter) ([]*model.Alert, error) {
	return s.alerts.ListAlerts(ctx, filter)
}

// startEscalation materializes the policy's step instances for the alert.
func (s *Service) startEscalation(ctx context.Context, alert *model.Alert, now time.Time) ([]model.Event, error) {
	policy, err := s.policies.GetPolicy(ctx, alert.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy %s: %w", alert.PolicyID, err)
	}

	instances, evs := escalation.Route(policy, alert.ID, now)
	if err := s.steps.EnqueueSteps(ctx, instances); err != nil {
		return nil, err
	}
	return evs, nil
}

// group attaches the alert to an active group with the same grouping key
// or opens a new one. Only an attachment suppresses escalation.
func (s *Service) group(ctx context.Context, alert *model.Alert, now time.Time) (bool, error) {
	if s.groupingWindow <= 0 {
		return false, nil
	}

	key := model.GroupingKey(alert)
	group, err := s.groups.FindActiveGroupByKey(ctx, key)
	if err != nil {
		return false, err
	}

	if group != nil && model.ShouldGroup(group, alert.CreatedAt, s.groupingWindow) {
		group.AddMember(alert.ID, now)
		if err := s.groups.SaveGroup(ctx, group); err != nil {
			return false, err
		}
		s.logger.Debug("Alert joined group",
			zap.String("alert_id", alert.ID),
			zap.String("group_id", group.ID),
			zap.String("grouping_key", key))
		return true, nil
	}

	fresh := model.NewAlertGroup(alert.ID, key, s.groupingWindow, now)
	if err := s.groups.SaveGroup(ctx, fresh); err != nil {
		return false, err
	}
	return false, nil
}

// cancelPending cancels the alert's pending steps and notifications and
// appends cancellation events for anything actually cancelled.
func (s *Service) cancelPending(ctx context.Context, alert *model.Alert, now time.Time, evs *[]model.Event) {
	cancelledSteps, err := s.steps.CancelPendingSteps(ctx, alert.ID)
	if err != nil {
		s.logger.Error("Failed to cancel pending steps",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
	cancelledNotifications, err := s.notifications.CancelPendingNotifications(ctx, alert.ID)
	if err != nil {
		s.logger.Error("Failed to cancel pending notifications",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}

	if cancelledSteps > 0 {
		*evs = append(*evs, model.Event{
			Type:       model.EventEscalationStepCancelled,
			AlertID:    alert.ID,
			PolicyID:   alert.PolicyID,
			OccurredAt: now,
		})
	}
	if cancelledSteps > 0 || cancelledNotifications > 0 {
		s.logger.Debug("Cancelled pending escalation work",
			zap.String("alert_id", alert.ID),
			zap.Int64("steps", cancelledSteps),
			zap.Int64("notifications", cancelledNotifications))
	}
}

// recordFire bumps the fingerprint's fire counter. Noise accounting is
// advisory and never fails ingestion.
func (s *Service) recordFire(ctx context.Context, fingerprint string) {
	score, err := s.noise.GetOrCreateNoiseScore(ctx, fingerprint)
	if err != nil {
		s.logger.Warn("Failed to load noise score", zap.Error(err))
		return
	}
	score.RecordFire()
	if err := s.noise.SaveNoiseScore(ctx, score); err != nil {
		s.logger.Warn("Failed to save noise score", zap.Error(err))
	}
}

// scoreResolution classifies how the alert was handled. A reflexive ack
// or an immediate resolve counts as a dismissal.
func (s *Service) scoreResolution(ctx context.Context, alert *model.Alert) {
	if alert.ResolvedAt == nil {
		return
	}

	var timeToAck time.Duration
	var ackToResolve *time.Duration
	if alert.AcknowledgedAt != nil {
		timeToAck = alert.AcknowledgedAt.Sub(alert.CreatedAt)
		d := alert.ResolvedAt.Sub(*alert.AcknowledgedAt)
		ackToResolve = &d
	} else {
		timeToAck = alert.ResolvedAt.Sub(alert.CreatedAt)
	}

	score, err := s.noise.GetOrCreateNoiseScore(ctx, alert.Fingerprint)
	if err != nil {
		s.logger.Warn("Failed to load noise score", zap.Error(err))
		return
	}

	if model.ClassifyDismissed(timeToAck, ackToResolve) {
		score.RecordDismiss()
	} else {
		score.RecordAction()
	}
	score.UpdateAvgAckTime(timeToAck)

	if err := s.noise.SaveNoiseScore(ctx, score); err != nil {
		s.logger.Warn("Failed to save noise score", zap.Error(err))
		return
	}
	if score.SuggestSuppression() {
		s.logger.Warn("Fingerprint looks like pure noise, consider suppressing the source rule",
			zap.String("fingerprint", alert.Fingerprint),
			zap.Float64("score", score.Score()))
	}
}

func (s *Service) publish(ctx context.Context, evs []model.Event) {
	for _, event := range evs {
		s.publisher.Publish(ctx, event)
	}
}
