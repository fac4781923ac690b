// Package escalation materializes escalation policies into timed step
// instances and turns firing steps into notifications. Routing is eager,
// target resolution is lazy: who gets paged is decided at fire time, not
// at routing time.
package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sofianedjerbi/rouse/internal/model"
	"github.com/sofianedjerbi/rouse/internal/schedule"
	"github.com/sofianedjerbi/rouse/internal/storage"
)

// Route materializes every step instance of a policy for an alert. The
// first instance fires at now regardless of its step's declared wait;
// every later fire time is cumulative from there. Repeat cycles continue
// the step order, so the dispatch worker needs no knowledge of cycles.
func Route(policy *model.Policy, alertID string, now time.Time) ([]*model.StepInstance, []model.Event) {
	total := policy.TotalInstances()
	instances := make([]*model.StepInstance, 0, total)
	events := make([]model.Event, 0, total)

	firesAt := now
	for order := 0; order < total; order++ {
		if order > 0 {
			firesAt = firesAt.Add(policy.StepAt(order).Wait)
		}
		inst := model.NewStepInstance(alertID, policy.ID, order, firesAt, now)
		instances = append(instances, inst)
		events = append(events, model.Event{
			Type:       model.EventEscalationStepScheduled,
			AlertID:    alertID,
			PolicyID:   policy.ID,
			StepOrder:  order,
			OccurredAt: now,
		})
	}
	return instances, events
}

// Engine resolves firing step instances into concrete notifications. It
// holds only read-side dependencies; queue mutations belong to the
// dispatch workers.
type Engine struct {
	logger    *zap.Logger
	alerts    storage.AlertRepository
	policies  storage.PolicyRepository
	schedules storage.ScheduleRepository
	users     storage.UserRepository
}

// NewEngine creates an escalation engine.
func NewEngine(
	logger *zap.Logger,
	alerts storage.AlertRepository,
	policies storage.PolicyRepository,
	schedules storage.ScheduleRepository,
	users storage.UserRepository,
) *Engine {
	return &Engine{
		logger:    logger.Named("escalation"),
		alerts:    alerts,
		policies:  policies,
		schedules: schedules,
		users:     users,
	}
}

// FireResult is the outcome of firing one step instance.
type FireResult struct {
	// Cancelled is set when the alert is no longer firing; the step must
	// be marked cancelled instead of fired and nothing is notified.
	Cancelled     bool
	Notifications []*model.Notification
	Events        []model.Event
}

// Fire resolves a claimed step instance into notifications. Targets are
// resolved against the step's own fire time, so a step that fires late
// still pages whoever was on call when it was due.
func (e *Engine) Fire(ctx context.Context, inst *model.StepInstance) (*FireResult, error) {
	alert, err := e.alerts.GetAlert(ctx, inst.AlertID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return e.cancelled(inst), nil
		}
		return nil, err
	}
	if alert.Status != model.AlertStatusFiring {
		return e.cancelled(inst), nil
	}

	policy, err := e.policies.GetPolicy(ctx, inst.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy for step: %w", err)
	}
	step := policy.StepAt(inst.StepOrder)

	recipients, err := e.resolveRecipients(ctx, step.Targets, inst.FiresAt)
	if err != nil {
		return nil, err
	}

	payload, err := notificationPayload(alert, inst.StepOrder)
	if err != nil {
		return nil, err
	}

	result := &FireResult{
		Events: []model.Event{{
			Type:       model.EventEscalationStepFired,
			AlertID:    inst.AlertID,
			PolicyID:   inst.PolicyID,
			StepOrder:  inst.StepOrder,
			OccurredAt: inst.FiresAt,
		}},
	}

	for _, userID := range recipients {
		for _, channel := range step.Channels {
			target := e.resolveContact(ctx, userID, channel)
			n := model.NewNotification(inst.AlertID, channel, target, payload, inst.FiresAt)
			result.Notifications = append(result.Notifications, n)
			result.Events = append(result.Events, model.Event{
				Type:       model.EventNotificationQueued,
				AlertID:    inst.AlertID,
				UserID:     userID,
				Channel:    channel,
				Target:     target,
				OccurredAt: inst.FiresAt,
			})
		}
	}

	// The last instance of the last cycle marks the policy as spent.
	if inst.StepOrder == policy.TotalInstances()-1 {
		result.Events = append(result.Events, model.Event{
			Type:       model.EventEscalationExhausted,
			AlertID:    inst.AlertID,
			PolicyID:   inst.PolicyID,
			OccurredAt: inst.FiresAt,
		})
	}
	return result, nil
}

func (e *Engine) cancelled(inst *model.StepInstance) *FireResult {
	return &FireResult{
		Cancelled: true,
		Events: []model.Event{{
			Type:       model.EventEscalationStepCancelled,
			AlertID:    inst.AlertID,
			PolicyID:   inst.PolicyID,
			StepOrder:  inst.StepOrder,
			OccurredAt: inst.FiresAt,
		}},
	}
}

// resolveRecipients expands a step's targets into a deduplicated user
// list, preserving target order.
func (e *Engine) resolveRecipients(ctx context.Context, targets []model.Target, at time.Time) ([]string, error) {
	seen := make(map[string]bool)
	var recipients []string
	add := func(userID string) {
		if userID != "" && !seen[userID] {
			seen[userID] = true
			recipients = append(recipients, userID)
		}
	}

	for _, target := range targets {
		switch target.Kind {
		case model.TargetUser:
			add(target.UserID)

		case model.TargetOnCall:
			sched, err := e.schedules.GetSchedule(ctx, target.ScheduleID)
			if err != nil {
				return nil, fmt.Errorf("failed to load schedule %s: %w", target.ScheduleID, err)
			}
			userID, err := schedule.WhoIsOnCall(sched, at)
			if err != nil {
				return nil, err
			}
			add(userID)

		case model.TargetOnCallNext:
			sched, err := e.schedules.GetSchedule(ctx, target.ScheduleID)
			if err != nil {
				return nil, fmt.Errorf("failed to load schedule %s: %w", target.ScheduleID, err)
			}
			userID, err := schedule.WhoIsOnCallNext(sched, at, target.Offset)
			if err != nil {
				return nil, err
			}
			add(userID)

		case model.TargetTeam:
			team, err := e.users.GetTeam(ctx, target.TeamID)
			if err != nil {
				return nil, fmt.Errorf("failed to load team %s: %w", target.TeamID, err)
			}
			for _, member := range team.Members {
				add(member)
			}

		default:
			e.logger.Warn("Skipping target with unknown kind",
				zap.String("kind", string(target.Kind)))
		}
	}
	return recipients, nil
}

// resolveContact maps a user to the channel-specific address a notifier
// delivers to. Unknown users and channels without a stored contact fall
// back to the user id, which channel adapters treat as an opaque handle.
func (e *Engine) resolveContact(ctx context.Context, userID, channel string) string {
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		e.logger.Warn("Could not load user for contact resolution",
			zap.String("user_id", userID),
			zap.Error(err))
		return userID
	}

	var contact string
	switch channel {
	case "slack":
		contact = user.SlackID
	case "discord":
		contact = user.DiscordID
	case "telegram":
		contact = user.TelegramID
	case "whatsapp":
		contact = user.WhatsAppID
	case "sms", "voice":
		contact = user.Phone
	case "email":
		contact = user.Email
	}
	if contact == "" {
		return userID
	}
	return contact
}

func notificationPayload(alert *model.Alert, stepOrder int) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"alert_id":   alert.ID,
		"summary":    alert.Summary,
		"source":     alert.Source,
		"severity":   alert.Severity.String(),
		"labels":     alert.Labels,
		"step_order": stepOrder,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build notification payload: %w", err)
	}
	return string(payload), nil
}
