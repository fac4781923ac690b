package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sofianedjerbi/rouse/internal/model"
)

// The claim protocol: a single conditional UPDATE stamps every due
// pending row with a fresh claim token. Only one concurrent caller can
// win a given row because the UPDATE requires status = 'pending', and
// SQLite applies each statement atomically. Cancellation uses the same
// condition, so whichever side runs first wins the row and the loser
// touches nothing. Claimed rows left behind by a crash are released once
// they exceed the visibility timeout.

// EnqueueSteps implements EscalationQueue.EnqueueSteps
func (s *Store) EnqueueSteps(ctx context.Context, steps []*model.StepInstance) error {
	for _, step := range steps {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO escalation_steps (id, alert_id, policy_id, step_order, fires_at, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			step.ID,
			step.AlertID,
			step.PolicyID,
			step.StepOrder,
			step.FiresAt.UTC(),
			string(step.Status),
			step.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to enqueue escalation step: %w", err)
		}
	}
	return nil
}

// ClaimDueSteps implements EscalationQueue.ClaimDueSteps
func (s *Store) ClaimDueSteps(ctx context.Context, now time.Time, visibility time.Duration) ([]*model.StepInstance, error) {
	if err := s.releaseStale(ctx, "escalation_steps", now, visibility); err != nil {
		return nil, err
	}

	token := uuid.New().String()
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalation_steps
		SET status = ?, claim_token = ?, claimed_at = ?
		WHERE status = ? AND fires_at <= ?`,
		string(model.StepStatusClaimed), token, now.UTC(),
		string(model.StepStatusPending), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim escalation steps: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil || affected == 0 {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_id, policy_id, step_order, fires_at, status, created_at
		FROM escalation_steps
		WHERE claim_token = ?
		ORDER BY fires_at ASC`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed steps: %w", err)
	}
	defer rows.Close()

	var steps []*model.StepInstance
	for rows.Next() {
		var step model.StepInstance
		var status string
		if err := rows.Scan(&step.ID, &step.AlertID, &step.PolicyID, &step.StepOrder,
			&step.FiresAt, &status, &step.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claimed step: %w", err)
		}
		step.Status = model.StepStatus(status)
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

// MarkStepFired implements EscalationQueue.MarkStepFired
func (s *Store) MarkStepFired(ctx context.Context, id string) error {
	return s.finishStep(ctx, id, model.StepStatusFired)
}

// MarkStepCancelled implements EscalationQueue.MarkStepCancelled
func (s *Store) MarkStepCancelled(ctx context.Context, id string) error {
	return s.finishStep(ctx, id, model.StepStatusCancelled)
}

func (s *Store) finishStep(ctx context.Context, id string, status model.StepStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE escalation_steps
		SET status = ?, claim_token = NULL, claimed_at = NULL
		WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to mark step %s: %w", status, err)
	}
	return nil
}

// CancelPendingSteps implements EscalationQueue.CancelPendingSteps
func (s *Store) CancelPendingSteps(ctx context.Context, alertID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalation_steps
		SET status = ?
		WHERE alert_id = ? AND status = ?`,
		string(model.StepStatusCancelled), alertID, string(model.StepStatusPending))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending steps: %w", err)
	}
	return res.RowsAffected()
}

// EnqueueNotifications implements NotificationQueue.EnqueueNotifications
func (s *Store) EnqueueNotifications(ctx context.Context, notifications []*model.Notification) error {
	for _, n := range notifications {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO notifications (id, alert_id, channel, target, payload, status, next_attempt_at, retry_count, created_at, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID,
			n.AlertID,
			n.Channel,
			n.Target,
			n.Payload,
			string(n.Status),
			n.NextAttemptAt.UTC(),
			n.RetryCount,
			n.CreatedAt.UTC(),
			n.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to enqueue notification: %w", err)
		}
	}
	return nil
}

// ClaimDueNotifications implements NotificationQueue.ClaimDueNotifications
func (s *Store) ClaimDueNotifications(ctx context.Context, now time.Time, visibility time.Duration) ([]*model.Notification, error) {
	if err := s.releaseStale(ctx, "notifications", now, visibility); err != nil {
		return nil, err
	}

	token := uuid.New().String()
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = ?, claim_token = ?, claimed_at = ?
		WHERE status = ? AND next_attempt_at <= ?`,
		string(model.NotificationStatusClaimed), token, now.UTC(),
		string(model.NotificationStatusPending), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim notifications: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil || affected == 0 {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_id, channel, target, payload, status, next_attempt_at, retry_count, created_at, error
		FROM notifications
		WHERE claim_token = ?
		ORDER BY next_attempt_at ASC`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		var n model.Notification
		var status string
		if err := rows.Scan(&n.ID, &n.AlertID, &n.Channel, &n.Target, &n.Payload,
			&status, &n.NextAttemptAt, &n.RetryCount, &n.CreatedAt, &n.Error); err != nil {
			return nil, fmt.Errorf("failed to scan claimed notification: %w", err)
		}
		n.Status = model.NotificationStatus(status)
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// MarkNotificationSent implements NotificationQueue.MarkNotificationSent
func (s *Store) MarkNotificationSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = ?, sent_at = ?, error = '', claim_token = NULL, claimed_at = NULL
		WHERE id = ?`,
		string(model.NotificationStatusSent), sentAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// MarkNotificationFailed implements NotificationQueue.MarkNotificationFailed
func (s *Store) MarkNotificationFailed(ctx context.Context, id, errMsg string, nextAttempt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = ?, error = ?, retry_count = retry_count + 1, next_attempt_at = ?,
		    claim_token = NULL, claimed_at = NULL
		WHERE id = ?`,
		string(model.NotificationStatusPending), errMsg, nextAttempt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}

// MarkNotificationDead implements NotificationQueue.MarkNotificationDead
func (s *Store) MarkNotificationDead(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = ?, error = ?, claim_token = NULL, claimed_at = NULL
		WHERE id = ?`,
		string(model.NotificationStatusDead), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification dead: %w", err)
	}
	return nil
}

// CancelPendingNotifications implements NotificationQueue.CancelPendingNotifications
func (s *Store) CancelPendingNotifications(ctx context.Context, alertID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = ?
		WHERE alert_id = ? AND status = ?`,
		string(model.NotificationStatusCancelled), alertID, string(model.NotificationStatusPending))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending notifications: %w", err)
	}
	return res.RowsAffected()
}

// ListDeadNotifications implements NotificationQueue.ListDeadNotifications
func (s *Store) ListDeadNotifications(ctx context.Context) ([]*model.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_id, channel, target, payload, status, next_attempt_at, retry_count, created_at, error
		FROM notifications
		WHERE status = ?
		ORDER BY created_at DESC`, string(model.NotificationStatusDead))
	if err != nil {
		return nil, fmt.Errorf("failed to list dead notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		var n model.Notification
		var status string
		if err := rows.Scan(&n.ID, &n.AlertID, &n.Channel, &n.Target, &n.Payload,
			&status, &n.NextAttemptAt, &n.RetryCount, &n.CreatedAt, &n.Error); err != nil {
			return nil, fmt.Errorf("failed to scan dead notification: %w", err)
		}
		n.Status = model.NotificationStatus(status)
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// releaseStale flips claimed rows older than the visibility timeout back
// to pending, so work interrupted by a crash is retried on a later tick.
// Both queue tables share the pending/claimed status strings.
func (s *Store) releaseStale(ctx context.Context, table string, now time.Time, visibility time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+table+`
		SET status = 'pending', claim_token = NULL, claimed_at = NULL
		WHERE status = 'claimed' AND claimed_at <= ?`,
		now.Add(-visibility).UTC())
	if err != nil {
		return fmt.Errorf("failed to release stale claims: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		s.logger.Warn("Released stale claims",
			zap.String("table", table),
			zap.Int64("rows", affected))
	}
	return nil
}

// DeleteFinishedBefore deletes delivered and cancelled queue rows older
// than the cutoff. Dead notifications are kept: they are the record of
// pages that never went out.
func (s *Store) DeleteFinishedBefore(ctx context.Context, before time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE status IN (?, ?) AND created_at < ?`,
		string(model.NotificationStatusSent), string(model.NotificationStatusCancelled), before.UTC())
	if err != nil {
		return fmt.Errorf("failed to delete old notifications: %w", err)
	}
	deletedNotifications, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM escalation_steps
		WHERE status IN (?, ?) AND created_at < ?`,
		string(model.StepStatusFired), string(model.StepStatusCancelled), before.UTC())
	if err != nil {
		return fmt.Errorf("failed to delete old escalation steps: %w", err)
	}
	deletedSteps, _ := res.RowsAffected()

	s.logger.Info("Deleted finished queue rows",
		zap.Time("before", before),
		zap.Int64("notifications", deletedNotifications),
		zap.Int64("steps", deletedSteps))
	return nil
}
