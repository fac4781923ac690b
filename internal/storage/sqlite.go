package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/sofianedjerbi/rouse/internal/model"
)

// Store implements every repository and queue port on a single SQLite
// database. Rows, not an external broker, are the work queue; the only
// shared mutable state between process instances is this database.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewStore opens (or creates) the database at dbPath and ensures the
// schema exists. The database survives restarts: pending queue rows are
// how in-flight work is recovered after a crash.
func NewStore(logger *zap.Logger, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		logger: logger.Named("storage"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist. The
// (status, time) indexes back the hot claim query of every worker tick.
func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL,
			source TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			labels TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			policy_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			acknowledged_at DATETIME,
			acknowledged_by TEXT NOT NULL DEFAULT '',
			resolved_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_fingerprint_status ON alerts(fingerprint, status);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);

		CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			data TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS policies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			data TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS teams (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS escalation_steps (
			id TEXT PRIMARY KEY,
			alert_id TEXT NOT NULL,
			policy_id TEXT NOT NULL,
			step_order INTEGER NOT NULL,
			fires_at DATETIME NOT NULL,
			status TEXT NOT NULL,
			claim_token TEXT,
			claimed_at DATETIME,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_steps_status_fires_at ON escalation_steps(status, fires_at);
		CREATE INDEX IF NOT EXISTS idx_steps_alert_id ON escalation_steps(alert_id);

		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			alert_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			target TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL,
			next_attempt_at DATETIME NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			sent_at DATETIME,
			error TEXT NOT NULL DEFAULT '',
			claim_token TEXT,
			claimed_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_status_next_attempt ON notifications(status, next_attempt_at);
		CREATE INDEX IF NOT EXISTS idx_notifications_alert_id ON notifications(alert_id);

		CREATE TABLE IF NOT EXISTS noise_scores (
			fingerprint TEXT PRIMARY KEY,
			total_fires INTEGER NOT NULL DEFAULT 0,
			dismissed_count INTEGER NOT NULL DEFAULT 0,
			acted_on_count INTEGER NOT NULL DEFAULT 0,
			avg_time_to_ack_secs INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS alert_groups (
			id TEXT PRIMARY KEY,
			grouping_key TEXT NOT NULL,
			root_alert_id TEXT NOT NULL,
			member_ids TEXT NOT NULL,
			window_secs INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			last_added_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_groups_key ON alert_groups(grouping_key, last_added_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// SaveAlert implements AlertRepository.SaveAlert
func (s *Store) SaveAlert(ctx context.Context, alert *model.Alert) error {
	labels, err := json.Marshal(alert.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, external_id, fingerprint, source, severity, status, labels,
			summary, policy_id, created_at, acknowledged_at, acknowledged_by, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			status = excluded.status,
			labels = excluded.labels,
			summary = excluded.summary,
			policy_id = excluded.policy_id,
			acknowledged_at = excluded.acknowledged_at,
			acknowledged_by = excluded.acknowledged_by,
			resolved_at = excluded.resolved_at`,
		alert.ID,
		alert.ExternalID,
		alert.Fingerprint,
		alert.Source,
		alert.Severity.String(),
		string(alert.Status),
		string(labels),
		alert.Summary,
		alert.PolicyID,
		alert.CreatedAt.UTC(),
		nullTime(alert.AcknowledgedAt),
		alert.AcknowledgedBy,
		nullTime(alert.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// GetAlert implements AlertRepository.GetAlert
func (s *Store) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, alertColumns+" FROM alerts WHERE id = ?", id)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// FindOpenByFingerprint implements AlertRepository.FindOpenByFingerprint
func (s *Store) FindOpenByFingerprint(ctx context.Context, fingerprint string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, alertColumns+`
		FROM alerts
		WHERE fingerprint = ? AND status != ?
		ORDER BY created_at DESC
		LIMIT 1`,
		fingerprint, string(model.AlertStatusResolved))
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find alert by fingerprint: %w", err)
	}
	return alert, nil
}

// ListAlerts implements AlertRepository.ListAlerts
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]*model.Alert, error) {
	query := alertColumns + " FROM alerts"
	args := make([]interface{}, 0)
	where := ""

	appendCond := func(cond string, arg interface{}) {
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
		args = append(args, arg)
	}

	if filter.Status != "" {
		appendCond("status = ?", string(filter.Status))
	}
	if filter.Severity != nil {
		appendCond("severity = ?", filter.Severity.String())
	}
	if filter.Source != "" {
		appendCond("source = ?", filter.Source)
	}

	query += where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return alerts, nil
}

const alertColumns = `SELECT id, external_id, fingerprint, source, severity, status, labels,
	summary, policy_id, created_at, acknowledged_at, acknowledged_by, resolved_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*model.Alert, error) {
	var alert model.Alert
	var severity, status, labels string
	var acknowledgedAt, resolvedAt sql.NullTime

	err := row.Scan(
		&alert.ID,
		&alert.ExternalID,
		&alert.Fingerprint,
		&alert.Source,
		&severity,
		&status,
		&labels,
		&alert.Summary,
		&alert.PolicyID,
		&alert.CreatedAt,
		&acknowledgedAt,
		&alert.AcknowledgedBy,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	alert.Severity = model.ParseSeverity(severity)
	alert.Status = model.AlertStatus(status)
	if err := json.Unmarshal([]byte(labels), &alert.Labels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
	}
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		alert.AcknowledgedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		alert.ResolvedAt = &t
	}
	return &alert, nil
}

// SaveSchedule implements ScheduleRepository.SaveSchedule
func (s *Store) SaveSchedule(ctx context.Context, schedule *model.Schedule) error {
	return s.saveDocument(ctx, "schedules", schedule.ID, schedule.Name, schedule)
}

// GetSchedule implements ScheduleRepository.GetSchedule
func (s *Store) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	var schedule model.Schedule
	if err := s.getDocument(ctx, "schedules", id, &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// ListSchedules implements ScheduleRepository.ListSchedules
func (s *Store) ListSchedules(ctx context.Context) ([]*model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM schedules ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*model.Schedule
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		var schedule model.Schedule
		if err := json.Unmarshal([]byte(data), &schedule); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
		}
		schedules = append(schedules, &schedule)
	}
	return schedules, rows.Err()
}

// SavePolicy implements PolicyRepository.SavePolicy
func (s *Store) SavePolicy(ctx context.Context, policy *model.Policy) error {
	return s.saveDocument(ctx, "policies", policy.ID, policy.Name, policy)
}

// GetPolicy implements PolicyRepository.GetPolicy
func (s *Store) GetPolicy(ctx context.Context, id string) (*model.Policy, error) {
	var policy model.Policy
	if err := s.getDocument(ctx, "policies", id, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// SaveUser implements UserRepository.SaveUser
func (s *Store) SaveUser(ctx context.Context, user *model.User) error {
	return s.saveDocument(ctx, "users", user.ID, "", user)
}

// GetUser implements UserRepository.GetUser
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.getDocument(ctx, "users", id, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveTeam implements UserRepository.SaveTeam
func (s *Store) SaveTeam(ctx context.Context, team *model.Team) error {
	return s.saveDocument(ctx, "teams", team.ID, "", team)
}

// GetTeam implements UserRepository.GetTeam
func (s *Store) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	var team model.Team
	if err := s.getDocument(ctx, "teams", id, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

// saveDocument upserts a JSON document row. Schedules, policies, users
// and teams are read whole and written whole, so a document column keeps
// their nested structure out of the schema.
func (s *Store) saveDocument(ctx context.Context, table, id, name string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal %s document: %w", table, err)
	}

	var query string
	args := []interface{}{id}
	if name != "" || table == "schedules" || table == "policies" {
		query = "INSERT INTO " + table + " (id, name, data) VALUES (?, ?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name, data = excluded.data"
		args = append(args, name, string(data))
	} else {
		query = "INSERT INTO " + table + " (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data"
		args = append(args, string(data))
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save %s document: %w", table, err)
	}
	return nil
}

func (s *Store) getDocument(ctx context.Context, table, id string, out interface{}) error {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM "+table+" WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s %s: %w", table, id, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s document: %w", table, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("failed to unmarshal %s document: %w", table, err)
	}
	return nil
}

// GetOrCreateNoiseScore implements NoiseRepository.GetOrCreateNoiseScore
func (s *Store) GetOrCreateNoiseScore(ctx context.Context, fingerprint string) (*model.NoiseScore, error) {
	score := model.NewNoiseScore(fingerprint)
	err := s.db.QueryRowContext(ctx, `
		SELECT total_fires, dismissed_count, acted_on_count, avg_time_to_ack_secs
		FROM noise_scores WHERE fingerprint = ?`, fingerprint).Scan(
		&score.TotalFires,
		&score.DismissedCount,
		&score.ActedOnCount,
		&score.AvgTimeToAckSecs,
	)
	if err == sql.ErrNoRows {
		return score, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get noise score: %w", err)
	}
	return score, nil
}

// SaveNoiseScore implements NoiseRepository.SaveNoiseScore
func (s *Store) SaveNoiseScore(ctx context.Context, score *model.NoiseScore) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO noise_scores (fingerprint, total_fires, dismissed_count, acted_on_count, avg_time_to_ack_secs)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			total_fires = excluded.total_fires,
			dismissed_count = excluded.dismissed_count,
			acted_on_count = excluded.acted_on_count,
			avg_time_to_ack_secs = excluded.avg_time_to_ack_secs`,
		score.Fingerprint,
		score.TotalFires,
		score.DismissedCount,
		score.ActedOnCount,
		score.AvgTimeToAckSecs,
	)
	if err != nil {
		return fmt.Errorf("failed to save noise score: %w", err)
	}
	return nil
}

// NoisiestFingerprints implements NoiseRepository.NoisiestFingerprints
func (s *Store) NoisiestFingerprints(ctx context.Context, minFires int64) ([]*model.NoiseScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, total_fires, dismissed_count, acted_on_count, avg_time_to_ack_secs
		FROM noise_scores
		WHERE total_fires >= ?
		ORDER BY CAST(dismissed_count AS REAL) / total_fires DESC`, minFires)
	if err != nil {
		return nil, fmt.Errorf("failed to query noise scores: %w", err)
	}
	defer rows.Close()

	var scores []*model.NoiseScore
	for rows.Next() {
		var score model.NoiseScore
		if err := rows.Scan(&score.Fingerprint, &score.TotalFires, &score.DismissedCount,
			&score.ActedOnCount, &score.AvgTimeToAckSecs); err != nil {
			return nil, fmt.Errorf("failed to scan noise score: %w", err)
		}
		scores = append(scores, &score)
	}
	return scores, rows.Err()
}

// SaveGroup implements GroupRepository.SaveGroup
func (s *Store) SaveGroup(ctx context.Context, group *model.AlertGroup) error {
	members, err := json.Marshal(group.MemberIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal group members: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_groups (id, grouping_key, root_alert_id, member_ids, window_secs, created_at, last_added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			member_ids = excluded.member_ids,
			last_added_at = excluded.last_added_at`,
		group.ID,
		group.GroupingKey,
		group.RootAlertID,
		string(members),
		group.WindowSecs,
		group.CreatedAt.UTC(),
		group.LastAddedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save alert group: %w", err)
	}
	return nil
}

// FindActiveGroupByKey implements GroupRepository.FindActiveGroupByKey
func (s *Store) FindActiveGroupByKey(ctx context.Context, key string) (*model.AlertGroup, error) {
	var group model.AlertGroup
	var members string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, grouping_key, root_alert_id, member_ids, window_secs, created_at, last_added_at
		FROM alert_groups
		WHERE grouping_key = ?
		ORDER BY last_added_at DESC
		LIMIT 1`, key).Scan(
		&group.ID,
		&group.GroupingKey,
		&group.RootAlertID,
		&members,
		&group.WindowSecs,
		&group.CreatedAt,
		&group.LastAddedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find alert group: %w", err)
	}
	if err := json.Unmarshal([]byte(members), &group.MemberIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group members: %w", err)
	}
	return &group, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
