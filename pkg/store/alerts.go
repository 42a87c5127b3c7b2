package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/panfm/panfm/pkg/types"
)

// ErrNotFound is returned when a row targeted by id does not exist.
var ErrNotFound = errors.New("not found")

func validateAlertConfig(cfg types.AlertConfig) error {
	if cfg.MetricType == "" {
		return errors.New("metric_type is required")
	}
	if !cfg.Operator.Valid() {
		return fmt.Errorf("invalid operator %q", cfg.Operator)
	}
	if !cfg.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", cfg.Severity)
	}
	return nil
}

// CreateAlertConfig stores a new threshold rule and returns it with its
// assigned id and timestamps.
func (s *Store) CreateAlertConfig(ctx context.Context, cfg types.AlertConfig) (types.AlertConfig, error) {
	if err := validateAlertConfig(cfg); err != nil {
		return types.AlertConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
INSERT INTO alert_config (id, device_id, metric_type, threshold_value, operator, severity,
    enabled, notification_channels, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		cfg.ID, cfg.DeviceID, cfg.MetricType, cfg.ThresholdValue, string(cfg.Operator),
		string(cfg.Severity), cfg.Enabled, cfg.Channels, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return types.AlertConfig{}, fmt.Errorf("create alert config: %w", err)
	}
	return cfg, nil
}

// UpdateAlertConfig replaces a rule's mutable fields.
func (s *Store) UpdateAlertConfig(ctx context.Context, cfg types.AlertConfig) (types.AlertConfig, error) {
	if err := validateAlertConfig(cfg); err != nil {
		return types.AlertConfig{}, err
	}
	cfg.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
UPDATE alert_config SET device_id = $2, metric_type = $3, threshold_value = $4,
    operator = $5, severity = $6, enabled = $7, notification_channels = $8, updated_at = $9
WHERE id = $1`,
		cfg.ID, cfg.DeviceID, cfg.MetricType, cfg.ThresholdValue, string(cfg.Operator),
		string(cfg.Severity), cfg.Enabled, cfg.Channels, cfg.UpdatedAt)
	if err != nil {
		return types.AlertConfig{}, fmt.Errorf("update alert config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.AlertConfig{}, ErrNotFound
	}
	return s.GetAlertConfig(ctx, cfg.ID)
}

// DeleteAlertConfig removes a rule and its cooldown rows.
func (s *Store) DeleteAlertConfig(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alert_config WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete alert config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM alert_cooldown WHERE alert_config_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete alert cooldowns: %w", err)
	}
	return nil
}

const alertConfigColumns = `id, device_id, metric_type,
    COALESCE(threshold_value, 0), operator, severity, enabled,
    COALESCE(notification_channels, '{}'), created_at, updated_at`

// GetAlertConfig returns one rule by id.
func (s *Store) GetAlertConfig(ctx context.Context, id string) (types.AlertConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+alertConfigColumns+` FROM alert_config WHERE id = $1`, id)
	cfg, err := scanAlertConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.AlertConfig{}, ErrNotFound
	}
	return cfg, err
}

// AlertConfigs returns every rule, newest first.
func (s *Store) AlertConfigs(ctx context.Context) ([]types.AlertConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertConfigColumns+` FROM alert_config ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query alert configs: %w", err)
	}
	defer rows.Close()
	return collectAlertConfigs(rows)
}

// EnabledAlertConfigs returns rules that apply to a device: its own plus
// global rules (NULL device_id).
func (s *Store) EnabledAlertConfigs(ctx context.Context, deviceID string) ([]types.AlertConfig, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+alertConfigColumns+`
FROM alert_config
WHERE enabled AND (device_id = $1 OR device_id IS NULL)
ORDER BY created_at ASC`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query enabled alert configs: %w", err)
	}
	defer rows.Close()
	return collectAlertConfigs(rows)
}

func scanAlertConfig(row pgx.Row) (types.AlertConfig, error) {
	var (
		cfg      types.AlertConfig
		operator string
		severity string
	)
	err := row.Scan(&cfg.ID, &cfg.DeviceID, &cfg.MetricType, &cfg.ThresholdValue,
		&operator, &severity, &cfg.Enabled, &cfg.Channels, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return types.AlertConfig{}, err
	}
	cfg.Operator = types.AlertOperator(operator)
	cfg.Severity = types.AlertSeverity(severity)
	return cfg, nil
}

func collectAlertConfigs(rows pgx.Rows) ([]types.AlertConfig, error) {
	var out []types.AlertConfig
	for rows.Next() {
		cfg, err := scanAlertConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert config: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// InsertAlertHistory records a triggered (or suppressed) alert and returns
// the entry with its assigned id.
func (s *Store) InsertAlertHistory(ctx context.Context, e types.AlertHistoryEntry) (types.AlertHistoryEntry, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO alert_history (triggered_at, alert_config_id, device_id, metric_type,
    actual_value, threshold_value, severity, message, acknowledged)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id`,
		e.TriggeredAt.Time(), e.ConfigID, e.DeviceID, e.MetricType,
		e.ActualValue, e.ThresholdValue, string(e.Severity), e.Message, e.Acknowledged).
		Scan(&e.ID)
	if err != nil {
		return types.AlertHistoryEntry{}, fmt.Errorf("insert alert history: %w", err)
	}
	return e, nil
}

// AlertHistoryFilter narrows history queries; zero values mean no filter.
type AlertHistoryFilter struct {
	DeviceID     string
	Severity     types.AlertSeverity
	Acknowledged *bool
	Since        time.Time
	Limit        int
}

// AlertHistory returns history entries newest first.
func (s *Store) AlertHistory(ctx context.Context, filter AlertHistoryFilter) ([]types.AlertHistoryEntry, error) {
	query := `
SELECT id, triggered_at, alert_config_id, device_id, metric_type,
       COALESCE(actual_value, 0), COALESCE(threshold_value, 0), severity,
       COALESCE(message, ''), acknowledged, COALESCE(acknowledged_by, ''),
       acknowledged_at, resolved_at
FROM alert_history
WHERE 1=1`
	var args []any
	if filter.DeviceID != "" {
		args = append(args, filter.DeviceID)
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if filter.Acknowledged != nil {
		args = append(args, *filter.Acknowledged)
		query += fmt.Sprintf(" AND acknowledged = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		query += fmt.Sprintf(" AND triggered_at >= $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY triggered_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alert history: %w", err)
	}
	defer rows.Close()

	var out []types.AlertHistoryEntry
	for rows.Next() {
		var (
			e           types.AlertHistoryEntry
			triggeredAt time.Time
			severity    string
			ackedAt     *time.Time
			resolvedAt  *time.Time
		)
		if err := rows.Scan(&e.ID, &triggeredAt, &e.ConfigID, &e.DeviceID, &e.MetricType,
			&e.ActualValue, &e.ThresholdValue, &severity, &e.Message,
			&e.Acknowledged, &e.AcknowledgedBy, &ackedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan alert history: %w", err)
		}
		e.TriggeredAt = types.NewISOTime(triggeredAt)
		e.Severity = types.AlertSeverity(severity)
		if ackedAt != nil {
			t := types.NewISOTime(*ackedAt)
			e.AcknowledgedAt = &t
		}
		if resolvedAt != nil {
			t := types.NewISOTime(*resolvedAt)
			e.ResolvedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AcknowledgeAlert marks a history entry acknowledged by the given actor.
func (s *Store) AcknowledgeAlert(ctx context.Context, id int64, by string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE alert_history SET acknowledged = TRUE, acknowledged_by = $2, acknowledged_at = $3
WHERE id = $1`, id, by, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveAlert stamps a history entry resolved.
func (s *Store) ResolveAlert(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE alert_history SET resolved_at = $2 WHERE id = $1 AND resolved_at IS NULL`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimCooldown attempts to take the cooldown slot for (device, rule). The
// claim succeeds when no row exists or the stored expiry has passed; both
// paths are a single upsert, so concurrent evaluators cannot double-claim.
// Returns true when the caller owns the slot and should dispatch.
func (s *Store) ClaimCooldown(ctx context.Context, deviceID, configID string, now, expiresAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO alert_cooldown (device_id, alert_config_id, last_triggered_at, cooldown_expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (device_id, alert_config_id) DO UPDATE SET
    last_triggered_at   = EXCLUDED.last_triggered_at,
    cooldown_expires_at = EXCLUDED.cooldown_expires_at
WHERE alert_cooldown.cooldown_expires_at <= $3`,
		deviceID, configID, now.UTC(), expiresAt.UTC())
	if err != nil {
		return false, fmt.Errorf("claim cooldown: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PruneExpiredCooldowns removes cooldown rows whose expiry has passed. Live
// rows stay so ClaimCooldown keeps suppressing.
func (s *Store) PruneExpiredCooldowns(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alert_cooldown WHERE cooldown_expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune cooldowns: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PruneAlertHistory removes acknowledged history entries triggered before the
// cutoff. Unacknowledged entries are kept until the hypertable retention
// policy drops them.
func (s *Store) PruneAlertHistory(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alert_history WHERE acknowledged AND triggered_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune alert history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateNotificationChannel stores a channel definition.
func (s *Store) CreateNotificationChannel(ctx context.Context, ch types.NotificationChannel) (types.NotificationChannel, error) {
	if ch.Name == "" {
		return types.NotificationChannel{}, errors.New("name is required")
	}
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ch.CreatedAt = now
	ch.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
INSERT INTO notification_channel (id, kind, name, config, enabled, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ch.ID, string(ch.Kind), ch.Name, rawOrNil(ch.Config), ch.Enabled, ch.CreatedAt, ch.UpdatedAt)
	if err != nil {
		return types.NotificationChannel{}, fmt.Errorf("create notification channel: %w", err)
	}
	return ch, nil
}

// UpdateNotificationChannel replaces a channel's mutable fields.
func (s *Store) UpdateNotificationChannel(ctx context.Context, ch types.NotificationChannel) (types.NotificationChannel, error) {
	ch.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
UPDATE notification_channel SET kind = $2, name = $3, config = $4, enabled = $5, updated_at = $6
WHERE id = $1`,
		ch.ID, string(ch.Kind), ch.Name, rawOrNil(ch.Config), ch.Enabled, ch.UpdatedAt)
	if err != nil {
		return types.NotificationChannel{}, fmt.Errorf("update notification channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NotificationChannel{}, ErrNotFound
	}
	return ch, nil
}

// DeleteNotificationChannel removes a channel definition.
func (s *Store) DeleteNotificationChannel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notification_channel WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete notification channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// NotificationChannels returns every channel, name order.
func (s *Store) NotificationChannels(ctx context.Context) ([]types.NotificationChannel, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, kind, name, COALESCE(config, '{}'::jsonb), enabled, created_at, updated_at
FROM notification_channel
ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("query notification channels: %w", err)
	}
	defer rows.Close()

	var out []types.NotificationChannel
	for rows.Next() {
		var (
			ch   types.NotificationChannel
			kind string
		)
		if err := rows.Scan(&ch.ID, &kind, &ch.Name, &ch.Config, &ch.Enabled, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan notification channel: %w", err)
		}
		ch.Kind = types.ChannelKind(kind)
		out = append(out, ch)
	}
	return out, rows.Err()
}

// CreateMaintenanceWindow stores a suppression window.
func (s *Store) CreateMaintenanceWindow(ctx context.Context, w types.MaintenanceWindow) (types.MaintenanceWindow, error) {
	if !w.EndsAt.After(w.StartsAt) {
		return types.MaintenanceWindow{}, errors.New("ends_at must be after starts_at")
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO maintenance_window (id, device_id, starts_at, ends_at, reason, enabled)
VALUES ($1,$2,$3,$4,$5,$6)`,
		w.ID, w.DeviceID, w.StartsAt.UTC(), w.EndsAt.UTC(), w.Reason, w.Enabled)
	if err != nil {
		return types.MaintenanceWindow{}, fmt.Errorf("create maintenance window: %w", err)
	}
	return w, nil
}

// UpdateMaintenanceWindow replaces a window's fields.
func (s *Store) UpdateMaintenanceWindow(ctx context.Context, w types.MaintenanceWindow) (types.MaintenanceWindow, error) {
	if !w.EndsAt.After(w.StartsAt) {
		return types.MaintenanceWindow{}, errors.New("ends_at must be after starts_at")
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE maintenance_window SET device_id = $2, starts_at = $3, ends_at = $4, reason = $5, enabled = $6
WHERE id = $1`,
		w.ID, w.DeviceID, w.StartsAt.UTC(), w.EndsAt.UTC(), w.Reason, w.Enabled)
	if err != nil {
		return types.MaintenanceWindow{}, fmt.Errorf("update maintenance window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.MaintenanceWindow{}, ErrNotFound
	}
	return w, nil
}

// DeleteMaintenanceWindow removes a window.
func (s *Store) DeleteMaintenanceWindow(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM maintenance_window WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete maintenance window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MaintenanceWindows returns every window, soonest start first.
func (s *Store) MaintenanceWindows(ctx context.Context) ([]types.MaintenanceWindow, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, device_id, starts_at, ends_at, COALESCE(reason, ''), enabled
FROM maintenance_window
ORDER BY starts_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query maintenance windows: %w", err)
	}
	defer rows.Close()

	var out []types.MaintenanceWindow
	for rows.Next() {
		var w types.MaintenanceWindow
		if err := rows.Scan(&w.ID, &w.DeviceID, &w.StartsAt, &w.EndsAt, &w.Reason, &w.Enabled); err != nil {
			return nil, fmt.Errorf("scan maintenance window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// InMaintenance reports whether any enabled window covers the device at t.
func (s *Store) InMaintenance(ctx context.Context, deviceID string, t time.Time) (bool, error) {
	var in bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM maintenance_window
    WHERE enabled AND starts_at <= $2 AND ends_at > $2
      AND (device_id IS NULL OR device_id = $1)
)`, deviceID, t.UTC()).Scan(&in)
	if err != nil {
		return false, fmt.Errorf("query maintenance windows: %w", err)
	}
	return in, nil
}
