package store

import (
	"context"
	"fmt"
	"strings"
)

// deviceScopedTables lists every table holding per-device rows, in delete
// order. alert_config and maintenance_window rows scoped to the device go
// too; global rules (NULL device_id) stay.
var deviceScopedTables = []string{
	"samples",
	"threat_logs",
	"system_logs",
	"traffic_flows",
	"application_samples",
	"category_bandwidth",
	"client_bandwidth",
	"connected_devices",
	"device_metadata",
	"alert_history",
	"alert_cooldown",
	"collection_requests",
	"alert_config",
	"maintenance_window",
}

// ClearDeviceData removes every row recorded for a device. Called after a
// registry delete so time-series data does not outlive its appliance.
func (s *Store) ClearDeviceData(ctx context.Context, deviceID string) error {
	var total int64
	for _, table := range deviceScopedTables {
		tag, err := s.pool.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE device_id = $1`, table), deviceID)
		if err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	s.logger.Info().
		Str("device_id", deviceID).
		Int64("rows_deleted", total).
		Msg("cleared device data")
	return nil
}

// measurementTables are wiped by ClearAllData. Operator configuration
// (alert rules, channels, maintenance windows, device metadata) survives.
var measurementTables = []string{
	"samples",
	"threat_logs",
	"system_logs",
	"traffic_flows",
	"application_samples",
	"category_bandwidth",
	"client_bandwidth",
	"connected_devices",
	"alert_history",
	"alert_cooldown",
	"collection_requests",
	"scheduler_stats_history",
}

// ClearAllData truncates every measurement table.
func (s *Store) ClearAllData(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`TRUNCATE TABLE `+strings.Join(measurementTables, ", ")+` CASCADE`)
	if err != nil {
		return fmt.Errorf("clear all data: %w", err)
	}
	s.logger.Warn().
		Strs("tables", measurementTables).
		Msg("cleared all measurement data")
	return nil
}
