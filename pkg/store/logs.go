package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/panfm/panfm/pkg/types"
)

const insertThreatLogSQL = `
INSERT INTO threat_logs (time, device_id, severity, threat_id, threat_name,
    source_ip, dest_ip, application, action, category, seqno, raw)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (time, device_id, seqno) DO NOTHING`

// InsertThreatLogs writes a page-batched snapshot of threat log entries.
// Entries already stored (same time, device and seqno) are skipped, so
// overlapping collection windows do not duplicate rows.
func (s *Store) InsertThreatLogs(ctx context.Context, logs []types.ThreatLog) error {
	if len(logs) == 0 {
		return nil
	}
	err := s.sendBatchPages(ctx, len(logs), func(i int, b *pgx.Batch) {
		l := logs[i]
		b.Queue(insertThreatLogSQL,
			l.Time.Time(), l.DeviceID, l.Severity, l.ThreatID, l.ThreatName,
			l.SourceIP, l.DestIP, l.Application, l.Action, l.Category, l.SeqNo,
			rawOrNil(l.Raw))
	})
	if err != nil {
		return fmt.Errorf("insert threat logs: %w", err)
	}
	return nil
}

const insertSystemLogSQL = `
INSERT INTO system_logs (time, device_id, severity, module, description, seqno, raw)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (time, device_id, seqno) DO NOTHING`

// InsertSystemLogs writes a page-batched snapshot of system log entries.
func (s *Store) InsertSystemLogs(ctx context.Context, logs []types.SystemLog) error {
	if len(logs) == 0 {
		return nil
	}
	err := s.sendBatchPages(ctx, len(logs), func(i int, b *pgx.Batch) {
		l := logs[i]
		b.Queue(insertSystemLogSQL,
			l.Time.Time(), l.DeviceID, l.Severity, l.Module, l.Description, l.SeqNo,
			rawOrNil(l.Raw))
	})
	if err != nil {
		return fmt.Errorf("insert system logs: %w", err)
	}
	return nil
}

func rawOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// ThreatLogs returns entries for a device over [start, end], newest first.
func (s *Store) ThreatLogs(ctx context.Context, deviceID string, start, end time.Time, limit int) ([]types.ThreatLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
SELECT time, device_id, COALESCE(severity,''), COALESCE(threat_id,''), COALESCE(threat_name,''),
       COALESCE(source_ip,''), COALESCE(dest_ip,''), COALESCE(application,''),
       COALESCE(action,''), COALESCE(category,''), COALESCE(seqno,''), raw
FROM threat_logs
WHERE device_id = $1 AND time >= $2 AND time <= $3
ORDER BY time DESC
LIMIT $4`, deviceID, start.UTC(), end.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query threat logs: %w", err)
	}
	defer rows.Close()

	var out []types.ThreatLog
	for rows.Next() {
		var (
			l  types.ThreatLog
			ts time.Time
		)
		if err := rows.Scan(&ts, &l.DeviceID, &l.Severity, &l.ThreatID, &l.ThreatName,
			&l.SourceIP, &l.DestIP, &l.Application, &l.Action, &l.Category, &l.SeqNo, &l.Raw); err != nil {
			return nil, fmt.Errorf("scan threat log: %w", err)
		}
		l.Time = types.NewISOTime(ts)
		out = append(out, l)
	}
	return out, rows.Err()
}

// SystemLogs returns entries for a device over [start, end], newest first.
func (s *Store) SystemLogs(ctx context.Context, deviceID string, start, end time.Time, limit int) ([]types.SystemLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
SELECT time, device_id, COALESCE(severity,''), COALESCE(module,''), COALESCE(description,''), COALESCE(seqno,''), raw
FROM system_logs
WHERE device_id = $1 AND time >= $2 AND time <= $3
ORDER BY time DESC
LIMIT $4`, deviceID, start.UTC(), end.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query system logs: %w", err)
	}
	defer rows.Close()

	var out []types.SystemLog
	for rows.Next() {
		var (
			l  types.SystemLog
			ts time.Time
		)
		if err := rows.Scan(&ts, &l.DeviceID, &l.Severity, &l.Module, &l.Description, &l.SeqNo, &l.Raw); err != nil {
			return nil, fmt.Errorf("scan system log: %w", err)
		}
		l.Time = types.NewISOTime(ts)
		out = append(out, l)
	}
	return out, rows.Err()
}
