package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/panfm/panfm/pkg/types"
)

const deviceMetadataColumns = `device_id, mac, custom_name, location, comment, COALESCE(tags, '{}'), first_seen, last_updated`

// UpsertDeviceMetadata writes operator annotation for a client, keyed
// (device_id, mac). Nil text fields keep the stored value; tags always
// replace the stored set, so passing an empty slice clears them.
func (s *Store) UpsertDeviceMetadata(ctx context.Context, m types.DeviceMetadata) (types.DeviceMetadata, error) {
	mac := strings.ToLower(strings.TrimSpace(m.MAC))
	if mac == "" {
		return types.DeviceMetadata{}, errors.New("mac is required")
	}
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
INSERT INTO device_metadata (device_id, mac, custom_name, location, comment, tags, first_seen, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (device_id, mac) DO UPDATE SET
    custom_name  = COALESCE(EXCLUDED.custom_name, device_metadata.custom_name),
    location     = COALESCE(EXCLUDED.location, device_metadata.location),
    comment      = COALESCE(EXCLUDED.comment, device_metadata.comment),
    tags         = EXCLUDED.tags,
    last_updated = EXCLUDED.last_updated
RETURNING `+deviceMetadataColumns,
		m.DeviceID, mac, m.CustomName, m.Location, m.Comment, tags, now)
	out, err := scanDeviceMetadata(row)
	if err != nil {
		return types.DeviceMetadata{}, fmt.Errorf("upsert device metadata: %w", err)
	}
	return out, nil
}

// GetDeviceMetadata returns the annotation for one client.
func (s *Store) GetDeviceMetadata(ctx context.Context, deviceID, mac string) (types.DeviceMetadata, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deviceMetadataColumns+` FROM device_metadata WHERE device_id = $1 AND mac = $2`,
		deviceID, strings.ToLower(strings.TrimSpace(mac)))
	m, err := scanDeviceMetadata(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.DeviceMetadata{}, ErrNotFound
	}
	if err != nil {
		return types.DeviceMetadata{}, fmt.Errorf("load device metadata: %w", err)
	}
	return m, nil
}

// DeviceMetadataForDevice returns every annotation recorded behind one
// firewall.
func (s *Store) DeviceMetadataForDevice(ctx context.Context, deviceID string) ([]types.DeviceMetadata, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deviceMetadataColumns+` FROM device_metadata WHERE device_id = $1 ORDER BY mac ASC`,
		deviceID)
	if err != nil {
		return nil, fmt.Errorf("query device metadata: %w", err)
	}
	defer rows.Close()

	var out []types.DeviceMetadata
	for rows.Next() {
		m, err := scanDeviceMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device metadata: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteDeviceMetadata removes the annotation for one client.
func (s *Store) DeleteDeviceMetadata(ctx context.Context, deviceID, mac string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM device_metadata WHERE device_id = $1 AND mac = $2`,
		deviceID, strings.ToLower(strings.TrimSpace(mac)))
	if err != nil {
		return fmt.Errorf("delete device metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDeviceMetadata(row pgx.Row) (types.DeviceMetadata, error) {
	var m types.DeviceMetadata
	err := row.Scan(&m.DeviceID, &m.MAC, &m.CustomName, &m.Location, &m.Comment,
		&m.Tags, &m.FirstSeen, &m.LastUpdated)
	if err != nil {
		return types.DeviceMetadata{}, err
	}
	return m, nil
}
