package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/panfm/panfm/pkg/types"
)

const insertTrafficFlowSQL = `
INSERT INTO traffic_flows (time, device_id, source_ip, dest_ip, dest_port, application,
    category, protocol, bytes_total, bytes_sent, bytes_received, sessions,
    source_zone, dest_zone, source_vlan, dest_vlan, source_hostname, dest_hostname)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (time, device_id, source_ip, dest_ip, dest_port, application) DO UPDATE SET
    bytes_total     = traffic_flows.bytes_total + EXCLUDED.bytes_total,
    bytes_sent      = traffic_flows.bytes_sent + EXCLUDED.bytes_sent,
    bytes_received  = traffic_flows.bytes_received + EXCLUDED.bytes_received,
    sessions        = traffic_flows.sessions + EXCLUDED.sessions,
    category        = COALESCE(NULLIF(EXCLUDED.category, ''), traffic_flows.category),
    source_hostname = COALESCE(NULLIF(EXCLUDED.source_hostname, ''), traffic_flows.source_hostname),
    dest_hostname   = COALESCE(NULLIF(EXCLUDED.dest_hostname, ''), traffic_flows.dest_hostname)`

// InsertTrafficFlows accumulates flow tuples. Flows are keyed by
// (time, device_id, source_ip, dest_ip, dest_port, application); a key seen
// again within the same bucket adds its bytes and sessions to the stored row,
// so successive log pages over the same window converge instead of
// duplicating.
func (s *Store) InsertTrafficFlows(ctx context.Context, flows []types.TrafficFlow) error {
	if len(flows) == 0 {
		return nil
	}
	err := s.sendBatchPages(ctx, len(flows), func(i int, b *pgx.Batch) {
		f := flows[i]
		b.Queue(insertTrafficFlowSQL,
			f.Time.Time(), f.DeviceID, f.SourceIP, f.DestIP, f.DestPort, f.Application,
			f.Category, f.Protocol, f.BytesTotal, f.BytesSent, f.BytesRecv, f.Sessions,
			f.SourceZone, f.DestZone, f.SourceVLAN, f.DestVLAN, f.SourceHost, f.DestHost)
	})
	if err != nil {
		return fmt.Errorf("insert traffic flows: %w", err)
	}
	return nil
}

const insertApplicationSampleSQL = `
INSERT INTO application_samples (time, device_id, application, bytes, sessions, top_source, source_zone, vlan)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (time, device_id, application) DO NOTHING`

// InsertApplicationSamples writes per-application aggregates for one window.
func (s *Store) InsertApplicationSamples(ctx context.Context, samples []types.ApplicationSample) error {
	if len(samples) == 0 {
		return nil
	}
	err := s.sendBatchPages(ctx, len(samples), func(i int, b *pgx.Batch) {
		a := samples[i]
		b.Queue(insertApplicationSampleSQL,
			a.Time.Time(), a.DeviceID, a.Application, a.Bytes, a.Sessions,
			a.TopSource, a.SourceZone, a.VLAN)
	})
	if err != nil {
		return fmt.Errorf("insert application samples: %w", err)
	}
	return nil
}

const insertCategoryBandwidthSQL = `
INSERT INTO category_bandwidth (time, device_id, category, traffic_type, bytes, bandwidth_mbps)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (time, device_id, category, traffic_type) DO NOTHING`

// InsertCategoryBandwidth writes per-category bandwidth aggregates.
func (s *Store) InsertCategoryBandwidth(ctx context.Context, rows []types.CategoryBandwidth) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.sendBatchPages(ctx, len(rows), func(i int, b *pgx.Batch) {
		c := rows[i]
		b.Queue(insertCategoryBandwidthSQL,
			c.Time.Time(), c.DeviceID, c.Category, string(c.TrafficType), c.Bytes, c.BandwidthMbps)
	})
	if err != nil {
		return fmt.Errorf("insert category bandwidth: %w", err)
	}
	return nil
}

const insertClientBandwidthSQL = `
INSERT INTO client_bandwidth (time, device_id, client_ip, hostname, traffic_type, bytes, bandwidth_mbps)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (time, device_id, client_ip, traffic_type) DO NOTHING`

// InsertClientBandwidth writes per-client bandwidth aggregates.
func (s *Store) InsertClientBandwidth(ctx context.Context, rows []types.ClientBandwidth) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.sendBatchPages(ctx, len(rows), func(i int, b *pgx.Batch) {
		c := rows[i]
		b.Queue(insertClientBandwidthSQL,
			c.Time.Time(), c.DeviceID, c.ClientIP, c.Hostname, string(c.TrafficType),
			c.Bytes, c.BandwidthMbps)
	})
	if err != nil {
		return fmt.Errorf("insert client bandwidth: %w", err)
	}
	return nil
}

const upsertConnectedDeviceSQL = `
INSERT INTO connected_devices (time, device_id, ip, mac, hostname, vendor, interface, last_seen)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (time, device_id, ip) DO UPDATE SET
    mac       = EXCLUDED.mac,
    hostname  = COALESCE(NULLIF(EXCLUDED.hostname, ''), connected_devices.hostname),
    vendor    = COALESCE(NULLIF(EXCLUDED.vendor, ''), connected_devices.vendor),
    interface = EXCLUDED.interface,
    last_seen = EXCLUDED.last_seen`

// UpsertConnectedDevices writes one ARP/DHCP snapshot. Rows for an IP already
// present in the snapshot refresh its mac, hostname and last_seen.
func (s *Store) UpsertConnectedDevices(ctx context.Context, devices []types.ConnectedDevice) error {
	if len(devices) == 0 {
		return nil
	}
	err := s.sendBatchPages(ctx, len(devices), func(i int, b *pgx.Batch) {
		d := devices[i]
		b.Queue(upsertConnectedDeviceSQL,
			d.Time.Time(), d.DeviceID, d.IP, d.MAC, d.Hostname, d.Vendor, d.Interface,
			d.LastSeen.Time())
	})
	if err != nil {
		return fmt.Errorf("upsert connected devices: %w", err)
	}
	return nil
}

// mbpsOver converts a byte count accumulated over a window into megabits per
// second. Non-positive windows or counts yield zero.
func mbpsOver(bytes int64, window time.Duration) float64 {
	secs := window.Seconds()
	if secs <= 0 || bytes <= 0 {
		return 0
	}
	return float64(bytes) * 8 / secs / 1e6
}

// TopCategory returns the heaviest traffic category for a device since the
// given time, or nil when no rows exist in the window.
func (s *Store) TopCategory(ctx context.Context, deviceID string, trafficType types.TrafficType, since time.Time) (*types.TopCategory, error) {
	var (
		category string
		bytes    int64
	)
	err := s.pool.QueryRow(ctx, `
SELECT category, COALESCE(SUM(bytes), 0)
FROM category_bandwidth
WHERE device_id = $1 AND traffic_type = $2 AND time >= $3
GROUP BY category
ORDER BY 2 DESC
LIMIT 1`, deviceID, string(trafficType), since.UTC()).Scan(&category, &bytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query top category: %w", err)
	}
	return &types.TopCategory{
		Category: category,
		Mbps:     mbpsOver(bytes, time.Since(since)),
	}, nil
}

// TopCategories returns per-category totals since the given time, heaviest
// first, at most n rows. Windows wider than 6h read the hourly rollup.
func (s *Store) TopCategories(ctx context.Context, deviceID string, trafficType types.TrafficType, since time.Time, n int) ([]types.CategoryBandwidth, error) {
	if n <= 0 || n > 50 {
		n = 50
	}
	table := "category_bandwidth"
	if time.Since(since) > 6*time.Hour {
		table = "category_bandwidth_hourly"
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
SELECT category, COALESCE(SUM(bytes), 0), MAX(time)
FROM %s
WHERE device_id = $1 AND traffic_type = $2 AND time >= $3
GROUP BY category
ORDER BY 2 DESC
LIMIT $4`, table), deviceID, string(trafficType), since.UTC(), n)
	if err != nil {
		return nil, fmt.Errorf("query top categories: %w", err)
	}
	defer rows.Close()

	window := time.Since(since)
	var out []types.CategoryBandwidth
	for rows.Next() {
		var (
			c  types.CategoryBandwidth
			ts time.Time
		)
		if err := rows.Scan(&c.Category, &c.Bytes, &ts); err != nil {
			return nil, fmt.Errorf("scan top category: %w", err)
		}
		c.Time = types.NewISOTime(ts)
		c.DeviceID = deviceID
		c.TrafficType = trafficType
		c.BandwidthMbps = mbpsOver(c.Bytes, window)
		out = append(out, c)
	}
	return out, rows.Err()
}

// TopClient returns the heaviest client for a device since the given time,
// or nil when no rows exist in the window.
func (s *Store) TopClient(ctx context.Context, deviceID string, trafficType types.TrafficType, since time.Time) (*types.TopClient, error) {
	var (
		ip       string
		hostname string
		bytes    int64
	)
	err := s.pool.QueryRow(ctx, `
SELECT client_ip, COALESCE(MAX(NULLIF(hostname, '')), ''), COALESCE(SUM(bytes), 0)
FROM client_bandwidth
WHERE device_id = $1 AND traffic_type = $2 AND time >= $3
GROUP BY client_ip
ORDER BY 3 DESC
LIMIT 1`, deviceID, string(trafficType), since.UTC()).Scan(&ip, &hostname, &bytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query top client: %w", err)
	}
	return &types.TopClient{
		IP:       ip,
		Hostname: hostname,
		Mbps:     mbpsOver(bytes, time.Since(since)),
	}, nil
}

// ClientBandwidthSince returns per-client totals since the given time,
// heaviest first, at most limit rows.
func (s *Store) ClientBandwidthSince(ctx context.Context, deviceID string, trafficType types.TrafficType, since time.Time, limit int) ([]types.ClientBandwidth, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT client_ip, COALESCE(MAX(NULLIF(hostname, '')), ''), COALESCE(SUM(bytes), 0), MAX(time)
FROM client_bandwidth
WHERE device_id = $1 AND traffic_type = $2 AND time >= $3
GROUP BY client_ip
ORDER BY 3 DESC
LIMIT $4`, deviceID, string(trafficType), since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query client bandwidth: %w", err)
	}
	defer rows.Close()

	window := time.Since(since)
	var out []types.ClientBandwidth
	for rows.Next() {
		var (
			c  types.ClientBandwidth
			ts time.Time
		)
		if err := rows.Scan(&c.ClientIP, &c.Hostname, &c.Bytes, &ts); err != nil {
			return nil, fmt.Errorf("scan client bandwidth: %w", err)
		}
		c.Time = types.NewISOTime(ts)
		c.DeviceID = deviceID
		c.TrafficType = trafficType
		c.BandwidthMbps = mbpsOver(c.Bytes, window)
		out = append(out, c)
	}
	return out, rows.Err()
}

// TrafficFlowsForClient returns a client's flows since the given time,
// largest first. Limit is capped at 50.
func (s *Store) TrafficFlowsForClient(ctx context.Context, deviceID, clientIP string, since time.Time, limit int) ([]types.TrafficFlow, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT time, device_id, source_ip, dest_ip, dest_port, application,
       COALESCE(category,''), COALESCE(protocol,''),
       COALESCE(bytes_total,0), COALESCE(bytes_sent,0), COALESCE(bytes_received,0), COALESCE(sessions,0),
       COALESCE(source_zone,''), COALESCE(dest_zone,''), COALESCE(source_vlan,''), COALESCE(dest_vlan,''),
       COALESCE(source_hostname,''), COALESCE(dest_hostname,'')
FROM traffic_flows
WHERE device_id = $1 AND source_ip = $2 AND time >= $3
ORDER BY bytes_total DESC
LIMIT $4`, deviceID, clientIP, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query traffic flows: %w", err)
	}
	defer rows.Close()

	var out []types.TrafficFlow
	for rows.Next() {
		var (
			f  types.TrafficFlow
			ts time.Time
		)
		if err := rows.Scan(&ts, &f.DeviceID, &f.SourceIP, &f.DestIP, &f.DestPort, &f.Application,
			&f.Category, &f.Protocol,
			&f.BytesTotal, &f.BytesSent, &f.BytesRecv, &f.Sessions,
			&f.SourceZone, &f.DestZone, &f.SourceVLAN, &f.DestVLAN,
			&f.SourceHost, &f.DestHost); err != nil {
			return nil, fmt.Errorf("scan traffic flow: %w", err)
		}
		f.Time = types.NewISOTime(ts)
		out = append(out, f)
	}
	return out, rows.Err()
}

// TopApplications returns per-application totals since the given time,
// largest first, at most n rows.
func (s *Store) TopApplications(ctx context.Context, deviceID string, since time.Time, n int) ([]types.TopApplication, error) {
	if n <= 0 || n > 50 {
		n = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT application, COALESCE(SUM(bytes), 0), COALESCE(SUM(sessions), 0)
FROM application_samples
WHERE device_id = $1 AND time >= $2
GROUP BY application
ORDER BY 2 DESC
LIMIT $3`, deviceID, since.UTC(), n)
	if err != nil {
		return nil, fmt.Errorf("query top applications: %w", err)
	}
	defer rows.Close()

	window := time.Since(since)
	var out []types.TopApplication
	for rows.Next() {
		var a types.TopApplication
		if err := rows.Scan(&a.Name, &a.Bytes, &a.Sessions); err != nil {
			return nil, fmt.Errorf("scan top application: %w", err)
		}
		a.Mbps = mbpsOver(a.Bytes, window)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ConnectedDeviceFilter narrows the connected-devices view. Search matches
// ip, hostname, mac and the metadata custom name, case-insensitively. Tags
// with TagMatchAny keep rows sharing at least one tag; TagMatchAll requires
// every tag.
type ConnectedDeviceFilter struct {
	Search string
	Tags   []string
	Match  types.TagMatch
}

// ConnectedDevices returns the most recent snapshot for a device with
// operator metadata joined in, optionally filtered.
func (s *Store) ConnectedDevices(ctx context.Context, deviceID string, filter ConnectedDeviceFilter) ([]types.ConnectedDevice, error) {
	query := `
SELECT cd.time, cd.ip, COALESCE(cd.mac,''), COALESCE(cd.hostname,''),
       COALESCE(cd.vendor,''), COALESCE(cd.interface,''), cd.last_seen,
       m.custom_name, m.location, m.comment, COALESCE(m.tags, '{}'), m.first_seen, m.last_updated
FROM connected_devices cd
LEFT JOIN device_metadata m ON m.device_id = cd.device_id AND m.mac = cd.mac
WHERE cd.device_id = $1
  AND cd.time = (SELECT MAX(time) FROM connected_devices WHERE device_id = $1)`
	args := []any{deviceID}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		query += fmt.Sprintf(`
  AND (cd.ip ILIKE $%d OR cd.hostname ILIKE $%d OR cd.mac ILIKE $%d OR COALESCE(m.custom_name,'') ILIKE $%d)`, n, n, n, n)
	}
	if len(filter.Tags) > 0 {
		op := "&&"
		if filter.Match == types.TagMatchAll {
			op = "@>"
		}
		args = append(args, filter.Tags)
		query += fmt.Sprintf("\n  AND COALESCE(m.tags, '{}') %s $%d", op, len(args))
	}
	query += "\nORDER BY cd.ip ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query connected devices: %w", err)
	}
	defer rows.Close()

	var out []types.ConnectedDevice
	for rows.Next() {
		var (
			d          types.ConnectedDevice
			ts         time.Time
			lastSeen   time.Time
			customName *string
			location   *string
			comment    *string
			tags       []string
			firstSeen  *time.Time
			updated    *time.Time
		)
		if err := rows.Scan(&ts, &d.IP, &d.MAC, &d.Hostname, &d.Vendor, &d.Interface, &lastSeen,
			&customName, &location, &comment, &tags, &firstSeen, &updated); err != nil {
			return nil, fmt.Errorf("scan connected device: %w", err)
		}
		d.Time = types.NewISOTime(ts)
		d.DeviceID = deviceID
		d.LastSeen = types.NewISOTime(lastSeen)
		if firstSeen != nil {
			d.Metadata = &types.DeviceMetadata{
				DeviceID:    deviceID,
				MAC:         d.MAC,
				CustomName:  customName,
				Location:    location,
				Comment:     comment,
				Tags:        tags,
				FirstSeen:   *firstSeen,
				LastUpdated: derefTime(updated),
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
