package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/panfm/panfm/pkg/types"
)

// insertSampleSQL writes one raw sample. Re-running a tick is idempotent.
const insertSampleSQL = `
INSERT INTO samples (
    time, device_id,
    throughput_in_mbps, throughput_out_mbps, throughput_total_mbps,
    packets_in_per_sec, packets_out_per_sec,
    active_sessions, tcp_sessions, udp_sessions, icmp_sessions,
    session_capacity, session_utilization_pct,
    cpu_data_plane_pct, cpu_mgmt_plane_pct, memory_used_pct,
    disk_root_pct, disk_log_pct,
    app_version, threat_version, antivirus_version, wildfire_version, url_filtering_version,
    hostname, sw_version, uptime_seconds,
    lic_threat_prevention, lic_url_filtering, lic_wildfire, lic_global_protect, lic_support,
    threats_critical, threats_high, threats_medium, threats_low,
    interface_errors,
    top_client, top_client_internal, top_client_internet,
    top_category_lan, top_category_internet, top_category_wan,
    top_applications
) VALUES (
    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
    $21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37,$38,
    $39,$40,$41,$42,$43
)
ON CONFLICT (time, device_id) DO NOTHING`

// InsertSample persists one per-device poll result.
func (s *Store) InsertSample(ctx context.Context, sample *types.Sample) error {
	_, err := s.pool.Exec(ctx, insertSampleSQL,
		sample.Time.Time(), sample.DeviceID,
		sample.ThroughputInMbps, sample.ThroughputOutMbps, sample.ThroughputTotalMbps,
		sample.PacketsInPerSec, sample.PacketsOutPerSec,
		sample.Sessions.Active, sample.Sessions.TCP, sample.Sessions.UDP, sample.Sessions.ICMP,
		sample.Sessions.Capacity, sample.Sessions.UtilizationPct,
		sample.CPU.DataPlanePct, sample.CPU.MgmtPlanePct, sample.MemoryUsedPct,
		sample.DiskUsage.RootPct, sample.DiskUsage.LogPct,
		sample.DatabaseVersions.App, sample.DatabaseVersions.Threat, sample.DatabaseVersions.Antivirus,
		sample.DatabaseVersions.Wildfire, sample.DatabaseVersions.URLFiltering,
		sample.Hostname, sample.SWVersion, sample.UptimeSeconds,
		sample.License.ThreatPrevention, sample.License.URLFiltering, sample.License.Wildfire,
		sample.License.GlobalProtect, sample.License.Support,
		sample.Threats.Critical, sample.Threats.High, sample.Threats.Medium, sample.Threats.Low,
		sample.InterfaceErrors,
		jsonOrNil(sample.TopClient), jsonOrNil(sample.TopClientInternal), jsonOrNil(sample.TopClientInternet),
		jsonOrNil(sample.TopCategoryLAN), jsonOrNil(sample.TopCategoryInternet), jsonOrNil(sample.TopCategoryWAN),
		jsonOrNil(sample.TopApplications),
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// jsonOrNil renders an embedded payload for a JSONB column, mapping absent
// payloads to NULL.
func jsonOrNil(v any) any {
	switch t := v.(type) {
	case *types.TopClient:
		if t == nil {
			return nil
		}
	case *types.TopCategory:
		if t == nil {
			return nil
		}
	case []types.TopApplication:
		if len(t) == 0 {
			return nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// sampleColumns reads the raw table and both rollups through the same
// column list. Numerics are COALESCEd so NULLs never reach callers.
const sampleColumns = `
    time, device_id,
    COALESCE(throughput_in_mbps, 0), COALESCE(throughput_out_mbps, 0), COALESCE(throughput_total_mbps, 0),
    COALESCE(packets_in_per_sec, 0), COALESCE(packets_out_per_sec, 0),
    COALESCE(active_sessions, 0), COALESCE(tcp_sessions, 0), COALESCE(udp_sessions, 0), COALESCE(icmp_sessions, 0),
    COALESCE(session_capacity, 0), COALESCE(session_utilization_pct, 0),
    COALESCE(cpu_data_plane_pct, 0), COALESCE(cpu_mgmt_plane_pct, 0), COALESCE(memory_used_pct, 0),
    COALESCE(disk_root_pct, 0), COALESCE(disk_log_pct, 0),
    COALESCE(app_version, ''), COALESCE(threat_version, ''), COALESCE(antivirus_version, ''),
    COALESCE(wildfire_version, ''), COALESCE(url_filtering_version, ''),
    COALESCE(hostname, ''), COALESCE(sw_version, ''), COALESCE(uptime_seconds, 0),
    COALESCE(lic_threat_prevention, FALSE), COALESCE(lic_url_filtering, FALSE), COALESCE(lic_wildfire, FALSE),
    COALESCE(lic_global_protect, FALSE), COALESCE(lic_support, FALSE),
    COALESCE(threats_critical, 0), COALESCE(threats_high, 0), COALESCE(threats_medium, 0), COALESCE(threats_low, 0),
    COALESCE(interface_errors, 0),
    top_client, top_client_internal, top_client_internet,
    top_category_lan, top_category_internet, top_category_wan,
    top_applications`

const sampleSelect = `SELECT` + sampleColumns + `,
    %s AS sample_count
FROM %s
WHERE device_id = $1 AND time >= $2 AND time <= $3
ORDER BY time ASC`

const latestSampleSelect = `SELECT` + sampleColumns + `,
    1::bigint AS sample_count
FROM samples
WHERE device_id = $1
ORDER BY time DESC
LIMIT 1`

// QuerySamples returns samples for a device over [start, end] at the given
// resolution. Auto picks raw for spans up to 6h, hourly up to 7 days, daily
// beyond that.
func (s *Store) QuerySamples(ctx context.Context, deviceID string, start, end time.Time, res types.Resolution) ([]types.Sample, error) {
	resolved := resolveResolution(res, start, end)

	table, countExpr := "samples", "1::bigint"
	switch resolved {
	case types.ResolutionHourly:
		table, countExpr = "throughput_hourly", "COALESCE(sample_count, 0)"
	case types.ResolutionDaily:
		table, countExpr = "throughput_daily", "COALESCE(sample_count, 0)"
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(sampleSelect, countExpr, table),
		deviceID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query samples (%s): %w", resolved, err)
	}
	defer rows.Close()

	var samples []types.Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// LatestSample returns the newest raw sample for a device, or nil when the
// device has never been polled.
func (s *Store) LatestSample(ctx context.Context, deviceID string) (*types.Sample, error) {
	rows, err := s.pool.Query(ctx, latestSampleSelect, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query latest sample: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	sample, err := scanSample(rows)
	if err != nil {
		return nil, fmt.Errorf("scan latest sample: %w", err)
	}
	return &sample, rows.Err()
}

// resolveResolution applies the span-based auto routing.
func resolveResolution(res types.Resolution, start, end time.Time) types.Resolution {
	if res != "" && res != types.ResolutionAuto && res.Valid() {
		return res
	}
	span := end.Sub(start)
	switch {
	case span <= 6*time.Hour:
		return types.ResolutionRaw
	case span <= 7*24*time.Hour:
		return types.ResolutionHourly
	default:
		return types.ResolutionDaily
	}
}

// scanSample reads one row of sampleSelect into a Sample, rebuilding the
// nested objects from the flat columns.
func scanSample(rows pgx.Rows) (types.Sample, error) {
	var (
		sample types.Sample
		ts     time.Time

		topClient, topClientInternal, topClientInternet []byte
		topCatLAN, topCatInternet, topCatWAN            []byte
		topApps                                         []byte
	)

	err := rows.Scan(
		&ts, &sample.DeviceID,
		&sample.ThroughputInMbps, &sample.ThroughputOutMbps, &sample.ThroughputTotalMbps,
		&sample.PacketsInPerSec, &sample.PacketsOutPerSec,
		&sample.Sessions.Active, &sample.Sessions.TCP, &sample.Sessions.UDP, &sample.Sessions.ICMP,
		&sample.Sessions.Capacity, &sample.Sessions.UtilizationPct,
		&sample.CPU.DataPlanePct, &sample.CPU.MgmtPlanePct, &sample.MemoryUsedPct,
		&sample.DiskUsage.RootPct, &sample.DiskUsage.LogPct,
		&sample.DatabaseVersions.App, &sample.DatabaseVersions.Threat, &sample.DatabaseVersions.Antivirus,
		&sample.DatabaseVersions.Wildfire, &sample.DatabaseVersions.URLFiltering,
		&sample.Hostname, &sample.SWVersion, &sample.UptimeSeconds,
		&sample.License.ThreatPrevention, &sample.License.URLFiltering, &sample.License.Wildfire,
		&sample.License.GlobalProtect, &sample.License.Support,
		&sample.Threats.Critical, &sample.Threats.High, &sample.Threats.Medium, &sample.Threats.Low,
		&sample.InterfaceErrors,
		&topClient, &topClientInternal, &topClientInternet,
		&topCatLAN, &topCatInternet, &topCatWAN,
		&topApps,
		&sample.SampleCount,
	)
	if err != nil {
		return types.Sample{}, err
	}

	sample.Time = types.NewISOTime(ts)
	sample.TopClient = decodeTopClient(topClient)
	sample.TopClientInternal = decodeTopClient(topClientInternal)
	sample.TopClientInternet = decodeTopClient(topClientInternet)
	sample.TopCategoryLAN = decodeTopCategory(topCatLAN)
	sample.TopCategoryInternet = decodeTopCategory(topCatInternet)
	sample.TopCategoryWAN = decodeTopCategory(topCatWAN)
	sample.TopApplications = decodeTopApplications(topApps)
	return sample, nil
}

// Embedded payload decoding is best effort: a corrupt JSON column degrades
// to an absent payload rather than failing the whole read.

func decodeTopClient(data []byte) *types.TopClient {
	if len(data) == 0 {
		return nil
	}
	var v types.TopClient
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return &v
}

func decodeTopCategory(data []byte) *types.TopCategory {
	if len(data) == 0 {
		return nil
	}
	var v types.TopCategory
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return &v
}

func decodeTopApplications(data []byte) []types.TopApplication {
	if len(data) == 0 {
		return nil
	}
	var v []types.TopApplication
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}
