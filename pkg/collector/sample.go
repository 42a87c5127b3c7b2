package collector

import (
	"sort"
	"strings"
	"time"

	"github.com/panfm/panfm/pkg/firewall"
	"github.com/panfm/panfm/pkg/types"
)

// readings bundles everything one poll pulled from an appliance.
type readings struct {
	Info      *firewall.SystemInfo
	Rates     *firewall.Throughput
	Sessions  *firewall.Sessions
	Resources *firewall.Resources
	Threats   []firewall.ThreatLogEntry
	Apps      []firewall.ApplicationStat
	Licenses  []firewall.License
}

// newSample builds the canonical per-poll record from raw appliance
// readings. All defaulting happens here: nil blocks yield zero-valued
// sections, so a partially failed poll still produces a well-formed row.
func newSample(at time.Time, deviceID string, r readings, window time.Duration) *types.Sample {
	s := &types.Sample{
		Time:        types.NewISOTime(at),
		DeviceID:    deviceID,
		SampleCount: 1,
	}
	if r.Rates != nil {
		s.ThroughputInMbps = r.Rates.InMbps
		s.ThroughputOutMbps = r.Rates.OutMbps
		s.ThroughputTotalMbps = r.Rates.InMbps + r.Rates.OutMbps
		s.PacketsInPerSec = r.Rates.PacketsInPerSec
		s.PacketsOutPerSec = r.Rates.PacketsOutPerSec
		s.InterfaceErrors = r.Rates.InterfaceErrors
	}
	if r.Sessions != nil {
		s.Sessions = types.SessionStats{
			Active:         r.Sessions.Active,
			TCP:            r.Sessions.TCP,
			UDP:            r.Sessions.UDP,
			ICMP:           r.Sessions.ICMP,
			Capacity:       r.Sessions.Capacity,
			UtilizationPct: r.Sessions.UtilizationPct,
		}
	}
	if r.Resources != nil {
		s.CPU = types.CPUStats{
			DataPlanePct: r.Resources.CPUDataPlanePct,
			MgmtPlanePct: r.Resources.CPUMgmtPlanePct,
		}
		s.MemoryUsedPct = r.Resources.MemoryUsedPct
		s.DiskUsage = types.DiskUsage{
			RootPct: r.Resources.DiskRootPct,
			LogPct:  r.Resources.DiskLogPct,
		}
	}
	if r.Info != nil {
		s.Hostname = r.Info.Hostname
		s.SWVersion = r.Info.SWVersion
		s.UptimeSeconds = r.Info.UptimeSeconds
		s.DatabaseVersions = types.DatabaseVersions{
			App:          r.Info.AppVersion,
			Threat:       r.Info.ThreatVersion,
			Antivirus:    r.Info.AntivirusVersion,
			Wildfire:     r.Info.WildfireVersion,
			URLFiltering: r.Info.URLFilteringVersion,
		}
	}
	s.License = licenseFlags(r.Licenses)
	s.Threats = threatCounts(r.Threats, at.Add(-window))
	s.TopApplications = topApplications(r.Apps, topAppN, window)
	return s
}

// threatCounts tallies severities for entries received after the window
// start. The appliance returns the most recent page on every poll; entries
// from before this window were counted by an earlier sample.
func threatCounts(entries []firewall.ThreatLogEntry, windowStart time.Time) types.ThreatCounts {
	var tc types.ThreatCounts
	for _, e := range entries {
		if !e.ReceiveTime.After(windowStart) {
			continue
		}
		switch strings.ToLower(e.Severity) {
		case "critical":
			tc.Critical++
		case "high":
			tc.High++
		case "medium":
			tc.Medium++
		case "low", "informational":
			tc.Low++
		}
	}
	return tc
}

// licenseFlags maps active subscription features onto the flag set. Expired
// entries do not count.
func licenseFlags(licenses []firewall.License) types.LicenseFlags {
	var f types.LicenseFlags
	for _, l := range licenses {
		if l.Expired {
			continue
		}
		switch feature := strings.ToLower(l.Feature); {
		case strings.Contains(feature, "threat prevention"):
			f.ThreatPrevention = true
		case strings.Contains(feature, "url filtering"), strings.Contains(feature, "pan-db"):
			f.URLFiltering = true
		case strings.Contains(feature, "wildfire"):
			f.Wildfire = true
		case strings.Contains(feature, "globalprotect"):
			f.GlobalProtect = true
		case strings.Contains(feature, "support"):
			f.Support = true
		}
	}
	return f
}

// topApplications returns the n heaviest applications with rates derived
// over the poll window.
func topApplications(apps []firewall.ApplicationStat, n int, window time.Duration) []types.TopApplication {
	if len(apps) == 0 {
		return nil
	}
	sorted := make([]firewall.ApplicationStat, len(apps))
	copy(sorted, apps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bytes > sorted[j].Bytes })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]types.TopApplication, 0, len(sorted))
	for _, a := range sorted {
		out = append(out, types.TopApplication{
			Name:     a.Name,
			Bytes:    a.Bytes,
			Sessions: a.Sessions,
			Mbps:     rateMbps(a.Bytes, window),
		})
	}
	return out
}

func threatRows(deviceID string, entries []firewall.ThreatLogEntry) []types.ThreatLog {
	rows := make([]types.ThreatLog, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, types.ThreatLog{
			Time:        types.NewISOTime(e.ReceiveTime),
			DeviceID:    deviceID,
			Severity:    strings.ToLower(e.Severity),
			ThreatID:    e.ThreatID,
			ThreatName:  e.ThreatName,
			SourceIP:    e.SourceIP,
			DestIP:      e.DestIP,
			Application: e.Application,
			Action:      e.Action,
			Category:    e.Category,
			SeqNo:       e.SeqNo,
			Raw:         e.Raw,
		})
	}
	return rows
}

func systemRows(deviceID string, entries []firewall.SystemLogEntry) []types.SystemLog {
	rows := make([]types.SystemLog, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, types.SystemLog{
			Time:        types.NewISOTime(e.ReceiveTime),
			DeviceID:    deviceID,
			Severity:    strings.ToLower(e.Severity),
			Module:      e.Module,
			Description: e.Description,
			SeqNo:       e.SeqNo,
			Raw:         e.Raw,
		})
	}
	return rows
}

func applicationRows(at time.Time, deviceID string, apps []firewall.ApplicationStat) []types.ApplicationSample {
	rows := make([]types.ApplicationSample, 0, len(apps))
	for _, a := range apps {
		if a.Name == "" {
			continue
		}
		rows = append(rows, types.ApplicationSample{
			Time:        types.NewISOTime(at),
			DeviceID:    deviceID,
			Application: a.Name,
			Bytes:       a.Bytes,
			Sessions:    a.Sessions,
		})
	}
	return rows
}
