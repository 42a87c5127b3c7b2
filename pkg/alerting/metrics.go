package alerting

import (
	"fmt"
	"math"
	"strings"

	"github.com/panfm/panfm/pkg/types"
)

// MetricClientBandwidth is evaluated from per-client rate rows rather than
// the sample itself.
const MetricClientBandwidth = "client_bandwidth"

// MetricNames lists every metric a rule may target.
func MetricNames() []string {
	return []string{
		"throughput_in", "throughput_out", "throughput_total",
		"packets_in", "packets_out",
		"cpu", "cpu_mgmt", "memory", "disk",
		"sessions", "session_utilization",
		"threats_critical", "threats_high",
		"interface_errors",
		MetricClientBandwidth,
	}
}

// MetricBag flattens a sample into the values alert rules compare against.
// disk is the fuller of the two partitions.
func MetricBag(s *types.Sample) map[string]float64 {
	return map[string]float64{
		"throughput_in":       s.ThroughputInMbps,
		"throughput_out":      s.ThroughputOutMbps,
		"throughput_total":    s.ThroughputTotalMbps,
		"packets_in":          s.PacketsInPerSec,
		"packets_out":         s.PacketsOutPerSec,
		"cpu":                 s.CPU.DataPlanePct,
		"cpu_mgmt":            s.CPU.MgmtPlanePct,
		"memory":              s.MemoryUsedPct,
		"disk":                math.Max(s.DiskUsage.RootPct, s.DiskUsage.LogPct),
		"sessions":            float64(s.Sessions.Active),
		"session_utilization": s.Sessions.UtilizationPct,
		"threats_critical":    float64(s.Threats.Critical),
		"threats_high":        float64(s.Threats.High),
		"interface_errors":    float64(s.InterfaceErrors),
	}
}

// equalityEpsilon bounds float drift for the = operator.
const equalityEpsilon = 1e-9

func compare(op types.AlertOperator, actual, threshold float64) bool {
	switch op {
	case types.OpGreater:
		return actual > threshold
	case types.OpGreaterEqual:
		return actual >= threshold
	case types.OpLess:
		return actual < threshold
	case types.OpLessEqual:
		return actual <= threshold
	case types.OpEqual:
		return math.Abs(actual-threshold) < equalityEpsilon
	}
	return false
}

// formatMessage renders the notification text. The layout is load-bearing:
// operators filter mailboxes on it and the tests pin it.
func formatMessage(deviceName string, cfg types.AlertConfig, actual float64, clients []types.ClientBandwidth) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s alert for %s: %s is %.1f (threshold: %s %.1f)",
		strings.ToUpper(string(cfg.Severity)), deviceName, cfg.MetricType,
		actual, cfg.Operator, cfg.ThresholdValue)

	if len(clients) > 0 {
		top := clients[0]
		if top.Hostname != "" {
			fmt.Fprintf(&b, " | top source %s (%s)", top.ClientIP, top.Hostname)
		} else {
			fmt.Fprintf(&b, " | top source %s", top.ClientIP)
		}
		for _, c := range clients {
			fmt.Fprintf(&b, "\n  - %s: %.2f Mbps", c.ClientIP, c.BandwidthMbps)
		}
	}
	return b.String()
}
