package collector

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/panfm/panfm/pkg/firewall"
	"github.com/panfm/panfm/pkg/metrics"
	"github.com/panfm/panfm/pkg/types"
)

// CollectTrafficFlows pulls recent traffic logs from every enabled device
// and writes the flow, per-client and per-category aggregates derived from
// them. Only entries received within the current window are aggregated, so
// a log line fetched again by the next tick is never counted twice.
func (c *Collector) CollectTrafficFlows(ctx context.Context) error {
	return c.forEachDevice(ctx, func(ctx context.Context, dev types.Device) {
		dlog := c.logger.With().Str("device_id", dev.ID).Str("device", dev.Name).Logger()
		client := c.clientFor(dev)

		logs, err := client.TrafficLogs(ctx, trafficLogMax)
		if err != nil {
			dlog.Warn().Err(err).Msg("Traffic log read failed")
			return
		}

		now := c.now().UTC()
		recent := recentTraffic(logs, now.Add(-flowsInterval))
		if len(recent) == 0 {
			return
		}

		at := types.NewISOTime(now.Truncate(flowsInterval))
		lookup := func(ip string) string { return c.hostnameFor(dev.ID, ip) }

		if flows := aggregateFlows(at, dev.ID, recent, lookup); len(flows) > 0 {
			if err := c.store.InsertTrafficFlows(ctx, flows); err != nil {
				dlog.Error().Err(err).Msg("Traffic flow write failed")
			} else {
				metrics.RowsWrittenTotal.WithLabelValues("traffic_flows").Add(float64(len(flows)))
			}
		}
		if rows := categoryBandwidth(at, dev.ID, recent, flowsInterval); len(rows) > 0 {
			if err := c.store.InsertCategoryBandwidth(ctx, rows); err != nil {
				dlog.Error().Err(err).Msg("Category bandwidth write failed")
			} else {
				metrics.RowsWrittenTotal.WithLabelValues("category_bandwidth").Add(float64(len(rows)))
			}
		}
		if rows := clientBandwidth(at, dev.ID, recent, flowsInterval, lookup); len(rows) > 0 {
			if err := c.store.InsertClientBandwidth(ctx, rows); err != nil {
				dlog.Error().Err(err).Msg("Client bandwidth write failed")
			} else {
				metrics.RowsWrittenTotal.WithLabelValues("client_bandwidth").Add(float64(len(rows)))
			}
		}
	})
}

// recentTraffic keeps the entries received after the window start.
func recentTraffic(logs []firewall.TrafficLogEntry, windowStart time.Time) []firewall.TrafficLogEntry {
	out := logs[:0:0]
	for _, l := range logs {
		if l.ReceiveTime.After(windowStart) {
			out = append(out, l)
		}
	}
	return out
}

type flowKey struct {
	src  string
	dst  string
	port int
	app  string
}

// aggregateFlows reduces raw log lines to (source, dest, port, application)
// tuples. Each log line counts as one session.
func aggregateFlows(at types.ISOTime, deviceID string, logs []firewall.TrafficLogEntry, hostname func(string) string) []types.TrafficFlow {
	agg := make(map[flowKey]*types.TrafficFlow)
	for _, l := range logs {
		if l.SourceIP == "" || l.DestIP == "" {
			continue
		}
		k := flowKey{src: l.SourceIP, dst: l.DestIP, port: l.DestPort, app: l.Application}
		f, ok := agg[k]
		if !ok {
			f = &types.TrafficFlow{
				Time:        at,
				DeviceID:    deviceID,
				SourceIP:    l.SourceIP,
				DestIP:      l.DestIP,
				DestPort:    l.DestPort,
				Application: l.Application,
				Category:    l.Category,
				Protocol:    l.Protocol,
				SourceZone:  l.SourceZone,
				DestZone:    l.DestZone,
				SourceHost:  hostname(l.SourceIP),
				DestHost:    hostname(l.DestIP),
			}
			agg[k] = f
		}
		f.BytesTotal += l.Bytes
		f.BytesSent += l.BytesSent
		f.BytesRecv += l.BytesRecv
		f.Sessions++
	}

	out := make([]types.TrafficFlow, 0, len(agg))
	for _, f := range agg {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BytesTotal != out[j].BytesTotal {
			return out[i].BytesTotal > out[j].BytesTotal
		}
		if out[i].SourceIP != out[j].SourceIP {
			return out[i].SourceIP < out[j].SourceIP
		}
		return out[i].DestIP < out[j].DestIP
	})
	return out
}

// categoryBandwidth sums bytes by (category, traffic type). Every flow also
// feeds the total bucket; empty categories land in "unknown".
func categoryBandwidth(at types.ISOTime, deviceID string, logs []firewall.TrafficLogEntry, window time.Duration) []types.CategoryBandwidth {
	type key struct {
		cat string
		tt  types.TrafficType
	}
	sums := make(map[key]int64)
	for _, l := range logs {
		cat := l.Category
		if cat == "" {
			cat = "unknown"
		}
		tt := flowType(l.SourceZone, l.DestZone)
		sums[key{cat, tt}] += l.Bytes
		sums[key{cat, types.TrafficTotal}] += l.Bytes
	}

	out := make([]types.CategoryBandwidth, 0, len(sums))
	for k, bytes := range sums {
		out = append(out, types.CategoryBandwidth{
			Time:          at,
			DeviceID:      deviceID,
			Category:      k.cat,
			TrafficType:   k.tt,
			Bytes:         bytes,
			BandwidthMbps: rateMbps(bytes, window),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes != out[j].Bytes {
			return out[i].Bytes > out[j].Bytes
		}
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].TrafficType < out[j].TrafficType
	})
	return out
}

// clientBandwidth sums bytes by (internal endpoint, traffic type). Flows
// with no internal endpoint are transit and skipped.
func clientBandwidth(at types.ISOTime, deviceID string, logs []firewall.TrafficLogEntry, window time.Duration, hostname func(string) string) []types.ClientBandwidth {
	type key struct {
		ip string
		tt types.TrafficType
	}
	sums := make(map[key]int64)
	for _, l := range logs {
		ip := clientIP(l)
		if ip == "" {
			continue
		}
		tt := flowType(l.SourceZone, l.DestZone)
		sums[key{ip, tt}] += l.Bytes
		sums[key{ip, types.TrafficTotal}] += l.Bytes
	}

	out := make([]types.ClientBandwidth, 0, len(sums))
	for k, bytes := range sums {
		out = append(out, types.ClientBandwidth{
			Time:          at,
			DeviceID:      deviceID,
			ClientIP:      k.ip,
			Hostname:      hostname(k.ip),
			TrafficType:   k.tt,
			Bytes:         bytes,
			BandwidthMbps: rateMbps(bytes, window),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes != out[j].Bytes {
			return out[i].Bytes > out[j].Bytes
		}
		if out[i].ClientIP != out[j].ClientIP {
			return out[i].ClientIP < out[j].ClientIP
		}
		return out[i].TrafficType < out[j].TrafficType
	})
	return out
}

// clientIP picks the endpoint on the inside of the firewall. When neither
// zone is classifiable the initiator is assumed to be the client.
func clientIP(l firewall.TrafficLogEntry) string {
	s, d := classifyZone(l.SourceZone), classifyZone(l.DestZone)
	switch {
	case s == zoneInternal:
		return l.SourceIP
	case d == zoneInternal:
		return l.DestIP
	case s == zoneUnknown && d == zoneUnknown:
		return l.SourceIP
	}
	return ""
}

type zoneKind int

const (
	zoneUnknown zoneKind = iota
	zoneInternal
	zoneInternet
	zoneWAN
)

// classifyZone buckets a zone name by the common naming conventions. The
// internet patterns are checked first because "untrust" contains "trust".
func classifyZone(zone string) zoneKind {
	z := strings.ToLower(zone)
	switch {
	case z == "":
		return zoneUnknown
	case strings.Contains(z, "untrust"), strings.Contains(z, "internet"),
		strings.Contains(z, "outside"), strings.Contains(z, "external"):
		return zoneInternet
	case strings.Contains(z, "trust"), strings.Contains(z, "lan"),
		strings.Contains(z, "inside"), strings.Contains(z, "internal"),
		strings.Contains(z, "dmz"):
		return zoneInternal
	case strings.Contains(z, "wan"), strings.Contains(z, "vpn"),
		strings.Contains(z, "tunnel"):
		return zoneWAN
	}
	return zoneUnknown
}

// flowType classifies a flow by its zone pair. Unmatched pairs count as
// internet.
func flowType(srcZone, dstZone string) types.TrafficType {
	s, d := classifyZone(srcZone), classifyZone(dstZone)
	switch {
	case s == zoneInternal && d == zoneInternal:
		return types.TrafficLAN
	case s == zoneWAN || d == zoneWAN:
		return types.TrafficWAN
	}
	return types.TrafficInternet
}
