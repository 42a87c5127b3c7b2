package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panfm/panfm/pkg/firewall"
	"github.com/panfm/panfm/pkg/types"
)

func TestClassifyZone(t *testing.T) {
	tests := []struct {
		zone string
		want zoneKind
	}{
		{"trust", zoneInternal},
		{"LAN-Guest", zoneInternal},
		{"inside", zoneInternal},
		{"dmz", zoneInternal},
		{"wlan", zoneInternal},
		{"untrust", zoneInternet},
		{"Internet", zoneInternet},
		{"outside", zoneInternet},
		{"external", zoneInternet},
		{"wan1", zoneWAN},
		{"SDWAN", zoneWAN},
		{"vpn-s2s", zoneWAN},
		{"tunnel.1", zoneWAN},
		{"", zoneUnknown},
		{"zone7", zoneUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyZone(tt.zone), "zone %q", tt.zone)
	}
}

func TestFlowType(t *testing.T) {
	assert.Equal(t, types.TrafficLAN, flowType("trust", "dmz"))
	assert.Equal(t, types.TrafficInternet, flowType("trust", "untrust"))
	assert.Equal(t, types.TrafficWAN, flowType("lan", "vpn-s2s"))
	assert.Equal(t, types.TrafficWAN, flowType("wan1", "untrust"))
	assert.Equal(t, types.TrafficInternet, flowType("", ""))
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "192.168.1.10", clientIP(firewall.TrafficLogEntry{
		SourceIP: "192.168.1.10", DestIP: "1.2.3.4", SourceZone: "trust", DestZone: "untrust",
	}))
	assert.Equal(t, "192.168.1.10", clientIP(firewall.TrafficLogEntry{
		SourceIP: "1.2.3.4", DestIP: "192.168.1.10", SourceZone: "untrust", DestZone: "trust",
	}), "inbound flows attribute to the internal destination")
	assert.Empty(t, clientIP(firewall.TrafficLogEntry{
		SourceIP: "1.2.3.4", DestIP: "5.6.7.8", SourceZone: "untrust", DestZone: "wan1",
	}), "transit flows have no client")
	assert.Equal(t, "10.0.0.5", clientIP(firewall.TrafficLogEntry{
		SourceIP: "10.0.0.5", DestIP: "1.2.3.4",
	}), "without zone data the initiator is the client")
}

func TestRecentTraffic(t *testing.T) {
	now := time.Date(2025, 11, 19, 7, 30, 0, 0, time.UTC)
	logs := []firewall.TrafficLogEntry{
		{ReceiveTime: now.Add(-10 * time.Second)},
		{ReceiveTime: now.Add(-59 * time.Second)},
		{ReceiveTime: now.Add(-2 * time.Minute)},
	}
	assert.Len(t, recentTraffic(logs, now.Add(-time.Minute)), 2)
	assert.Empty(t, recentTraffic(nil, now))
}

func TestAggregateFlows(t *testing.T) {
	at := types.NewISOTime(time.Date(2025, 11, 19, 7, 30, 0, 0, time.UTC))
	lookup := func(ip string) string {
		if ip == "192.168.1.10" {
			return "pi-hole"
		}
		return ""
	}

	logs := []firewall.TrafficLogEntry{
		{SourceIP: "192.168.1.10", DestIP: "1.2.3.4", DestPort: 443, Application: "ssl",
			Category: "streaming", Protocol: "tcp", SourceZone: "trust", DestZone: "untrust",
			Bytes: 100, BytesSent: 60, BytesRecv: 40},
		{SourceIP: "192.168.1.10", DestIP: "1.2.3.4", DestPort: 443, Application: "ssl",
			Bytes: 50, BytesSent: 30, BytesRecv: 20},
		{SourceIP: "192.168.1.11", DestIP: "8.8.8.8", DestPort: 53, Application: "dns",
			Bytes: 500},
		{SourceIP: "", DestIP: "8.8.8.8", Bytes: 999},
	}

	got := aggregateFlows(at, "d1", logs, lookup)
	require.Len(t, got, 2)

	assert.Equal(t, "192.168.1.11", got[0].SourceIP, "heaviest tuple first")
	assert.Equal(t, int64(500), got[0].BytesTotal)
	assert.Equal(t, int64(1), got[0].Sessions)

	f := got[1]
	assert.Equal(t, int64(150), f.BytesTotal, "same tuple accumulates")
	assert.Equal(t, int64(90), f.BytesSent)
	assert.Equal(t, int64(60), f.BytesRecv)
	assert.Equal(t, int64(2), f.Sessions)
	assert.Equal(t, "streaming", f.Category)
	assert.Equal(t, "pi-hole", f.SourceHost)
	assert.Empty(t, f.DestHost)
	assert.Equal(t, at, f.Time)
}

func TestCategoryBandwidth(t *testing.T) {
	at := types.NewISOTime(time.Date(2025, 11, 19, 7, 30, 0, 0, time.UTC))
	logs := []firewall.TrafficLogEntry{
		{SourceZone: "trust", DestZone: "untrust", Category: "streaming", Bytes: 7_500_000},
		{SourceZone: "trust", DestZone: "trust", Category: "streaming", Bytes: 1_500_000},
		{SourceZone: "trust", DestZone: "untrust", Category: "", Bytes: 750_000},
	}

	got := categoryBandwidth(at, "d1", logs, time.Minute)

	byKey := make(map[string]types.CategoryBandwidth, len(got))
	for _, r := range got {
		byKey[r.Category+"/"+string(r.TrafficType)] = r
	}
	require.Len(t, byKey, 5)

	assert.Equal(t, int64(9_000_000), byKey["streaming/total"].Bytes)
	assert.Equal(t, int64(7_500_000), byKey["streaming/internet"].Bytes)
	assert.Equal(t, int64(1_500_000), byKey["streaming/lan"].Bytes)
	assert.Equal(t, int64(750_000), byKey["unknown/internet"].Bytes)
	assert.InDelta(t, 1.0, byKey["streaming/internet"].BandwidthMbps, 1e-9)

	assert.Equal(t, "streaming", got[0].Category, "heaviest first")
	assert.Equal(t, types.TrafficTotal, got[0].TrafficType)
}

func TestClientBandwidth(t *testing.T) {
	at := types.NewISOTime(time.Date(2025, 11, 19, 7, 30, 0, 0, time.UTC))
	lookup := func(ip string) string {
		if ip == "192.168.1.10" {
			return "pi-hole"
		}
		return ""
	}
	logs := []firewall.TrafficLogEntry{
		{SourceIP: "192.168.1.10", DestIP: "1.2.3.4", SourceZone: "trust", DestZone: "untrust", Bytes: 7_500_000},
		{SourceIP: "5.6.7.8", DestIP: "192.168.1.10", SourceZone: "untrust", DestZone: "trust", Bytes: 1_500_000},
		{SourceIP: "1.1.1.1", DestIP: "2.2.2.2", SourceZone: "untrust", DestZone: "wan1", Bytes: 999},
	}

	got := clientBandwidth(at, "d1", logs, time.Minute, lookup)

	byKey := make(map[string]types.ClientBandwidth, len(got))
	for _, r := range got {
		byKey[r.ClientIP+"/"+string(r.TrafficType)] = r
	}
	require.Len(t, byKey, 2, "transit flows contribute nothing")

	total := byKey["192.168.1.10/total"]
	assert.Equal(t, int64(9_000_000), total.Bytes, "outbound and inbound both count toward the client")
	assert.Equal(t, "pi-hole", total.Hostname)
	assert.InDelta(t, 1.2, total.BandwidthMbps, 1e-9)
	assert.Equal(t, int64(9_000_000), byKey["192.168.1.10/internet"].Bytes)
}

func TestCollectTrafficFlows(t *testing.T) {
	now := time.Date(2025, 11, 19, 7, 30, 30, 0, time.UTC)
	client := &fakeClient{
		traffic: []firewall.TrafficLogEntry{
			{ReceiveTime: now.Add(-10 * time.Second), SourceIP: "192.168.1.10", DestIP: "1.2.3.4",
				DestPort: 443, Application: "ssl", Category: "streaming",
				SourceZone: "trust", DestZone: "untrust", Bytes: 100},
			{ReceiveTime: now.Add(-5 * time.Minute), SourceIP: "192.168.1.10", DestIP: "9.9.9.9",
				DestPort: 53, Application: "dns", SourceZone: "trust", DestZone: "untrust", Bytes: 50},
		},
	}
	fs := &fakeStore{}
	reg := &fakeRegistry{devices: []*types.Device{enabledDevice("d1", "10.0.0.1")}}
	c := newTestCollector(t, fs, reg, client)
	c.now = func() time.Time { return now }

	require.NoError(t, c.CollectTrafficFlows(context.Background()))

	require.Len(t, fs.flowRows, 1, "entries older than the window are skipped")
	assert.Equal(t, "ssl", fs.flowRows[0].Application)
	assert.Equal(t, types.NewISOTime(now.Truncate(time.Minute)), fs.flowRows[0].Time,
		"rows bucket to the tick minute")

	assert.NotEmpty(t, fs.catRows)
	assert.NotEmpty(t, fs.clientRows)
}

func TestCollectTrafficFlowsReadFailure(t *testing.T) {
	client := &fakeClient{errs: map[string]error{"traffic_logs": assert.AnError}}
	fs := &fakeStore{}
	reg := &fakeRegistry{devices: []*types.Device{enabledDevice("d1", "10.0.0.1")}}
	c := newTestCollector(t, fs, reg, client)

	require.NoError(t, c.CollectTrafficFlows(context.Background()))
	assert.Empty(t, fs.flowRows)
	assert.Empty(t, fs.catRows)
}
