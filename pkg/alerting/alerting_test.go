package alerting

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panfm/panfm/pkg/config"
	"github.com/panfm/panfm/pkg/log"
	"github.com/panfm/panfm/pkg/notify"
	"github.com/panfm/panfm/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: "debug", JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type fakeStore struct {
	configs     []types.AlertConfig
	maintenance bool
	clients     []types.ClientBandwidth
	cooldowns   map[string]time.Time
	history     []types.AlertHistoryEntry
	nextID      int64

	configsErr error
	claimErr   error
}

func (f *fakeStore) EnabledAlertConfigs(context.Context, string) ([]types.AlertConfig, error) {
	return f.configs, f.configsErr
}

func (f *fakeStore) InMaintenance(context.Context, string, time.Time) (bool, error) {
	return f.maintenance, nil
}

func (f *fakeStore) ClaimCooldown(_ context.Context, deviceID, configID string, now, expiresAt time.Time) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.cooldowns == nil {
		f.cooldowns = make(map[string]time.Time)
	}
	key := deviceID + "|" + configID
	if expiry, ok := f.cooldowns[key]; ok && expiry.After(now) {
		return false, nil
	}
	f.cooldowns[key] = expiresAt
	return true, nil
}

func (f *fakeStore) InsertAlertHistory(_ context.Context, e types.AlertHistoryEntry) (types.AlertHistoryEntry, error) {
	f.nextID++
	e.ID = f.nextID
	f.history = append(f.history, e)
	return e, nil
}

func (f *fakeStore) ClientBandwidthSince(context.Context, string, types.TrafficType, time.Time, int) ([]types.ClientBandwidth, error) {
	return f.clients, nil
}

type fakeDispatcher struct {
	events   []notify.Event
	channels [][]string
	results  map[string]notify.ChannelResult
}

func (f *fakeDispatcher) Dispatch(_ context.Context, channels []string, ev notify.Event) map[string]notify.ChannelResult {
	f.events = append(f.events, ev)
	f.channels = append(f.channels, channels)
	if f.results != nil {
		return f.results
	}
	return map[string]notify.ChannelResult{"webhook": {Enabled: true, Sent: true}}
}

func testDevice() types.Device {
	return types.Device{ID: "dev-1", Name: "edge-fw", Enabled: true}
}

func testSample() *types.Sample {
	return &types.Sample{
		Time:                types.NewISOTime(time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)),
		DeviceID:            "dev-1",
		ThroughputInMbps:    420.5,
		ThroughputOutMbps:   120.25,
		ThroughputTotalMbps: 540.75,
		PacketsInPerSec:     52000,
		PacketsOutPerSec:    31000,
		CPU:                 types.CPUStats{DataPlanePct: 97.3, MgmtPlanePct: 41},
		MemoryUsedPct:       63.2,
		DiskUsage:           types.DiskUsage{RootPct: 71, LogPct: 88.5},
		Sessions: types.SessionStats{
			Active: 120000, TCP: 90000, UDP: 28000, ICMP: 2000,
			Capacity: 200000, UtilizationPct: 60,
		},
		Threats:         types.ThreatCounts{Critical: 2, High: 7, Medium: 3, Low: 11},
		InterfaceErrors: 5,
	}
}

func cpuRule() types.AlertConfig {
	return types.AlertConfig{
		ID:             "cfg-cpu",
		MetricType:     "cpu",
		ThresholdValue: 90,
		Operator:       types.OpGreater,
		Severity:       types.SeverityCritical,
		Enabled:        true,
		Channels:       []string{"ops"},
	}
}

func newTestEngine(store *fakeStore, disp *fakeDispatcher, at time.Time) (*Engine, *time.Time) {
	clock := at
	eng := New(store, disp, nil)
	eng.now = func() time.Time { return clock }
	return eng, &clock
}

func TestEvaluateTriggersAndDispatches(t *testing.T) {
	store := &fakeStore{configs: []types.AlertConfig{cpuRule()}}
	disp := &fakeDispatcher{}
	eng, _ := newTestEngine(store, disp, time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC))

	dispatched, err := eng.Evaluate(context.Background(), testDevice(), testSample())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)

	require.Len(t, store.history, 1)
	entry := store.history[0]
	assert.Equal(t, "CRITICAL alert for edge-fw: cpu is 97.3 (threshold: > 90.0)", entry.Message)
	assert.Equal(t, "cfg-cpu", entry.ConfigID)
	assert.InDelta(t, 97.3, entry.ActualValue, 1e-9)
	assert.Equal(t, "2026-03-14T10:30:00Z", entry.TriggeredAt.String())

	require.Len(t, disp.events, 1)
	assert.Equal(t, entry.Message, disp.events[0].Message)
	assert.Equal(t, []string{"ops"}, disp.channels[0])
}

func TestEvaluateCooldownSuppressesRepeat(t *testing.T) {
	store := &fakeStore{configs: []types.AlertConfig{cpuRule()}}
	disp := &fakeDispatcher{}
	eng, clock := newTestEngine(store, disp, time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC))

	dispatched, err := eng.Evaluate(context.Background(), testDevice(), testSample())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)

	// Still inside the default 300s cooldown: recorded but not dispatched.
	*clock = clock.Add(60 * time.Second)
	dispatched, err = eng.Evaluate(context.Background(), testDevice(), testSample())
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)

	require.Len(t, store.history, 2)
	assert.Equal(t, "[COOLDOWN] CRITICAL alert for edge-fw: cpu is 97.3 (threshold: > 90.0)",
		store.history[1].Message)
	assert.Len(t, disp.events, 1)

	// Past the expiry the rule fires again.
	*clock = clock.Add(241 * time.Second)
	dispatched, err = eng.Evaluate(context.Background(), testDevice(), testSample())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	assert.Len(t, disp.events, 2)
}

func TestEvaluateCooldownOverride(t *testing.T) {
	store := &fakeStore{configs: []types.AlertConfig{cpuRule()}}
	disp := &fakeDispatcher{}

	settings := func() config.Settings {
		s := config.DefaultSettings()
		s.AlertCooldownSeconds = map[string]int{"critical": 60}
		return s
	}
	clock := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	eng := New(store, disp, settings)
	eng.now = func() time.Time { return clock }

	_, err := eng.Evaluate(context.Background(), testDevice(), testSample())
	require.NoError(t, err)

	clock = clock.Add(61 * time.Second)
	dispatched, err := eng.Evaluate(context.Background(), testDevice(), testSample())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	assert.Len(t, disp.events, 2)
}

func TestEvaluateMaintenanceWindowSuppressesAll(t *testing.T) {
	store := &fakeStore{configs: []types.AlertConfig{cpuRule()}, maintenance: true}
	disp := &fakeDispatcher{}
	eng, _ := newTestEngine(store, disp, time.Now())

	dispatched, err := eng.Evaluate(context.Background(), testDevice(), testSample())
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)
	assert.Empty(t, store.history)
	assert.Empty(t, disp.events)
}

func TestEvaluateNotTriggered(t *testing.T) {
	rule := cpuRule()
	rule.ThresholdValue = 99
	store := &fakeStore{configs: []types.AlertConfig{rule}}
	disp := &fakeDispatcher{}
	eng, _ := newTestEngine(store, disp, time.Now())

	dispatched, err := eng.Evaluate(context.Background(), testDevice(), testSample())
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)
	assert.Empty(t, store.history)
}

func TestEvaluateUnknownMetricSkipped(t *testing.T) {
	rule := cpuRule()
	rule.MetricType = "flux_capacitance"
	store := &fakeStore{configs: []types.AlertConfig{rule}}
	disp := &fakeDispatcher{}
	eng, _ := newTestEngine(store, disp, time.Now())

	dispatched, err := eng.Evaluate(context.Background(), testDevice(), testSample())
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)
	assert.Empty(t, store.history)
}

func TestEvaluateMultipleRules(t *testing.T) {
	memory := types.AlertConfig{
		ID: "cfg-mem", MetricType: "memory", ThresholdValue: 90,
		Operator: types.OpGreater, Severity: types.SeverityWarning, Enabled: true,
	}
	threats := types.AlertConfig{
		ID: "cfg-threats", MetricType: "threats_critical", ThresholdValue: 1,
		Operator: types.OpGreaterEqual, Severity: types.SeverityWarning, Enabled: true,
	}
	store := &fakeStore{configs: []types.AlertConfig{cpuRule(), memory, threats}}
	disp := &fakeDispatcher{}
	eng, _ := newTestEngine(store, disp, time.Now())

	dispatched, err := eng.Evaluate(context.Background(), testDevice(), testSample())
	require.NoError(t, err)
	assert.Equal(t, 2, dispatched)
	require.Len(t, store.history, 2)
	assert.Equal(t, "cfg-cpu", store.history[0].ConfigID)
	assert.Equal(t, "cfg-threats", store.history[1].ConfigID)
}

func TestEvaluateClientBandwidth(t *testing.T) {
	rule := types.AlertConfig{
		ID: "cfg-cb", MetricType: MetricClientBandwidth, ThresholdValue: 50,
		Operator: types.OpGreater, Severity: types.SeverityWarning, Enabled: true,
	}
	store := &fakeStore{
		configs: []types.AlertConfig{rule},
		clients: []types.ClientBandwidth{
			{ClientIP: "10.0.0.5", Hostname: "nas", BandwidthMbps: 80.5},
			{ClientIP: "10.0.0.9", BandwidthMbps: 12.25},
		},
	}
	disp := &fakeDispatcher{}
	eng, _ := newTestEngine(store, disp, time.Now())

	dispatched, err := eng.Evaluate(context.Background(), testDevice(), testSample())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)

	want := "WARNING alert for edge-fw: client_bandwidth is 80.5 (threshold: > 50.0)" +
		" | top source 10.0.0.5 (nas)" +
		"\n  - 10.0.0.5: 80.50 Mbps" +
		"\n  - 10.0.0.9: 12.25 Mbps"
	require.Len(t, store.history, 1)
	assert.Equal(t, want, store.history[0].Message)
	assert.InDelta(t, 80.5, store.history[0].ActualValue, 1e-9)
}

func TestEvaluateClientBandwidthNoTraffic(t *testing.T) {
	rule := types.AlertConfig{
		ID: "cfg-cb", MetricType: MetricClientBandwidth, ThresholdValue: 50,
		Operator: types.OpGreater, Severity: types.SeverityWarning, Enabled: true,
	}
	store := &fakeStore{configs: []types.AlertConfig{rule}}
	disp := &fakeDispatcher{}
	eng, _ := newTestEngine(store, disp, time.Now())

	dispatched, err := eng.Evaluate(context.Background(), testDevice(), testSample())
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)
}

func TestEvaluateChannelFailureStillCounts(t *testing.T) {
	store := &fakeStore{configs: []types.AlertConfig{cpuRule()}}
	disp := &fakeDispatcher{results: map[string]notify.ChannelResult{
		"ops": {Enabled: true, Sent: false, Error: "connection refused"},
	}}
	eng, _ := newTestEngine(store, disp, time.Now())

	dispatched, err := eng.Evaluate(context.Background(), testDevice(), testSample())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	assert.Len(t, store.history, 1)
}

func TestEvaluateStoreErrorSurfaces(t *testing.T) {
	store := &fakeStore{configsErr: errors.New("connection reset")}
	disp := &fakeDispatcher{}
	eng, _ := newTestEngine(store, disp, time.Now())

	_, err := eng.Evaluate(context.Background(), testDevice(), testSample())
	assert.Error(t, err)
}

func TestMetricBag(t *testing.T) {
	bag := MetricBag(testSample())

	assert.InDelta(t, 420.5, bag["throughput_in"], 1e-9)
	assert.InDelta(t, 120.25, bag["throughput_out"], 1e-9)
	assert.InDelta(t, 540.75, bag["throughput_total"], 1e-9)
	assert.InDelta(t, 52000, bag["packets_in"], 1e-9)
	assert.InDelta(t, 31000, bag["packets_out"], 1e-9)
	assert.InDelta(t, 97.3, bag["cpu"], 1e-9)
	assert.InDelta(t, 41, bag["cpu_mgmt"], 1e-9)
	assert.InDelta(t, 63.2, bag["memory"], 1e-9)
	assert.InDelta(t, 88.5, bag["disk"], 1e-9, "disk is the fuller partition")
	assert.InDelta(t, 120000, bag["sessions"], 1e-9)
	assert.InDelta(t, 60, bag["session_utilization"], 1e-9)
	assert.InDelta(t, 2, bag["threats_critical"], 1e-9)
	assert.InDelta(t, 7, bag["threats_high"], 1e-9)
	assert.InDelta(t, 5, bag["interface_errors"], 1e-9)

	for _, name := range MetricNames() {
		if name == MetricClientBandwidth {
			continue
		}
		_, ok := bag[name]
		assert.True(t, ok, "metric %s missing from bag", name)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name      string
		op        types.AlertOperator
		actual    float64
		threshold float64
		want      bool
	}{
		{"greater true", types.OpGreater, 91, 90, true},
		{"greater false at equal", types.OpGreater, 90, 90, false},
		{"greater equal at equal", types.OpGreaterEqual, 90, 90, true},
		{"less true", types.OpLess, 10, 90, true},
		{"less false", types.OpLess, 90, 10, false},
		{"less equal at equal", types.OpLessEqual, 90, 90, true},
		{"equal within epsilon", types.OpEqual, 50.0000000001, 50, true},
		{"equal outside epsilon", types.OpEqual, 50.1, 50, false},
		{"unknown operator", types.AlertOperator("~"), 1, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compare(tt.op, tt.actual, tt.threshold))
		})
	}
}
