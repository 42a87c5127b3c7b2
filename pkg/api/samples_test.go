package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panfm/panfm/pkg/types"
)

func TestThroughputCurrent(t *testing.T) {
	st := &fakeStore{latest: &types.Sample{
		Time:                types.NewISOTime(testNow),
		DeviceID:            "fw1",
		ThroughputTotalMbps: 123.4,
		Hostname:            "fw-branch",
	}}
	srv := newTestServer(t, st, &fakeRegistry{}, nil, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/throughput/current?device_id=fw1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp currentResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "success", resp.Status)
	require.NotNil(t, resp.Sample)
	assert.Equal(t, 123.4, resp.Sample.ThroughputTotalMbps)
	assert.Empty(t, resp.Message)
}

func TestThroughputCurrentNoSamplesYet(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRegistry{}, nil, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/throughput/current?device_id=fw1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp currentResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "success", resp.Status)
	assert.Nil(t, resp.Sample)
	assert.Equal(t, "no samples recorded for this device yet", resp.Message)
}

func TestThroughputCurrentRequiresDeviceID(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRegistry{}, nil, Config{})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/throughput/current", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "device_id is required")
}

func TestThroughputHistory(t *testing.T) {
	st := &fakeStore{samples: []types.Sample{
		{Time: types.NewISOTime(testNow.Add(-2 * time.Minute)), DeviceID: "fw1", ThroughputTotalMbps: 10},
		{Time: types.NewISOTime(testNow.Add(-time.Minute)), DeviceID: "fw1", ThroughputTotalMbps: 20},
	}}
	srv := newTestServer(t, st, &fakeRegistry{}, nil, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/throughput/history?device_id=fw1&range=6h", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp historyResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "6h", resp.Range)
	require.Len(t, resp.Samples, 2)
	assert.Equal(t, 20.0, resp.Samples[1].ThroughputTotalMbps)

	assert.Equal(t, testNow, st.queryEnd)
	assert.Equal(t, testNow.Add(-6*time.Hour), st.queryStart)
	assert.Equal(t, types.ResolutionAuto, st.queryRes)
}

func TestThroughputHistoryExplicitResolution(t *testing.T) {
	st := &fakeStore{}
	srv := newTestServer(t, st, &fakeRegistry{}, nil, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodGet,
		"/api/throughput/history?device_id=fw1&range=7d&resolution=daily", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.ResolutionDaily, st.queryRes)
}

func TestThroughputHistoryRejectsUnknownRange(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRegistry{}, nil, Config{})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/throughput/history?device_id=fw1&range=2h", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `unknown range \"2h\"`)
}

func TestThroughputHistoryRejectsUnknownResolution(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRegistry{}, nil, Config{})
	rec := doRequest(t, srv.Handler(), http.MethodGet,
		"/api/throughput/history?device_id=fw1&resolution=weekly", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// An empty range is a success with an empty array, never null and never an
// error.
func TestThroughputHistoryEmptyRange(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRegistry{}, nil, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/throughput/history?device_id=fw1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"samples":[]`)

	var resp historyResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "no samples in the requested range", resp.Message)
}

func TestThreatLogs(t *testing.T) {
	st := &fakeStore{threats: []types.ThreatLog{
		{Time: types.NewISOTime(testNow.Add(-time.Hour)), DeviceID: "fw1", Severity: "critical", ThreatName: "Trojan.Gen"},
	}}
	srv := newTestServer(t, st, &fakeRegistry{}, nil, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/logs/threats?device_id=fw1&limit=5000", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp threatLogsResponse
	decodeInto(t, rec, &resp)
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, "Trojan.Gen", resp.Logs[0].ThreatName)

	// Limit is capped, not rejected.
	assert.Equal(t, maxLogLimit, st.logLimit)
}

func TestSystemLogsEmpty(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRegistry{}, nil, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/logs/system?device_id=fw1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"logs":[]`)
	assert.Contains(t, rec.Body.String(), "no system logs in the requested range")
}

func TestLogsRejectBadLimit(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRegistry{}, nil, Config{})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/logs/system?device_id=fw1&limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"iot"}, splitList("iot"))
	assert.Equal(t, []string{"iot", "camera"}, splitList(" iot, camera ,"))
}
