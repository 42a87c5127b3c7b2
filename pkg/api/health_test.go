package api

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panfm/panfm/pkg/types"
)

func TestHealthReady(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRegistry{}, nil, Config{Version: "1.2.3"})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.Ready)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "ok", resp.Checks["database"])
	assert.Zero(t, resp.RetryAfter)
	assert.Equal(t, testNow, resp.Timestamp.Time())
}

func TestHealthWhileDatabaseInitializing(t *testing.T) {
	st := &fakeStore{pingErr: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")}
	srv := newTestServer(t, st, &fakeRegistry{}, nil, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	var resp HealthResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "initializing", resp.Status)
	assert.False(t, resp.Ready)
	assert.Equal(t, "unreachable", resp.Checks["database"])
	assert.Equal(t, 5, resp.RetryAfter)
	assert.Contains(t, resp.ErrorDetails, "connection refused")
}

func TestServicesStatusRunning(t *testing.T) {
	st := &fakeStore{stats: &types.SchedulerStats{
		Time:                   types.NewISOTime(testNow.Add(-time.Minute)),
		CollectionsCompleted:   42,
		DevicesPolled:          3,
		PollErrors:             1,
		RefreshIntervalSeconds: 60,
	}}
	srv := newTestServer(t, st, &fakeRegistry{}, nil, Config{Version: "1.2.3"})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/services/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp servicesResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "running", resp.Services["api"].Status)
	assert.Equal(t, "ok", resp.Services["database"].Status)

	sched := resp.Services["scheduler"]
	assert.Equal(t, "running", sched.Status)
	assert.EqualValues(t, 42, sched.CollectionsCompleted)
	assert.EqualValues(t, 3, sched.DevicesPolled)
	assert.EqualValues(t, 1, sched.PollErrors)
	assert.Equal(t, 60, sched.RefreshIntervalSeconds)
}

func TestServicesStatusStaleScheduler(t *testing.T) {
	st := &fakeStore{stats: &types.SchedulerStats{
		Time: types.NewISOTime(testNow.Add(-10 * time.Minute)),
	}}
	srv := newTestServer(t, st, &fakeRegistry{}, nil, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/services/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp servicesResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "stale", resp.Services["scheduler"].Status)
	assert.Contains(t, resp.Services["scheduler"].Detail, "heartbeat older than")
}

func TestServicesStatusNoHeartbeat(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeRegistry{}, nil, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/services/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp servicesResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "unknown", resp.Services["scheduler"].Status)
	assert.Equal(t, "no heartbeat recorded", resp.Services["scheduler"].Detail)
}

func TestServicesStatusDatabaseDown(t *testing.T) {
	st := &fakeStore{pingErr: errors.New("pool closed")}
	srv := newTestServer(t, st, &fakeRegistry{}, nil, Config{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/services/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp servicesResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "error", resp.Services["database"].Status)
}
