package api

import (
	"context"
	"net/http"
	"time"

	"github.com/panfm/panfm/pkg/types"
)

const (
	healthPingTimeout = 2 * time.Second
	healthRetryAfter  = 5

	// The heartbeat job writes once a minute; three missed rows means the
	// scheduler process is down or wedged.
	heartbeatStale = 3 * time.Minute
)

// HealthResponse is the readiness payload for GET /health.
type HealthResponse struct {
	Status       string            `json:"status"`
	Ready        bool              `json:"ready"`
	Timestamp    types.ISOTime     `json:"timestamp"`
	Version      string            `json:"version,omitempty"`
	Checks       map[string]string `json:"checks"`
	RetryAfter   int               `json:"retry_after,omitempty"`
	ErrorDetails string            `json:"error_details,omitempty"`
}

// handleHealth reports readiness: the process is ready as soon as the
// database answers a ping, even before the first sample lands. While the
// database is still initializing the response is a 503 that tells the UI
// when to retry instead of looping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Ready:     true,
		Timestamp: types.NewISOTime(s.now()),
		Version:   s.version,
		Checks:    map[string]string{"database": "ok"},
	}
	if err := s.store.Ping(ctx); err != nil {
		resp.Status = "initializing"
		resp.Ready = false
		resp.Checks["database"] = "unreachable"
		resp.RetryAfter = healthRetryAfter
		resp.ErrorDetails = err.Error()
		w.Header().Set("Retry-After", "5")
		respond(w, http.StatusServiceUnavailable, resp)
		return
	}
	respond(w, http.StatusOK, resp)
}

type serviceState struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`

	LastHeartbeat          *types.ISOTime `json:"last_heartbeat,omitempty"`
	RefreshIntervalSeconds int            `json:"refresh_interval_seconds,omitempty"`
	CollectionsCompleted   int64          `json:"collections_completed,omitempty"`
	DevicesPolled          int64          `json:"devices_polled,omitempty"`
	PollErrors             int64          `json:"poll_errors,omitempty"`
}

type servicesResponse struct {
	Status   string                  `json:"status"`
	Services map[string]serviceState `json:"services"`
}

// handleServicesStatus reports on the three moving parts the dashboard
// renders: this API, the database, and the scheduler process. Scheduler
// liveness is judged by the freshness of its heartbeat row.
func (s *Server) handleServicesStatus(w http.ResponseWriter, r *http.Request) {
	services := map[string]serviceState{
		"api": {Status: "running", Detail: s.version},
	}

	if err := s.store.Ping(r.Context()); err != nil {
		services["database"] = serviceState{Status: "error", Detail: err.Error()}
	} else {
		services["database"] = serviceState{Status: "ok"}
	}

	st, err := s.store.LatestSchedulerStats(r.Context())
	switch {
	case err != nil:
		services["scheduler"] = serviceState{Status: "unknown", Detail: err.Error()}
	case st == nil:
		services["scheduler"] = serviceState{Status: "unknown", Detail: "no heartbeat recorded"}
	default:
		state := serviceState{
			Status:                 "running",
			LastHeartbeat:          &st.Time,
			RefreshIntervalSeconds: st.RefreshIntervalSeconds,
			CollectionsCompleted:   st.CollectionsCompleted,
			DevicesPolled:          st.DevicesPolled,
			PollErrors:             st.PollErrors,
		}
		if s.now().Sub(st.Time.Time()) > heartbeatStale {
			state.Status = "stale"
			state.Detail = "heartbeat older than " + heartbeatStale.String()
		}
		services["scheduler"] = state
	}

	respond(w, http.StatusOK, servicesResponse{Status: "success", Services: services})
}
