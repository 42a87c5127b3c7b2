package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/panfm/panfm/pkg/types"
)

// rangeWindows is the closed set of history spans the UI may request.
var rangeWindows = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"60m": time.Hour,
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

func parseRange(r *http.Request, def string) (string, time.Duration, error) {
	raw := r.URL.Query().Get("range")
	if raw == "" {
		raw = def
	}
	window, ok := rangeWindows[raw]
	if !ok {
		return "", 0, fmt.Errorf("unknown range %q", raw)
	}
	return raw, window, nil
}

func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if n > max {
		n = max
	}
	return n, nil
}

func parseTrafficType(r *http.Request) (types.TrafficType, error) {
	raw := r.URL.Query().Get("type")
	if raw == "" {
		return types.TrafficTotal, nil
	}
	tt := types.TrafficType(raw)
	if !tt.Valid() {
		return "", fmt.Errorf("unknown traffic type %q", raw)
	}
	return tt, nil
}

func requireDeviceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("device_id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "device_id is required")
		return "", false
	}
	return id, true
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type currentResponse struct {
	Status  string        `json:"status"`
	Sample  *types.Sample `json:"sample"`
	Message string        `json:"message,omitempty"`
}

func (s *Server) handleThroughputCurrent(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	sample, err := s.store.LatestSample(r.Context(), deviceID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := currentResponse{Status: "success", Sample: sample}
	if sample == nil {
		resp.Message = "no samples recorded for this device yet"
	}
	respond(w, http.StatusOK, resp)
}

type historyResponse struct {
	Status  string         `json:"status"`
	Range   string         `json:"range"`
	Samples []types.Sample `json:"samples"`
	Message string         `json:"message,omitempty"`
}

func (s *Server) handleThroughputHistory(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	name, window, err := parseRange(r, "1h")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := types.ResolutionAuto
	if raw := r.URL.Query().Get("resolution"); raw != "" {
		res = types.Resolution(raw)
		if !res.Valid() {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown resolution %q", raw))
			return
		}
	}

	end := s.now()
	samples, err := s.store.QuerySamples(r.Context(), deviceID, end.Add(-window), end, res)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	resp := historyResponse{Status: "success", Range: name, Samples: samples}
	if len(samples) == 0 {
		resp.Samples = []types.Sample{}
		resp.Message = "no samples in the requested range"
	}
	respond(w, http.StatusOK, resp)
}
