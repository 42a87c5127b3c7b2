package api

import (
	"net/http"

	"github.com/panfm/panfm/pkg/types"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

type threatLogsResponse struct {
	Status  string            `json:"status"`
	Logs    []types.ThreatLog `json:"logs"`
	Message string            `json:"message,omitempty"`
}

func (s *Server) handleThreatLogs(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	_, window, err := parseRange(r, "24h")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r, defaultLogLimit, maxLogLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	end := s.now()
	logs, err := s.store.ThreatLogs(r.Context(), deviceID, end.Add(-window), end, limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := threatLogsResponse{Status: "success", Logs: logs}
	if len(logs) == 0 {
		resp.Logs = []types.ThreatLog{}
		resp.Message = "no threat logs in the requested range"
	}
	respond(w, http.StatusOK, resp)
}

type systemLogsResponse struct {
	Status  string            `json:"status"`
	Logs    []types.SystemLog `json:"logs"`
	Message string            `json:"message,omitempty"`
}

func (s *Server) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	_, window, err := parseRange(r, "24h")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r, defaultLogLimit, maxLogLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	end := s.now()
	logs, err := s.store.SystemLogs(r.Context(), deviceID, end.Add(-window), end, limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := systemLogsResponse{Status: "success", Logs: logs}
	if len(logs) == 0 {
		resp.Logs = []types.SystemLog{}
		resp.Message = "no system logs in the requested range"
	}
	respond(w, http.StatusOK, resp)
}
