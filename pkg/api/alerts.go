package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/panfm/panfm/pkg/store"
	"github.com/panfm/panfm/pkg/types"
)

type alertConfigsResponse struct {
	Status  string              `json:"status"`
	Configs []types.AlertConfig `json:"configs"`
}

func (s *Server) handleListAlertConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.AlertConfigs(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if configs == nil {
		configs = []types.AlertConfig{}
	}
	respond(w, http.StatusOK, alertConfigsResponse{Status: "success", Configs: configs})
}

type alertConfigResponse struct {
	Status string            `json:"status"`
	Config types.AlertConfig `json:"config"`
}

func validAlertConfig(cfg types.AlertConfig) error {
	if cfg.MetricType == "" {
		return fmt.Errorf("metric_type is required")
	}
	if !cfg.Operator.Valid() {
		return fmt.Errorf("invalid operator %q", cfg.Operator)
	}
	if !cfg.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", cfg.Severity)
	}
	return nil
}

func (s *Server) handleCreateAlertConfig(w http.ResponseWriter, r *http.Request) {
	var cfg types.AlertConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validAlertConfig(cfg); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg.ID = ""
	created, err := s.store.CreateAlertConfig(r.Context(), cfg)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusCreated, alertConfigResponse{Status: "success", Config: created})
}

func (s *Server) handleUpdateAlertConfig(w http.ResponseWriter, r *http.Request) {
	var cfg types.AlertConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg.ID = chi.URLParam(r, "id")
	if err := validAlertConfig(cfg); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.store.UpdateAlertConfig(r.Context(), cfg)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, alertConfigResponse{Status: "success", Config: updated})
}

func (s *Server) handleDeleteAlertConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAlertConfig(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "success"})
}

type alertHistoryResponse struct {
	Status  string                    `json:"status"`
	Alerts  []types.AlertHistoryEntry `json:"alerts"`
	Message string                    `json:"message,omitempty"`
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AlertHistoryFilter{DeviceID: q.Get("device_id")}

	if raw := q.Get("severity"); raw != "" {
		sev := types.AlertSeverity(raw)
		if !sev.Valid() {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid severity %q", raw))
			return
		}
		filter.Severity = sev
	}
	if raw := q.Get("acknowledged"); raw != "" {
		acked, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "acknowledged must be true or false")
			return
		}
		filter.Acknowledged = &acked
	}
	if raw := q.Get("range"); raw != "" {
		_, window, err := parseRange(r, "24h")
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Since = s.now().Add(-window)
	}
	limit, err := parseLimit(r, defaultLogLimit, maxLogLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = limit

	alerts, err := s.store.AlertHistory(r.Context(), filter)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := alertHistoryResponse{Status: "success", Alerts: alerts}
	if len(alerts) == 0 {
		resp.Alerts = []types.AlertHistoryEntry{}
		resp.Message = "no alerts match the filter"
	}
	respond(w, http.StatusOK, resp)
}

func alertHistoryID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid alert id %q", raw)
	}
	return id, nil
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, err := alertHistoryID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body struct {
		AcknowledgedBy string `json:"acknowledged_by"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if body.AcknowledgedBy == "" {
		body.AcknowledgedBy = "api"
	}
	if err := s.store.AcknowledgeAlert(r.Context(), id, body.AcknowledgedBy); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := alertHistoryID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.ResolveAlert(r.Context(), id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "success"})
}

type maintenanceResponse struct {
	Status  string                    `json:"status"`
	Windows []types.MaintenanceWindow `json:"windows"`
}

func (s *Server) handleListMaintenance(w http.ResponseWriter, r *http.Request) {
	windows, err := s.store.MaintenanceWindows(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if windows == nil {
		windows = []types.MaintenanceWindow{}
	}
	respond(w, http.StatusOK, maintenanceResponse{Status: "success", Windows: windows})
}

func validMaintenanceWindow(win types.MaintenanceWindow) error {
	if win.StartsAt.IsZero() || win.EndsAt.IsZero() {
		return fmt.Errorf("starts_at and ends_at are required")
	}
	if !win.EndsAt.After(win.StartsAt) {
		return fmt.Errorf("ends_at must be after starts_at")
	}
	return nil
}

type maintenanceWindowResponse struct {
	Status string                  `json:"status"`
	Window types.MaintenanceWindow `json:"window"`
}

func (s *Server) handleCreateMaintenance(w http.ResponseWriter, r *http.Request) {
	var win types.MaintenanceWindow
	if err := decodeJSON(w, r, &win); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validMaintenanceWindow(win); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	win.ID = ""
	win.StartsAt = win.StartsAt.UTC().Truncate(time.Second)
	win.EndsAt = win.EndsAt.UTC().Truncate(time.Second)
	created, err := s.store.CreateMaintenanceWindow(r.Context(), win)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusCreated, maintenanceWindowResponse{Status: "success", Window: created})
}

func (s *Server) handleUpdateMaintenance(w http.ResponseWriter, r *http.Request) {
	var win types.MaintenanceWindow
	if err := decodeJSON(w, r, &win); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	win.ID = chi.URLParam(r, "id")
	if err := validMaintenanceWindow(win); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.store.UpdateMaintenanceWindow(r.Context(), win)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, maintenanceWindowResponse{Status: "success", Window: updated})
}

func (s *Server) handleDeleteMaintenance(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteMaintenanceWindow(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "success"})
}
