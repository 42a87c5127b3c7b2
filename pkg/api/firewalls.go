package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/panfm/panfm/pkg/firewall"
	"github.com/panfm/panfm/pkg/types"
)

const statusProbeTimeout = 10 * time.Second

type firewallsResponse struct {
	Status    string         `json:"status"`
	Firewalls []types.Device `json:"firewalls"`
	Total     int            `json:"total"`
	Enabled   int            `json:"enabled"`
}

func (s *Server) handleListFirewalls(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.List()
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	total, enabled, err := s.registry.Count()
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	out := make([]types.Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Redacted())
	}
	respond(w, http.StatusOK, firewallsResponse{
		Status: "success", Firewalls: out, Total: total, Enabled: enabled,
	})
}

// firewallPayload is the write shape for firewall records. Pointer fields
// distinguish "absent" from "false" so updates can leave flags untouched.
type firewallPayload struct {
	Name                string   `json:"name"`
	Host                string   `json:"host"`
	APIKey              string   `json:"api_key"`
	Enabled             *bool    `json:"enabled"`
	MonitoredInterfaces []string `json:"monitored_interfaces"`
	Group               string   `json:"group"`
	VerifyTLS           *bool    `json:"verify_tls"`
}

type firewallResponse struct {
	Status   string       `json:"status"`
	Firewall types.Device `json:"firewall"`
}

func (s *Server) handleCreateFirewall(w http.ResponseWriter, r *http.Request) {
	var p firewallPayload
	if err := decodeJSON(w, r, &p); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Name == "" || p.Host == "" || p.APIKey == "" {
		respondError(w, http.StatusBadRequest, "name, host and api_key are required")
		return
	}

	dev := &types.Device{
		Name:                p.Name,
		Host:                p.Host,
		APIKey:              p.APIKey,
		Enabled:             p.Enabled == nil || *p.Enabled,
		MonitoredInterfaces: p.MonitoredInterfaces,
		Group:               p.Group,
		VerifyTLS:           p.VerifyTLS != nil && *p.VerifyTLS,
	}
	if err := s.registry.Create(dev); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.logger.Info().Str("device_id", dev.ID).Str("device", dev.Name).Msg("Firewall registered")
	respond(w, http.StatusCreated, firewallResponse{Status: "success", Firewall: dev.Redacted()})
}

func (s *Server) handleUpdateFirewall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p firewallPayload
	if err := decodeJSON(w, r, &p); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	dev, err := s.registry.Get(id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if p.Name != "" {
		dev.Name = p.Name
	}
	if p.Host != "" {
		dev.Host = p.Host
	}
	// An omitted api_key keeps the stored one so edits never require
	// re-entering the credential.
	if p.APIKey != "" {
		dev.APIKey = p.APIKey
	}
	if p.MonitoredInterfaces != nil {
		dev.MonitoredInterfaces = p.MonitoredInterfaces
	}
	if p.Group != "" {
		dev.Group = p.Group
	}
	if p.Enabled != nil {
		dev.Enabled = *p.Enabled
	}
	if p.VerifyTLS != nil {
		dev.VerifyTLS = *p.VerifyTLS
	}

	if err := s.registry.Update(dev); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.statusCache.drop(id)
	respond(w, http.StatusOK, firewallResponse{Status: "success", Firewall: dev.Redacted()})
}

func (s *Server) handleDeleteFirewall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Delete(id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.statusCache.drop(id)
	s.logger.Info().Str("device_id", id).Msg("Firewall removed")
	respond(w, http.StatusOK, map[string]string{"status": "success"})
}

// firewallStatus is a live reachability probe result.
type firewallStatus struct {
	DeviceID      string        `json:"device_id"`
	Name          string        `json:"name"`
	Reachable     bool          `json:"reachable"`
	Hostname      string        `json:"hostname,omitempty"`
	Model         string        `json:"model,omitempty"`
	SWVersion     string        `json:"sw_version,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds,omitempty"`
	Error         string        `json:"error,omitempty"`
	CheckedAt     types.ISOTime `json:"checked_at"`
}

type firewallStatusResponse struct {
	Status   string         `json:"status"`
	Firewall firewallStatus `json:"firewall_status"`
}

// handleFirewallStatus probes the appliance's management plane directly.
// Results are cached for 30 seconds so a device-list render does not turn
// into an appliance load test.
func (s *Server) handleFirewallStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if v, ok := s.statusCache.get(id); ok {
		respond(w, http.StatusOK, firewallStatusResponse{Status: "success", Firewall: v.(firewallStatus)})
		return
	}

	dev, err := s.registry.Get(id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	st := firewallStatus{
		DeviceID:  dev.ID,
		Name:      dev.Name,
		CheckedAt: types.NewISOTime(s.now()),
	}
	ctx, cancel := context.WithTimeout(r.Context(), statusProbeTimeout)
	defer cancel()

	client := s.newClient(firewall.Config{
		Host:      dev.Host,
		APIKey:    dev.APIKey,
		VerifyTLS: dev.VerifyTLS || !s.runtime.Current().InsecureTLS,
	})
	info, err := client.SystemInfo(ctx)
	if err != nil {
		st.Error = err.Error()
	} else {
		st.Reachable = true
		st.Hostname = info.Hostname
		st.Model = info.Model
		st.SWVersion = info.SWVersion
		st.UptimeSeconds = info.UptimeSeconds
	}

	s.statusCache.put(id, st)
	respond(w, http.StatusOK, firewallStatusResponse{Status: "success", Firewall: st})
}

type collectResponse struct {
	Status  string                  `json:"status"`
	Request types.CollectionRequest `json:"request"`
	Message string                  `json:"message,omitempty"`
}

// handleEnqueueCollection queues an immediate poll for one device. The
// scheduler's queue worker picks it up within its five-second cadence;
// a request already pending for the device is returned instead of a
// duplicate.
func (s *Server) handleEnqueueCollection(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	dev, err := s.registry.Get(deviceID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if !dev.Enabled {
		respondError(w, http.StatusConflict, "device is disabled")
		return
	}

	req, created, err := s.store.EnqueueCollection(r.Context(), deviceID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := collectResponse{Status: "success", Request: req}
	if !created {
		resp.Message = "a collection is already pending for this device"
	}
	respond(w, http.StatusAccepted, resp)
}

func (s *Server) handleCollectionStatus(w http.ResponseWriter, r *http.Request) {
	req, err := s.store.CollectionRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, collectResponse{Status: "success", Request: req})
}

func (s *Server) handleClearDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.ClearDeviceData(r.Context(), id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.logger.Info().Str("device_id", id).Msg("Device data cleared")
	respond(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("all measurement data for device %s deleted", id),
	})
}

func (s *Server) handleClearDatabase(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearAllData(r.Context()); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.logger.Warn().Msg("All measurement data cleared")
	respond(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "all measurement data deleted; configuration retained",
	})
}
