package api

import (
	"net/http"

	"github.com/panfm/panfm/pkg/config"
)

type settingsResponse struct {
	Status   string          `json:"status"`
	Settings config.Settings `json:"settings"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, settingsResponse{Status: "success", Settings: s.runtime.Current()})
}

// handlePutSettings validates and persists new runtime settings. The write
// takes effect in this process immediately; the scheduler picks it up on the
// next heartbeat and re-paces the polling jobs.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var in config.Settings
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := in.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.runtime.Save(in); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.logger.Info().
		Int("refresh_interval_seconds", in.RefreshIntervalSeconds).
		Int("retention_days", in.RetentionDays).
		Int("top_n", in.TopN).
		Msg("Settings updated")
	respond(w, http.StatusOK, settingsResponse{Status: "success", Settings: in})
}
