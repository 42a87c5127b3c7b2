package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/panfm/panfm/pkg/types"
)

type channelsResponse struct {
	Status   string                      `json:"status"`
	Channels []types.NotificationChannel `json:"channels"`
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.NotificationChannels(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if channels == nil {
		channels = []types.NotificationChannel{}
	}
	respond(w, http.StatusOK, channelsResponse{Status: "success", Channels: channels})
}

func validChannel(ch types.NotificationChannel) error {
	switch ch.Kind {
	case types.ChannelEmail, types.ChannelWebhook, types.ChannelSlack:
	default:
		return fmt.Errorf("unknown channel kind %q", ch.Kind)
	}
	if ch.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(ch.Config) > 0 && !json.Valid(ch.Config) {
		return fmt.Errorf("config must be a JSON object")
	}
	return nil
}

type channelResponse struct {
	Status  string                    `json:"status"`
	Channel types.NotificationChannel `json:"channel"`
}

// reloadDispatcher folds fresh channel rows into the dispatcher after a
// write. A reload failure does not undo the write; the next reload or
// process restart picks the rows up.
func (s *Server) reloadDispatcher(r *http.Request) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Reload(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Dispatcher reload failed")
	}
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var ch types.NotificationChannel
	if err := decodeJSON(w, r, &ch); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validChannel(ch); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ch.ID = ""
	created, err := s.store.CreateNotificationChannel(r.Context(), ch)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.reloadDispatcher(r)
	respond(w, http.StatusCreated, channelResponse{Status: "success", Channel: created})
}

func (s *Server) handleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	var ch types.NotificationChannel
	if err := decodeJSON(w, r, &ch); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ch.ID = chi.URLParam(r, "id")
	if err := validChannel(ch); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.store.UpdateNotificationChannel(r.Context(), ch)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.reloadDispatcher(r)
	respond(w, http.StatusOK, channelResponse{Status: "success", Channel: updated})
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteNotificationChannel(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.reloadDispatcher(r)
	respond(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleTestChannel(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		respondError(w, http.StatusServiceUnavailable, "notification dispatcher is not configured")
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.notifier.TestChannel(r.Context(), name); err != nil {
		respondError(w, http.StatusBadGateway, fmt.Sprintf("test send failed: %v", err))
		return
	}
	respond(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "test notification sent to " + name,
	})
}

func (s *Server) handleReloadChannels(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		respondError(w, http.StatusServiceUnavailable, "notification dispatcher is not configured")
		return
	}
	if err := s.notifier.Reload(r.Context()); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "success"})
}
