package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/panfm/panfm/pkg/types"
)

type metadataListResponse struct {
	Status   string                 `json:"status"`
	Metadata []types.DeviceMetadata `json:"metadata"`
	Message  string                 `json:"message,omitempty"`
}

func (s *Server) handleListMetadata(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.DeviceMetadataForDevice(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := metadataListResponse{Status: "success", Metadata: rows}
	if len(rows) == 0 {
		resp.Metadata = []types.DeviceMetadata{}
		resp.Message = "no client annotations recorded for this device"
	}
	respond(w, http.StatusOK, resp)
}

type metadataPayload struct {
	CustomName *string  `json:"custom_name"`
	Location   *string  `json:"location"`
	Comment    *string  `json:"comment"`
	Tags       []string `json:"tags"`
}

type metadataResponse struct {
	Status   string               `json:"status"`
	Metadata types.DeviceMetadata `json:"metadata"`
}

func (s *Server) handlePutMetadata(w http.ResponseWriter, r *http.Request) {
	var p metadataPayload
	if err := decodeJSON(w, r, &p); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.store.UpsertDeviceMetadata(r.Context(), types.DeviceMetadata{
		DeviceID:   chi.URLParam(r, "deviceID"),
		MAC:        chi.URLParam(r, "mac"),
		CustomName: p.CustomName,
		Location:   p.Location,
		Comment:    p.Comment,
		Tags:       p.Tags,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, metadataResponse{Status: "success", Metadata: m})
}

func (s *Server) handleDeleteMetadata(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	mac := chi.URLParam(r, "mac")
	if err := s.store.DeleteDeviceMetadata(r.Context(), deviceID, mac); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "success"})
}
