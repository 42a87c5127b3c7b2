package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/panfm/panfm/pkg/refdata"
	"github.com/panfm/panfm/pkg/store"
	"github.com/panfm/panfm/pkg/types"
)

const (
	maxTopN      = 50
	maxFlowLimit = 50
)

func (s *Server) topN(r *http.Request) (int, error) {
	return parseLimit(r, s.runtime.Current().TopN, maxTopN)
}

type categoriesResponse struct {
	Status     string                    `json:"status"`
	Categories []types.CategoryBandwidth `json:"categories"`
	Message    string                    `json:"message,omitempty"`
}

func (s *Server) handleTopCategories(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	tt, err := parseTrafficType(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, window, err := parseRange(r, "1h")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.topN(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.store.TopCategories(r.Context(), deviceID, tt, s.now().Add(-window), n)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := categoriesResponse{Status: "success", Categories: rows}
	if len(rows) == 0 {
		resp.Categories = []types.CategoryBandwidth{}
		resp.Message = "no traffic recorded in the requested range"
	}
	respond(w, http.StatusOK, resp)
}

type clientsResponse struct {
	Status  string                  `json:"status"`
	Clients []types.ClientBandwidth `json:"clients"`
	Message string                  `json:"message,omitempty"`
}

func (s *Server) handleTopClients(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	tt, err := parseTrafficType(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, window, err := parseRange(r, "1h")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.topN(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.store.ClientBandwidthSince(r.Context(), deviceID, tt, s.now().Add(-window), n)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := clientsResponse{Status: "success", Clients: rows}
	if len(rows) == 0 {
		resp.Clients = []types.ClientBandwidth{}
		resp.Message = "no traffic recorded in the requested range"
	}
	respond(w, http.StatusOK, resp)
}

type applicationsResponse struct {
	Status       string                 `json:"status"`
	Applications []types.TopApplication `json:"applications"`
	Message      string                 `json:"message,omitempty"`
}

func (s *Server) handleTopApplications(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	_, window, err := parseRange(r, "1h")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.topN(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.store.TopApplications(r.Context(), deviceID, s.now().Add(-window), n)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := applicationsResponse{Status: "success", Applications: rows}
	if len(rows) == 0 {
		resp.Applications = []types.TopApplication{}
		resp.Message = "no application data in the requested range"
	}
	respond(w, http.StatusOK, resp)
}

type connectedResponse struct {
	Status  string                  `json:"status"`
	Devices []types.ConnectedDevice `json:"devices"`
	Message string                  `json:"message,omitempty"`
}

func (s *Server) handleConnectedDevices(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	match := types.TagMatchAny
	if raw := r.URL.Query().Get("tag_match"); raw != "" {
		match = types.TagMatch(raw)
		if match != types.TagMatchAny && match != types.TagMatchAll {
			respondError(w, http.StatusBadRequest, "tag_match must be any or all")
			return
		}
	}
	filter := store.ConnectedDeviceFilter{
		Search: r.URL.Query().Get("search"),
		Tags:   splitList(r.URL.Query().Get("tags")),
		Match:  match,
	}

	rows, err := s.store.ConnectedDevices(r.Context(), deviceID, filter)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := connectedResponse{Status: "success", Devices: rows}
	if len(rows) == 0 {
		resp.Devices = []types.ConnectedDevice{}
		resp.Message = "no connected devices recorded"
	}
	respond(w, http.StatusOK, resp)
}

// clientFlow decorates a stored flow with the well-known service name for
// its destination port.
type clientFlow struct {
	types.TrafficFlow
	Service string `json:"service,omitempty"`
}

type clientFlowsResponse struct {
	Status  string       `json:"status"`
	Flows   []clientFlow `json:"flows"`
	Message string       `json:"message,omitempty"`
}

// handleClientFlows serves the per-client drill-down. Results are cached for
// one collection interval: the UI polls this endpoint aggressively while the
// drill-down panel is open.
func (s *Server) handleClientFlows(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := requireDeviceID(w, r)
	if !ok {
		return
	}
	ip := chi.URLParam(r, "ip")
	name, window, err := parseRange(r, "1h")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r, maxFlowLimit, maxFlowLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := strings.Join([]string{deviceID, ip, name, strconv.Itoa(limit)}, "|")
	if v, ok := s.flowsCache.get(key); ok {
		respond(w, http.StatusOK, v.(clientFlowsResponse))
		return
	}

	rows, err := s.store.TrafficFlowsForClient(r.Context(), deviceID, ip, s.now().Add(-window), limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	flows := make([]clientFlow, 0, len(rows))
	for _, f := range rows {
		flows = append(flows, clientFlow{TrafficFlow: f, Service: refdata.ServiceName(f.DestPort)})
	}
	resp := clientFlowsResponse{Status: "success", Flows: flows}
	if len(flows) == 0 {
		resp.Message = "no flows recorded for this client in the requested range"
	}
	s.flowsCache.put(key, resp)
	respond(w, http.StatusOK, resp)
}
