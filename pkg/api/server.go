package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/panfm/panfm/pkg/config"
	"github.com/panfm/panfm/pkg/firewall"
	"github.com/panfm/panfm/pkg/log"
	"github.com/panfm/panfm/pkg/metrics"
	"github.com/panfm/panfm/pkg/store"
	"github.com/panfm/panfm/pkg/types"
)

const (
	readInflight   = 100
	mutateInflight = 10
	requestTimeout = 60 * time.Second

	statusCacheTTL = 30 * time.Second
	flowsCacheTTL  = 60 * time.Second
)

// Store is the slice of the data layer the API server reads and mutates.
type Store interface {
	Ping(ctx context.Context) error

	QuerySamples(ctx context.Context, deviceID string, start, end time.Time, res types.Resolution) ([]types.Sample, error)
	LatestSample(ctx context.Context, deviceID string) (*types.Sample, error)

	TopCategories(ctx context.Context, deviceID string, trafficType types.TrafficType, since time.Time, n int) ([]types.CategoryBandwidth, error)
	ClientBandwidthSince(ctx context.Context, deviceID string, trafficType types.TrafficType, since time.Time, limit int) ([]types.ClientBandwidth, error)
	TopApplications(ctx context.Context, deviceID string, since time.Time, n int) ([]types.TopApplication, error)
	ConnectedDevices(ctx context.Context, deviceID string, filter store.ConnectedDeviceFilter) ([]types.ConnectedDevice, error)
	TrafficFlowsForClient(ctx context.Context, deviceID, clientIP string, since time.Time, limit int) ([]types.TrafficFlow, error)

	ThreatLogs(ctx context.Context, deviceID string, start, end time.Time, limit int) ([]types.ThreatLog, error)
	SystemLogs(ctx context.Context, deviceID string, start, end time.Time, limit int) ([]types.SystemLog, error)

	AlertConfigs(ctx context.Context) ([]types.AlertConfig, error)
	CreateAlertConfig(ctx context.Context, cfg types.AlertConfig) (types.AlertConfig, error)
	UpdateAlertConfig(ctx context.Context, cfg types.AlertConfig) (types.AlertConfig, error)
	DeleteAlertConfig(ctx context.Context, id string) error
	AlertHistory(ctx context.Context, filter store.AlertHistoryFilter) ([]types.AlertHistoryEntry, error)
	AcknowledgeAlert(ctx context.Context, id int64, by string) error
	ResolveAlert(ctx context.Context, id int64) error

	MaintenanceWindows(ctx context.Context) ([]types.MaintenanceWindow, error)
	CreateMaintenanceWindow(ctx context.Context, w types.MaintenanceWindow) (types.MaintenanceWindow, error)
	UpdateMaintenanceWindow(ctx context.Context, w types.MaintenanceWindow) (types.MaintenanceWindow, error)
	DeleteMaintenanceWindow(ctx context.Context, id string) error

	NotificationChannels(ctx context.Context) ([]types.NotificationChannel, error)
	CreateNotificationChannel(ctx context.Context, ch types.NotificationChannel) (types.NotificationChannel, error)
	UpdateNotificationChannel(ctx context.Context, ch types.NotificationChannel) (types.NotificationChannel, error)
	DeleteNotificationChannel(ctx context.Context, id string) error

	DeviceMetadataForDevice(ctx context.Context, deviceID string) ([]types.DeviceMetadata, error)
	UpsertDeviceMetadata(ctx context.Context, m types.DeviceMetadata) (types.DeviceMetadata, error)
	DeleteDeviceMetadata(ctx context.Context, deviceID, mac string) error

	EnqueueCollection(ctx context.Context, deviceID string) (types.CollectionRequest, bool, error)
	CollectionRequest(ctx context.Context, id string) (types.CollectionRequest, error)
	LatestSchedulerStats(ctx context.Context) (*types.SchedulerStats, error)

	ClearDeviceData(ctx context.Context, deviceID string) error
	ClearAllData(ctx context.Context) error
}

// Registry is the device-inventory surface the API server exposes over HTTP.
type Registry interface {
	Create(device *types.Device) error
	Get(id string) (*types.Device, error)
	List() ([]*types.Device, error)
	Update(device *types.Device) error
	Delete(id string) error
	Count() (total, enabled int, err error)
}

// Notifier is the dispatcher surface used by the channel endpoints.
type Notifier interface {
	Reload(ctx context.Context) error
	TestChannel(ctx context.Context, name string) error
}

// Config carries the server's process-level knobs.
type Config struct {
	Port    int
	Version string

	// Token guards the mutating endpoints. Empty leaves them open, which
	// suits single-operator installs on a trusted network.
	Token string

	AllowedOrigins []string
}

// Server is the HTTP API for the dashboard UI. Handlers are stateless apart
// from two best-effort TTL caches; all durable state lives behind Store and
// Registry.
type Server struct {
	store    Store
	registry Registry
	runtime  *config.Runtime
	notifier Notifier
	logger   zerolog.Logger

	port    int
	token   string
	version string
	origins []string

	newClient func(firewall.Config) firewall.Client
	now       func() time.Time

	statusCache *ttlCache
	flowsCache  *ttlCache

	http *http.Server
}

// New assembles a Server. The notifier may be nil when the process runs
// without a dispatcher; the channel test and reload endpoints then report
// 503.
func New(st Store, reg Registry, rt *config.Runtime, n Notifier, cfg Config) *Server {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		store:       st,
		registry:    reg,
		runtime:     rt,
		notifier:    n,
		logger:      log.WithComponent("api"),
		port:        cfg.Port,
		token:       cfg.Token,
		version:     cfg.Version,
		origins:     origins,
		newClient:   func(c firewall.Config) firewall.Client { return firewall.NewPanOS(c) },
		now:         time.Now,
		statusCache: newTTLCache(statusCacheTTL),
		flowsCache:  newTTLCache(flowsCacheTTL),
	}
}

// Handler builds the routing tree. Read endpoints and mutating endpoints sit
// in separate groups so each carries its own inflight throttle, and only the
// mutating group requires the bearer token.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Throttle(readInflight))
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	})

	r.Route("/api", func(api chi.Router) {
		api.Group(func(r chi.Router) {
			r.Use(middleware.Throttle(readInflight))
			r.Get("/throughput/current", s.handleThroughputCurrent)
			r.Get("/throughput/history", s.handleThroughputHistory)
			r.Get("/categories/top", s.handleTopCategories)
			r.Get("/clients/top", s.handleTopClients)
			r.Get("/applications/top", s.handleTopApplications)
			r.Get("/devices/connected", s.handleConnectedDevices)
			r.Get("/devices/connected/{ip}/flows", s.handleClientFlows)
			r.Get("/devices/{deviceID}/metadata", s.handleListMetadata)
			r.Get("/logs/threats", s.handleThreatLogs)
			r.Get("/logs/system", s.handleSystemLogs)
			r.Get("/alerts/configs", s.handleListAlertConfigs)
			r.Get("/alerts/history", s.handleAlertHistory)
			r.Get("/alerts/maintenance", s.handleListMaintenance)
			r.Get("/notifications/channels", s.handleListChannels)
			r.Get("/services/status", s.handleServicesStatus)
			r.Get("/firewalls", s.handleListFirewalls)
			r.Get("/firewalls/{id}/status", s.handleFirewallStatus)
			r.Get("/collect/requests/{id}", s.handleCollectionStatus)
			r.Get("/settings", s.handleGetSettings)
		})

		api.Group(func(r chi.Router) {
			r.Use(middleware.Throttle(mutateInflight))
			r.Use(s.requireToken)
			r.Post("/firewalls", s.handleCreateFirewall)
			r.Put("/firewalls/{id}", s.handleUpdateFirewall)
			r.Delete("/firewalls/{id}", s.handleDeleteFirewall)
			r.Put("/settings", s.handlePutSettings)
			r.Post("/alerts/configs", s.handleCreateAlertConfig)
			r.Put("/alerts/configs/{id}", s.handleUpdateAlertConfig)
			r.Delete("/alerts/configs/{id}", s.handleDeleteAlertConfig)
			r.Post("/alerts/history/{id}/acknowledge", s.handleAcknowledgeAlert)
			r.Post("/alerts/history/{id}/resolve", s.handleResolveAlert)
			r.Post("/alerts/maintenance", s.handleCreateMaintenance)
			r.Put("/alerts/maintenance/{id}", s.handleUpdateMaintenance)
			r.Delete("/alerts/maintenance/{id}", s.handleDeleteMaintenance)
			r.Post("/notifications/channels", s.handleCreateChannel)
			r.Put("/notifications/channels/{id}", s.handleUpdateChannel)
			r.Delete("/notifications/channels/{id}", s.handleDeleteChannel)
			r.Post("/notifications/channels/{name}/test", s.handleTestChannel)
			r.Post("/notifications/reload", s.handleReloadChannels)
			r.Put("/devices/{deviceID}/metadata/{mac}", s.handlePutMetadata)
			r.Delete("/devices/{deviceID}/metadata/{mac}", s.handleDeleteMetadata)
			r.Post("/collect/{deviceID}", s.handleEnqueueCollection)
			r.Post("/admin/clear-device/{id}", s.handleClearDevice)
			r.Post("/admin/clear-database", s.handleClearDatabase)
		})
	})

	return r
}

// Start blocks serving HTTP until Stop is called or the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// The write timeout sits above the per-request timeout middleware so
		// slow handlers are cut off with a JSON 504, not a dropped connection.
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Str("version", s.version).Msg("API server listening")
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// instrument records request count and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// requireToken guards mutating endpoints with a static bearer token. An
// unset token leaves the group open.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(auth, prefix)), []byte(s.token)) != 1 {
			respondError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
