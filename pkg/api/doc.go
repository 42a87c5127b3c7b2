/*
Package api implements the REST API server for the monitoring dashboard.

The api package is the read surface for everything the collector writes and
the write surface for fleet configuration: registered firewalls, alert rules,
maintenance windows, notification channels, client annotations and runtime
settings. It serves JSON over HTTP using chi for routing.

# Architecture

The server sits between the browser dashboard and the data layer:

	┌──────────────────── DASHBOARD (browser) ───────────────────┐
	│                                                             │
	│   GET /api/throughput/history     PUT /api/settings         │
	│   GET /api/devices/connected      POST /api/firewalls       │
	└─────────────────────┬───────────────────────────────────────┘
	                      │ HTTP + JSON (port 8080)
	                      │
	┌─────────────────────▼──── MONITOR PROCESS ──────────────────┐
	│                                                             │
	│  ┌───────────────────────────────────────────────┐          │
	│  │          HTTP API Server (pkg/api)            │          │
	│  │  - chi router, CORS, per-group throttles      │          │
	│  │  - bearer token on mutating endpoints         │          │
	│  │  - request validation                         │          │
	│  │  - metrics instrumentation                    │          │
	│  └───────┬──────────────┬──────────────┬─────────┘          │
	│          │              │              │                    │
	│     pkg/store      pkg/registry   pkg/firewall              │
	│    (TimescaleDB)     (bbolt)     (live probes)              │
	└─────────────────────────────────────────────────────────────┘

Read endpoints and mutating endpoints live in separate router groups. Reads
allow 100 in-flight requests; mutations allow 10 and require the bearer token
when one is configured.

# Endpoints

Organized by functional area:

Throughput:
  - GET /api/throughput/current: latest sample for a device
  - GET /api/throughput/history: samples over a range, resolution selectable

Analytics:
  - GET /api/categories/top: top URL categories by bandwidth
  - GET /api/clients/top: top client IPs by bandwidth
  - GET /api/applications/top: top applications by session count
  - GET /api/devices/connected: ARP/DHCP client inventory with search and tags
  - GET /api/devices/connected/{ip}/flows: recent per-client traffic flows

Logs:
  - GET /api/logs/threats: threat log entries over a range
  - GET /api/logs/system: system log entries over a range

Alerting:
  - GET/POST /api/alerts/configs, PUT/DELETE /api/alerts/configs/{id}
  - GET /api/alerts/history: fired alerts with severity and ack filters
  - POST /api/alerts/history/{id}/acknowledge, .../resolve
  - GET/POST /api/alerts/maintenance, PUT/DELETE /api/alerts/maintenance/{id}

Notifications:
  - GET/POST /api/notifications/channels, PUT/DELETE .../channels/{id}
  - POST /api/notifications/channels/{name}/test: send a test event
  - POST /api/notifications/reload: re-read channels from the store

Fleet:
  - GET/POST /api/firewalls, PUT/DELETE /api/firewalls/{id}
  - GET /api/firewalls/{id}/status: live reachability probe, cached 30s
  - PUT/DELETE /api/devices/{deviceID}/metadata/{mac}: client annotations
  - GET /api/devices/{deviceID}/metadata

Collection:
  - POST /api/collect/{deviceID}: queue an immediate poll, returns 202
  - GET /api/collect/requests/{id}: poll request lifecycle state

Operations:
  - GET /health: readiness, 503 with Retry-After while the DB initializes
  - GET /metrics: Prometheus exposition
  - GET /api/services/status: api, database and scheduler health
  - GET/PUT /api/settings: runtime settings (refresh interval, retention, topN)
  - POST /api/admin/clear-device/{id}, /api/admin/clear-database

# Usage

Creating and starting the server:

	srv := api.New(st, reg, rt, dispatcher, api.Config{
		Port:    cfg.Port,
		Version: version,
		Token:   cfg.APIToken,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal(err)
		}
	}()

	// On shutdown, drain in-flight requests.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Stop(ctx)

# Response conventions

Every body carries a status field:

	{"status": "success", "samples": [...]}
	{"status": "error", "error": "device_id is required"}

A range with no data is a success with an empty array and a human-readable
message, never a null and never an error. Date-range and pagination
parameters are validated up front; an unknown range or severity is a 400
naming the accepted values.

Error mapping:
  - unknown resource: 404 (store and registry not-found sentinels)
  - device limit reached: 409
  - invalid payload: 400 with the first validation failure
  - handler deadline exceeded: 504
  - anything else: logged server-side, opaque 500

# Authentication

Mutating endpoints check a static bearer token:

	Authorization: Bearer <token>

The token comes from process configuration. When unset, the mutating group
is open; installs on a trusted home network commonly run without one. Reads
are always open.

# Caching

Two TTL caches keep browser polling off the appliances and the flow tables:

  - firewall status probes: 30s per device, invalidated on update and delete
  - per-client flow queries: 60s per (device, ip, range, limit)

Everything else is served straight from the store on every request.

# Metrics

All requests are instrumented by route pattern:

	panfm_api_requests_total{route="/api/throughput/history",status="200"} 1042
	panfm_api_request_duration_seconds{route="/api/throughput/history"} ...

The route label uses the chi pattern, so /api/firewalls/{id} is one series
regardless of how many devices exist. Unmatched paths are grouped under
"unmatched".

# Integration points

This package integrates with:

  - pkg/store: all measurement reads and configuration writes
  - pkg/registry: firewall inventory
  - pkg/firewall: live status probes
  - pkg/notify: channel test sends and dispatcher reload
  - pkg/config: runtime settings reads and writes
  - pkg/metrics: request instrumentation
  - pkg/refdata: service names for well-known ports

# See Also

  - pkg/collector for the jobs that produce the data served here
  - pkg/store for query semantics and retention
  - cmd/panfm for process wiring
*/
package api
