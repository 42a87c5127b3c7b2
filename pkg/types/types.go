package types

import (
	"encoding/json"
	"time"
)

// Device is a managed firewall appliance in the registry. API keys are
// encrypted at rest; APIKey carries plaintext only while a record is in
// memory on its way to or from the cipher.
type Device struct {
	ID                  string    `json:"device_id"`
	Name                string    `json:"name"`
	Host                string    `json:"host"`
	APIKey              string    `json:"api_key,omitempty"`
	Enabled             bool      `json:"enabled"`
	MonitoredInterfaces []string  `json:"monitored_interfaces,omitempty"`
	Group               string    `json:"group,omitempty"`
	VerifyTLS           bool      `json:"verify_tls"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Redacted returns a copy safe for API responses: the key is dropped.
func (d Device) Redacted() Device {
	out := d
	out.APIKey = ""
	return out
}

// AlertSeverity classifies alert configs and history rows.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Valid reports whether s is a known severity.
func (s AlertSeverity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// AlertOperator is the comparison applied between a metric and a threshold.
type AlertOperator string

const (
	OpGreater      AlertOperator = ">"
	OpGreaterEqual AlertOperator = ">="
	OpLess         AlertOperator = "<"
	OpLessEqual    AlertOperator = "<="
	OpEqual        AlertOperator = "="
)

// Valid reports whether op is a known operator.
func (op AlertOperator) Valid() bool {
	switch op {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual:
		return true
	}
	return false
}

// AlertConfig is a user-defined threshold rule. A nil DeviceID applies the
// rule to every device.
type AlertConfig struct {
	ID             string        `json:"id"`
	DeviceID       *string       `json:"device_id,omitempty"`
	MetricType     string        `json:"metric_type"`
	ThresholdValue float64       `json:"threshold_value"`
	Operator       AlertOperator `json:"operator"`
	Severity       AlertSeverity `json:"severity"`
	Enabled        bool          `json:"enabled"`
	Channels       []string      `json:"notification_channels"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// AlertHistoryEntry is one triggered (or cooled-down) alert occurrence.
type AlertHistoryEntry struct {
	ID             int64         `json:"id"`
	TriggeredAt    ISOTime       `json:"triggered_at"`
	ConfigID       string        `json:"config_id"`
	DeviceID       string        `json:"device_id"`
	MetricType     string        `json:"metric_type"`
	ActualValue    float64       `json:"actual_value"`
	ThresholdValue float64       `json:"threshold_value"`
	Severity       AlertSeverity `json:"severity"`
	Message        string        `json:"message"`
	Acknowledged   bool          `json:"acknowledged"`
	AcknowledgedBy string        `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *ISOTime      `json:"acknowledged_at,omitempty"`
	ResolvedAt     *ISOTime      `json:"resolved_at,omitempty"`
}

// ChannelKind identifies a notification transport.
type ChannelKind string

const (
	ChannelEmail   ChannelKind = "email"
	ChannelWebhook ChannelKind = "webhook"
	ChannelSlack   ChannelKind = "slack"
)

// NotificationChannel is a configured notification destination. Config is an
// opaque JSON document whose schema depends on Kind.
type NotificationChannel struct {
	ID        string          `json:"id"`
	Kind      ChannelKind     `json:"kind"`
	Name      string          `json:"name"`
	Config    json.RawMessage `json:"config"`
	Enabled   bool            `json:"enabled"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MaintenanceWindow suppresses alerting for a device (or globally when
// DeviceID is nil) between StartsAt and EndsAt.
type MaintenanceWindow struct {
	ID       string    `json:"id"`
	DeviceID *string   `json:"device_id,omitempty"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Reason   string    `json:"reason,omitempty"`
	Enabled  bool      `json:"enabled"`
}

// Covers reports whether the window is active at t for the given device.
func (w MaintenanceWindow) Covers(deviceID string, t time.Time) bool {
	if !w.Enabled {
		return false
	}
	if w.DeviceID != nil && *w.DeviceID != deviceID {
		return false
	}
	return !t.Before(w.StartsAt) && t.Before(w.EndsAt)
}

// CollectionStatus is the lifecycle state of an on-demand collection request.
type CollectionStatus string

const (
	CollectionQueued    CollectionStatus = "queued"
	CollectionRunning   CollectionStatus = "running"
	CollectionCompleted CollectionStatus = "completed"
	CollectionFailed    CollectionStatus = "failed"
)

// CollectionRequest is one row in the database-backed on-demand poll queue
// shared by the API server (producer) and the scheduler (consumer).
type CollectionRequest struct {
	ID          string           `json:"id"`
	DeviceID    string           `json:"device_id"`
	Status      CollectionStatus `json:"status"`
	RequestedAt ISOTime          `json:"requested_at"`
	StartedAt   *ISOTime         `json:"started_at,omitempty"`
	CompletedAt *ISOTime         `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// SchedulerStats is one heartbeat row written by the scheduler each minute.
type SchedulerStats struct {
	Time                   ISOTime `json:"time"`
	CollectionsCompleted   int64   `json:"collections_completed"`
	DevicesPolled          int64   `json:"devices_polled"`
	PollErrors             int64   `json:"poll_errors"`
	RefreshIntervalSeconds int     `json:"refresh_interval_seconds"`
}

// TagMatch selects the semantics for connected-device tag filters.
type TagMatch string

const (
	TagMatchAny TagMatch = "any" // array overlap (OR)
	TagMatchAll TagMatch = "all" // array contains (AND)
)

// DeviceMetadata is operator-supplied annotation for a client seen behind a
// firewall, keyed (device_id, mac).
type DeviceMetadata struct {
	DeviceID    string    `json:"device_id"`
	MAC         string    `json:"mac"`
	CustomName  *string   `json:"custom_name,omitempty"`
	Location    *string   `json:"location,omitempty"`
	Comment     *string   `json:"comment,omitempty"`
	Tags        []string  `json:"tags"`
	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
}

// Resolution selects which table a historical query reads from.
type Resolution string

const (
	ResolutionRaw    Resolution = "raw"
	ResolutionHourly Resolution = "hourly"
	ResolutionDaily  Resolution = "daily"
	ResolutionAuto   Resolution = "auto"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionRaw, ResolutionHourly, ResolutionDaily, ResolutionAuto:
		return true
	}
	return false
}

// TrafficType partitions bandwidth aggregates by traffic direction class.
type TrafficType string

const (
	TrafficLAN      TrafficType = "lan"
	TrafficInternet TrafficType = "internet"
	TrafficWAN      TrafficType = "wan"
	TrafficTotal    TrafficType = "total"
)

// Valid reports whether t is a known traffic type.
func (t TrafficType) Valid() bool {
	switch t {
	case TrafficLAN, TrafficInternet, TrafficWAN, TrafficTotal:
		return true
	}
	return false
}
