package firewall

import (
	"context"
	"time"
)

// Client is the capability a collector holds for one appliance. Every
// operation is synchronous and idempotent; failures come back as *OpError.
type Client interface {
	SystemInfo(ctx context.Context) (*SystemInfo, error)
	Throughput(ctx context.Context) (*Throughput, error)
	Sessions(ctx context.Context) (*Sessions, error)
	Resources(ctx context.Context) (*Resources, error)
	Interfaces(ctx context.Context) ([]Interface, error)

	ThreatLogs(ctx context.Context, max int) ([]ThreatLogEntry, error)
	SystemLogs(ctx context.Context, max int) ([]SystemLogEntry, error)
	TrafficLogs(ctx context.Context, max int) ([]TrafficLogEntry, error)
	ApplicationStats(ctx context.Context, max int) ([]ApplicationStat, error)

	ArpTable(ctx context.Context) ([]ArpEntry, error)
	DhcpLeases(ctx context.Context) ([]DhcpLease, error)

	Licenses(ctx context.Context) ([]License, error)
	SoftwareUpdates(ctx context.Context) ([]SoftwareUpdate, error)
	ContentUpdates(ctx context.Context) ([]ContentUpdate, error)

	StartTechSupportJob(ctx context.Context) (string, error)
	TechSupportJobStatus(ctx context.Context, jobID string) (*TechSupportJob, error)
}

// Config configures a PAN-OS client for one appliance.
type Config struct {
	Host   string
	APIKey string

	// MonitoredInterfaces restricts throughput counter sums to the named
	// interfaces. Empty means all interfaces.
	MonitoredInterfaces []string

	// VerifyTLS enables certificate verification. Off by default:
	// management interfaces ship with self-signed certificates.
	VerifyTLS bool

	// Timeouts. Zero values take the defaults below.
	ConnectTimeout  time.Duration // default 5s
	ReadTimeout     time.Duration // default 10s
	DownloadTimeout time.Duration // default 60s, for log and export jobs
}

const (
	defaultConnectTimeout  = 5 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultDownloadTimeout = 60 * time.Second

	// retryAttempts bounds in-tick retries of transient failures.
	retryAttempts = 2
)
