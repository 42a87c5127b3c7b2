// Package collector owns the recurring jobs of the scheduler process: the
// per-device metric polls, the ARP/DHCP snapshots, the traffic-log
// aggregation, the on-demand poll queue and the housekeeping tasks.
//
// All device polls across all jobs share one semaphore, so the number of
// in-flight appliance calls never exceeds the fan-out bound regardless of
// how many jobs fire concurrently. Failures are absorbed at the per-device
// boundary: one unreachable appliance costs its own sample, not the tick.
package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/panfm/panfm/pkg/config"
	"github.com/panfm/panfm/pkg/firewall"
	"github.com/panfm/panfm/pkg/log"
	"github.com/panfm/panfm/pkg/metrics"
	"github.com/panfm/panfm/pkg/scheduler"
	"github.com/panfm/panfm/pkg/types"
)

// Job names registered with the scheduler.
const (
	JobThroughput = "collect_throughput"
	JobConnected  = "collect_connected_devices"
	JobFlows      = "collect_traffic_flows"
	JobCleanup    = "database_cleanup"
	JobHeartbeat  = "persist_scheduler_stats"
	JobQueue      = "process_collection_requests"
)

const (
	defaultFanOut = 8

	threatLogMax  = 100
	systemLogMax  = 50
	appStatMax    = 50
	trafficLogMax = 500

	flowsInterval = time.Minute
	queueInterval = 5 * time.Second
	cleanupAt     = "02:00"

	statsRetention = 7 * 24 * time.Hour
	queueRetention = time.Hour

	// topWindow is the lookback for the top-talker payloads embedded in
	// each sample.
	topWindow = time.Hour

	topAppN = 5
)

// Store is the slice of the time-series store the collector uses.
type Store interface {
	InsertSample(ctx context.Context, sample *types.Sample) error
	InsertThreatLogs(ctx context.Context, logs []types.ThreatLog) error
	InsertSystemLogs(ctx context.Context, logs []types.SystemLog) error
	InsertApplicationSamples(ctx context.Context, samples []types.ApplicationSample) error
	InsertTrafficFlows(ctx context.Context, flows []types.TrafficFlow) error
	InsertCategoryBandwidth(ctx context.Context, rows []types.CategoryBandwidth) error
	InsertClientBandwidth(ctx context.Context, rows []types.ClientBandwidth) error
	UpsertConnectedDevices(ctx context.Context, devices []types.ConnectedDevice) error

	TopClient(ctx context.Context, deviceID string, trafficType types.TrafficType, since time.Time) (*types.TopClient, error)
	TopCategory(ctx context.Context, deviceID string, trafficType types.TrafficType, since time.Time) (*types.TopCategory, error)

	NextQueuedCollection(ctx context.Context) (*types.CollectionRequest, error)
	MarkCollectionRunning(ctx context.Context, id string) error
	MarkCollectionCompleted(ctx context.Context, id string) error
	MarkCollectionFailed(ctx context.Context, id, errMsg string) error
	PruneCollectionRequests(ctx context.Context, before time.Time) (int64, error)

	InsertSchedulerStats(ctx context.Context, st types.SchedulerStats) error
	PruneSchedulerStats(ctx context.Context, before time.Time) (int64, error)
	PruneExpiredCooldowns(ctx context.Context, now time.Time) (int64, error)
	PruneAlertHistory(ctx context.Context, before time.Time) (int64, error)
}

// Registry resolves the devices to poll.
type Registry interface {
	Get(id string) (*types.Device, error)
	ListEnabled() ([]*types.Device, error)
}

// AlertEvaluator runs alert rules against a fresh sample.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, device types.Device, sample *types.Sample) (int, error)
}

// HostnameResolver names client IPs the appliance could not. Satisfied by
// *dns.Resolver.
type HostnameResolver interface {
	ReverseLookup(ctx context.Context, ip string) string
}

// Rescheduler adjusts a job's cadence in place. Satisfied by
// *scheduler.Scheduler.
type Rescheduler interface {
	Reschedule(name string, every time.Duration) error
}

// Config carries collector construction knobs.
type Config struct {
	// FanOut bounds in-flight appliance calls across all jobs. Zero takes
	// the default of 8.
	FanOut int64

	// ReloadChannels, when set, is called by the heartbeat so notification
	// channels edited through the API process reach this process's
	// dispatcher within a minute.
	ReloadChannels func(ctx context.Context) error

	// Resolver, when set, fills in hostnames for connected devices that
	// neither ARP nor DHCP could name.
	Resolver HostnameResolver
}

// Collector runs the poll and housekeeping jobs for the device fleet.
type Collector struct {
	store    Store
	registry Registry
	alerts   AlertEvaluator
	sched    Rescheduler
	runtime  *config.Runtime
	logger   zerolog.Logger

	sem *semaphore.Weighted

	newClient      func(firewall.Config) firewall.Client
	reloadChannels func(ctx context.Context) error
	resolver       HostnameResolver

	mu      sync.Mutex
	clients map[string]clientEntry
	health  map[string]*deviceHealth
	hosts   map[string]map[string]string // device id -> client ip -> hostname

	collections atomic.Int64
	polled      atomic.Int64
	pollErrors  atomic.Int64

	now func() time.Time
}

type clientEntry struct {
	fingerprint string
	client      firewall.Client
}

// New builds a collector. The alert evaluator and rescheduler may be nil;
// the corresponding steps are skipped.
func New(st Store, reg Registry, alerts AlertEvaluator, sched Rescheduler, rt *config.Runtime, cfg Config) *Collector {
	fanOut := cfg.FanOut
	if fanOut <= 0 {
		fanOut = defaultFanOut
	}
	return &Collector{
		store:          st,
		registry:       reg,
		alerts:         alerts,
		sched:          sched,
		runtime:        rt,
		logger:         log.WithComponent("collector"),
		sem:            semaphore.NewWeighted(fanOut),
		newClient:      func(c firewall.Config) firewall.Client { return firewall.NewPanOS(c) },
		reloadChannels: cfg.ReloadChannels,
		resolver:       cfg.Resolver,
		clients:        make(map[string]clientEntry),
		health:         make(map[string]*deviceHealth),
		hosts:          make(map[string]map[string]string),
		now:            time.Now,
	}
}

// Jobs returns the scheduler registrations for every collector task. The two
// device-facing polls start at the configured refresh interval; Heartbeat
// reschedules them when the setting changes.
func (c *Collector) Jobs() []scheduler.Job {
	refresh := c.runtime.Current().RefreshInterval()
	return []scheduler.Job{
		{Name: JobThroughput, Every: refresh, Run: c.CollectThroughput},
		{Name: JobConnected, Every: refresh, Run: c.CollectConnectedDevices},
		{Name: JobFlows, Every: flowsInterval, Run: c.CollectTrafficFlows},
		{Name: JobCleanup, DailyAt: cleanupAt, Run: c.Cleanup},
		{Name: JobHeartbeat, Every: time.Minute, Run: c.Heartbeat},
		{Name: JobQueue, Every: queueInterval, Run: c.ProcessQueue},
	}
}

// CollectThroughput polls every enabled device for the full metric set,
// writes one sample per device and evaluates alert rules against it.
func (c *Collector) CollectThroughput(ctx context.Context) error {
	err := c.forEachDevice(ctx, func(ctx context.Context, dev types.Device) {
		if err := c.collectDevice(ctx, dev); err != nil {
			c.pollErrors.Add(1)
			c.recordFailure(dev.ID, err)
			metrics.DevicePollsTotal.WithLabelValues("error").Inc()
			c.logger.Error().Err(err).
				Str("device_id", dev.ID).
				Str("device", dev.Name).
				Msg("Device collection failed")
			return
		}
		c.polled.Add(1)
		c.recordSuccess(dev.ID)
		metrics.DevicePollsTotal.WithLabelValues("ok").Inc()
	})
	if err != nil {
		return err
	}
	c.collections.Add(1)
	c.publishHealth()
	return nil
}

// forEachDevice runs fn for every enabled device, each on its own goroutine,
// holding one semaphore slot for the duration. fn owns its error handling;
// only listing devices or losing the context fails the tick.
func (c *Collector) forEachDevice(ctx context.Context, fn func(context.Context, types.Device)) error {
	devices, err := c.registry.ListEnabled()
	if err != nil {
		return fmt.Errorf("list enabled devices: %w", err)
	}
	c.retire(devices)

	var wg sync.WaitGroup
	for _, dev := range devices {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return fmt.Errorf("acquire poll slot: %w", err)
		}
		wg.Add(1)
		go func(dev types.Device) {
			defer wg.Done()
			defer c.sem.Release(1)
			fn(ctx, dev)
		}(*dev)
	}
	wg.Wait()
	return nil
}

// collectDevice runs one full poll against one appliance and persists the
// results. The core reads (system info, throughput, sessions, resources)
// must succeed for a sample to be written; log and license reads degrade to
// empty results so a slow log query cannot open a metrics gap.
func (c *Collector) collectDevice(ctx context.Context, dev types.Device) error {
	client := c.clientFor(dev)
	dlog := c.logger.With().Str("device_id", dev.ID).Str("device", dev.Name).Logger()

	now := c.now().UTC().Truncate(time.Second)
	window := c.runtime.Current().RefreshInterval()

	info, err := client.SystemInfo(ctx)
	if err != nil {
		return fmt.Errorf("system info: %w", err)
	}
	rates, err := client.Throughput(ctx)
	if err != nil {
		return fmt.Errorf("throughput: %w", err)
	}
	sessions, err := client.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	resources, err := client.Resources(ctx)
	if err != nil {
		return fmt.Errorf("resources: %w", err)
	}

	ifaces, err := client.Interfaces(ctx)
	if err != nil {
		dlog.Warn().Err(err).Msg("Interface read failed")
	} else {
		noteDownInterfaces(dlog, dev, ifaces)
	}

	threats, err := client.ThreatLogs(ctx, threatLogMax)
	if err != nil {
		dlog.Warn().Err(err).Msg("Threat log read failed")
	}
	syslogs, err := client.SystemLogs(ctx, systemLogMax)
	if err != nil {
		dlog.Warn().Err(err).Msg("System log read failed")
	}
	apps, err := client.ApplicationStats(ctx, appStatMax)
	if err != nil {
		dlog.Warn().Err(err).Msg("Application stats read failed")
	}
	licenses, err := client.Licenses(ctx)
	if err != nil {
		dlog.Warn().Err(err).Msg("License read failed")
	}

	sample := newSample(now, dev.ID, readings{
		Info:      info,
		Rates:     rates,
		Sessions:  sessions,
		Resources: resources,
		Threats:   threats,
		Apps:      apps,
		Licenses:  licenses,
	}, window)
	c.attachTops(ctx, dev.ID, sample, now)

	if err := c.store.InsertSample(ctx, sample); err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	metrics.RowsWrittenTotal.WithLabelValues("samples").Inc()

	if rows := threatRows(dev.ID, threats); len(rows) > 0 {
		if err := c.store.InsertThreatLogs(ctx, rows); err != nil {
			dlog.Warn().Err(err).Msg("Threat log write failed")
		} else {
			metrics.RowsWrittenTotal.WithLabelValues("threat_logs").Add(float64(len(rows)))
		}
	}
	if rows := systemRows(dev.ID, syslogs); len(rows) > 0 {
		if err := c.store.InsertSystemLogs(ctx, rows); err != nil {
			dlog.Warn().Err(err).Msg("System log write failed")
		} else {
			metrics.RowsWrittenTotal.WithLabelValues("system_logs").Add(float64(len(rows)))
		}
	}
	if rows := applicationRows(now, dev.ID, apps); len(rows) > 0 {
		if err := c.store.InsertApplicationSamples(ctx, rows); err != nil {
			dlog.Warn().Err(err).Msg("Application sample write failed")
		} else {
			metrics.RowsWrittenTotal.WithLabelValues("application_samples").Add(float64(len(rows)))
		}
	}

	if c.alerts != nil {
		if _, err := c.alerts.Evaluate(ctx, dev, sample); err != nil {
			dlog.Warn().Err(err).Msg("Alert evaluation failed")
		}
	}
	return nil
}

// attachTops fills the embedded top-talker payloads from the aggregates the
// flow ticks wrote earlier. Lookups degrade to nil fields.
func (c *Collector) attachTops(ctx context.Context, deviceID string, s *types.Sample, now time.Time) {
	since := now.Add(-topWindow)
	s.TopClient = c.lookupTopClient(ctx, deviceID, types.TrafficTotal, since)
	s.TopClientInternal = c.lookupTopClient(ctx, deviceID, types.TrafficLAN, since)
	s.TopClientInternet = c.lookupTopClient(ctx, deviceID, types.TrafficInternet, since)
	s.TopCategoryLAN = c.lookupTopCategory(ctx, deviceID, types.TrafficLAN, since)
	s.TopCategoryInternet = c.lookupTopCategory(ctx, deviceID, types.TrafficInternet, since)
	s.TopCategoryWAN = c.lookupTopCategory(ctx, deviceID, types.TrafficWAN, since)
}

func (c *Collector) lookupTopClient(ctx context.Context, deviceID string, tt types.TrafficType, since time.Time) *types.TopClient {
	top, err := c.store.TopClient(ctx, deviceID, tt, since)
	if err != nil {
		c.logger.Debug().Err(err).Str("device_id", deviceID).Str("traffic_type", string(tt)).Msg("Top client lookup failed")
		return nil
	}
	return top
}

func (c *Collector) lookupTopCategory(ctx context.Context, deviceID string, tt types.TrafficType, since time.Time) *types.TopCategory {
	top, err := c.store.TopCategory(ctx, deviceID, tt, since)
	if err != nil {
		c.logger.Debug().Err(err).Str("device_id", deviceID).Str("traffic_type", string(tt)).Msg("Top category lookup failed")
		return nil
	}
	return top
}

// clientFor returns the cached client for a device, rebuilding it when a
// connection-relevant field changed. Reuse matters: the client derives Mbps
// from counter deltas between consecutive polls, so a fresh client reports
// zero rates on its first poll.
func (c *Collector) clientFor(dev types.Device) firewall.Client {
	verify := dev.VerifyTLS || !c.runtime.Current().InsecureTLS
	fp := strings.Join([]string{
		dev.Host,
		dev.APIKey,
		strings.Join(dev.MonitoredInterfaces, ","),
		strconv.FormatBool(verify),
	}, "|")

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.clients[dev.ID]; ok && e.fingerprint == fp {
		return e.client
	}
	cl := c.newClient(firewall.Config{
		Host:                dev.Host,
		APIKey:              dev.APIKey,
		MonitoredInterfaces: dev.MonitoredInterfaces,
		VerifyTLS:           verify,
	})
	c.clients[dev.ID] = clientEntry{fingerprint: fp, client: cl}
	return cl
}

// retire drops cached state for devices no longer in the enabled set.
func (c *Collector) retire(enabled []*types.Device) {
	keep := make(map[string]bool, len(enabled))
	for _, d := range enabled {
		keep[d.ID] = true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.clients {
		if !keep[id] {
			delete(c.clients, id)
		}
	}
	for id := range c.health {
		if !keep[id] {
			delete(c.health, id)
		}
	}
	for id := range c.hosts {
		if !keep[id] {
			delete(c.hosts, id)
		}
	}
}

func noteDownInterfaces(dlog zerolog.Logger, dev types.Device, ifaces []firewall.Interface) {
	monitored := make(map[string]bool, len(dev.MonitoredInterfaces))
	for _, name := range dev.MonitoredInterfaces {
		monitored[name] = true
	}
	for _, it := range ifaces {
		if len(monitored) > 0 && !monitored[it.Name] {
			continue
		}
		if it.State == "" || strings.EqualFold(it.State, "up") {
			continue
		}
		dlog.Warn().Str("interface", it.Name).Str("state", it.State).Msg("Monitored interface not up")
	}
}

// rateMbps converts a byte count over a window into megabits per second.
func rateMbps(bytes int64, window time.Duration) float64 {
	secs := window.Seconds()
	if secs <= 0 || bytes <= 0 {
		return 0
	}
	return float64(bytes) * 8 / secs / 1e6
}
