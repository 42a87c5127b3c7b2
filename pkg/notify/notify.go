// Package notify delivers alert events to configured channels. Channel
// definitions live in the notification_channel table; processes without
// database-managed channels fall back to the SMTP_*, WEBHOOK_URL and
// SLACK_WEBHOOK_URL environment configuration.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/panfm/panfm/pkg/config"
	"github.com/panfm/panfm/pkg/log"
	"github.com/panfm/panfm/pkg/metrics"
	"github.com/panfm/panfm/pkg/types"
)

// Event is the payload delivered to every channel.
type Event struct {
	DeviceID       string              `json:"device_id"`
	DeviceName     string              `json:"device_name"`
	MetricType     string              `json:"metric_type"`
	Severity       types.AlertSeverity `json:"severity"`
	ActualValue    float64             `json:"actual_value"`
	ThresholdValue float64             `json:"threshold_value"`
	Message        string              `json:"message"`
	TriggeredAt    time.Time           `json:"triggered_at"`
}

// ChannelResult reports one channel's outcome for a dispatch.
type ChannelResult struct {
	Enabled bool   `json:"enabled"`
	Sent    bool   `json:"sent"`
	Error   string `json:"error,omitempty"`
}

// channel is one configured destination.
type channel interface {
	kind() types.ChannelKind
	enabled() bool
	send(ctx context.Context, ev Event) error
}

// ChannelSource loads channel definitions, normally the store.
type ChannelSource interface {
	NotificationChannels(ctx context.Context) ([]types.NotificationChannel, error)
}

// Dispatcher fans events out to channels. Dispatch never returns an error;
// per-channel failures are reported in the result map and logged.
type Dispatcher struct {
	source ChannelSource
	cfg    *config.Config
	logger zerolog.Logger

	mu       sync.RWMutex
	channels map[string]channel
}

// New builds a dispatcher seeded from environment configuration. Call
// Reload to overlay database-managed channels; source may be nil for
// env-only operation.
func New(source ChannelSource, cfg *config.Config) *Dispatcher {
	d := &Dispatcher{
		source: source,
		cfg:    cfg,
		logger: log.WithComponent("notify"),
	}
	d.mu.Lock()
	d.channels = d.envChannels()
	d.mu.Unlock()
	return d
}

// envChannels builds the implicit channels from process configuration.
func (d *Dispatcher) envChannels() map[string]channel {
	chans := make(map[string]channel)
	if d.cfg == nil {
		return chans
	}
	if d.cfg.SMTP.Host != "" && d.cfg.SMTP.From != "" && len(d.cfg.SMTP.To) > 0 {
		chans["email"] = newEmailChannel(d.cfg.SMTP, true)
	}
	if d.cfg.WebhookURL != "" {
		chans["webhook"] = newWebhookChannel(d.cfg.WebhookURL, nil, true)
	}
	if d.cfg.SlackWebhookURL != "" {
		chans["slack"] = newSlackChannel(d.cfg.SlackWebhookURL, true)
	}
	return chans
}

// Reload re-reads channel definitions from the source and overlays them on
// the environment channels. Called on startup and after channel updates.
func (d *Dispatcher) Reload(ctx context.Context) error {
	if d.source == nil {
		return nil
	}
	rows, err := d.source.NotificationChannels(ctx)
	if err != nil {
		return fmt.Errorf("load notification channels: %w", err)
	}

	chans := d.envChannels()
	for _, row := range rows {
		ch, err := buildChannel(row)
		if err != nil {
			d.logger.Warn().
				Str("channel", row.Name).
				Str("kind", string(row.Kind)).
				Err(err).
				Msg("skipping misconfigured notification channel")
			continue
		}
		chans[row.Name] = ch
	}

	d.mu.Lock()
	d.channels = chans
	d.mu.Unlock()
	d.logger.Debug().Int("channels", len(chans)).Msg("notification channels reloaded")
	return nil
}

func buildChannel(row types.NotificationChannel) (channel, error) {
	switch row.Kind {
	case types.ChannelEmail:
		var cfg struct {
			Host     string   `json:"host"`
			Port     int      `json:"port"`
			Username string   `json:"username"`
			Password string   `json:"password"`
			From     string   `json:"from"`
			To       []string `json:"to"`
			STARTTLS bool     `json:"starttls"`
		}
		if err := json.Unmarshal(row.Config, &cfg); err != nil {
			return nil, fmt.Errorf("decode email config: %w", err)
		}
		if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
			return nil, fmt.Errorf("email channel needs host, from and to")
		}
		if cfg.Port == 0 {
			cfg.Port = 587
		}
		return newEmailChannel(config.SMTPConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
			To:       cfg.To,
			STARTTLS: cfg.STARTTLS,
		}, row.Enabled), nil

	case types.ChannelWebhook:
		var cfg struct {
			URL     string            `json:"url"`
			Headers map[string]string `json:"headers"`
		}
		if err := json.Unmarshal(row.Config, &cfg); err != nil {
			return nil, fmt.Errorf("decode webhook config: %w", err)
		}
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook channel needs url")
		}
		return newWebhookChannel(cfg.URL, cfg.Headers, row.Enabled), nil

	case types.ChannelSlack:
		var cfg struct {
			WebhookURL string `json:"webhook_url"`
		}
		if err := json.Unmarshal(row.Config, &cfg); err != nil {
			return nil, fmt.Errorf("decode slack config: %w", err)
		}
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("slack channel needs webhook_url")
		}
		return newSlackChannel(cfg.WebhookURL, row.Enabled), nil

	default:
		return nil, fmt.Errorf("unknown channel kind %q", row.Kind)
	}
}

// Dispatch sends the event to the named channels, or to every configured
// channel when names is empty. The result map has one entry per target.
func (d *Dispatcher) Dispatch(ctx context.Context, names []string, ev Event) map[string]ChannelResult {
	d.mu.RLock()
	chans := make(map[string]channel, len(d.channels))
	for name, ch := range d.channels {
		chans[name] = ch
	}
	d.mu.RUnlock()

	targets := names
	if len(targets) == 0 {
		for name := range chans {
			targets = append(targets, name)
		}
		sort.Strings(targets)
	}

	results := make(map[string]ChannelResult, len(targets))
	for _, name := range targets {
		ch, ok := chans[name]
		if !ok {
			results[name] = ChannelResult{Error: "unknown channel"}
			continue
		}
		if !ch.enabled() {
			results[name] = ChannelResult{}
			continue
		}
		res := ChannelResult{Enabled: true}
		if err := ch.send(ctx, ev); err != nil {
			res.Error = err.Error()
			metrics.NotificationsTotal.WithLabelValues(name, "error").Inc()
			d.logger.Warn().
				Str("channel", name).
				Str("kind", string(ch.kind())).
				Str("device_id", ev.DeviceID).
				Err(err).
				Msg("notification delivery failed")
		} else {
			res.Sent = true
			metrics.NotificationsTotal.WithLabelValues(name, "sent").Inc()
		}
		results[name] = res
	}
	return results
}

// TestChannel sends a canonical payload through one channel, bypassing the
// enabled flag so operators can verify a channel before turning it on.
func (d *Dispatcher) TestChannel(ctx context.Context, name string) error {
	d.mu.RLock()
	ch, ok := d.channels[name]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown channel %q", name)
	}
	return ch.send(ctx, testEvent())
}

// ChannelNames returns the configured channel names, sorted.
func (d *Dispatcher) ChannelNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func testEvent() Event {
	return Event{
		DeviceID:       "test",
		DeviceName:     "test device",
		MetricType:     "test",
		Severity:       types.SeverityInfo,
		ActualValue:    1,
		ThresholdValue: 1,
		Message:        "INFO alert for test device: this is a test notification",
		TriggeredAt:    time.Now().UTC(),
	}
}
