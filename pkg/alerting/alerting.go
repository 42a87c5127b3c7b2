// Package alerting evaluates threshold rules against collected samples and
// dispatches notifications. The engine keeps no state between evaluations:
// cooldowns live in the database, so restarts and concurrent evaluators
// cannot double-fire an alert.
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/panfm/panfm/pkg/config"
	"github.com/panfm/panfm/pkg/log"
	"github.com/panfm/panfm/pkg/metrics"
	"github.com/panfm/panfm/pkg/notify"
	"github.com/panfm/panfm/pkg/types"
)

// cooldownPrefix marks history rows recorded while a rule was cooling down.
const cooldownPrefix = "[COOLDOWN] "

// clientBandwidthWindow is how far back per-client rates are read when a
// rule targets the client_bandwidth metric.
const clientBandwidthWindow = 5 * time.Minute

// AlertStore is the database surface the engine needs.
type AlertStore interface {
	EnabledAlertConfigs(ctx context.Context, deviceID string) ([]types.AlertConfig, error)
	InMaintenance(ctx context.Context, deviceID string, t time.Time) (bool, error)
	ClaimCooldown(ctx context.Context, deviceID, configID string, now, expiresAt time.Time) (bool, error)
	InsertAlertHistory(ctx context.Context, e types.AlertHistoryEntry) (types.AlertHistoryEntry, error)
	ClientBandwidthSince(ctx context.Context, deviceID string, trafficType types.TrafficType, since time.Time, limit int) ([]types.ClientBandwidth, error)
}

// Dispatcher fans a formatted event out to notification channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, channels []string, ev notify.Event) map[string]notify.ChannelResult
}

// Engine evaluates alert rules for one sample at a time.
type Engine struct {
	store      AlertStore
	dispatcher Dispatcher
	settings   func() config.Settings
	logger     zerolog.Logger
	now        func() time.Time
}

// New builds an engine. settings supplies the current runtime settings on
// every evaluation so cooldown overrides apply without a restart; nil falls
// back to defaults.
func New(store AlertStore, dispatcher Dispatcher, settings func() config.Settings) *Engine {
	if settings == nil {
		settings = func() config.Settings { return config.DefaultSettings() }
	}
	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		settings:   settings,
		logger:     log.WithComponent("alerting"),
		now:        time.Now,
	}
}

// Evaluate runs every enabled rule for the device against the sample and
// returns how many alerts were dispatched. Rule-level problems (unknown
// metric, channel failures, history write errors) are logged and skipped;
// only store failures that prevent evaluation as a whole surface as errors.
func (e *Engine) Evaluate(ctx context.Context, device types.Device, sample *types.Sample) (int, error) {
	now := e.now().UTC()

	inMaintenance, err := e.store.InMaintenance(ctx, device.ID, now)
	if err != nil {
		return 0, fmt.Errorf("check maintenance windows: %w", err)
	}
	if inMaintenance {
		e.logger.Debug().Str("device_id", device.ID).Msg("alerting suppressed by maintenance window")
		return 0, nil
	}

	configs, err := e.store.EnabledAlertConfigs(ctx, device.ID)
	if err != nil {
		return 0, fmt.Errorf("load alert configs: %w", err)
	}
	if len(configs) == 0 {
		return 0, nil
	}

	bag := MetricBag(sample)
	settings := e.settings()

	// Per-client rates are fetched at most once per evaluation, and only
	// when a rule actually targets client_bandwidth.
	var clientRows []types.ClientBandwidth
	clientLoaded := false

	dispatched := 0
	for _, cfg := range configs {
		var (
			actual  float64
			clients []types.ClientBandwidth
		)
		if cfg.MetricType == MetricClientBandwidth {
			if !clientLoaded {
				clientRows, err = e.store.ClientBandwidthSince(ctx, device.ID,
					types.TrafficTotal, now.Add(-clientBandwidthWindow), settings.TopN)
				if err != nil {
					e.logger.Error().Str("device_id", device.ID).Err(err).
						Msg("loading client bandwidth for alert evaluation")
					continue
				}
				clientLoaded = true
			}
			clients = clientRows
			if len(clients) > 0 {
				actual = clients[0].BandwidthMbps
			}
		} else {
			var known bool
			actual, known = bag[cfg.MetricType]
			if !known {
				e.logger.Warn().
					Str("config_id", cfg.ID).
					Str("metric_type", cfg.MetricType).
					Msg("alert rule references unknown metric")
				continue
			}
		}

		if !compare(cfg.Operator, actual, cfg.ThresholdValue) {
			continue
		}

		cooldown := settings.CooldownFor(cfg.Severity)
		claimed, err := e.store.ClaimCooldown(ctx, device.ID, cfg.ID, now, now.Add(cooldown))
		if err != nil {
			e.logger.Error().Str("config_id", cfg.ID).Err(err).Msg("claiming alert cooldown")
			continue
		}

		message := formatMessage(device.Name, cfg, actual, clients)
		entry := types.AlertHistoryEntry{
			TriggeredAt:    types.NewISOTime(now),
			ConfigID:       cfg.ID,
			DeviceID:       device.ID,
			MetricType:     cfg.MetricType,
			ActualValue:    actual,
			ThresholdValue: cfg.ThresholdValue,
			Severity:       cfg.Severity,
			Message:        message,
		}

		if !claimed {
			entry.Message = cooldownPrefix + message
			if _, err := e.store.InsertAlertHistory(ctx, entry); err != nil {
				e.logger.Warn().Str("config_id", cfg.ID).Err(err).Msg("recording cooled-down alert")
			}
			metrics.AlertsSuppressedTotal.Inc()
			e.logger.Debug().
				Str("device_id", device.ID).
				Str("metric_type", cfg.MetricType).
				Msg("alert suppressed by cooldown")
			continue
		}

		if _, err := e.store.InsertAlertHistory(ctx, entry); err != nil {
			e.logger.Error().Str("config_id", cfg.ID).Err(err).Msg("recording alert history")
		}

		results := e.dispatcher.Dispatch(ctx, cfg.Channels, notify.Event{
			DeviceID:       device.ID,
			DeviceName:     device.Name,
			MetricType:     cfg.MetricType,
			Severity:       cfg.Severity,
			ActualValue:    actual,
			ThresholdValue: cfg.ThresholdValue,
			Message:        message,
			TriggeredAt:    now,
		})
		for name, res := range results {
			if res.Error != "" {
				e.logger.Warn().
					Str("channel", name).
					Str("config_id", cfg.ID).
					Str("error", res.Error).
					Msg("alert channel failed")
			}
		}
		dispatched++
		metrics.AlertsTriggeredTotal.WithLabelValues(string(cfg.Severity)).Inc()

		e.logger.Info().
			Str("device_id", device.ID).
			Str("metric_type", cfg.MetricType).
			Str("severity", string(cfg.Severity)).
			Float64("actual", actual).
			Float64("threshold", cfg.ThresholdValue).
			Msg("alert dispatched")
	}
	return dispatched, nil
}
