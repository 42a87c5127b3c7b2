package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/panfm/panfm/pkg/metrics"
)

var errDeviceDisabled = errors.New("device is disabled")

// ProcessQueue claims the oldest queued on-demand collection request, runs a
// full poll for its device and records the outcome. One request per firing
// keeps each run short; the five-second cadence drains bursts quickly. Idle
// firings prune finished requests instead.
func (c *Collector) ProcessQueue(ctx context.Context) error {
	req, err := c.store.NextQueuedCollection(ctx)
	if err != nil {
		return fmt.Errorf("next queued collection: %w", err)
	}
	if req == nil {
		if _, err := c.store.PruneCollectionRequests(ctx, c.now().Add(-queueRetention)); err != nil {
			c.logger.Warn().Err(err).Msg("Collection request prune failed")
		}
		return nil
	}

	qlog := c.logger.With().Str("request_id", req.ID).Str("device_id", req.DeviceID).Logger()
	if err := c.store.MarkCollectionRunning(ctx, req.ID); err != nil {
		return fmt.Errorf("mark collection running: %w", err)
	}

	if err := c.runRequest(ctx, req.DeviceID); err != nil {
		metrics.CollectionRequestsTotal.WithLabelValues("failed").Inc()
		qlog.Error().Err(err).Msg("On-demand collection failed")
		if err := c.store.MarkCollectionFailed(ctx, req.ID, err.Error()); err != nil {
			return fmt.Errorf("mark collection failed: %w", err)
		}
		return nil
	}

	metrics.CollectionRequestsTotal.WithLabelValues("completed").Inc()
	qlog.Info().Msg("On-demand collection completed")
	if err := c.store.MarkCollectionCompleted(ctx, req.ID); err != nil {
		return fmt.Errorf("mark collection completed: %w", err)
	}
	return nil
}

// runRequest resolves and polls a single device outside the regular cadence,
// holding a fan-out slot like any other poll.
func (c *Collector) runRequest(ctx context.Context, deviceID string) error {
	dev, err := c.registry.Get(deviceID)
	if err != nil {
		return fmt.Errorf("resolve device: %w", err)
	}
	if !dev.Enabled {
		return errDeviceDisabled
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire poll slot: %w", err)
	}
	defer c.sem.Release(1)
	return c.collectDevice(ctx, *dev)
}
