package collector

import (
	"context"
	"fmt"

	"github.com/panfm/panfm/pkg/types"
)

// Heartbeat persists one scheduler-stats row, prunes rows past the stats
// retention and picks up settings and channel changes made through the API
// process. The counters are cumulative for the life of the process; readers
// judge liveness by the row's timestamp.
func (c *Collector) Heartbeat(ctx context.Context) error {
	now := c.now()
	prev := c.runtime.Current()

	st := types.SchedulerStats{
		Time:                   types.NewISOTime(now),
		CollectionsCompleted:   c.collections.Load(),
		DevicesPolled:          c.polled.Load(),
		PollErrors:             c.pollErrors.Load(),
		RefreshIntervalSeconds: prev.RefreshIntervalSeconds,
	}
	if err := c.store.InsertSchedulerStats(ctx, st); err != nil {
		return fmt.Errorf("insert scheduler stats: %w", err)
	}
	if _, err := c.store.PruneSchedulerStats(ctx, now.Add(-statsRetention)); err != nil {
		c.logger.Warn().Err(err).Msg("Scheduler stats prune failed")
	}

	if c.reloadChannels != nil {
		if err := c.reloadChannels(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Notification channel reload failed")
		}
	}

	fresh, err := c.runtime.Reload()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Settings reload failed")
		return nil
	}
	if fresh.RefreshInterval() == prev.RefreshInterval() || c.sched == nil {
		return nil
	}
	for _, name := range []string{JobThroughput, JobConnected} {
		if err := c.sched.Reschedule(name, fresh.RefreshInterval()); err != nil {
			c.logger.Error().Err(err).Str("job", name).Msg("Reschedule failed")
		}
	}
	c.logger.Info().
		Int("previous_seconds", prev.RefreshIntervalSeconds).
		Int("current_seconds", fresh.RefreshIntervalSeconds).
		Msg("Refresh interval changed, poll jobs rescheduled")
	return nil
}
