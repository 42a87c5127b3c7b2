package collector

import (
	"context"
	"fmt"
)

// Cleanup applies the operator retention policy to application-managed
// rows: acknowledged alert history past retention_days, expired alert
// cooldowns and finished collection requests. The bulk time-series tables
// are handled by database-side retention policies.
func (c *Collector) Cleanup(ctx context.Context) error {
	now := c.now()
	cutoff := now.AddDate(0, 0, -c.runtime.Current().RetentionDays)

	history, err := c.store.PruneAlertHistory(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune alert history: %w", err)
	}
	cooldowns, err := c.store.PruneExpiredCooldowns(ctx, now)
	if err != nil {
		return fmt.Errorf("prune cooldowns: %w", err)
	}
	requests, err := c.store.PruneCollectionRequests(ctx, now.Add(-queueRetention))
	if err != nil {
		return fmt.Errorf("prune collection requests: %w", err)
	}

	c.logger.Info().
		Int64("alert_history", history).
		Int64("cooldowns", cooldowns).
		Int64("collection_requests", requests).
		Msg("Database cleanup finished")
	return nil
}
