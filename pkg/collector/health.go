package collector

import (
	"time"

	"github.com/panfm/panfm/pkg/metrics"
)

// offlineAfter is the consecutive-failure count at which a device is
// reported offline rather than degraded.
const offlineAfter = 3

type deviceHealth struct {
	lastSuccess time.Time
	lastError   string
	failures    int // consecutive
}

func (h *deviceHealth) status() string {
	switch {
	case h.failures == 0:
		return "online"
	case h.failures < offlineAfter:
		return "degraded"
	}
	return "offline"
}

func (c *Collector) recordSuccess(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.healthFor(id)
	h.lastSuccess = c.now()
	h.lastError = ""
	h.failures = 0
}

func (c *Collector) recordFailure(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.healthFor(id)
	h.failures++
	h.lastError = err.Error()
}

// healthFor returns the tracking entry for a device, creating it on first
// use. Callers hold c.mu.
func (c *Collector) healthFor(id string) *deviceHealth {
	h, ok := c.health[id]
	if !ok {
		h = &deviceHealth{}
		c.health[id] = h
	}
	return h
}

// publishHealth refreshes the per-status device gauge after a tick.
func (c *Collector) publishHealth() {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := map[string]float64{"online": 0, "degraded": 0, "offline": 0}
	for _, h := range c.health {
		counts[h.status()]++
	}
	for status, n := range counts {
		metrics.DevicesByStatus.WithLabelValues(status).Set(n)
	}
}
