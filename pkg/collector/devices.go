package collector

import (
	"context"
	"sort"
	"strings"

	"github.com/panfm/panfm/pkg/firewall"
	"github.com/panfm/panfm/pkg/metrics"
	"github.com/panfm/panfm/pkg/refdata"
	"github.com/panfm/panfm/pkg/types"
)

// CollectConnectedDevices snapshots the ARP table and DHCP leases of every
// enabled device into the connected-devices view. The snapshot's hostname
// map is kept in memory so the flow tick can name client IPs.
func (c *Collector) CollectConnectedDevices(ctx context.Context) error {
	return c.forEachDevice(ctx, func(ctx context.Context, dev types.Device) {
		dlog := c.logger.With().Str("device_id", dev.ID).Str("device", dev.Name).Logger()
		client := c.clientFor(dev)

		arp, err := client.ArpTable(ctx)
		if err != nil {
			dlog.Warn().Err(err).Msg("ARP read failed")
			return
		}
		leases, err := client.DhcpLeases(ctx)
		if err != nil {
			// Not every appliance runs a DHCP server.
			dlog.Debug().Err(err).Msg("DHCP lease read failed")
			leases = nil
		}

		snapshot := mergeConnected(types.NewISOTime(c.now()), dev.ID, arp, leases)
		if len(snapshot) == 0 {
			return
		}
		c.resolveHostnames(ctx, snapshot)
		if err := c.store.UpsertConnectedDevices(ctx, snapshot); err != nil {
			dlog.Error().Err(err).Msg("Connected device write failed")
			return
		}
		metrics.RowsWrittenTotal.WithLabelValues("connected_devices").Add(float64(len(snapshot)))
		c.rememberHosts(dev.ID, snapshot)
	})
}

// mergeConnected folds DHCP lease names into the ARP snapshot. ARP is the
// authority for presence; leases contribute hostnames plus rows for
// addresses the appliance has not ARPed recently. Incomplete ARP entries
// and expired leases are dropped.
func mergeConnected(at types.ISOTime, deviceID string, arp []firewall.ArpEntry, leases []firewall.DhcpLease) []types.ConnectedDevice {
	byIP := make(map[string]*types.ConnectedDevice, len(arp))
	for _, e := range arp {
		if e.IP == "" || e.MAC == "" || strings.Contains(strings.ToLower(e.MAC), "incomplete") {
			continue
		}
		mac := normalizeMAC(e.MAC)
		byIP[e.IP] = &types.ConnectedDevice{
			Time:      at,
			DeviceID:  deviceID,
			IP:        e.IP,
			MAC:       mac,
			Vendor:    refdata.VendorForMAC(mac),
			Interface: e.Interface,
			LastSeen:  at,
		}
	}
	for _, l := range leases {
		if l.IP == "" {
			continue
		}
		if d, ok := byIP[l.IP]; ok {
			if d.Hostname == "" {
				d.Hostname = l.Hostname
			}
			continue
		}
		if strings.EqualFold(l.State, "expired") {
			continue
		}
		mac := normalizeMAC(l.MAC)
		byIP[l.IP] = &types.ConnectedDevice{
			Time:     at,
			DeviceID: deviceID,
			IP:       l.IP,
			MAC:      mac,
			Hostname: l.Hostname,
			Vendor:   refdata.VendorForMAC(mac),
			LastSeen: at,
		}
	}

	out := make([]types.ConnectedDevice, 0, len(byIP))
	for _, d := range byIP {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

func normalizeMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}

// lookupBudget caps reverse lookups per snapshot. The resolver caches
// answers, so a large network fills in over a few ticks instead of stalling
// one tick behind hundreds of queries.
const lookupBudget = 64

// resolveHostnames fills the hostname of rows ARP and DHCP left unnamed via
// reverse DNS. Does nothing without a configured resolver.
func (c *Collector) resolveHostnames(ctx context.Context, snapshot []types.ConnectedDevice) {
	if c.resolver == nil {
		return
	}
	budget := lookupBudget
	for i := range snapshot {
		if snapshot[i].Hostname != "" {
			continue
		}
		if budget == 0 || ctx.Err() != nil {
			return
		}
		budget--
		snapshot[i].Hostname = c.resolver.ReverseLookup(ctx, snapshot[i].IP)
	}
}

// rememberHosts caches a snapshot's ip -> hostname mapping for flow
// enrichment. The cache is cold after a restart until the first snapshot.
func (c *Collector) rememberHosts(deviceID string, snapshot []types.ConnectedDevice) {
	hosts := make(map[string]string, len(snapshot))
	for _, d := range snapshot {
		if d.Hostname != "" {
			hosts[d.IP] = d.Hostname
		}
	}
	c.mu.Lock()
	c.hosts[deviceID] = hosts
	c.mu.Unlock()
}

func (c *Collector) hostnameFor(deviceID, ip string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hosts[deviceID][ip]
}
