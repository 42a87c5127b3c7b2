package client

import (
	"context"
	"net/url"

	"github.com/panfm/panfm/pkg/types"
)

// FirewallSpec is the write shape for firewall records. On update, zero
// values and nil pointers leave the stored field untouched, so a spec only
// needs the fields being changed.
type FirewallSpec struct {
	Name                string   `json:"name,omitempty"`
	Host                string   `json:"host,omitempty"`
	APIKey              string   `json:"api_key,omitempty"`
	Enabled             *bool    `json:"enabled,omitempty"`
	MonitoredInterfaces []string `json:"monitored_interfaces,omitempty"`
	Group               string   `json:"group,omitempty"`
	VerifyTLS           *bool    `json:"verify_tls,omitempty"`
}

// Firewalls lists the registered fleet. API keys are redacted server-side.
func (c *Client) Firewalls(ctx context.Context) ([]types.Device, error) {
	var resp struct {
		Firewalls []types.Device `json:"firewalls"`
	}
	if err := c.get(ctx, "/api/firewalls", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Firewalls, nil
}

// CreateFirewall registers a new appliance. Name, Host and APIKey are
// required.
func (c *Client) CreateFirewall(ctx context.Context, spec FirewallSpec) (*types.Device, error) {
	var resp struct {
		Firewall types.Device `json:"firewall"`
	}
	if err := c.post(ctx, "/api/firewalls", spec, &resp); err != nil {
		return nil, err
	}
	return &resp.Firewall, nil
}

// UpdateFirewall applies spec to an existing record.
func (c *Client) UpdateFirewall(ctx context.Context, id string, spec FirewallSpec) (*types.Device, error) {
	var resp struct {
		Firewall types.Device `json:"firewall"`
	}
	if err := c.put(ctx, "/api/firewalls/"+url.PathEscape(id), spec, &resp); err != nil {
		return nil, err
	}
	return &resp.Firewall, nil
}

// DeleteFirewall removes a record. Its measurement data stays until cleared
// or aged out.
func (c *Client) DeleteFirewall(ctx context.Context, id string) error {
	return c.del(ctx, "/api/firewalls/"+url.PathEscape(id))
}

// FirewallStatus is a live reachability probe result.
type FirewallStatus struct {
	DeviceID      string        `json:"device_id"`
	Name          string        `json:"name"`
	Reachable     bool          `json:"reachable"`
	Hostname      string        `json:"hostname,omitempty"`
	Model         string        `json:"model,omitempty"`
	SWVersion     string        `json:"sw_version,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds,omitempty"`
	Error         string        `json:"error,omitempty"`
	CheckedAt     types.ISOTime `json:"checked_at"`
}

// FirewallStatus probes one appliance's management plane through the server.
// The server caches results for 30 seconds.
func (c *Client) FirewallStatus(ctx context.Context, id string) (*FirewallStatus, error) {
	var resp struct {
		Firewall FirewallStatus `json:"firewall_status"`
	}
	if err := c.get(ctx, "/api/firewalls/"+url.PathEscape(id)+"/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Firewall, nil
}

// Collect queues an immediate poll for one device. If a request is already
// pending the existing request comes back instead of a duplicate.
func (c *Client) Collect(ctx context.Context, deviceID string) (*types.CollectionRequest, error) {
	var resp struct {
		Request types.CollectionRequest `json:"request"`
	}
	if err := c.post(ctx, "/api/collect/"+url.PathEscape(deviceID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Request, nil
}

// CollectionRequest fetches the state of a queued poll by request id.
func (c *Client) CollectionRequest(ctx context.Context, id string) (*types.CollectionRequest, error) {
	var resp struct {
		Request types.CollectionRequest `json:"request"`
	}
	if err := c.get(ctx, "/api/collect/requests/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Request, nil
}

// ClearDevice deletes all measurement data for one device. The registry
// record survives.
func (c *Client) ClearDevice(ctx context.Context, id string) error {
	return c.post(ctx, "/api/admin/clear-device/"+url.PathEscape(id), nil, nil)
}

// ClearDatabase deletes all measurement data for every device. Registry
// records, alert rules and channels survive.
func (c *Client) ClearDatabase(ctx context.Context) error {
	return c.post(ctx, "/api/admin/clear-database", nil, nil)
}
