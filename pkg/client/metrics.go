package client

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/panfm/panfm/pkg/types"
)

// CurrentSample returns the newest sample for a device, or nil when the
// device has never been polled.
func (c *Client) CurrentSample(ctx context.Context, deviceID string) (*types.Sample, error) {
	var resp struct {
		Sample *types.Sample `json:"sample"`
	}
	q := url.Values{"device_id": {deviceID}}
	if err := c.get(ctx, "/api/throughput/current", q, &resp); err != nil {
		return nil, err
	}
	return resp.Sample, nil
}

// History returns samples for the named range ("1h", "24h", "7d", ...),
// oldest first. resolution may be empty for the server's automatic choice.
func (c *Client) History(ctx context.Context, deviceID, rng string, resolution types.Resolution) ([]types.Sample, error) {
	q := url.Values{"device_id": {deviceID}}
	if rng != "" {
		q.Set("range", rng)
	}
	if resolution != "" {
		q.Set("resolution", string(resolution))
	}
	var resp struct {
		Samples []types.Sample `json:"samples"`
	}
	if err := c.get(ctx, "/api/throughput/history", q, &resp); err != nil {
		return nil, err
	}
	return resp.Samples, nil
}

// TopOptions filters the top-N analytics endpoints. Zero values take the
// server defaults: the last hour, total traffic, the configured top_n.
type TopOptions struct {
	Range string
	Type  types.TrafficType
	Limit int
}

func (o TopOptions) query(deviceID string) url.Values {
	q := url.Values{"device_id": {deviceID}}
	if o.Range != "" {
		q.Set("range", o.Range)
	}
	if o.Type != "" {
		q.Set("type", string(o.Type))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	return q
}

// TopCategories returns the heaviest URL categories by bandwidth.
func (c *Client) TopCategories(ctx context.Context, deviceID string, opts TopOptions) ([]types.CategoryBandwidth, error) {
	var resp struct {
		Categories []types.CategoryBandwidth `json:"categories"`
	}
	if err := c.get(ctx, "/api/categories/top", opts.query(deviceID), &resp); err != nil {
		return nil, err
	}
	return resp.Categories, nil
}

// TopClients returns the heaviest client IPs by bandwidth.
func (c *Client) TopClients(ctx context.Context, deviceID string, opts TopOptions) ([]types.ClientBandwidth, error) {
	var resp struct {
		Clients []types.ClientBandwidth `json:"clients"`
	}
	if err := c.get(ctx, "/api/clients/top", opts.query(deviceID), &resp); err != nil {
		return nil, err
	}
	return resp.Clients, nil
}

// TopApplications returns the heaviest applications by session count.
func (c *Client) TopApplications(ctx context.Context, deviceID string, opts TopOptions) ([]types.TopApplication, error) {
	var resp struct {
		Applications []types.TopApplication `json:"applications"`
	}
	if err := c.get(ctx, "/api/applications/top", opts.query(deviceID), &resp); err != nil {
		return nil, err
	}
	return resp.Applications, nil
}

// ConnectedDevices lists the clients currently known behind a firewall,
// filtered by free-text search and annotation tags.
func (c *Client) ConnectedDevices(ctx context.Context, deviceID, search string, tags []string) ([]types.ConnectedDevice, error) {
	q := url.Values{"device_id": {deviceID}}
	if search != "" {
		q.Set("search", search)
	}
	if len(tags) > 0 {
		q.Set("tags", strings.Join(tags, ","))
	}
	var resp struct {
		Devices []types.ConnectedDevice `json:"devices"`
	}
	if err := c.get(ctx, "/api/devices/connected", q, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// ClientFlow is a stored traffic flow decorated with the well-known service
// name of its destination port.
type ClientFlow struct {
	types.TrafficFlow
	Service string `json:"service,omitempty"`
}

// ClientFlows returns the per-destination drill-down for one client IP.
func (c *Client) ClientFlows(ctx context.Context, deviceID, ip, rng string) ([]ClientFlow, error) {
	q := url.Values{"device_id": {deviceID}}
	if rng != "" {
		q.Set("range", rng)
	}
	var resp struct {
		Flows []ClientFlow `json:"flows"`
	}
	if err := c.get(ctx, "/api/devices/connected/"+url.PathEscape(ip)+"/flows", q, &resp); err != nil {
		return nil, err
	}
	return resp.Flows, nil
}

// ThreatLogs returns recent threat log entries, newest first.
func (c *Client) ThreatLogs(ctx context.Context, deviceID, rng string, limit int) ([]types.ThreatLog, error) {
	q := url.Values{"device_id": {deviceID}}
	if rng != "" {
		q.Set("range", rng)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Logs []types.ThreatLog `json:"logs"`
	}
	if err := c.get(ctx, "/api/logs/threats", q, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// SystemLogs returns recent system log entries, newest first.
func (c *Client) SystemLogs(ctx context.Context, deviceID, rng string, limit int) ([]types.SystemLog, error) {
	q := url.Values{"device_id": {deviceID}}
	if rng != "" {
		q.Set("range", rng)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Logs []types.SystemLog `json:"logs"`
	}
	if err := c.get(ctx, "/api/logs/system", q, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// MetadataSpec is the write shape for client annotations. Nil pointers keep
// the stored value; tags always replace the stored set.
type MetadataSpec struct {
	CustomName *string  `json:"custom_name,omitempty"`
	Location   *string  `json:"location,omitempty"`
	Comment    *string  `json:"comment,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// DeviceMetadata lists the client annotations recorded for one firewall.
func (c *Client) DeviceMetadata(ctx context.Context, deviceID string) ([]types.DeviceMetadata, error) {
	var resp struct {
		Metadata []types.DeviceMetadata `json:"metadata"`
	}
	if err := c.get(ctx, "/api/devices/"+url.PathEscape(deviceID)+"/metadata", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Metadata, nil
}

// PutDeviceMetadata upserts the annotation for one client MAC.
func (c *Client) PutDeviceMetadata(ctx context.Context, deviceID, mac string, spec MetadataSpec) (*types.DeviceMetadata, error) {
	var resp struct {
		Metadata types.DeviceMetadata `json:"metadata"`
	}
	path := "/api/devices/" + url.PathEscape(deviceID) + "/metadata/" + url.PathEscape(mac)
	if err := c.put(ctx, path, spec, &resp); err != nil {
		return nil, err
	}
	return &resp.Metadata, nil
}

// DeleteDeviceMetadata removes the annotation for one client MAC.
func (c *Client) DeleteDeviceMetadata(ctx context.Context, deviceID, mac string) error {
	return c.del(ctx, "/api/devices/"+url.PathEscape(deviceID)+"/metadata/"+url.PathEscape(mac))
}
