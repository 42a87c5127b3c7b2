package client

import (
	"context"
	"net/url"
	"strconv"

	"github.com/panfm/panfm/pkg/types"
)

// AlertConfigs lists every alert rule, enabled or not.
func (c *Client) AlertConfigs(ctx context.Context) ([]types.AlertConfig, error) {
	var resp struct {
		Configs []types.AlertConfig `json:"configs"`
	}
	if err := c.get(ctx, "/api/alerts/configs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Configs, nil
}

// CreateAlertConfig stores a new alert rule. The ID is assigned server-side.
func (c *Client) CreateAlertConfig(ctx context.Context, cfg types.AlertConfig) (*types.AlertConfig, error) {
	var resp struct {
		Config types.AlertConfig `json:"config"`
	}
	if err := c.post(ctx, "/api/alerts/configs", cfg, &resp); err != nil {
		return nil, err
	}
	return &resp.Config, nil
}

// UpdateAlertConfig replaces the rule with cfg.ID wholesale.
func (c *Client) UpdateAlertConfig(ctx context.Context, cfg types.AlertConfig) (*types.AlertConfig, error) {
	var resp struct {
		Config types.AlertConfig `json:"config"`
	}
	if err := c.put(ctx, "/api/alerts/configs/"+url.PathEscape(cfg.ID), cfg, &resp); err != nil {
		return nil, err
	}
	return &resp.Config, nil
}

// DeleteAlertConfig removes a rule. Fired history rows survive.
func (c *Client) DeleteAlertConfig(ctx context.Context, id string) error {
	return c.del(ctx, "/api/alerts/configs/"+url.PathEscape(id))
}

// AlertHistoryQuery filters the fired-alert history. Zero values are
// unfiltered.
type AlertHistoryQuery struct {
	DeviceID     string
	Severity     types.AlertSeverity
	Acknowledged *bool
	Range        string
	Limit        int
}

// AlertHistory returns fired alerts, newest first.
func (c *Client) AlertHistory(ctx context.Context, q AlertHistoryQuery) ([]types.AlertHistoryEntry, error) {
	vals := url.Values{}
	if q.DeviceID != "" {
		vals.Set("device_id", q.DeviceID)
	}
	if q.Severity != "" {
		vals.Set("severity", string(q.Severity))
	}
	if q.Acknowledged != nil {
		vals.Set("acknowledged", strconv.FormatBool(*q.Acknowledged))
	}
	if q.Range != "" {
		vals.Set("range", q.Range)
	}
	if q.Limit > 0 {
		vals.Set("limit", strconv.Itoa(q.Limit))
	}
	var resp struct {
		Alerts []types.AlertHistoryEntry `json:"alerts"`
	}
	if err := c.get(ctx, "/api/alerts/history", vals, &resp); err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}

// AcknowledgeAlert marks a fired alert as seen. by names the operator and
// may be empty.
func (c *Client) AcknowledgeAlert(ctx context.Context, id int64, by string) error {
	var body any
	if by != "" {
		body = map[string]string{"acknowledged_by": by}
	}
	return c.post(ctx, "/api/alerts/history/"+strconv.FormatInt(id, 10)+"/acknowledge", body, nil)
}

// ResolveAlert marks a fired alert as resolved.
func (c *Client) ResolveAlert(ctx context.Context, id int64) error {
	return c.post(ctx, "/api/alerts/history/"+strconv.FormatInt(id, 10)+"/resolve", nil, nil)
}

// MaintenanceWindows lists the configured alert suppression windows.
func (c *Client) MaintenanceWindows(ctx context.Context) ([]types.MaintenanceWindow, error) {
	var resp struct {
		Windows []types.MaintenanceWindow `json:"windows"`
	}
	if err := c.get(ctx, "/api/alerts/maintenance", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Windows, nil
}

// CreateMaintenanceWindow schedules a suppression window. Alerts evaluated
// inside it are recorded but not dispatched.
func (c *Client) CreateMaintenanceWindow(ctx context.Context, win types.MaintenanceWindow) (*types.MaintenanceWindow, error) {
	var resp struct {
		Window types.MaintenanceWindow `json:"window"`
	}
	if err := c.post(ctx, "/api/alerts/maintenance", win, &resp); err != nil {
		return nil, err
	}
	return &resp.Window, nil
}

// UpdateMaintenanceWindow replaces the window with win.ID wholesale.
func (c *Client) UpdateMaintenanceWindow(ctx context.Context, win types.MaintenanceWindow) (*types.MaintenanceWindow, error) {
	var resp struct {
		Window types.MaintenanceWindow `json:"window"`
	}
	if err := c.put(ctx, "/api/alerts/maintenance/"+url.PathEscape(win.ID), win, &resp); err != nil {
		return nil, err
	}
	return &resp.Window, nil
}

// DeleteMaintenanceWindow removes a suppression window.
func (c *Client) DeleteMaintenanceWindow(ctx context.Context, id string) error {
	return c.del(ctx, "/api/alerts/maintenance/"+url.PathEscape(id))
}
