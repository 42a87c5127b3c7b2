package client

import (
	"context"
	"net/url"

	"github.com/panfm/panfm/pkg/types"
)

// NotificationChannels lists the configured delivery channels, config
// included.
func (c *Client) NotificationChannels(ctx context.Context) ([]types.NotificationChannel, error) {
	var resp struct {
		Channels []types.NotificationChannel `json:"channels"`
	}
	if err := c.get(ctx, "/api/notifications/channels", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

// CreateNotificationChannel stores a new delivery channel and hot-reloads
// the server's dispatcher.
func (c *Client) CreateNotificationChannel(ctx context.Context, ch types.NotificationChannel) (*types.NotificationChannel, error) {
	var resp struct {
		Channel types.NotificationChannel `json:"channel"`
	}
	if err := c.post(ctx, "/api/notifications/channels", ch, &resp); err != nil {
		return nil, err
	}
	return &resp.Channel, nil
}

// UpdateNotificationChannel replaces the channel with ch.ID wholesale.
func (c *Client) UpdateNotificationChannel(ctx context.Context, ch types.NotificationChannel) (*types.NotificationChannel, error) {
	var resp struct {
		Channel types.NotificationChannel `json:"channel"`
	}
	if err := c.put(ctx, "/api/notifications/channels/"+url.PathEscape(ch.ID), ch, &resp); err != nil {
		return nil, err
	}
	return &resp.Channel, nil
}

// DeleteNotificationChannel removes a delivery channel.
func (c *Client) DeleteNotificationChannel(ctx context.Context, id string) error {
	return c.del(ctx, "/api/notifications/channels/"+url.PathEscape(id))
}

// TestNotificationChannel sends a synthetic test notification through the
// named channel and reports the delivery outcome.
func (c *Client) TestNotificationChannel(ctx context.Context, name string) error {
	return c.post(ctx, "/api/notifications/channels/"+url.PathEscape(name)+"/test", nil, nil)
}

// ReloadNotificationChannels folds channel rows edited outside the API into
// the server's dispatcher.
func (c *Client) ReloadNotificationChannels(ctx context.Context) error {
	return c.post(ctx, "/api/notifications/reload", nil, nil)
}
