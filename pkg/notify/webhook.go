package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/panfm/panfm/pkg/types"
)

const webhookTimeout = 10 * time.Second

type webhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
	on      bool
}

func newWebhookChannel(url string, headers map[string]string, enabled bool) *webhookChannel {
	return &webhookChannel{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: webhookTimeout},
		on:      enabled,
	}
}

func (c *webhookChannel) kind() types.ChannelKind { return types.ChannelWebhook }
func (c *webhookChannel) enabled() bool           { return c.on }

func (c *webhookChannel) send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "panfm")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
