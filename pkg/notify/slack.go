package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/panfm/panfm/pkg/types"
)

type slackChannel struct {
	url    string
	client *http.Client
	on     bool
}

func newSlackChannel(url string, enabled bool) *slackChannel {
	return &slackChannel{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		on:     enabled,
	}
}

func (c *slackChannel) kind() types.ChannelKind { return types.ChannelSlack }
func (c *slackChannel) enabled() bool           { return c.on }

func (c *slackChannel) send(ctx context.Context, ev Event) error {
	msg := &slack.WebhookMessage{
		Attachments: []slack.Attachment{{
			Color: severityColor(ev.Severity),
			Title: fmt.Sprintf("%s on %s", ev.MetricType, ev.DeviceName),
			Text:  ev.Message,
			Fields: []slack.AttachmentField{
				{Title: "Device", Value: ev.DeviceName, Short: true},
				{Title: "Severity", Value: string(ev.Severity), Short: true},
				{Title: "Value", Value: fmt.Sprintf("%.2f", ev.ActualValue), Short: true},
				{Title: "Threshold", Value: fmt.Sprintf("%.2f", ev.ThresholdValue), Short: true},
			},
			Ts: json.Number(fmt.Sprintf("%d", ev.TriggeredAt.Unix())),
		}},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, c.url, c.client, msg); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}

func severityColor(s types.AlertSeverity) string {
	switch s {
	case types.SeverityCritical:
		return "danger"
	case types.SeverityWarning:
		return "warning"
	default:
		return "#439fe0"
	}
}
