package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panfm/panfm/pkg/config"
	"github.com/panfm/panfm/pkg/log"
	"github.com/panfm/panfm/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: "debug", JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type fakeSource struct {
	rows []types.NotificationChannel
	err  error
}

func (f *fakeSource) NotificationChannels(context.Context) ([]types.NotificationChannel, error) {
	return f.rows, f.err
}

func sampleEvent() Event {
	return Event{
		DeviceID:       "dev-1",
		DeviceName:     "edge-fw",
		MetricType:     "cpu",
		Severity:       types.SeverityCritical,
		ActualValue:    97.3,
		ThresholdValue: 90,
		Message:        "CRITICAL alert for edge-fw: cpu is 97.3 (threshold: > 90.0)",
		TriggeredAt:    time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
	}
}

func webhookRow(name, url string, enabled bool) types.NotificationChannel {
	cfg, _ := json.Marshal(map[string]any{
		"url":     url,
		"headers": map[string]string{"X-Auth": "sekrit"},
	})
	return types.NotificationChannel{
		ID:      "ch-" + name,
		Kind:    types.ChannelWebhook,
		Name:    name,
		Config:  cfg,
		Enabled: enabled,
	}
}

func TestDispatchWebhook(t *testing.T) {
	var gotBody []byte
	var gotAuth, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotAuth = r.Header.Get("X-Auth")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(&fakeSource{rows: []types.NotificationChannel{webhookRow("ops", srv.URL, true)}}, &config.Config{})
	require.NoError(t, d.Reload(context.Background()))

	results := d.Dispatch(context.Background(), []string{"ops"}, sampleEvent())
	require.Len(t, results, 1)
	assert.True(t, results["ops"].Enabled)
	assert.True(t, results["ops"].Sent)
	assert.Empty(t, results["ops"].Error)

	assert.Equal(t, "sekrit", gotAuth)
	assert.Equal(t, "application/json", gotContentType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "dev-1", payload["device_id"])
	assert.Equal(t, "cpu", payload["metric_type"])
	assert.Equal(t, "critical", payload["severity"])
	assert.InDelta(t, 97.3, payload["actual_value"].(float64), 1e-9)
	assert.Equal(t, "2026-03-14T10:30:00Z", payload["triggered_at"])
}

func TestDispatchWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(&fakeSource{rows: []types.NotificationChannel{webhookRow("ops", srv.URL, true)}}, &config.Config{})
	require.NoError(t, d.Reload(context.Background()))

	results := d.Dispatch(context.Background(), []string{"ops"}, sampleEvent())
	assert.True(t, results["ops"].Enabled)
	assert.False(t, results["ops"].Sent)
	assert.Contains(t, results["ops"].Error, "status 500")
}

func TestDispatchUnknownChannel(t *testing.T) {
	d := New(nil, &config.Config{})
	results := d.Dispatch(context.Background(), []string{"ghost"}, sampleEvent())
	require.Len(t, results, 1)
	assert.False(t, results["ghost"].Enabled)
	assert.False(t, results["ghost"].Sent)
	assert.Equal(t, "unknown channel", results["ghost"].Error)
}

func TestDispatchDisabledChannel(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(&fakeSource{rows: []types.NotificationChannel{webhookRow("ops", srv.URL, false)}}, &config.Config{})
	require.NoError(t, d.Reload(context.Background()))

	results := d.Dispatch(context.Background(), []string{"ops"}, sampleEvent())
	assert.False(t, results["ops"].Enabled)
	assert.False(t, results["ops"].Sent)
	assert.Equal(t, int32(0), calls.Load())
}

func TestDispatchAllChannelsWhenUnnamed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(nil, &config.Config{WebhookURL: srv.URL})
	results := d.Dispatch(context.Background(), nil, sampleEvent())
	require.Len(t, results, 1)
	assert.True(t, results["webhook"].Sent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnvChannels(t *testing.T) {
	cfg := &config.Config{
		SMTP: config.SMTPConfig{
			Host: "mail.internal",
			Port: 587,
			From: "panfm@example.com",
			To:   []string{"noc@example.com"},
		},
		WebhookURL:      "https://hooks.internal/panfm",
		SlackWebhookURL: "https://hooks.slack.com/services/T0/B0/x",
	}
	d := New(nil, cfg)
	assert.Equal(t, []string{"email", "slack", "webhook"}, d.ChannelNames())
}

func TestReloadSkipsMisconfigured(t *testing.T) {
	rows := []types.NotificationChannel{
		{ID: "b1", Kind: types.ChannelWebhook, Name: "broken", Config: []byte(`{`), Enabled: true},
		{ID: "b2", Kind: types.ChannelWebhook, Name: "empty", Config: []byte(`{}`), Enabled: true},
		{ID: "b3", Kind: "pager", Name: "pager", Config: []byte(`{}`), Enabled: true},
		webhookRow("good", "https://hooks.internal/ok", true),
	}
	d := New(&fakeSource{rows: rows}, &config.Config{})
	require.NoError(t, d.Reload(context.Background()))
	assert.Equal(t, []string{"good"}, d.ChannelNames())
}

func TestReloadOverlaysEnvChannels(t *testing.T) {
	cfg := &config.Config{WebhookURL: "https://hooks.internal/env"}
	d := New(&fakeSource{rows: []types.NotificationChannel{
		webhookRow("ops", "https://hooks.internal/ops", true),
	}}, cfg)
	require.NoError(t, d.Reload(context.Background()))
	assert.Equal(t, []string{"ops", "webhook"}, d.ChannelNames())
}

func TestTestChannelBypassesDisabled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(&fakeSource{rows: []types.NotificationChannel{webhookRow("ops", srv.URL, false)}}, &config.Config{})
	require.NoError(t, d.Reload(context.Background()))

	require.NoError(t, d.TestChannel(context.Background(), "ops"))
	assert.Equal(t, int32(1), calls.Load())

	assert.Error(t, d.TestChannel(context.Background(), "ghost"))
}

func TestSlackChannelPayload(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := newSlackChannel(srv.URL, true)
	require.NoError(t, ch.send(context.Background(), sampleEvent()))

	var payload struct {
		Attachments []struct {
			Color  string `json:"color"`
			Title  string `json:"title"`
			Text   string `json:"text"`
			Fields []struct {
				Title string `json:"title"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Len(t, payload.Attachments, 1)
	att := payload.Attachments[0]
	assert.Equal(t, "danger", att.Color)
	assert.Equal(t, "cpu on edge-fw", att.Title)
	assert.Contains(t, att.Text, "CRITICAL alert for edge-fw")
	require.Len(t, att.Fields, 4)
	assert.Equal(t, "97.30", att.Fields[2].Value)
}

func TestSeverityColor(t *testing.T) {
	assert.Equal(t, "danger", severityColor(types.SeverityCritical))
	assert.Equal(t, "warning", severityColor(types.SeverityWarning))
	assert.Equal(t, "#439fe0", severityColor(types.SeverityInfo))
}

func TestBuildEmail(t *testing.T) {
	msg := string(buildEmail("panfm@example.com", []string{"noc@example.com", "oncall@example.com"}, sampleEvent()))

	assert.True(t, strings.HasPrefix(msg, "From: panfm@example.com\r\n"))
	assert.Contains(t, msg, "To: noc@example.com, oncall@example.com\r\n")
	assert.Contains(t, msg, "Subject: [PANfm] CRITICAL: cpu on edge-fw\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=utf-8\r\n")
	assert.Contains(t, msg, "CRITICAL alert for edge-fw: cpu is 97.3 (threshold: > 90.0)")
	assert.Contains(t, msg, "Device:    edge-fw (dev-1)")
	assert.Contains(t, msg, "Value:     97.30")
	assert.Contains(t, msg, "Threshold: 90.00")
	assert.Contains(t, msg, "Time:      2026-03-14T10:30:00Z")

	// Header block and body are separated by one blank line.
	assert.Contains(t, msg, "charset=utf-8\r\n\r\nCRITICAL")
}
