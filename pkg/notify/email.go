package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/panfm/panfm/pkg/config"
	"github.com/panfm/panfm/pkg/types"
)

const smtpDialTimeout = 10 * time.Second

type emailChannel struct {
	cfg config.SMTPConfig
	on  bool
}

func newEmailChannel(cfg config.SMTPConfig, enabled bool) *emailChannel {
	return &emailChannel{cfg: cfg, on: enabled}
}

func (c *emailChannel) kind() types.ChannelKind { return types.ChannelEmail }
func (c *emailChannel) enabled() bool           { return c.on }

func (c *emailChannel) send(ctx context.Context, ev Event) error {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	dialer := net.Dialer{Timeout: smtpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if c.cfg.STARTTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: c.cfg.Host}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if c.cfg.Username != "" {
		auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(c.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range c.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildEmail(c.cfg.From, c.cfg.To, ev)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

// buildEmail renders the RFC 5322 message. Deterministic for a given event.
func buildEmail(from string, to []string, ev Event) []byte {
	subject := fmt.Sprintf("[PANfm] %s: %s on %s",
		strings.ToUpper(string(ev.Severity)), ev.MetricType, ev.DeviceName)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", ev.TriggeredAt.UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")

	b.WriteString(ev.Message)
	b.WriteString("\r\n\r\n")
	fmt.Fprintf(&b, "Device:    %s (%s)\r\n", ev.DeviceName, ev.DeviceID)
	fmt.Fprintf(&b, "Metric:    %s\r\n", ev.MetricType)
	fmt.Fprintf(&b, "Value:     %.2f\r\n", ev.ActualValue)
	fmt.Fprintf(&b, "Threshold: %.2f\r\n", ev.ThresholdValue)
	fmt.Fprintf(&b, "Time:      %s\r\n", ev.TriggeredAt.UTC().Format(time.RFC3339))
	return []byte(b.String())
}
