package firewall

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/panfm/panfm/pkg/log"
)

// maxResponseBytes caps how much of an appliance response we will buffer.
const maxResponseBytes = 32 << 20

// Retry pacing, overridable in tests.
var (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 2 * time.Second
)

// PanOS talks to one appliance over its XML management API.
type PanOS struct {
	host      string
	apiKey    string
	monitored map[string]bool
	baseURL   string

	httpClient     *http.Client
	downloadClient *http.Client
	breaker        *gobreaker.CircuitBreaker
	logger         zerolog.Logger
	now            func() time.Time

	mu   sync.Mutex
	prev *counterSnapshot
}

var _ Client = (*PanOS)(nil)

// NewPanOS builds a client for one appliance. The circuit breaker opens
// after 5 consecutive transport failures and half-opens after 60s, so a
// dead appliance costs one fast-failed call per collection tick instead of
// a full timeout per operation.
func NewPanOS(cfg Config) *PanOS {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = defaultConnectTimeout
	}
	read := cfg.ReadTimeout
	if read <= 0 {
		read = defaultReadTimeout
	}
	download := cfg.DownloadTimeout
	if download <= 0 {
		download = defaultDownloadTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connect,
		}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
		TLSClientConfig: &tls.Config{
			// Management interfaces ship with self-signed certificates;
			// verification is opt-in per device.
			InsecureSkipVerify: !cfg.VerifyTLS, //nolint:gosec
		},
	}

	var monitored map[string]bool
	if len(cfg.MonitoredInterfaces) > 0 {
		monitored = make(map[string]bool, len(cfg.MonitoredInterfaces))
		for _, name := range cfg.MonitoredInterfaces {
			monitored[name] = true
		}
	}

	p := &PanOS{
		host:      cfg.Host,
		apiKey:    cfg.APIKey,
		monitored: monitored,
		baseURL:   "https://" + cfg.Host + "/api/",
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   read,
		},
		downloadClient: &http.Client{
			Transport: transport,
			Timeout:   download,
		},
		logger: log.WithComponent("firewall").With().Str("host", cfg.Host).Logger(),
		now:    time.Now,
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Host,
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Auth, schema and rate-limit errors prove the appliance is
		// reachable; only transport failures count toward opening.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var opErr *OpError
			return errors.As(err, &opErr) && !opErr.Transient()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return p
}

// envelope is the outer shape shared by every API response.
type envelope struct {
	XMLName xml.Name `xml:"response"`
	Status  string   `xml:"status,attr"`
	Code    string   `xml:"code,attr"`
	Msg     struct {
		Text  string   `xml:",chardata"`
		Lines []string `xml:"line"`
	} `xml:"msg"`
	ResultMsg string `xml:"result>msg"`
}

func (e envelope) message() string {
	if len(e.Msg.Lines) > 0 {
		return strings.Join(e.Msg.Lines, "; ")
	}
	if s := strings.TrimSpace(e.Msg.Text); s != "" {
		return s
	}
	return strings.TrimSpace(e.ResultMsg)
}

// opCmd performs a type=op command and decodes the response into out.
func (p *PanOS) opCmd(ctx context.Context, name, cmd string, out any) error {
	params := url.Values{}
	params.Set("type", "op")
	params.Set("cmd", cmd)
	return p.call(ctx, name, params, false, out)
}

// call runs one logical API operation: breaker, bounded retries, envelope
// validation, then decoding into out (which may be nil for submit-style
// calls whose envelope is checked by the caller).
func (p *PanOS) call(ctx context.Context, name string, params url.Values, download bool, out any) error {
	params.Set("key", p.apiKey)

	res, err := p.breaker.Execute(func() (any, error) {
		return p.getWithRetry(ctx, name, params, download)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &OpError{Kind: KindUnreachable, Op: name, Host: p.host, Err: err}
		}
		return err
	}

	body := res.([]byte)

	var env envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return &OpError{Kind: KindBadResponse, Op: name, Host: p.host, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if env.Status == "error" {
		return p.classifyAPIError(name, env)
	}

	if out != nil {
		if err := xml.Unmarshal(body, out); err != nil {
			return &OpError{Kind: KindBadResponse, Op: name, Host: p.host, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}

// getWithRetry retries transient transport failures up to retryAttempts
// times with exponential backoff and jitter. Auth, schema and rate-limit
// failures are permanent within a tick.
func (p *PanOS) getWithRetry(ctx context.Context, name string, params url.Values, download bool) ([]byte, error) {
	var body []byte

	attempt := func() error {
		b, err := p.get(ctx, name, params, download)
		if err != nil {
			var opErr *OpError
			if errors.As(err, &opErr) && opErr.Transient() {
				p.logger.Debug().Err(err).Str("op", name).Msg("transient failure, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		body = b
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, retryAttempts), ctx))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// get performs a single HTTP GET against the management API.
func (p *PanOS) get(ctx context.Context, name string, params url.Values, download bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &OpError{Kind: KindBadResponse, Op: name, Host: p.host, Err: err}
	}

	client := p.httpClient
	if download {
		client = p.downloadClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &OpError{Kind: classifyTransport(err), Op: name, Host: p.host, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &OpError{Kind: KindAuthFailed, Op: name, Host: p.host, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &OpError{Kind: KindRateLimited, Op: name, Host: p.host, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &OpError{Kind: KindBadResponse, Op: name, Host: p.host, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &OpError{Kind: classifyTransport(err), Op: name, Host: p.host, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// classifyAPIError maps a status="error" envelope onto a failure kind.
func (p *PanOS) classifyAPIError(name string, env envelope) *OpError {
	msg := env.message()
	cause := fmt.Errorf("appliance error code=%q: %s", env.Code, msg)

	lower := strings.ToLower(msg)
	switch {
	case env.Code == "403" || strings.Contains(lower, "invalid credential") || strings.Contains(lower, "unauthorized"):
		return &OpError{Kind: KindAuthFailed, Op: name, Host: p.host, Err: cause}
	case env.Code == "429" || strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return &OpError{Kind: KindRateLimited, Op: name, Host: p.host, Err: cause}
	default:
		return &OpError{Kind: KindBadResponse, Op: name, Host: p.host, Err: cause}
	}
}

// counterSnapshot is the interface counter state one Throughput call leaves
// behind for the next delta.
type counterSnapshot struct {
	at         time.Time
	bytesIn    int64
	bytesOut   int64
	packetsIn  int64
	packetsOut int64
	errors     int64
}
