package firewall

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
)

// ErrorKind classifies an appliance operation failure.
type ErrorKind string

const (
	// KindTimeout covers deadline expiry on connect or read.
	KindTimeout ErrorKind = "timeout"
	// KindUnreachable covers dial failures, resets and open circuits.
	KindUnreachable ErrorKind = "unreachable"
	// KindAuthFailed covers HTTP 401/403 and PAN-OS invalid-credential
	// responses.
	KindAuthFailed ErrorKind = "auth_failed"
	// KindBadResponse covers malformed XML and status="error" payloads.
	KindBadResponse ErrorKind = "bad_response"
	// KindRateLimited covers HTTP 429 and appliance-signaled backoff.
	KindRateLimited ErrorKind = "rate_limited"
)

// OpError is the typed failure returned by every Client operation. Callers
// branch on Kind; the wrapped cause is kept for logs.
type OpError struct {
	Kind ErrorKind
	Op   string // the operation, e.g. "system-info"
	Host string
	Err  error
}

func (e *OpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Host, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Host, e.Op, e.Kind)
}

func (e *OpError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same request could succeed.
// Auth failures, malformed responses and rate limiting are never retried
// within a collection tick.
func (e *OpError) Transient() bool {
	return e.Kind == KindTimeout || e.Kind == KindUnreachable
}

// KindOf extracts the failure kind from any error chain, defaulting to
// BadResponse for non-operation errors.
func KindOf(err error) ErrorKind {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return KindBadResponse
}

// classifyTransport maps a transport-level error to a failure kind.
func classifyTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return KindTimeout
	}

	return KindUnreachable
}
