package dns

import (
	"context"
	"io"
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panfm/panfm/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// startPTRServer runs a DNS server on an ephemeral loopback port answering
// PTR queries from records (keyed by in-addr.arpa name, values fully
// qualified). Anything else gets NXDOMAIN. Returns the server address.
func startPTRServer(t *testing.T, records map[string]string, queries *atomic.Int64) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		if queries != nil {
			queries.Add(1)
		}
		m := &dns.Msg{}
		m.SetReply(r)
		q := r.Question[0]
		if name, ok := records[q.Name]; ok && q.Qtype == dns.TypePTR {
			m.Answer = append(m.Answer, &dns.PTR{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 300},
				Ptr: name,
			})
		} else {
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestReverseLookup(t *testing.T) {
	addr := startPTRServer(t, map[string]string{
		"50.1.168.192.in-addr.arpa.": "nas.home.lan.",
	}, nil)
	r := NewResolver([]string{addr})

	got := r.ReverseLookup(context.Background(), "192.168.1.50")
	assert.Equal(t, "nas.home.lan", got, "trailing dot should be stripped")

	assert.Empty(t, r.ReverseLookup(context.Background(), "192.168.1.99"))
	assert.Empty(t, r.ReverseLookup(context.Background(), ""))
}

func TestReverseLookupCachesAnswers(t *testing.T) {
	var queries atomic.Int64
	addr := startPTRServer(t, map[string]string{
		"50.1.168.192.in-addr.arpa.": "nas.home.lan.",
	}, &queries)
	r := NewResolver([]string{addr})

	for i := 0; i < 3; i++ {
		assert.Equal(t, "nas.home.lan", r.ReverseLookup(context.Background(), "192.168.1.50"))
	}
	assert.Equal(t, int64(1), queries.Load(), "repeat lookups should be served from cache")

	// Misses are cached too.
	for i := 0; i < 3; i++ {
		assert.Empty(t, r.ReverseLookup(context.Background(), "192.168.1.99"))
	}
	assert.Equal(t, int64(2), queries.Load())
}

func TestReverseLookupCacheExpiry(t *testing.T) {
	var queries atomic.Int64
	addr := startPTRServer(t, map[string]string{
		"50.1.168.192.in-addr.arpa.": "nas.home.lan.",
	}, &queries)

	now := time.Now()
	r := NewResolver([]string{addr})
	r.now = func() time.Time { return now }

	require.Equal(t, "nas.home.lan", r.ReverseLookup(context.Background(), "192.168.1.50"))
	require.Empty(t, r.ReverseLookup(context.Background(), "192.168.1.99"))
	require.Equal(t, int64(2), queries.Load())

	// The negative entry expires first.
	now = now.Add(negativeTTL + time.Second)
	assert.Equal(t, "nas.home.lan", r.ReverseLookup(context.Background(), "192.168.1.50"))
	assert.Empty(t, r.ReverseLookup(context.Background(), "192.168.1.99"))
	assert.Equal(t, int64(3), queries.Load())

	now = now.Add(positiveTTL + time.Second)
	assert.Equal(t, "nas.home.lan", r.ReverseLookup(context.Background(), "192.168.1.50"))
	assert.Equal(t, int64(4), queries.Load())
}

func TestReverseLookupInvalidAddress(t *testing.T) {
	var queries atomic.Int64
	addr := startPTRServer(t, nil, &queries)
	r := NewResolver([]string{addr})

	assert.Empty(t, r.ReverseLookup(context.Background(), "not-an-ip"))
	assert.Equal(t, int64(0), queries.Load(), "malformed input should never reach the upstream")
}

func TestReverseLookupUpstreamFallback(t *testing.T) {
	// A socket that is opened and immediately closed gives a dead first
	// upstream on a port nothing listens on.
	dead, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.LocalAddr().String()
	require.NoError(t, dead.Close())

	addr := startPTRServer(t, map[string]string{
		"50.1.168.192.in-addr.arpa.": "nas.home.lan.",
	}, nil)

	r := NewResolver([]string{deadAddr, addr})
	r.client.Timeout = 250 * time.Millisecond

	assert.Equal(t, "nas.home.lan", r.ReverseLookup(context.Background(), "192.168.1.50"))
}

func TestNewResolverDefaultsUpstream(t *testing.T) {
	r := NewResolver(nil)
	require.NotEmpty(t, r.upstream, "resolver must always have at least one upstream")
	for _, u := range r.upstream {
		_, _, err := net.SplitHostPort(u)
		assert.NoError(t, err, "upstream %q should be host:port", u)
	}
}

func TestEvictExpiredResetsWhenNothingStale(t *testing.T) {
	r := NewResolver([]string{"127.0.0.1:1"})
	now := time.Now()
	r.now = func() time.Time { return now }

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		r.remember(ip, "host-"+ip)
	}
	r.mu.Lock()
	r.evictExpired()
	live := len(r.cache)
	r.mu.Unlock()
	assert.Zero(t, live, "a cache with no stale entries is cleared wholesale")

	r.remember("10.0.0.1", "fresh")
	r.remember("10.0.0.2", "")
	now = now.Add(negativeTTL + time.Second)
	r.mu.Lock()
	r.evictExpired()
	live = len(r.cache)
	r.mu.Unlock()
	assert.Equal(t, 1, live, "only the expired negative entry is dropped")
}
