// Package dns resolves client IP addresses to hostnames via reverse (PTR)
// lookups. The collector uses it to name connected devices that neither the
// appliance's ARP table nor its DHCP leases could name.
//
// Answers are cached: a home or branch network shows the same few dozen
// clients on every snapshot, so without a cache every tick would replay the
// same queries against the upstream resolver. Misses are cached too, on a
// shorter TTL, because most RFC 1918 addresses have no PTR record at all.
package dns

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/panfm/panfm/pkg/log"
)

// DefaultUpstream is the fallback resolver when /etc/resolv.conf is
// unreadable or names no servers.
const DefaultUpstream = "8.8.8.8:53"

const (
	queryTimeout = 2 * time.Second

	positiveTTL = time.Hour
	negativeTTL = 15 * time.Minute

	// maxCacheEntries bounds the cache against a device that churns
	// through addresses, e.g. a guest VLAN with short leases.
	maxCacheEntries = 4096
)

type cacheEntry struct {
	hostname string
	expires  time.Time
}

// Resolver answers reverse lookups through the configured upstream servers,
// with a TTL cache in front. Safe for concurrent use.
type Resolver struct {
	client   *dns.Client
	upstream []string
	logger   zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

// NewResolver builds a resolver against the given upstream servers
// (host:port). An empty list takes the system resolvers from
// /etc/resolv.conf, falling back to DefaultUpstream.
func NewResolver(upstream []string) *Resolver {
	if len(upstream) == 0 {
		upstream = systemUpstream()
	}
	return &Resolver{
		client:   &dns.Client{Net: "udp", Timeout: queryTimeout},
		upstream: upstream,
		logger:   log.WithComponent("dns"),
		cache:    make(map[string]cacheEntry),
		now:      time.Now,
	}
}

func systemUpstream() []string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return []string{DefaultUpstream}
	}
	servers := make([]string, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		servers = append(servers, net.JoinHostPort(s, conf.Port))
	}
	return servers
}

// ReverseLookup resolves ip to a hostname, without the trailing dot. An
// address that cannot be resolved returns "": lookup failures, NXDOMAIN and
// malformed input are all worth the same to the caller, an unnamed row.
func (r *Resolver) ReverseLookup(ctx context.Context, ip string) string {
	if ip == "" {
		return ""
	}
	if name, ok := r.cached(ip); ok {
		return name
	}
	name := r.query(ctx, ip)
	r.remember(ip, name)
	return name
}

func (r *Resolver) cached(ip string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[ip]
	if !ok || r.now().After(e.expires) {
		return "", false
	}
	return e.hostname, true
}

func (r *Resolver) remember(ip, hostname string) {
	ttl := positiveTTL
	if hostname == "" {
		ttl = negativeTTL
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache) >= maxCacheEntries {
		r.evictExpired()
	}
	r.cache[ip] = cacheEntry{hostname: hostname, expires: r.now().Add(ttl)}
}

// evictExpired drops stale entries; when nothing is stale the cache is
// cleared wholesale. Caller holds r.mu.
func (r *Resolver) evictExpired() {
	now := r.now()
	dropped := 0
	for ip, e := range r.cache {
		if now.After(e.expires) {
			delete(r.cache, ip)
			dropped++
		}
	}
	if dropped == 0 {
		r.cache = make(map[string]cacheEntry)
	}
}

func (r *Resolver) query(ctx context.Context, ip string) string {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		r.logger.Debug().Err(err).Str("ip", ip).Msg("Address not eligible for PTR lookup")
		return ""
	}

	m := &dns.Msg{}
	m.SetQuestion(arpa, dns.TypePTR)

	for _, upstream := range r.upstream {
		resp, _, err := r.client.ExchangeContext(ctx, m, upstream)
		if err != nil {
			r.logger.Debug().Err(err).
				Str("upstream", upstream).
				Str("ip", ip).
				Msg("PTR query failed")
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			return ""
		}
		for _, ans := range resp.Answer {
			if ptr, ok := ans.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, ".")
			}
		}
		return ""
	}
	return ""
}
