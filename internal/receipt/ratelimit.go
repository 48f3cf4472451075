package receipt

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	rateLimiterClients = 10_000
	rateLimiterIdle    = time.Hour
)

// RateLimit configures per-client request limits. A zero PerSecond disables limiting.
type RateLimit struct {
	PerSecond float64
	Burst     int

	// TrustedProxies lists the proxies whose X-Forwarded-For header is honoured.
	// Without it the limiter keys on the connection's remote address only.
	TrustedProxies []netip.Prefix
}

// ParseTrustedProxies parses a comma separated list of IPs or CIDR prefixes
func ParseTrustedProxies(s string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			prefix, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("parsing trusted proxy %q: %w", part, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("parsing trusted proxy %q: %w", part, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// ipRateLimiter keeps one token bucket per client IP. A bucket is dropped an
// hour after it was created, or earlier when the cache is full.
type ipRateLimiter struct {
	limit   rate.Limit
	burst   int
	trusted []netip.Prefix

	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
}

func newIPRateLimiter(cfg RateLimit) *ipRateLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &ipRateLimiter{
		limit:    rate.Limit(cfg.PerSecond),
		burst:    burst,
		trusted:  cfg.TrustedProxies,
		limiters: expirable.NewLRU[string, *rate.Limiter](rateLimiterClients, nil, rateLimiterIdle),
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	return l.bucket(ip).Allow()
}

// bucket returns the limiter for ip, creating it once under the lock
func (l *ipRateLimiter) bucket(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(ip, limiter)
	}
	return limiter
}

func (l *ipRateLimiter) clientIP(r *http.Request) string {
	return clientIP(r, l.trusted)
}

// clientIP returns the remote address of r. When that address is a trusted
// proxy, X-Forwarded-For is walked from the right and the first hop that is
// not itself a trusted proxy wins.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	remote := remoteHost(r.RemoteAddr)
	if !isTrusted(remote, trusted) {
		return remote
	}

	var hops []string
	for _, header := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(header, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if _, err := netip.ParseAddr(hops[i]); err != nil {
			// Garbage in the chain; stop at the last hop we could vouch for
			return remote
		}
		if !isTrusted(hops[i], trusted) {
			return hops[i]
		}
		remote = hops[i]
	}
	return remote
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]")
	}
	return host
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
