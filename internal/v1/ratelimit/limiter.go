// Package ratelimit implements per-IP rate limiting for the public endpoints.
//
// Limiting is per-replica: each instance keeps its own token buckets, so with
// N replicas behind a load balancer the effective limit per IP is N times the
// configured rate. That still caps bursts per replica, which is what the
// limiter is for.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/serenada/signaling/internal/v1/metrics"
)

// visitorIdle is how long an IP may go unseen before its bucket is evicted.
const visitorIdle = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per client IP. IPs on the bypass list are
// never limited, which keeps health probes and trusted frontends out of the
// buckets entirely.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	bypass   bypassList

	done      chan struct{}
	closeOnce sync.Once
}

// NewLimiter creates a limiter allowing rps requests per second with a burst
// of burst per IP. bypass entries may be "*", exact IPs, or CIDR blocks.
// A janitor goroutine evicts idle buckets until Close is called.
func NewLimiter(rps float64, burst int, bypass []string) *Limiter {
	l := &Limiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		bypass:   newBypassList(bypass),
		done:     make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request from ip may proceed.
func (l *Limiter) Allow(ip string) bool {
	if l.bypass.contains(ip) {
		return true
	}

	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()

	return v.limiter.Allow()
}

// Middleware returns a gin middleware enforcing the limit. endpoint labels
// the rejection counter so operators can see which surface is being hammered.
func (l *Limiter) Middleware(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		metrics.RateLimited.WithLabelValues(endpoint).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	}
}

// Close stops the janitor goroutine.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(visitorIdle)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep(time.Now().Add(-visitorIdle))
		}
	}
}

// sweep drops buckets not seen since cutoff.
func (l *Limiter) sweep(cutoff time.Time) {
	l.mu.Lock()
	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
		}
	}
	l.mu.Unlock()
}

func (l *Limiter) visitorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// bypassList is the parsed RATE_LIMIT_BYPASS_IPS configuration.
type bypassList struct {
	all   bool
	exact map[string]struct{}
	nets  []*net.IPNet
}

func newBypassList(entries []string) bypassList {
	b := bypassList{exact: make(map[string]struct{})}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		switch {
		case entry == "":
		case entry == "*":
			b.all = true
		case strings.Contains(entry, "/"):
			if _, ipNet, err := net.ParseCIDR(entry); err == nil {
				b.nets = append(b.nets, ipNet)
			}
		default:
			b.exact[entry] = struct{}{}
		}
	}
	return b
}

func (b bypassList) contains(ip string) bool {
	if b.all {
		return true
	}
	if _, ok := b.exact[ip]; ok {
		return true
	}
	if len(b.nets) == 0 {
		return false
	}

	// IPv6 literals can carry a zone suffix that net.ParseIP rejects.
	host := ip
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	parsed := net.ParseIP(host)
	if parsed == nil {
		return false
	}
	for _, n := range b.nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
