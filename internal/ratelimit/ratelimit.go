// Package ratelimit is middleware for per-ip rate limiting.
//
// Simple in-memory implementation, not shared between instances. It
// protects the single-admin server from one address flooding it (the
// login endpoint has its own, much stricter lockout on top of this) and
// gives visibility into abuse: one log entry per offender, a counter
// increment per denial.
//
// It does not defend against distributed attacks or bandwidth abuse;
// inbound data is already accepted by the time this runs.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nanocms/nanocms/internal/httpmw"
)

// client tracks a single address's token bucket and last activity.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged marks that the first-denial hook already fired for this
	// entry; resets when the entry is evicted and re-created
	logged bool
}

// IPLimiter holds per-address limiters with background eviction.
type IPLimiter struct {
	mu      sync.Mutex
	clients map[string]*client

	perSecond rate.Limit
	burst     int

	// ttl is how long an idle address stays in the map before eviction
	ttl time.Duration

	// OnFirstDenied fires once per tracked address on its first denial
	OnFirstDenied func(ip string)

	// OnDenied fires on every denied request
	OnDenied func(ip string)
}

type Option func(*IPLimiter)

// WithRate sets the bucket capacity and refill rate: burst requests may
// land at once, then tokens refill at perSecond.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL controls how long an idle address stays tracked.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) {
		l.ttl = d
	}
}

// WithOnFirstDenied sets the once-per-offender hook, used for logging.
// Separate from OnDenied so the log gets one line while counters see
// every denial.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) {
		l.OnFirstDenied = fn
	}
}

// WithOnDenied sets the per-denial hook, used for counters.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) {
		l.OnDenied = fn
	}
}

// New creates an IPLimiter and starts its cleanup goroutine, which
// stops when ctx is canceled.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		clients:   make(map[string]*client),
		perSecond: 10,
		burst:     30,
		ttl:       5 * time.Minute,
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup(ctx)
	return l
}

// allow reports whether a request from ip may proceed, creating the
// tracking entry on first sight.
func (l *IPLimiter) allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	allowed := c.limiter.Allow()
	first := !allowed && !c.logged
	if first {
		c.logged = true
	}
	// hooks run outside the lock, they may do slow work
	l.mu.Unlock()

	if !allowed {
		if first && l.OnFirstDenied != nil {
			l.OnFirstDenied(ip)
		}
		if l.OnDenied != nil {
			l.OnDenied(ip)
		}
	}
	return allowed
}

// cleanup evicts idle entries every ttl/2 so stale addresses don't
// accumulate.
func (l *IPLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for ip, c := range l.clients {
				if now.Sub(c.lastSeen) > l.ttl {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Middleware rejects requests over the per-address limit with 429.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpmw.ClientIPFromContext(r.Context())

		if !l.allow(ip) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			// no detail about limits or refill timing on purpose
			w.Write([]byte(`{"status":"error","message":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
