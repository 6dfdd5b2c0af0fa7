// Package guard throttles login attempts per client address.
//
// Unlike the general request rate limiter this is window-based, not a
// token bucket: after too many failures an address is refused outright
// until the lockout window elapses, regardless of what passwords it
// submits in the meantime. Per-address so one attacker cannot lock out
// the operator coming from another address.
package guard

import (
	"sync"
	"time"
)

type record struct {
	lastAttempt time.Time
	failures    int
}

// Guard holds per-address failure counts behind a mutex. Handlers for
// concurrent logins from the same address race on the map otherwise.
type Guard struct {
	mu       sync.Mutex
	attempts map[string]*record

	threshold int
	window    time.Duration

	now func() time.Time

	// OnLockout fires when an attempt is refused because the address is
	// locked out, used for logging and metrics.
	OnLockout func(addr string)
}

type Option func(*Guard)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithOnLockout sets a callback for each refused attempt.
func WithOnLockout(fn func(addr string)) Option {
	return func(g *Guard) { g.OnLockout = fn }
}

// New creates a Guard that locks an address out for window after
// threshold consecutive failures.
func New(threshold int, window time.Duration, opts ...Option) *Guard {
	g := &Guard{
		attempts:  make(map[string]*record),
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Allowed reports whether addr may attempt a login now. Must be
// consulted before any password comparison: comparison never happens
// while locked out. An elapsed lockout window resets the record.
func (g *Guard) Allowed(addr string) bool {
	g.mu.Lock()
	r, ok := g.attempts[addr]
	if !ok || r.failures < g.threshold {
		g.mu.Unlock()
		return true
	}
	if g.now().Sub(r.lastAttempt) < g.window {
		g.mu.Unlock()
		if g.OnLockout != nil {
			g.OnLockout(addr)
		}
		return false
	}
	// window elapsed: start over
	r.failures = 0
	r.lastAttempt = g.now()
	g.mu.Unlock()
	return true
}

// Record registers the outcome of a login attempt. Success removes the
// address entirely; failure increments its count and refreshes the
// attempt timestamp.
func (g *Guard) Record(addr string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if success {
		delete(g.attempts, addr)
		return
	}
	r, ok := g.attempts[addr]
	if !ok {
		r = &record{}
		g.attempts[addr] = r
	}
	r.failures++
	r.lastAttempt = g.now()
}

// Failures returns the current failure count for addr.
func (g *Guard) Failures(addr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.attempts[addr]; ok {
		return r.failures
	}
	return 0
}
