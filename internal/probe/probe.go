package probe

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/nanocms/nanocms/internal/xerrors"
)

// Probe is evaluated at request time.
// nil = OK, non-nil = FAIL with reason.
type Probe interface{ Check(context.Context) error }

// Func adapts a function into a Probe.
type Func func(context.Context) error

func (f Func) Check(ctx context.Context) error { return f(ctx) }

// Static returns a probe that always passes, or always fails with the
// given reason.
func Static(ok bool, reason string) Func {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// Multi is AND: passes only if all probes pass; returns the first error.
func Multi(ps ...Probe) Func {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// SiteRoot reports ready only while the served directory exists and is
// readable. The tree is edited live; an operator can rename or delete
// it out from under a running server.
func SiteRoot(dir string) Func {
	return func(context.Context) error {
		info, err := os.Stat(dir)
		if err != nil {
			return xerrors.Wrapf(err, "site root %s", dir)
		}
		if !info.IsDir() {
			return xerrors.Newf("site root %s is not a directory", dir)
		}
		f, err := os.Open(dir)
		if err != nil {
			return xerrors.Wrapf(err, "site root %s", dir)
		}
		f.Close()
		return nil
	}
}

// ShutdownGate flips readiness to false during drain/shutdown.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.draining.Store(true)
	g.reason.Store(reason)
}

func (g *ShutdownGate) Clear() {
	g.draining.Store(false)
	g.reason.Store("")
}

func (g *ShutdownGate) Probe() Func {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}
