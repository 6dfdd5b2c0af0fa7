package opshttp

import (
	"net/http"

	"github.com/nanocms/nanocms/internal/probe"
)

// Health responses must reflect the current instant; a cached "ok"
// defeats the point of polling.
func healthHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
}

// HealthzHandler: 200 OK when probe passes, 503 otherwise (with reason)
func HealthzHandler(p probe.Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthHeaders(w)
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(err.Error() + "\n"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
}

// ReadyzHandler: 200 OK when probe passes, 503 otherwise (with reason)
func ReadyzHandler(p probe.Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthHeaders(w)
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(err.Error() + "\n"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}
