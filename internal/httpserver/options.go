package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nanocms/nanocms/internal/httpmw"
	"github.com/nanocms/nanocms/internal/log"
	"github.com/nanocms/nanocms/internal/probe"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()

	MetricsMW   func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler

	ClientIPOpts httpmw.ClientIPOptions

	Health    probe.Probe
	Readiness probe.Probe

	// APIRoutes mounts the admin surface onto the router before the
	// catch-all site handler.
	APIRoutes func(chi.Router)

	// SiteHandler serves everything no explicit route claims.
	SiteHandler http.Handler

	// MaxBodyBytes caps request bodies. Must leave room for uploads.
	MaxBodyBytes int64
}
