package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nanocms/nanocms/internal/version"
)

type ServerMetrics struct {
	reg                  *prometheus.Registry
	handler              http.Handler
	inflight             prometheus.Gauge
	reqTotal             *prometheus.CounterVec
	reqDur               *prometheus.HistogramVec
	respBytes            *prometheus.HistogramVec
	httpPanicTotal       prometheus.Counter
	buildInfo            *prometheus.GaugeVec
	ratelimitDeniedTotal prometheus.Counter

	errorsTotal *prometheus.CounterVec

	// admin activity
	loginTotal      *prometheus.CounterVec
	lockoutTotal    prometheus.Counter
	fileOpTotal     *prometheus.CounterVec
	uploadBytes     prometheus.Histogram
	passwordChanges prometheus.Counter
}

// New returns a fresh registry + standard collectors + HTTP metrics.
// Safe labels only (method, route, code) to avoid path/cardinality
// explosions.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		loginTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_login_attempts_total",
			Help: "Total login attempts by result (success, failure, locked)",
		}, []string{"result"}),
		lockoutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admin_lockouts_total",
			Help: "Total login attempts refused while an address was locked out",
		}),
		fileOpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_file_operations_total",
			Help: "Total admin file operations by op and status",
		}, []string{"op", "status"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "admin_upload_size_bytes",
			Help:    "Size of uploaded files",
			Buckets: []float64{1024, 16384, 262144, 1048576, 4194304, 16777216, 52428800},
		}),
		passwordChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admin_password_changes_total",
			Help: "Total successful password changes",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.errorsTotal,
		m.loginTotal,
		m.lockoutTotal,
		m.fileOpTotal,
		m.uploadBytes,
		m.passwordChanges,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

// IncLogin records a login attempt. result is one of "success",
// "failure", "locked".
func (m *ServerMetrics) IncLogin(result string) {
	m.loginTotal.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) IncLockout() {
	m.lockoutTotal.Inc()
}

// IncFileOp records an admin file operation. op is the endpoint name
// (list, load, save, create, delete, rename, upload), status is
// "success" or "error".
func (m *ServerMetrics) IncFileOp(op, status string) {
	m.fileOpTotal.WithLabelValues(op, status).Inc()
}

func (m *ServerMetrics) ObserveUploadSize(bytes int64) {
	m.uploadBytes.Observe(float64(bytes))
}

func (m *ServerMetrics) IncPasswordChange() {
	m.passwordChanges.Inc()
}
