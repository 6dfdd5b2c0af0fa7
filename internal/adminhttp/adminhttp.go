// Package adminhttp is the authenticated surface of the server: the
// login flow, the embedded editor UI, and the /api file operation
// endpoints. Every /api route demands a valid session cookie before any
// filesystem operation runs.
package adminhttp

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nanocms/nanocms/internal/credstore"
	"github.com/nanocms/nanocms/internal/fsops"
	"github.com/nanocms/nanocms/internal/guard"
	"github.com/nanocms/nanocms/internal/httpmw"
	"github.com/nanocms/nanocms/internal/log"
	"github.com/nanocms/nanocms/internal/session"
	"github.com/nanocms/nanocms/internal/webassets"
)

// Metrics is the subset of server metrics the admin surface feeds.
type Metrics interface {
	IncLogin(result string)
	IncLockout()
	IncFileOp(op, status string)
	ObserveUploadSize(bytes int64)
	IncPasswordChange()
}

type nopMetrics struct{}

func (nopMetrics) IncLogin(string)          {}
func (nopMetrics) IncLockout()              {}
func (nopMetrics) IncFileOp(string, string) {}
func (nopMetrics) ObserveUploadSize(int64)  {}
func (nopMetrics) IncPasswordChange()       {}

type Options struct {
	Logger  log.Logger
	Store   *credstore.Store
	Guard   *guard.Guard
	Signer  *session.Signer
	Ops     *fsops.Ops
	Metrics Metrics

	// MaxUploadBytes bounds a single multipart upload. Zero means the
	// outer MaxBody middleware is the only limit.
	MaxUploadBytes int64
}

// API is the admin surface. Its routes are registered ahead of the
// public site catch-all.
type API struct {
	opts Options
}

func New(opts Options) (*API, error) {
	if opts.Store == nil || opts.Guard == nil || opts.Signer == nil || opts.Ops == nil {
		return nil, errors.New("adminhttp: Store, Guard, Signer, and Ops are all required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	return &API{opts: opts}, nil
}

// RegisterRoutes claims the admin paths on the given router. Everything
// else stays free for the site handler.
func (h *API) RegisterRoutes(r chi.Router) {
	r.Post("/login", h.login)
	r.Get("/logout", h.logout)
	r.Get("/admin", h.adminPage)
	r.Get("/admin/", h.adminPage)
	r.Handle("/admin/static/*", http.StripPrefix("/admin/static/",
		http.FileServerFS(webassets.StaticFS())))

	r.Route("/api", func(api chi.Router) {
		api.Use(h.requireAuth)
		api.Get("/list", h.list)
		api.Get("/load", h.load)
		api.Post("/save", h.save)
		api.Post("/create_file", h.createFile)
		api.Post("/create_folder", h.createFolder)
		api.Post("/delete", h.delete)
		api.Post("/rename", h.rename)
		api.Post("/change_password", h.changePassword)
		api.Post("/upload", h.upload)
	})
}

// clientAddr is the address the lockout keys on.
func clientAddr(r *http.Request) string {
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *API) authorized(r *http.Request) bool {
	return h.opts.Signer.Authorized(session.FromRequest(r))
}

func (h *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authorized(r) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// API responses mirror the editor's expectations: {status, data?, message?}.
type apiResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

func success(w http.ResponseWriter, data any) {
	writeJSON(w, apiResponse{Status: "success", Data: data})
}

func failure(w http.ResponseWriter, message string) {
	writeJSON(w, apiResponse{Status: "error", Message: message})
}

// decode tolerates malformed bodies: handlers see zero values instead
// of an error, and the operation then fails its own validation.
func decode(r *http.Request, v any) {
	_ = json.NewDecoder(r.Body).Decode(v)
}
