// Package sitehandler serves the editable site directly from disk: the
// admin edits files in place and the next page load reflects them. Only
// GET and HEAD pass; everything else on the public surface belongs to
// the API router in front of this handler.
package sitehandler

import (
	"net/http"
	"path/filepath"
	"strings"
)

type Handler struct {
	opts Options
}

func New(opts *Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: *opts}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	abs, redirectTo, found := resolvePath(r.URL.Path, h.opts.Sandbox)
	if redirectTo != "" {
		// 308 keeps the method for HEAD
		http.Redirect(w, r, redirectTo, http.StatusPermanentRedirect)
		return
	}
	if !found {
		h.serveNotFound(w, r)
		return
	}

	if cc := h.cacheControlFor(abs); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	http.ServeFile(w, r, abs)
}

func (h *Handler) serveNotFound(w http.ResponseWriter, r *http.Request) {
	// avoid caching 404 responses
	w.Header().Set("Cache-Control", "no-store")

	if abs, ok := regularFile(h.opts.Sandbox, h.opts.Site404File); ok {
		serveFileWithStatus(w, r, http.StatusNotFound, abs)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 page not found"))
}

// cacheControlFor picks a policy by extension: pages change under the
// editor so they revalidate, assets can live long.
func (h *Handler) cacheControlFor(abs string) string {
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".html", ".htm":
		return h.opts.HTMLCacheControl
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".gif", ".woff", ".woff2":
		return h.opts.AssetCacheControl
	default:
		return h.opts.OtherCacheControl
	}
}

// serveFileWithStatus serves a file while forcing an HTTP status code.
// http.ServeFile writes its own status, so the first WriteHeader call
// is overridden.
type statusOverrideWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusOverrideWriter) WriteHeader(code int) {
	if w.wroteHeader {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(w.status)
}

func serveFileWithStatus(w http.ResponseWriter, r *http.Request, status int, abs string) {
	sw := &statusOverrideWriter{ResponseWriter: w, status: status}
	http.ServeFile(sw, r, abs)
}
