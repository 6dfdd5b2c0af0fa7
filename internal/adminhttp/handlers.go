package adminhttp

import (
	"errors"
	"net/http"

	"github.com/nanocms/nanocms/internal/fsops"
	"github.com/nanocms/nanocms/internal/log"
	"github.com/nanocms/nanocms/internal/session"
	"github.com/nanocms/nanocms/internal/webassets"
)

const lockedMessage = "Too many attempts. Wait 5 min."

func (h *API) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	decode(r, &req)

	addr := clientAddr(r)
	L := h.logger(r)

	// lockout check runs before any password comparison
	if !h.opts.Guard.Allowed(addr) {
		h.opts.Metrics.IncLogin("locked")
		L.Warn(r.Context(), "login refused while locked out", "client.address", addr)
		failure(w, lockedMessage)
		return
	}

	if !h.opts.Store.VerifyPassword(req.Password) {
		h.opts.Guard.Record(addr, false)
		h.opts.Metrics.IncLogin("failure")
		L.Warn(r.Context(), "login failed", "client.address", addr)
		failure(w, "Invalid password")
		return
	}

	h.opts.Guard.Record(addr, true)
	h.opts.Metrics.IncLogin("success")
	L.Info(r.Context(), "login succeeded", "client.address", addr)

	http.SetCookie(w, session.Cookie(h.opts.Signer.Mint()))
	success(w, nil)
}

// logout clears the cookie client-side. The token itself stays valid
// until the secret rotates; there is no server-side session table to
// invalidate.
func (h *API) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, session.ClearCookie())
	http.Redirect(w, r, "/admin", http.StatusFound)
}

func (h *API) adminPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if h.authorized(r) {
		_, _ = w.Write(webassets.EditorPage())
		return
	}
	_, _ = w.Write(webassets.LoginPage())
}

func (h *API) list(w http.ResponseWriter, r *http.Request) {
	h.opts.Metrics.IncFileOp("list", "success")
	success(w, h.opts.Ops.ListTree())
}

// load streams raw file content with its content type, unlike the other
// endpoints which all speak the JSON envelope.
func (h *API) load(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("file")
	c, err := h.opts.Ops.Read(name)
	if err != nil {
		h.opts.Metrics.IncFileOp("load", "error")
		if errors.Is(err, fsops.ErrNotFound) || errors.Is(err, fsops.ErrRejected) {
			http.NotFound(w, r)
			return
		}
		h.logger(r).Error(r.Context(), err, "file read failed")
		http.Error(w, "Read error", http.StatusInternalServerError)
		return
	}
	h.opts.Metrics.IncFileOp("load", "success")
	w.Header().Set("Content-Type", c.MIME)
	_, _ = w.Write(c.Bytes)
}

func (h *API) save(w http.ResponseWriter, r *http.Request) {
	var req struct {
		File    string `json:"file"`
		Content string `json:"content"`
	}
	decode(r, &req)

	if err := h.opts.Ops.Write(req.File, req.Content); err != nil {
		h.fileOpError(w, r, "save", err, "Write error")
		return
	}
	h.opts.Metrics.IncFileOp("save", "success")
	success(w, nil)
}

func (h *API) createFile(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, false)
}

func (h *API) createFolder(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, true)
}

func (h *API) create(w http.ResponseWriter, r *http.Request, isFolder bool) {
	var req struct {
		Path string `json:"path"`
	}
	decode(r, &req)

	if err := h.opts.Ops.Create(req.Path, isFolder); err != nil {
		h.fileOpError(w, r, "create", err, "Create error")
		return
	}
	h.opts.Metrics.IncFileOp("create", "success")
	success(w, nil)
}

func (h *API) delete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	decode(r, &req)

	if err := h.opts.Ops.Delete(req.Path); err != nil {
		h.fileOpError(w, r, "delete", err, "Delete error")
		return
	}
	h.opts.Metrics.IncFileOp("delete", "success")
	h.logger(r).Info(r.Context(), "deleted", "path", req.Path)
	success(w, nil)
}

func (h *API) rename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPath string `json:"old_path"`
		NewName string `json:"new_name"`
	}
	decode(r, &req)

	if err := h.opts.Ops.Rename(req.OldPath, req.NewName); err != nil {
		h.fileOpError(w, r, "rename", err, "Rename error")
		return
	}
	h.opts.Metrics.IncFileOp("rename", "success")
	success(w, nil)
}

func (h *API) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	decode(r, &req)

	if req.Password == "" {
		failure(w, "Empty password")
		return
	}
	if err := h.opts.Store.SetPassword(req.Password); err != nil {
		h.logger(r).Error(r.Context(), err, "password change failed")
		failure(w, "Write error")
		return
	}
	h.opts.Metrics.IncPasswordChange()
	h.logger(r).Info(r.Context(), "password changed")
	success(w, nil)
}

func (h *API) upload(w http.ResponseWriter, r *http.Request) {
	if h.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		h.opts.Metrics.IncFileOp("upload", "error")
		failure(w, "No file")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil || header.Filename == "" {
		h.opts.Metrics.IncFileOp("upload", "error")
		failure(w, "No file")
		return
	}
	defer file.Close()

	dir := r.FormValue("path")
	rel, err := h.opts.Ops.Upload(dir, header.Filename, file)
	if err != nil {
		h.fileOpError(w, r, "upload", err, "Invalid path")
		return
	}
	h.opts.Metrics.IncFileOp("upload", "success")
	h.opts.Metrics.ObserveUploadSize(header.Size)
	h.logger(r).Info(r.Context(), "uploaded", "path", rel, "bytes", header.Size)
	success(w, nil)
}

// fileOpError maps an operation failure to the uniform error envelope.
// Rejections and not-found collapse into the generic message so the
// response never reveals whether a probed path exists outside the root.
func (h *API) fileOpError(w http.ResponseWriter, r *http.Request, op string, err error, message string) {
	h.opts.Metrics.IncFileOp(op, "error")
	switch {
	case errors.Is(err, fsops.ErrRejected),
		errors.Is(err, fsops.ErrNotFound),
		errors.Is(err, fsops.ErrExists):
		// expected failures, not worth an error-level record
	default:
		h.logger(r).Error(r.Context(), err, "file operation failed", "op", op)
	}
	failure(w, message)
}

func (h *API) logger(r *http.Request) log.Logger {
	if L := log.FromContext(r.Context()); L != nil {
		return L
	}
	return h.opts.Logger
}
