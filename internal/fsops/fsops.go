// Package fsops implements the content operations exposed by the admin
// API: tree listing, read, write, create, delete, rename, upload. Every
// operation resolves its client path through the sandbox first and
// fails closed, reporting rejection the same way as a missing path.
package fsops

import (
	"errors"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/nanocms/nanocms/internal/sandbox"
	"github.com/nanocms/nanocms/internal/xerrors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	ErrRejected = errors.New("rejected path")
)

// allowedExt is the editable surface: only files with these extensions
// show up in listings. Folders are always listed.
var allowedExt = map[string]struct{}{
	".html": {}, ".htm": {}, ".css": {}, ".js": {}, ".txt": {},
	".xml": {}, ".php": {}, ".md": {}, ".json": {},
	".jpg": {}, ".png": {}, ".svg": {}, ".gif": {}, ".jpeg": {}, ".webp": {},
}

// imageExt marks extensions served as raw bytes with a guessed MIME
// type; everything else is treated as UTF-8 text.
var imageExt = map[string]struct{}{
	".jpg": {}, ".png": {}, ".svg": {}, ".gif": {}, ".jpeg": {}, ".webp": {},
}

// DefaultUploadDir receives uploads whose target path is empty or the
// site root.
const DefaultUploadDir = "resources"

// Entry is one node of the content tree.
type Entry struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Type     string  `json:"type"` // "file" or "folder"
	Children []Entry `json:"children,omitempty"`
}

// Content is the result of a Read.
type Content struct {
	Bytes  []byte
	MIME   string
	Binary bool
}

type Ops struct {
	sb        *sandbox.Sandbox
	uploadDir string
}

type Option func(*Ops)

// WithUploadDir overrides DefaultUploadDir as the fallback target for
// uploads without an explicit directory.
func WithUploadDir(dir string) Option {
	return func(o *Ops) {
		if strings.TrimSpace(dir) != "" {
			o.uploadDir = dir
		}
	}
}

func New(sb *sandbox.Sandbox, opts ...Option) *Ops {
	o := &Ops{sb: sb, uploadDir: DefaultUploadDir}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// resolve translates sandbox rejections into ErrRejected so HTTP
// handlers never learn, or leak, why a path was refused.
func (o *Ops) resolve(clientPath string) (string, error) {
	abs, err := o.sb.Resolve(clientPath)
	if err != nil {
		return "", ErrRejected
	}
	return abs, nil
}

// ListTree walks the site root and returns the filtered content tree.
// Folders sort before files, then lexicographic by name. An unreadable
// directory contributes an empty subtree rather than an error.
func (o *Ops) ListTree() []Entry {
	return o.tree(o.sb.Root())
}

func (o *Ops) tree(dir string) []Entry {
	des, err := os.ReadDir(dir)
	if err != nil {
		return []Entry{}
	}
	items := make([]Entry, 0, len(des))
	for _, de := range des {
		name := de.Name()
		if strings.HasPrefix(name, ".") || o.sb.Denied(name) {
			continue
		}
		full := filepath.Join(dir, name)
		e := Entry{Name: name, Path: o.sb.Rel(full)}
		if de.IsDir() {
			e.Type = "folder"
			e.Children = o.tree(full)
		} else {
			if _, ok := allowedExt[strings.ToLower(filepath.Ext(name))]; !ok {
				continue
			}
			e.Type = "file"
		}
		items = append(items, e)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if (items[i].Type == "folder") != (items[j].Type == "folder") {
			return items[i].Type == "folder"
		}
		return items[i].Name < items[j].Name
	})
	return items
}

// Read returns a file's content, classified by extension: image types
// come back as raw bytes with a guessed MIME type, everything else must
// be valid UTF-8 text.
func (o *Ops) Read(clientPath string) (Content, error) {
	abs, err := o.resolve(clientPath)
	if err != nil {
		return Content{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil || !fi.Mode().IsRegular() {
		return Content{}, ErrNotFound
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return Content{}, xerrors.Wrapf(err, "read %s", clientPath)
	}
	ext := strings.ToLower(filepath.Ext(abs))
	if _, ok := imageExt[ext]; ok {
		mt := mime.TypeByExtension(ext)
		if mt == "" {
			mt = "application/octet-stream"
		}
		return Content{Bytes: b, MIME: mt, Binary: true}, nil
	}
	if !utf8.Valid(b) {
		return Content{}, xerrors.Newf("read %s: not valid utf-8", clientPath)
	}
	return Content{Bytes: b, MIME: "text/plain; charset=utf-8"}, nil
}

// Write overwrites or creates a text file. Missing parent directories
// are an error, not something Write papers over. The content goes to a
// temp file first so the target never holds a partial write.
func (o *Ops) Write(clientPath, content string) error {
	abs, err := o.resolve(clientPath)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".nanocms-save-*")
	if err != nil {
		return xerrors.Wrapf(err, "write %s", clientPath)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return xerrors.Wrapf(err, "write %s", clientPath)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return xerrors.Wrapf(err, "write %s", clientPath)
	}
	if err := tmp.Close(); err != nil {
		return xerrors.Wrapf(err, "write %s", clientPath)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return xerrors.Wrapf(err, "write %s", clientPath)
	}
	return nil
}

// Create makes a new empty file or folder. The target must not exist.
// File creation makes any missing parent directories.
func (o *Ops) Create(clientPath string, isFolder bool) error {
	abs, err := o.resolve(clientPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(abs); err == nil {
		return ErrExists
	}
	if isFolder {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return xerrors.Wrapf(err, "create folder %s", clientPath)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return xerrors.Wrapf(err, "create parents for %s", clientPath)
	}
	if err := os.WriteFile(abs, nil, 0o644); err != nil {
		return xerrors.Wrapf(err, "create file %s", clientPath)
	}
	return nil
}

// Delete removes a file or recursively removes a folder.
func (o *Ops) Delete(clientPath string) error {
	abs, err := o.resolve(clientPath)
	if err != nil {
		return err
	}
	fi, err := os.Lstat(abs)
	if err != nil {
		return ErrNotFound
	}
	if fi.IsDir() {
		if err := os.RemoveAll(abs); err != nil {
			return xerrors.Wrapf(err, "delete folder %s", clientPath)
		}
		return nil
	}
	if err := os.Remove(abs); err != nil {
		return xerrors.Wrapf(err, "delete %s", clientPath)
	}
	return nil
}

// Rename gives an existing entry a new name within its own directory.
// Only the base name of newName is used, so a rename can never move an
// entry elsewhere. The destination must not already exist.
func (o *Ops) Rename(oldPath, newName string) error {
	oldAbs, err := o.resolve(oldPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(oldAbs); err != nil {
		return ErrNotFound
	}
	name := filepath.Base(filepath.FromSlash(strings.TrimSpace(newName)))
	if name == "" || name == "." || name == string(filepath.Separator) || o.sb.Denied(name) {
		return ErrRejected
	}
	newAbs := filepath.Join(filepath.Dir(oldAbs), name)
	if _, err := os.Lstat(newAbs); err == nil {
		return ErrExists
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return xerrors.Wrapf(err, "rename %s", oldPath)
	}
	return nil
}

// Upload stores the given stream under dir, creating the directory if
// needed. An empty or root dir falls back to DefaultUploadDir. Only the
// base name of filename is kept. Returns the stored relative path.
func (o *Ops) Upload(dir, filename string, r io.Reader) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" || dir == "." || dir == "/" {
		dir = o.uploadDir
	}
	dirAbs, err := o.resolve(dir)
	if err != nil {
		return "", err
	}
	name := filepath.Base(filepath.FromSlash(filename))
	if name == "" || name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, ".") {
		return "", ErrRejected
	}
	if o.sb.Denied(name) {
		return "", ErrRejected
	}
	if err := os.MkdirAll(dirAbs, 0o755); err != nil {
		return "", xerrors.Wrapf(err, "upload dir %s", dir)
	}
	target := filepath.Join(dirAbs, name)
	f, err := os.Create(target)
	if err != nil {
		return "", xerrors.Wrapf(err, "upload %s", name)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(target)
		return "", xerrors.Wrapf(err, "upload %s", name)
	}
	if err := f.Close(); err != nil {
		return "", xerrors.Wrapf(err, "upload %s", name)
	}
	return o.sb.Rel(target), nil
}
