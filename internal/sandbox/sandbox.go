// Package sandbox confines client-supplied paths to the site root.
//
// Resolve is the single choke point: no filesystem operation may touch
// a path that has not been through it. Rejections carry sentinel errors
// so callers can fail closed without leaking whether the raw input
// traversed outside the root.
package sandbox

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath   = errors.New("empty path")
	ErrEscapesRoot = errors.New("path escapes site root")
	ErrDenylisted  = errors.New("denylisted name")
)

// defaultDeny are operational names never exposed regardless of where
// they sit in the tree: version control, web server control files, OS
// litter. The credential file is appended by New.
var defaultDeny = []string{".git", ".htaccess", ".DS_Store"}

type Sandbox struct {
	root string
	deny map[string]struct{}
}

// New builds a sandbox rooted at root (made absolute). extraDeny adds
// names to the denylist, typically the credential file's base name.
func New(root string, extraDeny ...string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	deny := make(map[string]struct{}, len(defaultDeny)+len(extraDeny))
	for _, n := range defaultDeny {
		deny[n] = struct{}{}
	}
	for _, n := range extraDeny {
		if n = strings.TrimSpace(n); n != "" {
			deny[n] = struct{}{}
		}
	}
	return &Sandbox{root: abs, deny: deny}, nil
}

// Root returns the absolute site root.
func (s *Sandbox) Root() string { return s.root }

// Denied reports whether name (a single path component) is denylisted.
func (s *Sandbox) Denied(name string) bool {
	_, ok := s.deny[name]
	return ok
}

// CleanRel reduces a client path like "", ".", "/a/b", "a//../b" to a
// slash-separated relative path with no leading slash; "" means root.
func CleanRel(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p) // force absolute for stable cleaning
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Resolve maps a client-supplied path to a confined absolute path.
// The empty path is rejected; "/" and "." resolve to the root itself.
// Any ".." segment rejects outright, before touching the filesystem.
func (s *Sandbox) Resolve(clientPath string) (string, error) {
	if strings.TrimSpace(clientPath) == "" {
		return "", ErrEmptyPath
	}
	if strings.Contains(clientPath, "\x00") {
		return "", ErrEscapesRoot
	}
	if hasDotDot(clientPath) {
		return "", ErrEscapesRoot
	}
	rel := CleanRel(clientPath)
	if rel == "" {
		return s.root, nil
	}

	abs := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(rel)))
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", ErrEscapesRoot
	}
	if s.Denied(filepath.Base(abs)) {
		return "", ErrDenylisted
	}
	return abs, nil
}

func hasDotDot(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// Rel converts a resolved absolute path back to the forward-slash
// relative form used on the wire. Returns "" for the root itself.
func (s *Sandbox) Rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}
