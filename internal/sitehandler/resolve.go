package sitehandler

import (
	"os"
	"path"
	"strings"

	"github.com/nanocms/nanocms/internal/sandbox"
)

// resolvePath maps a URL path to a file under the sandbox root.
//
// Returns:
// - abs: absolute file path to serve
// - redirectTo: if non-empty, caller should redirect to this URL path
// - ok: whether the mapping is valid/found
//
// Lookup order for /foo: the file itself, then foo.html (clean URLs,
// pages are edited with their extension but linked without), then a
// redirect to /foo/ when foo/index.html exists.
func resolvePath(urlPath string, sb *sandbox.Sandbox) (abs string, redirectTo string, ok bool) {
	p := urlPath
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	// basic rejection of ambiguous/unsafe paths
	if strings.Contains(p, "\x00") || strings.Contains(p, "\\") || hasDotDotSegment(p) {
		return "", "", false
	}

	trailingSlash := strings.HasSuffix(p, "/")
	clean := path.Clean(p)

	if clean == "/" {
		if abs, ok := regularFile(sb, "index.html"); ok {
			return abs, "", true
		}
		return "", "", false
	}

	rel := strings.TrimPrefix(clean, "/")

	// directory request -> <dir>/index.html
	if trailingSlash {
		if abs, ok := regularFile(sb, rel+"/index.html"); ok {
			return abs, "", true
		}
		return "", "", false
	}

	if abs, ok := regularFile(sb, rel); ok {
		return abs, "", true
	}

	// clean URL fallback
	if abs, ok := regularFile(sb, rel+".html"); ok {
		return abs, "", true
	}

	// pretty URL for a directory: redirect to the canonical slash form
	if _, ok := regularFile(sb, rel+"/index.html"); ok {
		return "", clean + "/", true
	}

	return "", "", false
}

// hasDotDotSegment reports whether any slash-separated segment of p is
// exactly "..". Names merely containing dots ("/a..b.html") are fine.
func hasDotDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func regularFile(sb *sandbox.Sandbox, rel string) (string, bool) {
	abs, err := sb.Resolve(rel)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return abs, true
}
