package htmlscan

import (
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/nanocms/nanocms/internal/xerrors"
)

const uploadHost = "https://upload.wikimedia.org/wikipedia/commons/"

// FindCommonsOriginal extracts the full resolution file URL from a
// Wikimedia Commons file page. It prefers the "Original file" link and
// falls back to the first upload link whose path ends in filename.
func FindCommonsOriginal(page io.Reader, filename string) (string, error) {
	doc, err := html.Parse(page)
	if err != nil {
		return "", xerrors.Wrap(err, "parse commons page")
	}

	var original, byName string
	visit(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "a" {
			return
		}
		href, ok := attr(n, "href")
		if !ok || !strings.HasPrefix(href, uploadHost) {
			return
		}
		if cls, ok := attr(n, "class"); ok && strings.Contains(cls, "internal") && original == "" {
			original = href
		}
		if byName == "" && strings.HasSuffix(href, "/"+filename) {
			byName = href
		}
	})

	if original != "" {
		return original, nil
	}
	if byName != "" {
		return byName, nil
	}
	return "", xerrors.Newf("no original file link for %s", filename)
}
