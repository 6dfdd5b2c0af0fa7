// Package htmlscan implements the site maintenance checks behind the
// sitetool command: image and structure audits, bulk src rewriting, and
// script injection across a tree of HTML pages.
package htmlscan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/nanocms/nanocms/internal/xerrors"
)

// DefaultExcludeDirs are skipped by every walk. They hold archived
// pages, shared fragments, and binary assets.
var DefaultExcludeDirs = []string{"old_pages", "components", "resources"}

// ImageReport describes one page from an image audit.
type ImageReport struct {
	File     string
	ImgCount int
	External []string
}

// StructureReport describes one page from a structure audit.
type StructureReport struct {
	File          string
	HasFooter     bool
	HasMobileMenu bool
}

func walkHTML(root string, exclude []string, fn func(path string, content []byte) error) error {
	skip := make(map[string]bool, len(exclude))
	for _, d := range exclude {
		skip[d] = true
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skip[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".html") {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return xerrors.Wrapf(err, "read %s", path)
		}
		return fn(path, b)
	})
}

func parse(content []byte) (*html.Node, error) {
	return html.Parse(strings.NewReader(string(content)))
}

func visit(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visit(c, fn)
	}
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// AuditImages walks root and reports pages with fewer than minImages
// img tags, plus every img src pointing at oldDomain.
func AuditImages(root, oldDomain string, minImages int, exclude []string) ([]ImageReport, error) {
	var out []ImageReport
	err := walkHTML(root, exclude, func(path string, content []byte) error {
		doc, err := parse(content)
		if err != nil {
			return xerrors.Wrapf(err, "parse %s", path)
		}
		rep := ImageReport{File: path}
		visit(doc, func(n *html.Node) {
			if n.Type != html.ElementNode || n.Data != "img" {
				return
			}
			rep.ImgCount++
			if src, ok := attr(n, "src"); ok && strings.Contains(src, oldDomain) {
				rep.External = append(rep.External, src)
			}
		})
		if rep.ImgCount < minImages || len(rep.External) > 0 {
			out = append(out, rep)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out, nil
}

// AuditStructure walks root and reports pages missing a footer element
// or the mobile menu container.
func AuditStructure(root string, exclude []string) ([]StructureReport, error) {
	var out []StructureReport
	err := walkHTML(root, exclude, func(path string, content []byte) error {
		doc, err := parse(content)
		if err != nil {
			return xerrors.Wrapf(err, "parse %s", path)
		}
		rep := StructureReport{File: path}
		visit(doc, func(n *html.Node) {
			if n.Type != html.ElementNode {
				return
			}
			if n.Data == "footer" {
				rep.HasFooter = true
			}
			if id, ok := attr(n, "id"); ok && id == "mobile-menu" {
				rep.HasMobileMenu = true
			}
		})
		if !rep.HasFooter || !rep.HasMobileMenu {
			out = append(out, rep)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out, nil
}

// ReplaceSrc rewrites img src attributes that point at oldDomain and
// end in one of the mapped file names, replacing the whole URL with the
// mapped local path. Edits are textual so page formatting survives.
// Returns the files that changed.
func ReplaceSrc(root, oldDomain string, replacements map[string]string, exclude []string) ([]string, error) {
	var changed []string
	err := walkHTML(root, exclude, func(path string, content []byte) error {
		text := string(content)
		orig := text
		for oldName, local := range replacements {
			pat := regexp.MustCompile(
				`src=["']https?://` + regexp.QuoteMeta(oldDomain) + `[^"']*/` + regexp.QuoteMeta(oldName) + `["']`)
			text = pat.ReplaceAllString(text, fmt.Sprintf("src=%q", local))
		}
		if text == orig {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			return xerrors.Wrapf(err, "stat %s", path)
		}
		if err := os.WriteFile(path, []byte(text), info.Mode().Perm()); err != nil {
			return xerrors.Wrapf(err, "write %s", path)
		}
		changed = append(changed, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(changed)
	return changed, nil
}

// InjectScript adds a script tag referencing scriptSrc to every page
// under root that does not already reference it. The tag goes just
// before </body>, falling back to </html> or the end of the file.
// Returns the files that changed.
func InjectScript(root, scriptSrc string, exclude []string) ([]string, error) {
	tag := fmt.Sprintf("<script src=%q></script>", scriptSrc)
	var changed []string
	err := walkHTML(root, exclude, func(path string, content []byte) error {
		text := string(content)
		if strings.Contains(text, scriptSrc) {
			return nil
		}
		switch {
		case strings.Contains(text, "</body>"):
			text = strings.Replace(text, "</body>", "    "+tag+"\n</body>", 1)
		case strings.Contains(text, "</html>"):
			text = strings.Replace(text, "</html>", "    "+tag+"\n</html>", 1)
		default:
			text += "\n" + tag
		}
		info, err := os.Stat(path)
		if err != nil {
			return xerrors.Wrapf(err, "stat %s", path)
		}
		if err := os.WriteFile(path, []byte(text), info.Mode().Perm()); err != nil {
			return xerrors.Wrapf(err, "write %s", path)
		}
		changed = append(changed, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(changed)
	return changed, nil
}
