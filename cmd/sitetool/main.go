// Command sitetool runs maintenance passes over a static site tree:
// auditing image coverage, auditing page structure, rewriting legacy
// image URLs, injecting a shared script, and fetching replacement
// assets from Wikimedia Commons.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nanocms/nanocms/internal/htmlscan"
)

const userAgent = "nanocms-sitetool/1.0"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: sitetool <command> [flags]

commands:
  audit-images     report pages with few images or images on a legacy domain
  audit-structure  report pages missing the footer or mobile menu
  replace-src      rewrite legacy image URLs to local paths
  inject-script    add a script tag to every page missing it
  fetch-assets     download original files from Wikimedia Commons pages
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "audit-images":
		err = auditImages(os.Args[2:])
	case "audit-structure":
		err = auditStructure(os.Args[2:])
	case "replace-src":
		err = replaceSrc(os.Args[2:])
	case "inject-script":
		err = injectScript(os.Args[2:])
	case "fetch-assets":
		err = fetchAssets(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "sitetool:", err)
		os.Exit(1)
	}
}

func excludeList(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func auditImages(args []string) error {
	fs := flag.NewFlagSet("audit-images", flag.ExitOnError)
	root := fs.String("root", ".", "site root to scan")
	domain := fs.String("old-domain", "", "legacy domain whose images should be flagged")
	min := fs.Int("min-images", 2, "flag pages with fewer img tags than this")
	exclude := fs.String("exclude", strings.Join(htmlscan.DefaultExcludeDirs, ","), "comma separated directory names to skip")
	fs.Parse(args)

	reports, err := htmlscan.AuditImages(*root, *domain, *min, excludeList(*exclude))
	if err != nil {
		return err
	}

	fmt.Printf("=== Pages with < %d Images ===\n", *min)
	for _, r := range reports {
		if r.ImgCount < *min {
			fmt.Printf("%s: %d\n", r.File, r.ImgCount)
		}
	}
	fmt.Println("\n=== External Images to Replace ===")
	for _, r := range reports {
		if len(r.External) == 0 {
			continue
		}
		fmt.Printf("\nFile: %s\n", r.File)
		for _, u := range r.External {
			fmt.Printf("  - %s\n", u)
		}
	}
	return nil
}

func auditStructure(args []string) error {
	fs := flag.NewFlagSet("audit-structure", flag.ExitOnError)
	root := fs.String("root", ".", "site root to scan")
	exclude := fs.String("exclude", strings.Join(htmlscan.DefaultExcludeDirs, ","), "comma separated directory names to skip")
	fs.Parse(args)

	reports, err := htmlscan.AuditStructure(*root, excludeList(*exclude))
	if err != nil {
		return err
	}

	fmt.Println("=== Pages Missing Footer ===")
	for _, r := range reports {
		if !r.HasFooter {
			fmt.Println(r.File)
		}
	}
	fmt.Println("\n=== Pages Missing Mobile Menu ===")
	for _, r := range reports {
		if !r.HasMobileMenu {
			fmt.Println(r.File)
		}
	}
	return nil
}

// replaceSrc takes old=new pairs as positional args, where old is the
// legacy file name and new the local replacement path.
func replaceSrc(args []string) error {
	fs := flag.NewFlagSet("replace-src", flag.ExitOnError)
	root := fs.String("root", ".", "site root to rewrite")
	domain := fs.String("old-domain", "", "legacy domain to match (required)")
	exclude := fs.String("exclude", strings.Join(htmlscan.DefaultExcludeDirs, ","), "comma separated directory names to skip")
	fs.Parse(args)

	if *domain == "" {
		return fmt.Errorf("replace-src: -old-domain is required")
	}
	replacements := make(map[string]string)
	for _, pair := range fs.Args() {
		oldName, local, ok := strings.Cut(pair, "=")
		if !ok || oldName == "" || local == "" {
			return fmt.Errorf("replace-src: bad mapping %q, want old-file.webp=resources/new.jpg", pair)
		}
		replacements[oldName] = local
	}
	if len(replacements) == 0 {
		return fmt.Errorf("replace-src: no mappings given")
	}

	changed, err := htmlscan.ReplaceSrc(*root, *domain, replacements, excludeList(*exclude))
	if err != nil {
		return err
	}
	for _, f := range changed {
		fmt.Println("updated", f)
	}
	fmt.Printf("updated %d files\n", len(changed))
	return nil
}

func injectScript(args []string) error {
	fs := flag.NewFlagSet("inject-script", flag.ExitOnError)
	root := fs.String("root", ".", "site root to rewrite")
	src := fs.String("src", "accessibility.js", "script src to inject")
	exclude := fs.String("exclude", strings.Join(htmlscan.DefaultExcludeDirs, ","), "comma separated directory names to skip")
	fs.Parse(args)

	changed, err := htmlscan.InjectScript(*root, *src, excludeList(*exclude))
	if err != nil {
		return err
	}
	for _, f := range changed {
		fmt.Println("updated", f)
	}
	fmt.Printf("injected %s into %d files\n", *src, len(changed))
	return nil
}

// fetchAssets takes local-name=commons-page-url pairs as positional
// args and stores each original file under -dir.
func fetchAssets(args []string) error {
	fs := flag.NewFlagSet("fetch-assets", flag.ExitOnError)
	dir := fs.String("dir", "resources", "directory to store downloads")
	fs.Parse(args)

	if len(fs.Args()) == 0 {
		return fmt.Errorf("fetch-assets: no name=url pairs given")
	}
	if err := os.MkdirAll(*dir, 0o755); err != nil {
		return err
	}

	client := &http.Client{Timeout: 60 * time.Second}
	for _, pair := range fs.Args() {
		localName, pageURL, ok := strings.Cut(pair, "=")
		if !ok || localName == "" || pageURL == "" {
			return fmt.Errorf("fetch-assets: bad pair %q, want local.jpg=https://commons.wikimedia.org/wiki/File:X.jpg", pair)
		}
		fmt.Printf("Processing %s...\n", localName)
		if err := fetchOne(client, *dir, localName, pageURL); err != nil {
			fmt.Fprintf(os.Stderr, "  %v\n", err)
		}
	}
	return nil
}

func fetchOne(client *http.Client, dir, localName, pageURL string) error {
	_, fileName, ok := strings.Cut(pageURL, "File:")
	if !ok {
		return fmt.Errorf("%s is not a commons file page", pageURL)
	}
	if unescaped, err := url.PathUnescape(fileName); err == nil {
		fileName = unescaped
	}

	page, err := get(client, pageURL)
	if err != nil {
		return err
	}
	defer page.Close()

	imgURL, err := htmlscan.FindCommonsOriginal(page, fileName)
	if err != nil {
		return err
	}
	fmt.Printf("  found %s\n", imgURL)

	img, err := get(client, imgURL)
	if err != nil {
		return err
	}
	defer img.Close()

	dest := filepath.Join(dir, localName)
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, img); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("  saved %s\n", dest)
	return nil
}

func get(client *http.Client, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	return resp.Body, nil
}
