// Package webassets embeds the admin UI: the login page, the editor
// shell, and their static assets. Everything is self-contained so the
// same-origin CSP applies to the admin surface too.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed ui
var embedded embed.FS

// StaticFS returns the static assets (scripts, stylesheets) mounted
// under /admin/static/.
func StaticFS() fs.FS {
	sub, err := fs.Sub(embedded, "ui/static")
	if err != nil {
		panic(fmt.Errorf("webassets: static subfs: %w", err))
	}
	return sub
}

// LoginPage is the unauthenticated admin login page.
func LoginPage() []byte { return mustRead("ui/login.html") }

// EditorPage is the authenticated editor shell.
func EditorPage() []byte { return mustRead("ui/editor.html") }

func mustRead(name string) []byte {
	b, err := embedded.ReadFile(name)
	if err != nil {
		panic(fmt.Errorf("webassets: %s: %w", name, err))
	}
	return b
}
