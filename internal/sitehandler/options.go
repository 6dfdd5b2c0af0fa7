package sitehandler

import (
	"fmt"

	"github.com/nanocms/nanocms/internal/log"
	"github.com/nanocms/nanocms/internal/sandbox"
)

var ErrInvalidOptions = fmt.Errorf("sitehandler: invalid options")

type Options struct {
	Logger log.Logger

	// Sandbox confines every served path to the site root.
	Sandbox *sandbox.Sandbox

	// Site404File is the themed not-found page, relative to the site
	// root. Optional; plain text is served when absent.
	Site404File string // default: "404.html"

	// Cache policies applied by file extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=31536000, immutable"
	OtherCacheControl string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Site404File == "" {
		o.Site404File = "404.html"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=31536000, immutable"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
}

func (o *Options) validate() error {
	if o.Sandbox == nil {
		return fmt.Errorf("%w: Sandbox is nil", ErrInvalidOptions)
	}
	return nil
}
