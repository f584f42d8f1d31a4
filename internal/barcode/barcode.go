// Package barcode builds image URLs for a remote barcode renderer.
package barcode

import (
	"net/url"
	"strings"

	"github.com/go-faster/errors"
)

// Defaults match the public barcodeapi.org renderer.
const (
	DefaultBaseURL   = "https://barcodeapi.org/api"
	DefaultSymbology = "code128"
)

// Config selects the renderer.
type Config struct {
	BaseURL   string `default:"https://barcodeapi.org/api" usage:"Barcode image service base URL"`
	Symbology string `default:"code128" usage:"Barcode symbology path segment"`
}

// Renderer maps barcode values to image URLs.
type Renderer struct {
	base      *url.URL
	symbology string
}

// New validates cfg and returns a Renderer. Empty fields use the defaults.
func New(cfg Config) (*Renderer, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse barcode base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("barcode base URL must be http(s), got %q", base)
	}
	sym := cfg.Symbology
	if sym == "" {
		sym = DefaultSymbology
	}
	return &Renderer{base: u, symbology: sym}, nil
}

// URL returns the image URL for code, or "" when code is empty.
func (r *Renderer) URL(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	return r.base.String() + "/" + url.PathEscape(r.symbology) + "/" + url.PathEscape(code)
}
