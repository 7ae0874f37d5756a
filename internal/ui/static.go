package ui

import "embed"

//go:embed static/*
var staticFS embed.FS

// Asset returns the bytes and content type of a static asset under
// static/, or ok=false if name is not one of the served files.
//
// The spec's source serves vendored htmx and bootstrap bundles; vendoring
// third-party frontend assets verbatim isn't something this module fetches
// at build time, so the sort/paging interactivity those bundles provided
// is instead hand-rolled here in cache.js/cache.css -- see DESIGN.md.
func Asset(name string) ([]byte, string, bool) {
	ct, ok := staticContentTypes[name]
	if !ok {
		return nil, "", false
	}
	b, err := staticFS.ReadFile("static/" + name)
	if err != nil {
		return nil, "", false
	}
	return b, ct, true
}

var staticContentTypes = map[string]string{
	"favicon.svg":  "image/svg+xml",
	"maskicon.svg": "image/svg+xml",
	"cache.js":     "text/javascript",
	"cache.css":    "text/css",
}
