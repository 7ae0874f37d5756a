package server

import (
	"net/http"

	"github.com/vcachehq/server/internal/telemetry"
	"github.com/vcachehq/server/internal/ui"
)

func (s *Server) handleStaticSVG(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "ui.asset")
	name := r.URL.Path[1:] // strip leading slash: "favicon.svg" / "maskicon.svg"
	b, ct, ok := ui.Asset(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", ct)
	_, _ = w.Write(b)
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "ui.script")
	name := r.PathValue("name")
	b, ct, ok := ui.Asset(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", ct)
	_, _ = w.Write(b)
}
