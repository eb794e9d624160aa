package server

import (
	"encoding/json"
	"net/http"

	"github.com/citymesh/portaledge/internal/config"
	"github.com/citymesh/portaledge/internal/metrics"
	"github.com/citymesh/portaledge/internal/requestctx"
	"github.com/citymesh/portaledge/internal/sites"
	"github.com/citymesh/portaledge/internal/theme"
)

// Components collects the handlers the router mounts. Everything outside the
// named mounts flows through the request-context injector into Content.
type Components struct {
	Injector *requestctx.Injector
	Webhook  http.Handler
	Content  http.Handler
	Health   http.Handler
	Recorder *metrics.Recorder
}

// NewRouter wires the portal's HTTP surface: the invalidation webhook, health
// and metrics probes, and the context-injected content fallthrough.
func NewRouter(c Components) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/webhooks/content", c.Webhook)
	mux.Handle("/healthz", c.Health)
	mux.Handle("/metrics", c.Recorder.Handler())
	mux.Handle("/", c.Injector.Wrap(c.Content))
	return mux
}

// HealthState exposes the live counters the health endpoint reports.
type HealthState struct {
	Registry         func() *sites.Registry
	Themes           *theme.Resolver
	Skipped          func() []config.DefinitionSkip
	SecretConfigured bool
}

// NewHealthHandler reports process liveness plus the registry and theme
// snapshot sizes. Quarantined definitions are surfaced here so a bad reload is
// visible without log spelunking.
func NewHealthHandler(state HealthState) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		skipped := state.Skipped()
		body := map[string]any{
			"status":                    "healthy",
			"service":                   "portaledge",
			"sites":                     state.Registry().Len(),
			"themes_loaded":             state.Themes.Loaded(),
			"webhook_secret_configured": state.SecretConfigured,
		}
		if len(skipped) > 0 {
			body["skipped_definitions"] = skipped
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(body)
	})
}
