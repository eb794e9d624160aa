package requestctx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/citymesh/portaledge/internal/metrics"
	"github.com/citymesh/portaledge/internal/routing"
	"github.com/citymesh/portaledge/internal/sites"
	"github.com/citymesh/portaledge/internal/theme"
)

// Injector is the middleware every inbound request passes through before any
// page logic: it resolves the hostname and path, loads the site's theme, and
// projects the resulting context onto downstream headers. The resolver is
// fetched per request so a sites hot reload swaps routing atomically.
type Injector struct {
	resolver func() *routing.Resolver
	registry func() *sites.Registry
	themes   *theme.Resolver
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// NewInjector wires the injector. resolver and registry are snapshot getters
// backed by the reloadable configuration.
func NewInjector(resolver func() *routing.Resolver, registry func() *sites.Registry, themes *theme.Resolver, recorder *metrics.Recorder, logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{
		resolver: resolver,
		registry: registry,
		themes:   themes,
		recorder: recorder,
		logger:   logger,
	}
}

// Wrap returns next guarded by context injection. Routing never fails; a theme
// that cannot load is surfaced as a rendered error page rather than silently
// falling back to the wrong theme.
func (i *Injector) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := i.resolver().Resolve(r.Host, r.URL.Path)
		i.recorder.ObserveResolve(decision.RouteGroup, decision.Source())

		rc := RequestContext{
			SiteHost:      r.Host,
			RouteGroup:    decision.RouteGroup,
			SiteID:        decision.SiteID,
			RewrittenPath: decision.RewrittenPath,
			Passthrough:   decision.Passthrough,
			DeviceID:      cookieValue(r, CookieDeviceID),
			SessionID:     cookieValue(r, CookieSessionID),
			UserID:        cookieValue(r, CookieUserID),
		}

		if decision.Passthrough {
			// API traffic bypasses routing and theming; only identity travels.
			i.project(r, rc)
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), rc)))
			return
		}

		site := i.siteFor(decision)
		rc.SiteID = site.ID

		loaded, err := i.themes.Load(site.Theme.Key, site.Theme.Version)
		if err != nil {
			i.recorder.ObserveThemeLoad(site.Theme.Key, "error")
			i.logger.Error("theme load failed",
				slog.String("site", site.ID),
				slog.String("theme", site.Theme.Key),
				slog.String("version", site.Theme.Version),
				slog.String("error", err.Error()))
			renderThemeError(w, err)
			return
		}
		i.recorder.ObserveThemeLoad(site.Theme.Key, "ok")

		layout, err := i.themes.PickLayout(loaded, site.Theme.Layout, r.Host)
		if err != nil {
			i.recorder.ObserveThemeLoad(site.Theme.Key, "error")
			i.logger.Error("layout selection failed",
				slog.String("site", site.ID),
				slog.String("theme", loaded.Key),
				slog.String("error", err.Error()))
			renderThemeError(w, err)
			return
		}

		rc.ThemeKey = loaded.Key
		rc.ThemeVersion = loaded.Version
		rc.LayoutKey = layout

		i.project(r, rc)
		r.URL.Path = decision.RewrittenPath
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), rc)))
	})
}

// siteFor maps a route decision back to a configured site. Fail-open routing
// can produce a decision without a site; those render with the main site's
// theme so the default route group still has a usable presentation.
func (i *Injector) siteFor(decision routing.Decision) sites.Site {
	registry := i.registry()
	if decision.SiteID != "" {
		if site, ok := registry.ByID(decision.SiteID); ok {
			return site
		}
	}
	return registry.MainSite()
}

func (i *Injector) project(r *http.Request, rc RequestContext) {
	set := func(header, value string) {
		if value != "" {
			r.Header.Set(header, value)
		}
	}
	set(HeaderSiteHost, rc.SiteHost)
	set(HeaderRouteGroup, rc.RouteGroup)
	set(HeaderThemeKey, rc.ThemeKey)
	set(HeaderThemeVersion, rc.ThemeVersion)
	set(HeaderLayoutKey, rc.LayoutKey)
	set(HeaderDeviceID, rc.DeviceID)
	set(HeaderSessionID, rc.SessionID)
	set(HeaderUserID, rc.UserID)
}

func renderThemeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, theme.ErrThemeNotFound) || errors.Is(err, theme.ErrLayoutNotFound) {
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte("<!doctype html><html><head><title>portal unavailable</title></head>" +
		"<body><h1>This portal is temporarily unavailable</h1>" +
		"<p>The site's presentation could not be loaded. Operators have been notified.</p></body></html>"))
}
