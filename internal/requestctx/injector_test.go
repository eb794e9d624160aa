package requestctx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/citymesh/portaledge/internal/routing"
	"github.com/citymesh/portaledge/internal/sites"
	"github.com/citymesh/portaledge/internal/theme"
)

func testFixtures(t *testing.T) (*sites.Registry, *routing.Resolver, *theme.Resolver) {
	t.Helper()
	registry, err := sites.NewRegistry([]sites.Site{
		{ID: "portal", Hostname: "www.citymesh.cn", RouteGroup: "portal", Order: 0,
			Theme: sites.SiteTheme{Key: "atlas", Layout: "portal", Version: "^1.0"}},
		{ID: "beijing", Hostname: "beijing.citymesh.cn", RouteGroup: "beijing", Order: 1,
			Theme: sites.SiteTheme{Key: "atlas", Layout: "local", Version: "^1.0"}},
		{ID: "notheme", Hostname: "nowhere.citymesh.cn", RouteGroup: "nowhere", Order: 2,
			Theme: sites.SiteTheme{Key: "missing", Version: "^1.0"}},
	}, "portal")
	require.NoError(t, err)

	resolver := routing.NewResolver(registry, routing.Options{
		DevHost: "localhost",
		Prefixes: []routing.PrefixRoute{
			{Prefix: "/beijing", RouteGroup: "beijing", Site: "beijing"},
		},
	})

	themes := theme.NewResolver(map[string]theme.Manifest{
		"atlas": {Versions: map[string]theme.VersionManifest{
			"1.1.0": {
				Layouts:       map[string]string{"portal": "atlas/Portal", "local": "atlas/Local"},
				DefaultLayout: "local",
			},
		}},
	}, nil)

	return registry, resolver, themes
}

func newTestInjector(t *testing.T) *Injector {
	t.Helper()
	registry, resolver, themes := testFixtures(t)
	return NewInjector(
		func() *routing.Resolver { return resolver },
		func() *sites.Registry { return registry },
		themes, nil, nil,
	)
}

type captured struct {
	rc      RequestContext
	ok      bool
	headers http.Header
	path    string
}

func capture(out *captured) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out.rc, out.ok = FromRequest(r)
		out.headers = r.Header.Clone()
		out.path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
}

func TestInjectorResolvesSiteAndTheme(t *testing.T) {
	injector := newTestInjector(t)

	var got captured
	handler := injector.Wrap(capture(&got))

	req := httptest.NewRequest("GET", "http://beijing.citymesh.cn/news", nil)
	req.AddCookie(&http.Cookie{Name: CookieDeviceID, Value: "d-42"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, 200, rr.Code)
	require.True(t, got.ok)
	require.Equal(t, "beijing", got.rc.SiteID)
	require.Equal(t, "beijing", got.rc.RouteGroup)
	require.Equal(t, "/beijing/news", got.path)
	require.Equal(t, "atlas", got.rc.ThemeKey)
	require.Equal(t, "1.1.0", got.rc.ThemeVersion)
	require.Equal(t, "d-42", got.rc.DeviceID)

	require.Equal(t, "beijing.citymesh.cn", got.headers.Get(HeaderSiteHost))
	require.Equal(t, "beijing", got.headers.Get(HeaderRouteGroup))
	require.Equal(t, "atlas", got.headers.Get(HeaderThemeKey))
	require.Equal(t, "1.1.0", got.headers.Get(HeaderThemeVersion))
	require.Equal(t, "atlas/Local", got.headers.Get(HeaderLayoutKey))
	require.Equal(t, "d-42", got.headers.Get(HeaderDeviceID))
}

func TestInjectorDevHostPrefix(t *testing.T) {
	injector := newTestInjector(t)

	var got captured
	handler := injector.Wrap(capture(&got))

	req := httptest.NewRequest("GET", "http://localhost:8080/beijing/news", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, 200, rr.Code)
	require.Equal(t, "beijing", got.rc.RouteGroup)
	require.Equal(t, "/beijing/news", got.path)
}

func TestInjectorAPIPassthrough(t *testing.T) {
	injector := newTestInjector(t)

	var got captured
	handler := injector.Wrap(capture(&got))

	req := httptest.NewRequest("GET", "http://beijing.citymesh.cn/api/v1/pages", nil)
	req.AddCookie(&http.Cookie{Name: CookieUserID, Value: "u-7"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, 200, rr.Code)
	require.True(t, got.rc.Passthrough)
	require.Equal(t, "/api/v1/pages", got.path, "API paths are never rewritten")
	require.Empty(t, got.headers.Get(HeaderThemeKey), "passthrough skips theming")
	require.Equal(t, "u-7", got.headers.Get(HeaderUserID))
}

func TestInjectorUnknownHostFailsOpenWithMainTheme(t *testing.T) {
	injector := newTestInjector(t)

	var got captured
	handler := injector.Wrap(capture(&got))

	req := httptest.NewRequest("GET", "http://stranger.example.com/about", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, 200, rr.Code, "routing ambiguity never surfaces as an error")
	require.Equal(t, "local", got.rc.RouteGroup)
	require.Equal(t, "/local/about", got.path)
	require.Equal(t, "atlas", got.rc.ThemeKey, "default route renders with the main site's theme")
}

func TestInjectorThemeFailureRendersErrorPage(t *testing.T) {
	injector := newTestInjector(t)

	called := false
	handler := injector.Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("GET", "http://nowhere.citymesh.cn/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.False(t, called, "page layer never runs without a theme")
	require.Contains(t, rr.Body.String(), "temporarily unavailable")
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}
