package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/citymesh/portaledge/internal/config"
	"github.com/citymesh/portaledge/internal/metrics"
	"github.com/citymesh/portaledge/internal/requestctx"
	"github.com/citymesh/portaledge/internal/routing"
	"github.com/citymesh/portaledge/internal/sites"
	"github.com/citymesh/portaledge/internal/theme"
	"github.com/citymesh/portaledge/internal/webhook"
)

type nullInvalidator struct{}

func (nullInvalidator) PurgeTag(context.Context, string) (int64, error)  { return 0, nil }
func (nullInvalidator) PurgePath(context.Context, string) (int64, error) { return 0, nil }
func (nullInvalidator) Close(context.Context) error                      { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	registry, err := sites.NewRegistry([]sites.Site{
		{ID: "beijing", Hostname: "beijing.citymesh.cn", RouteGroup: "beijing",
			Theme: sites.SiteTheme{Key: "atlas", Version: "1.0.0"}},
	}, "")
	require.NoError(t, err)

	resolver := routing.NewResolver(registry, routing.Options{})
	themes := theme.NewResolver(map[string]theme.Manifest{
		"atlas": {Versions: map[string]theme.VersionManifest{
			"1.0.0": {Layouts: map[string]string{"local": "atlas/Local"}},
		}},
	}, nil)
	recorder := metrics.NewRecorder(nil)

	injector := requestctx.NewInjector(
		func() *routing.Resolver { return resolver },
		func() *sites.Registry { return registry },
		themes, recorder, newTestLogger(),
	)

	verifier := webhook.NewVerifier("portal-secret", time.Minute)
	dispatcher := webhook.NewDispatcher(nullInvalidator{}, nil, recorder, newTestLogger())
	hook := webhook.NewHandler(verifier, webhook.NewNonceCache(time.Minute, 10), dispatcher, recorder, newTestLogger(), "portaledge")

	health := NewHealthHandler(HealthState{
		Registry:         func() *sites.Registry { return registry },
		Themes:           themes,
		Skipped:          func() []config.DefinitionSkip { return nil },
		SecretConfigured: true,
	})

	return NewRouter(Components{
		Injector: injector,
		Webhook:  hook,
		Content:  NewContentHandler(nil, nil, 0, newTestLogger()),
		Health:   health,
		Recorder: recorder,
	})
}

func TestRouterMounts(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "http://beijing.citymesh.cn/healthz", nil))
	require.Equal(t, 200, rr.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	require.Equal(t, "healthy", health["status"])
	require.Equal(t, float64(1), health["sites"])
	require.Equal(t, true, health["webhook_secret_configured"])

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "http://beijing.citymesh.cn/metrics", nil))
	require.Equal(t, 200, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "http://beijing.citymesh.cn/webhooks/content", nil))
	require.Equal(t, 200, rr.Code)
	require.Contains(t, rr.Body.String(), "webhook_secret_configured")
}

func TestRouterContentFallthrough(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "http://beijing.citymesh.cn/news", nil))
	require.Equal(t, 200, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Cache-Control"))
	require.Contains(t, rr.Header().Get("Surrogate-Key"), "site:beijing")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "beijing", body["site"])
	require.Equal(t, "/beijing/news", body["path"])
}
