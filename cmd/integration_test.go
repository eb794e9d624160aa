package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/citymesh/portaledge/internal/cache"
	"github.com/citymesh/portaledge/internal/config"
	"github.com/citymesh/portaledge/internal/metrics"
	"github.com/citymesh/portaledge/internal/requestctx"
	"github.com/citymesh/portaledge/internal/routing"
	"github.com/citymesh/portaledge/internal/server"
	"github.com/citymesh/portaledge/internal/sites"
	"github.com/citymesh/portaledge/internal/theme"
	"github.com/citymesh/portaledge/internal/webhook"
)

const integrationSecret = "portal-secret"

// newIntegrationStack assembles the full request path the way main does,
// backed by a shared memory cache so webhook purges are observable from the
// content side.
func newIntegrationStack(t *testing.T) (http.Handler, *cache.MemoryCache) {
	t.Helper()

	backend := cache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = backend.Close(context.Background()) })

	routingCfg := config.DefaultConfig().Routing
	state, err := buildRoutingState(routingCfg, []sites.Site{
		{ID: "beijing", Hostname: "beijing.citymesh.cn", RouteGroup: "beijing",
			Theme: sites.SiteTheme{Key: "atlas", Version: "1.0.0"}},
		{ID: "shanghai", Hostname: "shanghai.citymesh.cn", RouteGroup: "shanghai",
			Theme: sites.SiteTheme{Key: "atlas", Version: "1.0.0"}},
	}, nil)
	require.NoError(t, err)

	themes := theme.NewResolver(map[string]theme.Manifest{
		"atlas": {Versions: map[string]theme.VersionManifest{
			"1.0.0": {Layouts: map[string]string{"local": "atlas/Local"}},
		}},
	}, nil)
	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	injector := requestctx.NewInjector(
		func() *routing.Resolver { return state.resolver },
		func() *sites.Registry { return state.registry },
		themes, recorder, testLogger(),
	)

	dispatcher := webhook.NewDispatcher(backend, nil, recorder, testLogger())
	verifier := webhook.NewVerifier(integrationSecret, 5*time.Minute)
	hook := webhook.NewHandler(verifier, webhook.NewNonceCache(5*time.Minute, 128), dispatcher, recorder, testLogger(), "portaledge")

	health := server.NewHealthHandler(server.HealthState{
		Registry:         func() *sites.Registry { return state.registry },
		Themes:           themes,
		Skipped:          func() []config.DefinitionSkip { return nil },
		SecretConfigured: true,
	})

	return server.NewRouter(server.Components{
		Injector: injector,
		Webhook:  hook,
		Content:  server.NewContentHandler(backend, nil, time.Minute, testLogger()),
		Health:   health,
		Recorder: recorder,
	}), backend
}

func newExpect(t *testing.T, srv *httptest.Server) *httpexpect.Expect {
	return httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewRequireReporter(t),
		Client:   srv.Client(),
	})
}

func cacheSize(t *testing.T, store *cache.MemoryCache) int64 {
	t.Helper()
	size, err := store.Size(context.Background())
	require.NoError(t, err)
	return size
}

func signedEvent(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(fields)
	require.NoError(t, err)
	signature := webhook.Sign(integrationSecret, body)
	return append(body[:len(body)-1], []byte(fmt.Sprintf(`,"signature":"%s"}`, signature))...)
}

func TestIntegrationOperationalEndpoints(t *testing.T) {
	router, _ := newIntegrationStack(t)
	srv := httptest.NewServer(router)
	defer srv.Close()
	expect := newExpect(t, srv)

	health := expect.GET("/healthz").Expect().Status(http.StatusOK).JSON().Object()
	health.HasValue("status", "healthy")
	health.HasValue("sites", 2)
	health.HasValue("webhook_secret_configured", true)

	// Drive one resolution so the routing counter has a series to expose.
	expect.GET("/news").WithHost("beijing.citymesh.cn").Expect().Status(http.StatusOK)
	expect.GET("/metrics").Expect().Status(http.StatusOK).
		Body().Contains("portaledge_routing_resolutions_total")

	expect.GET("/webhooks/content").Expect().Status(http.StatusOK).
		JSON().Object().HasValue("webhook_secret_configured", true)
}

func TestIntegrationContentResolution(t *testing.T) {
	router, _ := newIntegrationStack(t)
	srv := httptest.NewServer(router)
	defer srv.Close()
	expect := newExpect(t, srv)

	resp := expect.GET("/news").WithHost("beijing.citymesh.cn").Expect().Status(http.StatusOK)
	resp.Header("Cache-Control").IsEqual("public, max-age=300, stale-while-revalidate=1800")
	resp.Header("Surrogate-Key").Contains("site:beijing")

	body := resp.JSON().Object()
	body.HasValue("site", "beijing")
	body.HasValue("path", "/beijing/news")
	body.HasValue("theme", "atlas")

	// Unknown hosts fail open onto the main site rather than erroring.
	expect.GET("/about").WithHost("unknown.example.com").Expect().Status(http.StatusOK).
		JSON().Object().HasValue("site", "beijing")
}

func TestIntegrationWebhookPurgesSharedCache(t *testing.T) {
	router, store := newIntegrationStack(t)
	srv := httptest.NewServer(router)
	defer srv.Close()
	expect := newExpect(t, srv)

	// Warm the shared cache, then confirm the repeat request is a hit.
	expect.GET("/news").WithHost("beijing.citymesh.cn").Expect().Status(http.StatusOK)
	require.Equal(t, int64(1), cacheSize(t, store))
	expect.GET("/news").WithHost("beijing.citymesh.cn").Expect().Status(http.StatusOK).
		Header("X-Cache").IsEqual("HIT")

	event := signedEvent(t, map[string]any{
		"event":     "settings_update",
		"site":      "beijing",
		"entity":    "settings",
		"timestamp": time.Now().UnixMilli(),
		"nonce":     "integration-nonce-1",
	})
	resp := expect.POST("/webhooks/content").
		WithHeader("Content-Type", "application/json").
		WithBytes(event).
		Expect().Status(http.StatusAccepted).JSON().Object()
	resp.HasValue("success", true)
	resp.HasValue("site", "beijing")

	require.Zero(t, cacheSize(t, store), "site tag purge empties the warmed cache")

	expect.GET("/news").WithHost("beijing.citymesh.cn").Expect().Status(http.StatusOK).
		Header("X-Cache").IsEmpty()
}

func TestIntegrationWebhookRejectsBadCredentials(t *testing.T) {
	router, store := newIntegrationStack(t)
	srv := httptest.NewServer(router)
	defer srv.Close()
	expect := newExpect(t, srv)

	event := signedEvent(t, map[string]any{
		"event":     "page_publish",
		"site":      "beijing",
		"entity":    "page",
		"pageId":    "p-9",
		"timestamp": time.Now().UnixMilli(),
		"nonce":     "integration-nonce-2",
	})

	// Flip one hex digit of the signature.
	tampered := append([]byte(nil), event...)
	idx := bytes.Index(tampered, []byte(`"signature":"`))
	require.GreaterOrEqual(t, idx, 0)
	idx += len(`"signature":"`)
	if tampered[idx] == '0' {
		tampered[idx] = '1'
	} else {
		tampered[idx] = '0'
	}

	expect.POST("/webhooks/content").WithBytes(tampered).
		Expect().Status(http.StatusUnauthorized)
	require.Zero(t, cacheSize(t, store))

	// The genuine event is accepted once; its nonce replay is not.
	expect.POST("/webhooks/content").WithBytes(event).
		Expect().Status(http.StatusAccepted)
	expect.POST("/webhooks/content").WithBytes(event).
		Expect().Status(http.StatusUnauthorized)
}
