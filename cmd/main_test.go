package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/citymesh/portaledge/internal/cache"
	"github.com/citymesh/portaledge/internal/config"
	"github.com/citymesh/portaledge/internal/sites"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestBuildSurrogateCacheDefaultsToMemory(t *testing.T) {
	backend := buildSurrogateCache(testLogger(), config.CacheConfig{Backend: "", TTLSeconds: 60})
	require.IsType(t, &cache.MemoryCache{}, backend)

	backend = buildSurrogateCache(testLogger(), config.CacheConfig{Backend: "memory", TTLSeconds: 60})
	require.IsType(t, &cache.MemoryCache{}, backend)
}

func TestBuildSurrogateCacheUnsupportedBackendFallsBack(t *testing.T) {
	backend := buildSurrogateCache(testLogger(), config.CacheConfig{Backend: "memcached"})
	require.IsType(t, &cache.MemoryCache{}, backend)
}

func TestBuildSurrogateCacheValkeyWithoutAddressFallsBack(t *testing.T) {
	backend := buildSurrogateCache(testLogger(), config.CacheConfig{Backend: "valkey"})
	require.IsType(t, &cache.MemoryCache{}, backend)
}

func TestBuildRoutingState(t *testing.T) {
	routingCfg := config.DefaultConfig().Routing
	state, err := buildRoutingState(routingCfg, []sites.Site{
		{ID: "beijing", Hostname: "beijing.citymesh.cn", RouteGroup: "beijing"},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, state.registry.Len())
	require.NotNil(t, state.resolver)
}

func TestBuildRoutingStateRejectsEmptySiteSet(t *testing.T) {
	_, err := buildRoutingState(config.DefaultConfig().Routing, nil, nil)
	require.Error(t, err)
}
