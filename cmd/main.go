package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/citymesh/portaledge/internal/cache"
	"github.com/citymesh/portaledge/internal/config"
	"github.com/citymesh/portaledge/internal/expr"
	"github.com/citymesh/portaledge/internal/logging"
	"github.com/citymesh/portaledge/internal/metrics"
	"github.com/citymesh/portaledge/internal/requestctx"
	"github.com/citymesh/portaledge/internal/routing"
	"github.com/citymesh/portaledge/internal/server"
	"github.com/citymesh/portaledge/internal/sites"
	"github.com/citymesh/portaledge/internal/theme"
	"github.com/citymesh/portaledge/internal/webhook"
)

// routingState is one immutable snapshot of the reloadable routing inputs.
// Reloads build a fresh snapshot and swap the pointer, so in-flight requests
// never observe a half-updated registry.
type routingState struct {
	registry *sites.Registry
	resolver *routing.Resolver
	skipped  []config.DefinitionSkip
}

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "PORTALEDGE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	backend := buildSurrogateCache(logger.With(slog.String("component", "cache_factory")), cfg.Server.Cache)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := backend.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	celEnv, err := expr.NewWebhookEnvironment()
	if err != nil {
		logger.Error("purge rule environment setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	var state atomic.Pointer[routingState]
	initial, err := buildRoutingState(cfg.Routing, cfg.Sites, cfg.SkippedDefinitions)
	if err != nil {
		logger.Error("site registry setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	state.Store(initial)

	themes := theme.NewResolver(cfg.Themes, cfg.Routing.HostLayouts)
	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	rules, err := webhook.CompileRules(celEnv, cfg.PurgeRules)
	if err != nil {
		// The loader quarantines invalid rules, so this only trips on bugs.
		logger.Error("purge rule compilation failed", slog.Any("error", err))
		os.Exit(1)
	}
	dispatcher := webhook.NewDispatcher(backend, rules, recorder, logger)

	if strings.TrimSpace(cfg.Server.Webhook.Secret) == "" {
		logger.Warn("no webhook secret configured, invalidation endpoint will reject all events")
	}
	verifier := webhook.NewVerifier(cfg.Server.Webhook.Secret,
		time.Duration(cfg.Server.Webhook.WindowSeconds)*time.Second)
	nonces := webhook.NewNonceCache(
		time.Duration(cfg.Server.Webhook.NonceTTLSeconds)*time.Second,
		cfg.Server.Webhook.MaxNonces)
	hook := webhook.NewHandler(verifier, nonces, dispatcher, recorder, logger, "portaledge")

	injector := requestctx.NewInjector(
		func() *routing.Resolver { return state.Load().resolver },
		func() *sites.Registry { return state.Load().registry },
		themes, recorder, logger,
	)

	var sitesWatcher *config.SitesWatcher
	if cfg.Server.Sites.SitesFile != "" || cfg.Server.Sites.SitesFolder != "" {
		watcher, err := loader.WatchSites(ctx, cfg, func(bundle config.SiteBundle) {
			next, err := buildRoutingState(cfg.Routing, bundle.Sites, bundle.Skipped)
			if err != nil {
				logger.Error("site reload rejected", slog.Any("error", err))
				return
			}
			reloadedRules, err := webhook.CompileRules(celEnv, bundle.PurgeRules)
			if err != nil {
				logger.Error("purge rule reload rejected", slog.Any("error", err))
				return
			}
			state.Store(next)
			dispatcher.ReplaceRules(reloadedRules)
			logger.Info("sites reloaded",
				slog.Int("sites", next.registry.Len()),
				slog.Int("purge_rules", len(reloadedRules)),
				slog.Int("skipped", len(bundle.Skipped)))
		}, func(err error) {
			if err != nil {
				logger.Error("sites watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("sites watcher setup failed", slog.Any("error", err))
		} else {
			sitesWatcher = watcher
			defer sitesWatcher.Stop()
		}
	}

	content := server.NewContentHandler(backend, nil,
		time.Duration(cfg.Server.Cache.TTLSeconds)*time.Second, logger)
	health := server.NewHealthHandler(server.HealthState{
		Registry:         func() *sites.Registry { return state.Load().registry },
		Themes:           themes,
		Skipped:          func() []config.DefinitionSkip { return state.Load().skipped },
		SecretConfigured: strings.TrimSpace(cfg.Server.Webhook.Secret) != "",
	})

	router := server.NewRouter(server.Components{
		Injector: injector,
		Webhook:  hook,
		Content:  content,
		Health:   health,
		Recorder: recorder,
	})

	srv, err := server.New(cfg, logger, router)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func buildRoutingState(routingCfg config.RoutingConfig, configured []sites.Site, skipped []config.DefinitionSkip) (*routingState, error) {
	registry, err := sites.NewRegistry(configured, routingCfg.MainSite)
	if err != nil {
		return nil, err
	}
	resolver := routing.NewResolver(registry, routing.Options{
		DevHost:      routingCfg.DevHost,
		APIPrefix:    routingCfg.APIPrefix,
		PortalRoot:   routingCfg.PortalRoot,
		PortalGroup:  routingCfg.PortalGroup,
		DefaultGroup: routingCfg.DefaultGroup,
		Prefixes:     routingCfg.Prefixes,
	})
	return &routingState{registry: registry, resolver: resolver, skipped: skipped}, nil
}

func buildSurrogateCache(logger *slog.Logger, cfg config.CacheConfig) cache.Backend {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		if logger != nil {
			logger.Info("using memory surrogate cache", slog.Duration("ttl", ttl))
		}
		return cache.NewMemory(ttl)
	case "valkey":
		valkeyCache, err := cache.NewValkey(cache.ValkeyConfig{
			Address:  cfg.Valkey.Address,
			Username: cfg.Valkey.Username,
			Password: cfg.Valkey.Password,
			DB:       cfg.Valkey.DB,
			TLS: cache.ValkeyTLSConfig{
				Enabled: cfg.Valkey.TLS.Enabled,
				CAFile:  cfg.Valkey.TLS.CAFile,
			},
		})
		if err != nil {
			if logger != nil {
				logger.Error("valkey cache initialization failed", slog.Any("error", err))
				logger.Info("falling back to memory cache")
			}
			return cache.NewMemory(ttl)
		}
		if logger != nil {
			logger.Info("using valkey surrogate cache", slog.String("address", cfg.Valkey.Address))
		}
		return valkeyCache
	default:
		if logger != nil {
			logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		}
		return cache.NewMemory(ttl)
	}
}
