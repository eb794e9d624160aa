package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot: defaults, then files, then env, then
// the merged site/purge-rule bundle from the configured sources.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.sites.sitesfolder":        "server.sites.sitesFolder",
			"server.sites.sitesfile":          "server.sites.sitesFile",
			"server.cache.ttlseconds":         "server.cache.ttlSeconds",
			"server.cache.valkey.tls.cafile":  "server.cache.valkey.tls.caFile",
			"server.webhook.windowseconds":    "server.webhook.windowSeconds",
			"server.webhook.noncettlseconds":  "server.webhook.nonceTtlSeconds",
			"server.webhook.maxnonces":        "server.webhook.maxNonces",
			"routing.devhost":                 "routing.devHost",
			"routing.apiprefix":               "routing.apiPrefix",
			"routing.portalroot":              "routing.portalRoot",
			"routing.portalgroup":             "routing.portalGroup",
			"routing.defaultgroup":            "routing.defaultGroup",
			"routing.mainsite":                "routing.mainSite",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path
			// (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so LISTEN_PORT collapses into
			// listenport when callers skip the double-underscore nesting.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.InlineSites = cloneSites(cfg.Sites)
	cfg.InlinePurgeRules = cloneRules(cfg.PurgeRules)

	bundle, err := buildSiteBundle(ctx, cfg.InlineSites, cfg.InlinePurgeRules, cfg.Server.Sites)
	if err != nil {
		return Config{}, err
	}
	cfg.Sites = bundle.Sites
	cfg.PurgeRules = bundle.PurgeRules
	cfg.SiteSources = bundle.Sources
	cfg.SkippedDefinitions = bundle.Skipped
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"cache": map[string]any{
				"backend":    cfg.Server.Cache.Backend,
				"ttlSeconds": cfg.Server.Cache.TTLSeconds,
				"valkey": map[string]any{
					"address":  cfg.Server.Cache.Valkey.Address,
					"username": cfg.Server.Cache.Valkey.Username,
					"password": cfg.Server.Cache.Valkey.Password,
					"db":       cfg.Server.Cache.Valkey.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Valkey.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Valkey.TLS.CAFile,
					},
				},
			},
			"webhook": map[string]any{
				"secret":          cfg.Server.Webhook.Secret,
				"windowSeconds":   cfg.Server.Webhook.WindowSeconds,
				"nonceTtlSeconds": cfg.Server.Webhook.NonceTTLSeconds,
				"maxNonces":       cfg.Server.Webhook.MaxNonces,
			},
			"sites": map[string]any{
				"sitesFolder": cfg.Server.Sites.SitesFolder,
				"sitesFile":   cfg.Server.Sites.SitesFile,
			},
		},
		"routing": map[string]any{
			"devHost":      cfg.Routing.DevHost,
			"apiPrefix":    cfg.Routing.APIPrefix,
			"portalRoot":   cfg.Routing.PortalRoot,
			"portalGroup":  cfg.Routing.PortalGroup,
			"defaultGroup": cfg.Routing.DefaultGroup,
			"mainSite":     cfg.Routing.MainSite,
		},
	}
}
