package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/citymesh/portaledge/internal/routing"
	"github.com/citymesh/portaledge/internal/sites"
	"github.com/citymesh/portaledge/internal/theme"
	"github.com/citymesh/portaledge/internal/webhook"
)

// Config holds every server-level option plus the site and rule definitions
// once every configured source is merged.
type Config struct {
	Server     ServerConfig              `koanf:"server"`
	Sites      []sites.Site              `koanf:"sites"`
	Routing    RoutingConfig             `koanf:"routing"`
	Themes     map[string]theme.Manifest `koanf:"themes"`
	PurgeRules []webhook.Rule            `koanf:"purgeRules"`

	InlineSites      []sites.Site   `koanf:"-"`
	InlinePurgeRules []webhook.Rule `koanf:"-"`

	// SiteSources records which files contributed site or purge-rule
	// definitions once the loader resolves the configured sources. Excluded
	// from koanf so the value only reflects runtime discovery.
	SiteSources []string `koanf:"-"`
	// SkippedDefinitions captures duplicate or otherwise invalid definitions
	// the loader intentionally disabled, surfaced by health checks without
	// re-parsing raw files.
	SkippedDefinitions []DefinitionSkip `koanf:"-"`
}

// ServerConfig collects the bootstrap knobs of the process.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Cache   CacheConfig   `koanf:"cache"`
	Webhook WebhookConfig `koanf:"webhook"`
	Sites   SitesConfig   `koanf:"sites"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig selects and tunes the surrogate cache backend.
type CacheConfig struct {
	Backend    string            `koanf:"backend"`
	TTLSeconds int               `koanf:"ttlSeconds"`
	Valkey     ValkeyCacheConfig `koanf:"valkey"`
}

type ValkeyCacheConfig struct {
	Address  string               `koanf:"address"`
	Username string               `koanf:"username"`
	Password string               `koanf:"password"`
	DB       int                  `koanf:"db"`
	TLS      ValkeyCacheTLSConfig `koanf:"tls"`
}

type ValkeyCacheTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// WebhookConfig carries the shared secret and replay knobs of the
// invalidation endpoint. The secret is normally injected via
// PORTALEDGE_SERVER__WEBHOOK__SECRET rather than written to a file.
type WebhookConfig struct {
	Secret          string `koanf:"secret"`
	WindowSeconds   int    `koanf:"windowSeconds"`
	NonceTTLSeconds int    `koanf:"nonceTtlSeconds"`
	MaxNonces       int    `koanf:"maxNonces"`
}

// SitesConfig announces how site documents are sourced.
type SitesConfig struct {
	SitesFolder string `koanf:"sitesFolder"`
	SitesFile   string `koanf:"sitesFile"`
}

// RoutingConfig carries the static knobs of the host/path resolution
// algorithm plus the per-hostname layout override table.
type RoutingConfig struct {
	DevHost      string                 `koanf:"devHost"`
	APIPrefix    string                 `koanf:"apiPrefix"`
	PortalRoot   string                 `koanf:"portalRoot"`
	PortalGroup  string                 `koanf:"portalGroup"`
	DefaultGroup string                 `koanf:"defaultGroup"`
	MainSite     string                 `koanf:"mainSite"`
	Prefixes     []routing.PrefixRoute  `koanf:"prefixes"`
	HostLayouts  map[string]string      `koanf:"hostLayouts"`
}

// DefinitionSkip describes a site or purge-rule definition the loader
// intentionally ignored, for example a duplicate id across files. Health
// checks surface these so operators know which definitions were quarantined.
type DefinitionSkip struct {
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Reason  string   `json:"reason"`
	Sources []string `json:"sources"`
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic. Site-level invariants (unique ids, unique hostnames) are
// enforced by the registry constructor after the loader merges sources.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Sites.SitesFolder != "" && c.Server.Sites.SitesFile != "" {
		return errors.New("config: sitesFolder and sitesFile are mutually exclusive")
	}
	if c.Server.Cache.TTLSeconds < 0 {
		return fmt.Errorf("config: server.cache.ttlSeconds invalid: %d", c.Server.Cache.TTLSeconds)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "valkey":
		if strings.TrimSpace(c.Server.Cache.Valkey.Address) == "" {
			return errors.New("config: server.cache.valkey.address required for valkey backend")
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	if c.Server.Webhook.WindowSeconds < 0 {
		return fmt.Errorf("config: server.webhook.windowSeconds invalid: %d", c.Server.Webhook.WindowSeconds)
	}
	if c.Server.Webhook.NonceTTLSeconds < 0 {
		return fmt.Errorf("config: server.webhook.nonceTtlSeconds invalid: %d", c.Server.Webhook.NonceTTLSeconds)
	}
	return nil
}

// DefaultConfig returns the baseline values aligned with a single-host
// development deployment.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Cache: CacheConfig{
				Backend:    "memory",
				TTLSeconds: 300,
			},
			Webhook: WebhookConfig{
				WindowSeconds:   300,
				NonceTTLSeconds: 300,
				MaxNonces:       4096,
			},
		},
		Routing: RoutingConfig{
			DevHost:      "localhost",
			APIPrefix:    "/api",
			PortalRoot:   "/portal",
			PortalGroup:  "portal",
			DefaultGroup: "local",
		},
	}
}
