package theme

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	semver "github.com/Masterminds/semver/v3"

	"github.com/citymesh/portaledge/internal/templates"
)

var (
	// ErrThemeNotFound reports an unknown theme key or an unsatisfiable
	// version constraint. Callers render a fallback error page rather than
	// silently serving the wrong theme.
	ErrThemeNotFound = errors.New("theme: not found")
	// ErrLayoutNotFound reports a layout key absent from a loaded theme.
	ErrLayoutNotFound = errors.New("theme: layout not found")
)

// ResolvedTheme is one loaded (key, version) pair. Instances are shared
// read-only across concurrent requests; the resolver owns them.
type ResolvedTheme struct {
	Key       string
	Version   string
	LayoutKey string
	Layouts   map[string]string

	tokens map[string]*templates.Template
}

// Tokens renders the theme's design tokens. A non-empty override wins
// verbatim; otherwise the token's template is rendered with the overrides in
// scope so templates can derive values from them.
func (t *ResolvedTheme) Tokens(overrides map[string]string) (DesignTokens, error) {
	out := make(DesignTokens, len(t.tokens))
	data := map[string]any{"overrides": toAnyMap(overrides)}
	for name, tmpl := range t.tokens {
		if value, ok := overrides[name]; ok && value != "" {
			out[name] = value
			continue
		}
		if tmpl == nil {
			out[name] = ""
			continue
		}
		value, err := tmpl.Render(data)
		if err != nil {
			return nil, fmt.Errorf("theme: token %q: %w", name, err)
		}
		out[name] = value
	}
	return out, nil
}

// Resolver loads themes from the catalog and memoizes every successful load
// for the process lifetime. The cache is unbounded on purpose: the set of
// (theme, version) pairs is operator-controlled, not attacker-controlled.
type Resolver struct {
	catalog     map[string]Manifest
	hostLayouts map[string]string
	renderer    *templates.Renderer

	mu     sync.RWMutex
	loaded map[string]*ResolvedTheme
}

// NewResolver builds a resolver over the theme catalog. hostLayouts maps a
// hostname to a substitute layout component, letting one theme special-case a
// single tenant without forking the theme key.
func NewResolver(catalog map[string]Manifest, hostLayouts map[string]string) *Resolver {
	normalized := make(map[string]Manifest, len(catalog))
	for key, manifest := range catalog {
		normalized[strings.ToLower(strings.TrimSpace(key))] = manifest
	}
	hosts := make(map[string]string, len(hostLayouts))
	for host, layout := range hostLayouts {
		hosts[strings.ToLower(strings.TrimSpace(host))] = layout
	}
	return &Resolver{
		catalog:     normalized,
		hostLayouts: hosts,
		renderer:    templates.NewRenderer(),
		loaded:      make(map[string]*ResolvedTheme),
	}
}

// Load resolves the version constraint against the theme's concrete versions
// and returns the loaded theme. Concurrent first loads of the same pair may
// race to build redundantly; loads are idempotent so the last write simply
// wins, and steady-state traffic always hits the memoized entry.
func (r *Resolver) Load(key, version string) (*ResolvedTheme, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	version = strings.TrimSpace(version)
	cacheKey := key + "@" + version

	r.mu.RLock()
	cached, ok := r.loaded[cacheKey]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	manifest, ok := r.catalog[key]
	if !ok {
		return nil, fmt.Errorf("theme: key %q: %w", key, ErrThemeNotFound)
	}
	resolvedVersion, versionManifest, err := resolveVersion(manifest, version)
	if err != nil {
		return nil, fmt.Errorf("theme: %s@%s: %w", key, version, err)
	}

	resolved, err := r.build(key, resolvedVersion, versionManifest)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.loaded[cacheKey] = resolved
	r.mu.Unlock()
	return resolved, nil
}

// PickLayout selects the concrete layout component for a request. The
// per-hostname override table wins over the theme's own layout map.
func (r *Resolver) PickLayout(t *ResolvedTheme, layoutKey, hostname string) (string, error) {
	if component, ok := r.hostLayouts[strings.ToLower(strings.TrimSpace(hostname))]; ok {
		return component, nil
	}
	if layoutKey == "" {
		layoutKey = t.LayoutKey
	}
	component, ok := t.Layouts[layoutKey]
	if !ok {
		return "", fmt.Errorf("theme: %s layout %q: %w", t.Key, layoutKey, ErrLayoutNotFound)
	}
	return component, nil
}

// Loaded reports the number of memoized themes, surfaced by health checks.
func (r *Resolver) Loaded() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.loaded)
}

func (r *Resolver) build(key, version string, manifest VersionManifest) (*ResolvedTheme, error) {
	layouts := make(map[string]string, len(manifest.Layouts))
	for layoutKey, component := range manifest.Layouts {
		layouts[layoutKey] = component
	}
	layoutKey := manifest.DefaultLayout
	if layoutKey == "" && len(layouts) > 0 {
		keys := make([]string, 0, len(layouts))
		for k := range layouts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		layoutKey = keys[0]
	}

	tokens := make(map[string]*templates.Template, len(manifest.Tokens))
	for name, source := range manifest.Tokens {
		tmpl, err := r.renderer.Compile(key+"/"+name, source)
		if err != nil {
			return nil, fmt.Errorf("theme: %s@%s: %w", key, version, err)
		}
		tokens[name] = tmpl
	}

	return &ResolvedTheme{
		Key:       key,
		Version:   version,
		LayoutKey: layoutKey,
		Layouts:   layouts,
		tokens:    tokens,
	}, nil
}

// resolveVersion picks the highest concrete version satisfying the semver
// constraint. An empty constraint selects the newest version; an exact version
// string that is not valid semver falls back to a literal catalog match.
func resolveVersion(manifest Manifest, constraint string) (string, VersionManifest, error) {
	if len(manifest.Versions) == 0 {
		return "", VersionManifest{}, fmt.Errorf("no versions published: %w", ErrThemeNotFound)
	}
	if constraint == "" {
		constraint = "*"
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		if vm, ok := manifest.Versions[constraint]; ok {
			return constraint, vm, nil
		}
		return "", VersionManifest{}, fmt.Errorf("invalid constraint %q: %w", constraint, ErrThemeNotFound)
	}

	var best *semver.Version
	for raw := range manifest.Versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if !c.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	if best == nil {
		return "", VersionManifest{}, fmt.Errorf("no version satisfies %q: %w", constraint, ErrThemeNotFound)
	}
	raw := best.Original()
	return raw, manifest.Versions[raw], nil
}

func toAnyMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
