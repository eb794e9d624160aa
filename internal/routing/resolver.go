package routing

import (
	"net"
	"sort"
	"strings"

	"github.com/citymesh/portaledge/internal/sites"
)

// Decision is the outcome of resolving one request's hostname and path. It is
// computed fresh per request and never persisted.
type Decision struct {
	RouteGroup     string
	SiteID         string
	RewrittenPath  string
	PrefixStripped bool
	// Passthrough marks API-namespace requests that bypass routing entirely;
	// only identity headers are propagated for them.
	Passthrough bool
}

// Source labels which branch of the resolution algorithm produced a decision,
// primarily for metrics.
func (d Decision) Source() string {
	switch {
	case d.Passthrough:
		return "api"
	case d.PrefixStripped:
		return "prefix"
	case d.SiteID != "":
		return "registry"
	default:
		return "default"
	}
}

// PrefixRoute maps a path prefix on the shared development host to a route
// group, so a single localhost can serve every tenant during development.
type PrefixRoute struct {
	Prefix     string `koanf:"prefix"`
	RouteGroup string `koanf:"routeGroup"`
	Site       string `koanf:"site"`
}

// Options carries the static knobs of the resolution algorithm.
type Options struct {
	DevHost      string
	APIPrefix    string
	PortalRoot   string
	PortalGroup  string
	DefaultGroup string
	Prefixes     []PrefixRoute
}

// Resolver maps an incoming hostname and path to a route decision. It is pure
// over its inputs plus the injected registry and never fails: unknown input
// degrades to the default route group so a misconfigured host still renders.
type Resolver struct {
	registry *sites.Registry
	opts     Options
	prefixes []PrefixRoute
}

// NewResolver builds a resolver over the given registry. Prefix routes are
// ordered longest-first so the most specific mapping wins.
func NewResolver(registry *sites.Registry, opts Options) *Resolver {
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api"
	}
	if opts.PortalRoot == "" {
		opts.PortalRoot = "/portal"
	}
	if opts.PortalGroup == "" {
		opts.PortalGroup = "portal"
	}
	if opts.DefaultGroup == "" {
		opts.DefaultGroup = "local"
	}

	prefixes := make([]PrefixRoute, 0, len(opts.Prefixes))
	for _, p := range opts.Prefixes {
		p.Prefix = "/" + strings.Trim(strings.TrimSpace(p.Prefix), "/")
		if p.Prefix == "/" || p.RouteGroup == "" {
			continue
		}
		prefixes = append(prefixes, p)
	}
	sort.SliceStable(prefixes, func(i, j int) bool {
		return len(prefixes[i].Prefix) > len(prefixes[j].Prefix)
	})

	return &Resolver{registry: registry, opts: opts, prefixes: prefixes}
}

// Resolve runs the host/path resolution algorithm. See Decision for the
// fail-open semantics.
func (r *Resolver) Resolve(hostname, path string) Decision {
	host := normalizeHost(hostname)
	path = normalizePath(path)

	// API requests pass through untouched; downstream only needs identity
	// headers, never a rewritten path.
	if underPrefix(path, r.opts.APIPrefix) {
		return Decision{RewrittenPath: path, Passthrough: true}
	}

	if host != "" && host == normalizeHost(r.opts.DevHost) {
		for _, p := range r.prefixes {
			if !underPrefix(path, p.Prefix) {
				continue
			}
			remainder := strings.TrimPrefix(path, p.Prefix)
			return Decision{
				RouteGroup:     p.RouteGroup,
				SiteID:         p.Site,
				RewrittenPath:  joinGroupPath(p.RouteGroup, remainder),
				PrefixStripped: true,
			}
		}
	}

	// Requests already addressing the portal namespace are rewritten straight
	// into it regardless of which hostname carried them.
	if underPrefix(path, r.opts.PortalRoot) {
		siteID := ""
		if site, ok := r.registry.ByHostname(host); ok {
			siteID = site.ID
		} else {
			siteID = r.registry.MainSite().ID
		}
		return Decision{RouteGroup: r.opts.PortalGroup, SiteID: siteID, RewrittenPath: path}
	}

	if site, ok := r.registry.ByHostname(host); ok {
		return Decision{
			RouteGroup:    site.RouteGroup,
			SiteID:        site.ID,
			RewrittenPath: joinGroupPath(site.RouteGroup, path),
		}
	}

	return Decision{
		RouteGroup:    r.opts.DefaultGroup,
		RewrittenPath: joinGroupPath(r.opts.DefaultGroup, path),
	}
}

// underPrefix reports whether path equals prefix or sits beneath it. A plain
// string prefix check would wrongly match /beijingnews against /beijing.
func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func joinGroupPath(group, path string) string {
	group = "/" + strings.Trim(group, "/")
	if path == "" || path == "/" {
		return group
	}
	if underPrefix(path, group) {
		return path
	}
	return group + path
}

func normalizeHost(hostname string) string {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
