package sites

import (
	"fmt"
	"sort"
	"strings"
)

// SiteTheme names the theme and layout a site renders with. Version holds a
// semver constraint resolved against the theme catalog at request time.
type SiteTheme struct {
	Key     string `koanf:"key" json:"key"`
	Layout  string `koanf:"layout" json:"layout"`
	Version string `koanf:"version" json:"version"`
}

// Site describes one tenant of the portal: its identity, the hostname it is
// served under, and the content namespace plus theme that renders it.
type Site struct {
	ID          string    `koanf:"id" json:"id"`
	Hostname    string    `koanf:"hostname" json:"hostname"`
	DisplayName string    `koanf:"displayName" json:"displayName"`
	Theme       SiteTheme `koanf:"theme" json:"theme"`
	RouteGroup  string    `koanf:"routeGroup" json:"routeGroup"`
	Order       int       `koanf:"order" json:"order"`
}

// Registry is the immutable lookup table over the configured sites. Hostnames
// and ids are indexed in two separate maps so an id that collides with another
// site's hostname can never shadow it.
type Registry struct {
	byHostname map[string]Site
	byID       map[string]Site
	ordered    []Site
	main       Site
}

// NewRegistry indexes the configured sites and resolves the main site. The
// override may name a site by id or hostname; when empty the lowest-order site
// is the main one. Identity values are lowercased before indexing so lookups
// are case-insensitive.
func NewRegistry(configured []Site, mainOverride string) (*Registry, error) {
	if len(configured) == 0 {
		return nil, fmt.Errorf("sites: at least one site required")
	}

	r := &Registry{
		byHostname: make(map[string]Site, len(configured)),
		byID:       make(map[string]Site, len(configured)),
		ordered:    make([]Site, 0, len(configured)),
	}
	for _, site := range configured {
		site.ID = strings.ToLower(strings.TrimSpace(site.ID))
		site.Hostname = strings.ToLower(strings.TrimSpace(site.Hostname))
		if site.ID == "" {
			return nil, fmt.Errorf("sites: site %q missing id", site.Hostname)
		}
		if site.Hostname == "" {
			return nil, fmt.Errorf("sites: site %q missing hostname", site.ID)
		}
		if site.RouteGroup == "" {
			return nil, fmt.Errorf("sites: site %q missing routeGroup", site.ID)
		}
		if _, ok := r.byID[site.ID]; ok {
			return nil, fmt.Errorf("sites: duplicate site id %q", site.ID)
		}
		if _, ok := r.byHostname[site.Hostname]; ok {
			return nil, fmt.Errorf("sites: duplicate hostname %q", site.Hostname)
		}
		r.byID[site.ID] = site
		r.byHostname[site.Hostname] = site
		r.ordered = append(r.ordered, site)
	}
	sort.SliceStable(r.ordered, func(i, j int) bool {
		if r.ordered[i].Order == r.ordered[j].Order {
			return r.ordered[i].ID < r.ordered[j].ID
		}
		return r.ordered[i].Order < r.ordered[j].Order
	})

	main, err := r.resolveMain(mainOverride)
	if err != nil {
		return nil, err
	}
	r.main = main
	return r, nil
}

func (r *Registry) resolveMain(override string) (Site, error) {
	override = strings.ToLower(strings.TrimSpace(override))
	if override == "" {
		return r.ordered[0], nil
	}
	if site, ok := r.byID[override]; ok {
		return site, nil
	}
	if site, ok := r.byHostname[override]; ok {
		return site, nil
	}
	return Site{}, fmt.Errorf("sites: main site override %q matches no configured site", override)
}

// ByHostname returns the site served under the given hostname.
func (r *Registry) ByHostname(hostname string) (Site, bool) {
	site, ok := r.byHostname[strings.ToLower(strings.TrimSpace(hostname))]
	return site, ok
}

// ByID returns the site with the given identity.
func (r *Registry) ByID(id string) (Site, bool) {
	site, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]
	return site, ok
}

// All returns the configured sites sorted by display order.
func (r *Registry) All() []Site {
	out := make([]Site, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// IsAllowed reports whether the hostname belongs to a configured site.
func (r *Registry) IsAllowed(hostname string) bool {
	_, ok := r.ByHostname(hostname)
	return ok
}

// MainSite returns the site resolved from the configured override, falling
// back to the lowest-order entry.
func (r *Registry) MainSite() Site {
	return r.main
}

// Len reports the number of configured sites, surfaced by health checks.
func (r *Registry) Len() int {
	return len(r.ordered)
}
