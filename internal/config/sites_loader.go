package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/citymesh/portaledge/internal/expr"
	"github.com/citymesh/portaledge/internal/sites"
	"github.com/citymesh/portaledge/internal/webhook"
)

const inlineSourceName = "inline-config"

// SiteBundle captures the merged site and purge-rule definitions after
// loading every configured source. The metadata explains what was loaded and
// why certain definitions were skipped.
type SiteBundle struct {
	Sites      []sites.Site
	PurgeRules []webhook.Rule
	Sources    []string
	Skipped    []DefinitionSkip
}

type siteDocument struct {
	Sites      []sites.Site   `koanf:"sites"`
	PurgeRules []webhook.Rule `koanf:"purgeRules"`
}

type siteAggregator struct {
	sites       []sites.Site
	siteIDs     map[string]string
	hostnames   map[string]string
	siteSkips   map[string]*DefinitionSkip

	rules       []webhook.Rule
	ruleSources map[string]string
	ruleSkips   map[string]*DefinitionSkip

	sources map[string]struct{}
}

func newSiteAggregator() *siteAggregator {
	return &siteAggregator{
		siteIDs:     make(map[string]string),
		hostnames:   make(map[string]string),
		siteSkips:   make(map[string]*DefinitionSkip),
		ruleSources: make(map[string]string),
		ruleSkips:   make(map[string]*DefinitionSkip),
		sources:     make(map[string]struct{}),
	}
}

func (a *siteAggregator) addDocument(doc siteDocument, source string) {
	if source != "" {
		a.sources[source] = struct{}{}
	}
	for _, site := range doc.Sites {
		a.addSite(site, source)
	}
	for _, rule := range doc.PurgeRules {
		a.addRule(rule, source)
	}
}

func (a *siteAggregator) addSite(site sites.Site, source string) {
	id := strings.ToLower(strings.TrimSpace(site.ID))
	hostname := strings.ToLower(strings.TrimSpace(site.Hostname))
	if id == "" || hostname == "" {
		a.recordSiteSkip(firstNonEmpty(id, hostname, "unnamed"), "missing id or hostname", source)
		return
	}
	if existing, ok := a.siteSkips[id]; ok {
		existing.Sources = appendUnique(existing.Sources, source)
		return
	}
	if prev, ok := a.siteIDs[id]; ok {
		a.recordSiteSkip(id, "duplicate site id", prev, source)
		delete(a.siteIDs, id)
		a.removeSite(id)
		return
	}
	if prev, ok := a.hostnames[hostname]; ok {
		a.recordSiteSkip(id, fmt.Sprintf("hostname %s already configured", hostname), prev, source)
		return
	}
	a.siteIDs[id] = source
	a.hostnames[hostname] = source
	a.sites = append(a.sites, site)
}

func (a *siteAggregator) removeSite(id string) {
	for i, site := range a.sites {
		if strings.ToLower(strings.TrimSpace(site.ID)) == id {
			delete(a.hostnames, strings.ToLower(strings.TrimSpace(site.Hostname)))
			a.sites = append(a.sites[:i], a.sites[i+1:]...)
			return
		}
	}
}

func (a *siteAggregator) addRule(rule webhook.Rule, source string) {
	name := strings.TrimSpace(rule.Name)
	if name == "" {
		a.recordRuleSkip("unnamed", "purge rule missing name", source)
		return
	}
	if existing, ok := a.ruleSkips[name]; ok {
		existing.Sources = appendUnique(existing.Sources, source)
		return
	}
	if prev, ok := a.ruleSources[name]; ok {
		a.recordRuleSkip(name, "duplicate definition", prev, source)
		a.removeRule(name)
		return
	}
	a.ruleSources[name] = source
	a.rules = append(a.rules, rule)
}

func (a *siteAggregator) removeRule(name string) {
	for i, rule := range a.rules {
		if strings.TrimSpace(rule.Name) == name {
			a.rules = append(a.rules[:i], a.rules[i+1:]...)
			return
		}
	}
}

// validateRuleConditions compiles every purge rule condition and quarantines
// the ones that fail, so one bad rule never takes down the others.
func (a *siteAggregator) validateRuleConditions(env *expr.Environment) {
	valid := a.rules[:0]
	for _, rule := range a.rules {
		if _, err := webhook.CompileRules(env, []webhook.Rule{rule}); err != nil {
			name := strings.TrimSpace(rule.Name)
			a.recordRuleSkip(name, fmt.Sprintf("invalid purge rule: %v", err), a.ruleSources[name])
			delete(a.ruleSources, name)
			continue
		}
		valid = append(valid, rule)
	}
	a.rules = valid
}

func (a *siteAggregator) recordSiteSkip(name, reason string, sources ...string) {
	recordSkip(a.siteSkips, "site", name, reason, sources)
}

func (a *siteAggregator) recordRuleSkip(name, reason string, sources ...string) {
	recordSkip(a.ruleSkips, "purgeRule", name, reason, sources)
}

func recordSkip(skips map[string]*DefinitionSkip, kind, name, reason string, sources []string) {
	if skip, ok := skips[name]; ok {
		if skip.Reason == "" {
			skip.Reason = reason
		}
		for _, src := range sources {
			skip.Sources = appendUnique(skip.Sources, src)
		}
		return
	}
	skip := &DefinitionSkip{Kind: kind, Name: name, Reason: reason, Sources: []string{}}
	for _, src := range sources {
		skip.Sources = appendUnique(skip.Sources, src)
	}
	skips[name] = skip
}

func (a *siteAggregator) bundle() SiteBundle {
	skipped := make([]DefinitionSkip, 0, len(a.siteSkips)+len(a.ruleSkips))
	for _, skip := range a.siteSkips {
		sort.Strings(skip.Sources)
		skipped = append(skipped, *skip)
	}
	for _, skip := range a.ruleSkips {
		sort.Strings(skip.Sources)
		skipped = append(skipped, *skip)
	}
	sort.Slice(skipped, func(i, j int) bool {
		if skipped[i].Kind == skipped[j].Kind {
			return skipped[i].Name < skipped[j].Name
		}
		return skipped[i].Kind < skipped[j].Kind
	})
	sources := make([]string, 0, len(a.sources))
	for src := range a.sources {
		if src != "" {
			sources = append(sources, src)
		}
	}
	sort.Strings(sources)
	return SiteBundle{
		Sites:      append([]sites.Site(nil), a.sites...),
		PurgeRules: append([]webhook.Rule(nil), a.rules...),
		Sources:    sources,
		Skipped:    skipped,
	}
}

func buildSiteBundle(ctx context.Context, inlineSites []sites.Site, inlineRules []webhook.Rule, sitesCfg SitesConfig) (SiteBundle, error) {
	agg := newSiteAggregator()
	if len(inlineSites) > 0 || len(inlineRules) > 0 {
		agg.addDocument(siteDocument{Sites: inlineSites, PurgeRules: inlineRules}, inlineSourceName)
	}

	files, err := collectSiteSources(ctx, sitesCfg)
	if err != nil {
		return SiteBundle{}, err
	}
	for _, path := range files {
		select {
		case <-ctx.Done():
			return SiteBundle{}, ctx.Err()
		default:
		}
		doc, err := loadSiteDocument(path)
		if err != nil {
			return SiteBundle{}, err
		}
		agg.addDocument(doc, path)
	}

	env, err := expr.NewWebhookEnvironment()
	if err != nil {
		return SiteBundle{}, err
	}
	agg.validateRuleConditions(env)
	return agg.bundle(), nil
}

func collectSiteSources(ctx context.Context, sitesCfg SitesConfig) ([]string, error) {
	if sitesCfg.SitesFile != "" {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := ensureFileExists(sitesCfg.SitesFile); err != nil {
			return nil, err
		}
		return []string{sitesCfg.SitesFile}, nil
	}
	if sitesCfg.SitesFolder == "" {
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	stat, err := os.Stat(sitesCfg.SitesFolder)
	if err != nil {
		return nil, fmt.Errorf("config: sites folder %s: %w", sitesCfg.SitesFolder, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("config: sites folder %s is not a directory", sitesCfg.SitesFolder)
	}
	var files []string
	err = filepath.WalkDir(sitesCfg.SitesFolder, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !isSupportedSitesFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("config: walk sites folder %s: %w", sitesCfg.SitesFolder, err)
	}
	sort.Strings(files)
	return files, nil
}

func ensureFileExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: sites file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: sites file %s: expected a file, found directory", path)
	}
	return nil
}

func loadSiteDocument(path string) (siteDocument, error) {
	parser, err := parserFor(path)
	if err != nil {
		return siteDocument{}, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return siteDocument{}, fmt.Errorf("config: load sites from %s: %w", path, err)
	}
	var doc siteDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return siteDocument{}, fmt.Errorf("config: decode sites from %s: %w", path, err)
	}
	return doc, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported sites file extension %s", ext)
	}
}

func isSupportedSitesFile(path string) bool {
	_, err := parserFor(path)
	return err == nil
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func cloneSites(in []sites.Site) []sites.Site {
	if len(in) == 0 {
		return nil
	}
	return append([]sites.Site(nil), in...)
}

func cloneRules(in []webhook.Rule) []webhook.Rule {
	if len(in) == 0 {
		return nil
	}
	return append([]webhook.Rule(nil), in...)
}
