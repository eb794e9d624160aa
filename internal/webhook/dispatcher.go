package webhook

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/citymesh/portaledge/internal/cache"
	"github.com/citymesh/portaledge/internal/metrics"
)

// Action outcomes recorded in the audit trail.
const (
	OutcomePurged  = "purged"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Action is one invalidation attempt from a single dispatch. The slice of
// actions is the webhook caller's audit trail; it is returned in the response
// body and never persisted.
type Action struct {
	Kind    string `json:"kind"`
	Target  string `json:"target"`
	Outcome string `json:"outcome"`
	Removed int64  `json:"removed,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Dispatcher translates a verified payload into invalidation actions against
// the cache. One failing purge never aborts the remaining actions, and a
// target repeated within one dispatch is recorded as skipped rather than
// purged twice. Dispatchers hold no per-call state and are safe for
// concurrent use.
type Dispatcher struct {
	invalidator cache.Invalidator
	rules       atomic.Pointer[[]CompiledRule]
	recorder    *metrics.Recorder
	logger      *slog.Logger
}

// NewDispatcher wires the dispatcher to its purge primitive. rules and
// recorder may be empty/nil.
func NewDispatcher(invalidator cache.Invalidator, rules []CompiledRule, recorder *metrics.Recorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		invalidator: invalidator,
		recorder:    recorder,
		logger:      logger,
	}
	d.rules.Store(&rules)
	return d
}

// ReplaceRules swaps the operator rule set, used by the sites hot reload.
// In-flight dispatches keep the set they started with.
func (d *Dispatcher) ReplaceRules(rules []CompiledRule) {
	d.rules.Store(&rules)
}

// Dispatch executes the invalidation state machine for one payload: the
// coarse site tag first, then the entity branch, then event-specific
// cross-cutting purges, then any matching operator rules.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload) []Action {
	run := &dispatchRun{dispatcher: d, ctx: ctx, seen: make(map[string]struct{})}

	site := strings.ToLower(strings.TrimSpace(p.Site))
	run.purgeTag(cache.Tag(cache.KindSite, site))

	switch p.Entity {
	case EntityPage:
		if p.PageID != "" {
			run.purgeTag(cache.Tag(cache.KindPage, p.PageID))
		}
		if p.Slug != "" {
			run.purgePath(pagePath(site, p.Slug))
		}
		if p.Channel != "" {
			run.purgeTag(cache.Tag(cache.KindChannel, p.Channel))
		}
		if p.Region != "" {
			run.purgeTag(cache.Tag(cache.KindRegion, p.Region))
		}
	case EntitySettings:
		run.purgeTag(cache.Tag(cache.KindSettings, site))
		run.purgePath(homePath(site))
	case EntityChannel:
		if p.Channel != "" {
			run.purgeTag(cache.Tag(cache.KindChannel, p.Channel))
			run.purgePath(channelPath(site, p.Channel))
		}
	case EntityRegion:
		if p.Region != "" {
			run.purgeTag(cache.Tag(cache.KindRegion, p.Region))
			run.purgePath(regionPath(site, p.Region))
		}
	}

	switch p.Event {
	case EventPageUnpublish:
		// A page disappearing must be reflected in listings, not just at its
		// own URL.
		run.purgePath(homePath(site))
		run.purgePath(listingPath(site))
	case EventSettingsUpdate:
		run.purgePath(homePath(site))
	}

	for _, rule := range *d.rules.Load() {
		matched, err := rule.matches(p)
		if err != nil {
			d.logger.Warn("purge rule evaluation failed",
				slog.String("rule", rule.Name),
				slog.String("site", site),
				slog.String("event", p.Event),
				slog.String("error", err.Error()))
			continue
		}
		if !matched {
			continue
		}
		for _, tag := range rule.tags {
			run.purgeTag(strings.ToLower(strings.TrimSpace(tag)))
		}
		for _, path := range rule.paths {
			run.purgePath(normalizePath(path))
		}
	}

	return run.actions
}

// dispatchRun accumulates the action log for one payload.
type dispatchRun struct {
	dispatcher *Dispatcher
	ctx        context.Context
	seen       map[string]struct{}
	actions    []Action
}

func (r *dispatchRun) purgeTag(tag string) {
	r.purge("tag", tag, metrics.PurgeKindTag, r.dispatcher.invalidator.PurgeTag)
}

func (r *dispatchRun) purgePath(path string) {
	r.purge("path", path, metrics.PurgeKindPath, r.dispatcher.invalidator.PurgePath)
}

func (r *dispatchRun) purge(kind, target string, metricKind metrics.PurgeKind, fn func(context.Context, string) (int64, error)) {
	if target == "" || strings.HasSuffix(target, ":") {
		return
	}
	key := kind + "\x00" + target
	if _, dup := r.seen[key]; dup {
		r.actions = append(r.actions, Action{Kind: kind, Target: target, Outcome: OutcomeSkipped})
		r.dispatcher.recorder.ObservePurge(metricKind, metrics.PurgeSkipped, 0)
		return
	}
	r.seen[key] = struct{}{}

	start := time.Now()
	removed, err := fn(r.ctx, target)
	elapsed := time.Since(start)
	if err != nil {
		r.actions = append(r.actions, Action{Kind: kind, Target: target, Outcome: OutcomeFailed, Error: err.Error()})
		r.dispatcher.recorder.ObservePurge(metricKind, metrics.PurgeFailed, elapsed)
		r.dispatcher.logger.Warn("invalidation failed",
			slog.String("kind", kind),
			slog.String("target", target),
			slog.String("error", err.Error()))
		return
	}
	r.actions = append(r.actions, Action{Kind: kind, Target: target, Outcome: OutcomePurged, Removed: removed})
	r.dispatcher.recorder.ObservePurge(metricKind, metrics.PurgePurged, elapsed)
}

func homePath(site string) string {
	return "/" + site
}

func pagePath(site, slug string) string {
	return "/" + site + "/" + strings.ToLower(strings.TrimSpace(slug))
}

func listingPath(site string) string {
	return "/" + site + "/articles"
}

func channelPath(site, channel string) string {
	return "/" + site + "/channel/" + strings.ToLower(strings.TrimSpace(channel))
}

func regionPath(site, region string) string {
	return "/" + site + "/region/" + strings.ToLower(strings.TrimSpace(region))
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.ToLower(path)
}
