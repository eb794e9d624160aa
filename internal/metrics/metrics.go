package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PurgeKind identifies which invalidation primitive was exercised.
type PurgeKind string

const (
	// PurgeKindTag records tag invalidations.
	PurgeKindTag PurgeKind = "tag"
	// PurgeKindPath records exact-path invalidations.
	PurgeKindPath PurgeKind = "path"
)

// PurgeOutcome captures the result of one invalidation call.
type PurgeOutcome string

const (
	// PurgePurged indicates the invalidation succeeded.
	PurgePurged PurgeOutcome = "purged"
	// PurgeSkipped indicates a duplicate target within one dispatch.
	PurgeSkipped PurgeOutcome = "skipped"
	// PurgeFailed indicates the invalidation primitive returned an error.
	PurgeFailed PurgeOutcome = "failed"
)

// WebhookOutcome captures how an inbound webhook call terminated.
type WebhookOutcome string

const (
	// WebhookAccepted indicates the event was dispatched.
	WebhookAccepted WebhookOutcome = "accepted"
	// WebhookUnauthorized indicates signature, timestamp, or nonce rejection.
	WebhookUnauthorized WebhookOutcome = "unauthorized"
	// WebhookInvalid indicates a malformed payload.
	WebhookInvalid WebhookOutcome = "invalid"
)

// Recorder publishes Prometheus metrics for routing, webhook, and cache
// activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	resolveRequests *prometheus.CounterVec

	webhookEvents  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec

	purgeOps     *prometheus.CounterVec
	purgeLatency *prometheus.HistogramVec

	themeLoads *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	resolveRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portaledge",
		Subsystem: "routing",
		Name:      "resolutions_total",
		Help:      "Host/path resolutions performed, labeled by which branch decided.",
	}, []string{"route_group", "source"})

	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portaledge",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Inbound content webhook calls by event type and outcome.",
	}, []string{"event", "outcome"})

	webhookLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portaledge",
		Subsystem: "webhook",
		Name:      "dispatch_duration_seconds",
		Help:      "Latency distribution for dispatched webhook events.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"event"})

	purgeOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portaledge",
		Subsystem: "cache",
		Name:      "purges_total",
		Help:      "Cache invalidation actions executed by the dispatcher.",
	}, []string{"kind", "result"})

	purgeLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portaledge",
		Subsystem: "cache",
		Name:      "purge_duration_seconds",
		Help:      "Latency distribution for cache invalidation calls.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"kind", "result"})

	themeLoads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portaledge",
		Subsystem: "theme",
		Name:      "loads_total",
		Help:      "Theme resolutions by theme key and result.",
	}, []string{"theme", "result"})

	reg.MustRegister(resolveRequests, webhookEvents, webhookLatency, purgeOps, purgeLatency, themeLoads)

	return &Recorder{
		gatherer:        reg,
		handler:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		resolveRequests: resolveRequests,
		webhookEvents:   webhookEvents,
		webhookLatency:  webhookLatency,
		purgeOps:        purgeOps,
		purgeLatency:    purgeLatency,
		themeLoads:      themeLoads,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveResolve records one host/path resolution.
func (r *Recorder) ObserveResolve(routeGroup, source string) {
	if r == nil {
		return
	}
	r.resolveRequests.WithLabelValues(normalizeLabel(routeGroup), normalizeLabel(source)).Inc()
}

// ObserveWebhook records the terminal outcome of one webhook call. Latency is
// only recorded for dispatched events; rejected calls never reach dispatch.
func (r *Recorder) ObserveWebhook(event string, outcome WebhookOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	eventLabel := normalizeLabel(event)
	r.webhookEvents.WithLabelValues(eventLabel, string(outcome)).Inc()
	if outcome == WebhookAccepted {
		r.webhookLatency.WithLabelValues(eventLabel).Observe(duration.Seconds())
	}
}

// ObservePurge records one invalidation action.
func (r *Recorder) ObservePurge(kind PurgeKind, result PurgeOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	r.purgeOps.WithLabelValues(string(kind), string(result)).Inc()
	r.purgeLatency.WithLabelValues(string(kind), string(result)).Observe(duration.Seconds())
}

// ObserveThemeLoad records a theme resolution attempt.
func (r *Recorder) ObserveThemeLoad(themeKey, result string) {
	if r == nil {
		return
	}
	r.themeLoads.WithLabelValues(normalizeLabel(themeKey), normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
