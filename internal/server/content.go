package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/citymesh/portaledge/internal/cache"
	"github.com/citymesh/portaledge/internal/requestctx"
)

// ContentHandler fronts the page layer: it stamps cache policy and surrogate
// tags onto every response, serves repeat GETs from the surrogate cache, and
// delegates the actual rendering downstream. When no page layer is injected a
// fallback echoes the resolved request context, which keeps the policy core
// testable end to end without a renderer.
type ContentHandler struct {
	store  cache.Store
	next   http.Handler
	ttl    time.Duration
	logger *slog.Logger
}

// NewContentHandler wires the content fallthrough. store and next may be nil.
func NewContentHandler(store cache.Store, next http.Handler, ttl time.Duration, logger *slog.Logger) *ContentHandler {
	if next == nil {
		next = http.HandlerFunc(echoContext)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ContentHandler{store: store, next: next, ttl: ttl, logger: logger}
}

func (h *ContentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestctx.FromRequest(r)
	if rc.Passthrough {
		h.next.ServeHTTP(w, r)
		return
	}

	class := cache.ClassifyPath(r.URL.Path)
	tags := descriptorFor(rc, r.URL.Path).Tags()
	authorized := r.Header.Get("Authorization") != ""
	cache.ApplyHeaders(w.Header(), class, tags, authorized)

	if !h.cacheable(r, class, authorized) {
		h.next.ServeHTTP(w, r)
		return
	}

	if entry, ok, err := h.store.Lookup(r.Context(), r.URL.Path); err == nil && ok {
		w.Header().Set("X-Cache", "HIT")
		if entry.ContentType != "" {
			w.Header().Set("Content-Type", entry.ContentType)
		}
		_, _ = w.Write(entry.Body)
		return
	} else if err != nil {
		h.logger.Warn("cache lookup failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}

	recorder := &bufferingWriter{ResponseWriter: w, status: http.StatusOK}
	h.next.ServeHTTP(recorder, r)

	if recorder.status == http.StatusOK && recorder.body.Len() > 0 {
		entry := cache.Entry{
			Body:        append([]byte(nil), recorder.body.Bytes()...),
			ContentType: w.Header().Get("Content-Type"),
			Tags:        tags,
			StoredAt:    time.Now().UTC(),
			ExpiresAt:   time.Now().UTC().Add(h.ttl),
		}
		if err := h.store.Store(r.Context(), r.URL.Path, entry); err != nil {
			h.logger.Warn("cache store failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
		}
	}
}

// cacheable limits surrogate caching to anonymous GETs of shareable classes.
func (h *ContentHandler) cacheable(r *http.Request, class cache.ResourceClass, authorized bool) bool {
	if h.store == nil || r.Method != http.MethodGet || authorized {
		return false
	}
	return class == cache.ClassContent || class == cache.ClassTaxonomy
}

// descriptorFor derives the cache descriptor from the resolved context and
// the rewritten path shape. Channel and region segments promote the
// descriptor onto the matching taxonomy axis.
func descriptorFor(rc requestctx.RequestContext, path string) cache.Descriptor {
	d := cache.Descriptor{Kind: cache.KindSite, Site: rc.SiteID}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, segment := range segments {
		if i+1 >= len(segments) {
			break
		}
		switch segment {
		case "channel", "channels":
			d.Kind = cache.KindChannel
			d.Channel = segments[i+1]
		case "region", "regions":
			d.Kind = cache.KindRegion
			d.Region = segments[i+1]
		}
	}
	return d
}

// echoContext is the built-in downstream handler: the page layer is an
// external collaborator, so the fallback just renders the resolved context.
func echoContext(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestctx.FromRequest(r)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"site":       rc.SiteID,
		"routeGroup": rc.RouteGroup,
		"path":       r.URL.Path,
		"theme":      rc.ThemeKey,
		"layout":     rc.LayoutKey,
	})
}

// bufferingWriter tees the response body so cacheable renders can be stored
// after delegation returns.
type bufferingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *bufferingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *bufferingWriter) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}
