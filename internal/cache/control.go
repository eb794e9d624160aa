package cache

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ResourceClass buckets endpoints by their cache policy.
type ResourceClass string

const (
	// ClassAuth covers login, registration, and other credential exchanges.
	ClassAuth ResourceClass = "auth"
	// ClassPersonal covers responses carrying per-user state such as likes,
	// favorites, or viewer-specific comment flags.
	ClassPersonal ResourceClass = "personal"
	// ClassContent covers list and detail content responses.
	ClassContent ResourceClass = "content"
	// ClassTaxonomy covers structural data like channels and categories, which
	// change far less often than content.
	ClassTaxonomy ResourceClass = "taxonomy"
)

// Policy bundles the shared-cache directives for one resource class. The
// stale-while-revalidate window is deliberately larger than max-age so a burst
// of invalidations is absorbed by serve-stale instead of an origin stampede.
type Policy struct {
	MaxAge               time.Duration
	StaleWhileRevalidate time.Duration
	NoStore              bool
	Private              bool
}

// ControlFor maps a resource class to its Cache-Control header value.
// Unrecognized classes fall back to the content policy.
func ControlFor(class ResourceClass) string {
	return policyFor(class).Header()
}

func policyFor(class ResourceClass) Policy {
	switch class {
	case ClassAuth:
		return Policy{NoStore: true}
	case ClassPersonal:
		return Policy{Private: true}
	case ClassTaxonomy:
		return Policy{MaxAge: time.Hour, StaleWhileRevalidate: 4 * time.Hour}
	default:
		return Policy{MaxAge: 5 * time.Minute, StaleWhileRevalidate: 30 * time.Minute}
	}
}

// Header renders the policy as a Cache-Control value.
func (p Policy) Header() string {
	if p.NoStore {
		return "no-store"
	}
	if p.Private {
		// Never shared across users even while fresh.
		return "private, no-cache"
	}
	return fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d",
		int(p.MaxAge.Seconds()), int(p.StaleWhileRevalidate.Seconds()))
}

// ApplyHeaders stamps the cache policy and surrogate tags onto a response.
// Responses produced for requests carrying Authorization always vary on it so
// one caller's authenticated body is never served to another.
func ApplyHeaders(h http.Header, class ResourceClass, tags []string, authorized bool) {
	h.Set("Cache-Control", ControlFor(class))
	if len(tags) > 0 {
		h.Set("Surrogate-Key", SurrogateKey(tags))
	}
	if authorized {
		h.Add("Vary", "Authorization")
	}
}

// ClassifyPath infers the resource class from a rewritten request path. The
// page layer can override this by setting its own Cache-Control, so the
// classification only has to be right for the common route shapes.
func ClassifyPath(path string) ResourceClass {
	switch {
	case pathHasSegment(path, "login"), pathHasSegment(path, "register"), pathHasSegment(path, "logout"):
		return ClassAuth
	case pathHasSegment(path, "likes"), pathHasSegment(path, "favorites"), pathHasSegment(path, "comments"):
		return ClassPersonal
	case pathHasSegment(path, "channels"), pathHasSegment(path, "channel"),
		pathHasSegment(path, "categories"), pathHasSegment(path, "regions"), pathHasSegment(path, "region"):
		return ClassTaxonomy
	default:
		return ClassContent
	}
}

func pathHasSegment(path, segment string) bool {
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == segment {
			return true
		}
	}
	return false
}
