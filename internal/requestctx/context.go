package requestctx

import (
	"context"
	"net/http"
)

// Downstream headers the injector projects the resolved context onto. The
// page layer reads these instead of re-deriving routing or theme state.
const (
	HeaderSiteHost     = "x-site-host"
	HeaderRouteGroup   = "x-route-group"
	HeaderThemeKey     = "x-theme-key"
	HeaderThemeVersion = "x-theme-version"
	HeaderLayoutKey    = "x-layout-key"
	HeaderDeviceID     = "x-device-id"
	HeaderSessionID    = "x-session-id"
	HeaderUserID       = "x-user-id"
)

// Visitor identity cookies, set by the page layer and echoed back here.
const (
	CookieDeviceID  = "portal_device_id"
	CookieSessionID = "portal_session_id"
	CookieUserID    = "portal_user_id"
)

// RequestContext is the immutable per-request resolution product: where the
// request routed, which theme renders it, and who is asking. Built once by the
// injector and read-only afterwards.
type RequestContext struct {
	SiteHost      string
	RouteGroup    string
	SiteID        string
	RewrittenPath string
	Passthrough   bool

	ThemeKey     string
	ThemeVersion string
	LayoutKey    string

	DeviceID  string
	SessionID string
	UserID    string
}

type contextKey struct{}

// NewContext returns ctx carrying the request context.
func NewContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext extracts the request context placed by the injector.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(RequestContext)
	return rc, ok
}

// FromRequest extracts the request context from an HTTP request.
func FromRequest(r *http.Request) (RequestContext, bool) {
	return FromContext(r.Context())
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
