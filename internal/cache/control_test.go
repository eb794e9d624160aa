package cache

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestControlForPolicies(t *testing.T) {
	require.Equal(t, "no-store", ControlFor(ClassAuth))
	require.Equal(t, "private, no-cache", ControlFor(ClassPersonal))
	require.Equal(t, "public, max-age=300, stale-while-revalidate=1800", ControlFor(ClassContent))
	require.Equal(t, "public, max-age=3600, stale-while-revalidate=14400", ControlFor(ClassTaxonomy))
	require.Equal(t, ControlFor(ClassContent), ControlFor(ResourceClass("bogus")))
}

func TestStaleWindowExceedsMaxAge(t *testing.T) {
	for _, class := range []ResourceClass{ClassContent, ClassTaxonomy} {
		p := policyFor(class)
		require.Greater(t, p.StaleWhileRevalidate, p.MaxAge, "class %s", class)
	}
}

func TestApplyHeaders(t *testing.T) {
	h := make(http.Header)
	tags := Descriptor{Kind: KindPage, Site: "beijing", PageID: "p-9"}.Tags()
	ApplyHeaders(h, ClassContent, tags, false)
	require.Equal(t, "public, max-age=300, stale-while-revalidate=1800", h.Get("Cache-Control"))
	require.Equal(t, "page:p-9 site:beijing", h.Get("Surrogate-Key"))
	require.Empty(t, h.Get("Vary"))
}

func TestApplyHeadersVariesOnAuthorization(t *testing.T) {
	h := make(http.Header)
	ApplyHeaders(h, ClassPersonal, nil, true)
	require.Equal(t, "Authorization", h.Get("Vary"))
	require.Empty(t, h.Get("Surrogate-Key"))
}

func TestClassifyPath(t *testing.T) {
	cases := map[string]ResourceClass{
		"/beijing/login":          ClassAuth,
		"/portal/register":        ClassAuth,
		"/beijing/pages/1/likes":  ClassPersonal,
		"/beijing/comments":       ClassPersonal,
		"/beijing/channels":       ClassTaxonomy,
		"/beijing/channel/news":   ClassTaxonomy,
		"/shanghai/regions":       ClassTaxonomy,
		"/beijing/news/2026/open": ClassContent,
		"/":                       ClassContent,
	}
	for path, want := range cases {
		require.Equal(t, want, ClassifyPath(path), "path %s", path)
	}
}
