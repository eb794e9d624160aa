package theme

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fixtureCatalog() map[string]Manifest {
	return map[string]Manifest{
		"atlas": {
			Versions: map[string]VersionManifest{
				"1.0.0": {
					Layouts:       map[string]string{"portal": "atlas/PortalLayout", "local": "atlas/LocalLayout"},
					DefaultLayout: "local",
					Tokens: map[string]string{
						"accent":     `{{ .overrides.accent | default "#1a73e8" }}`,
						"background": `#ffffff`,
					},
				},
				"1.2.0": {
					Layouts:       map[string]string{"portal": "atlas/PortalLayoutV2", "local": "atlas/LocalLayoutV2"},
					DefaultLayout: "local",
					Tokens: map[string]string{
						"accent": `{{ .overrides.accent | default "#0b57d0" }}`,
					},
				},
				"2.0.0-beta.1": {
					Layouts: map[string]string{"local": "atlas/LocalLayoutNext"},
				},
			},
		},
		"harbor": {
			Versions: map[string]VersionManifest{
				"2.1.0": {
					Layouts: map[string]string{"local": "harbor/Local", "wide": "harbor/Wide"},
				},
			},
		},
	}
}

func TestLoadResolvesHighestSatisfyingVersion(t *testing.T) {
	r := NewResolver(fixtureCatalog(), nil)

	loaded, err := r.Load("atlas", "^1.0")
	require.NoError(t, err)
	require.Equal(t, "1.2.0", loaded.Version)
	require.Equal(t, "atlas/LocalLayoutV2", loaded.Layouts["local"])
	require.Equal(t, "local", loaded.LayoutKey)

	loaded, err = r.Load("atlas", "1.0.0")
	require.NoError(t, err)
	require.Equal(t, "1.0.0", loaded.Version)

	loaded, err = r.Load("harbor", "")
	require.NoError(t, err)
	require.Equal(t, "2.1.0", loaded.Version)
}

func TestLoadMemoizesPerKeyVersionPair(t *testing.T) {
	r := NewResolver(fixtureCatalog(), nil)
	first, err := r.Load("atlas", "^1.0")
	require.NoError(t, err)
	second, err := r.Load("atlas", "^1.0")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, r.Loaded())
}

func TestLoadUnknownThemeOrVersion(t *testing.T) {
	r := NewResolver(fixtureCatalog(), nil)

	_, err := r.Load("nebula", "^1.0")
	require.ErrorIs(t, err, ErrThemeNotFound)

	_, err = r.Load("atlas", "^9.0")
	require.ErrorIs(t, err, ErrThemeNotFound)

	_, err = r.Load("atlas", "not a constraint")
	require.ErrorIs(t, err, ErrThemeNotFound)
}

func TestPickLayout(t *testing.T) {
	r := NewResolver(fixtureCatalog(), map[string]string{
		"beijing.citymesh.cn": "atlas/BeijingSpecial",
	})
	loaded, err := r.Load("atlas", "1.2.0")
	require.NoError(t, err)

	component, err := r.PickLayout(loaded, "portal", "www.citymesh.cn")
	require.NoError(t, err)
	require.Equal(t, "atlas/PortalLayoutV2", component)

	// The per-hostname override substitutes the concrete layout for that host.
	component, err = r.PickLayout(loaded, "portal", "BEIJING.citymesh.cn")
	require.NoError(t, err)
	require.Equal(t, "atlas/BeijingSpecial", component)

	// Empty layout key falls back to the theme default.
	component, err = r.PickLayout(loaded, "", "www.citymesh.cn")
	require.NoError(t, err)
	require.Equal(t, "atlas/LocalLayoutV2", component)

	_, err = r.PickLayout(loaded, "sidebar", "www.citymesh.cn")
	require.ErrorIs(t, err, ErrLayoutNotFound)
}

func TestTokens(t *testing.T) {
	r := NewResolver(fixtureCatalog(), nil)
	loaded, err := r.Load("atlas", "1.0.0")
	require.NoError(t, err)

	tokens, err := loaded.Tokens(nil)
	require.NoError(t, err)
	require.Equal(t, DesignTokens{"accent": "#1a73e8", "background": "#ffffff"}, tokens)

	tokens, err = loaded.Tokens(map[string]string{"accent": "#b3261e"})
	require.NoError(t, err)
	require.Equal(t, "#b3261e", tokens["accent"], "override wins verbatim")
	require.Equal(t, "#ffffff", tokens["background"])
}

func TestDefaultLayoutFallsBackToFirstSorted(t *testing.T) {
	r := NewResolver(map[string]Manifest{
		"bare": {Versions: map[string]VersionManifest{
			"1.0.0": {Layouts: map[string]string{"b": "bare/B", "a": "bare/A"}},
		}},
	}, nil)
	loaded, err := r.Load("bare", "")
	require.NoError(t, err)
	require.Equal(t, "a", loaded.LayoutKey)
}
