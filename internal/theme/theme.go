package theme

// VersionManifest describes one concrete, loadable version of a theme: the
// layouts it ships and the templates generating its design tokens.
type VersionManifest struct {
	// Layouts maps layout keys to component references understood by the page
	// layer (for example "atlas/PortalLayout").
	Layouts       map[string]string `koanf:"layouts"`
	DefaultLayout string            `koanf:"defaultLayout"`
	// Tokens maps token names to sprig template sources rendered against the
	// requesting site's overrides.
	Tokens map[string]string `koanf:"tokens"`
}

// Manifest is a theme's catalog entry: every concrete version that can be
// resolved against a site's semver constraint.
type Manifest struct {
	Versions map[string]VersionManifest `koanf:"versions"`
}

// DesignTokens is the rendered token set handed to the page layer.
type DesignTokens map[string]string
