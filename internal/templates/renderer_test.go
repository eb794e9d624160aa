package templates

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileAndRender(t *testing.T) {
	r := NewRenderer()
	tmpl, err := r.Compile("accent", `{{ .overrides.accent | default "#1a73e8" }}`)
	require.NoError(t, err)
	require.NotNil(t, tmpl)

	out, err := tmpl.Render(map[string]any{"overrides": map[string]any{"accent": "#ff0000"}})
	require.NoError(t, err)
	require.Equal(t, "#ff0000", out)

	out, err = tmpl.Render(map[string]any{"overrides": map[string]any{}})
	require.NoError(t, err)
	require.Equal(t, "#1a73e8", out)
}

func TestCompileEmptySourceReturnsNil(t *testing.T) {
	r := NewRenderer()
	tmpl, err := r.Compile("blank", "   ")
	require.NoError(t, err)
	require.Nil(t, tmpl)
}

func TestCompileRejectsInvalidSource(t *testing.T) {
	r := NewRenderer()
	_, err := r.Compile("broken", "{{ .unclosed")
	require.Error(t, err)
}

func TestEnvironmentHelpersRemoved(t *testing.T) {
	r := NewRenderer()
	t.Setenv("PORTAL_SECRET", "leak")
	_, err := r.Compile("env", `{{ env "PORTAL_SECRET" }}`)
	require.Error(t, err, "env helper should not be available")
}

func TestNilTemplateRenderFails(t *testing.T) {
	var tmpl *Template
	_, err := tmpl.Render(nil)
	require.Error(t, err)
	require.Empty(t, tmpl.Name())
}
