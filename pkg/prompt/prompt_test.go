package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderMissingPlaceholderFails(t *testing.T) {
	tmpl, err := Parse("error_diagnosis", "Error:\n{{.error}}\nCode:\n{{.code}}")
	require.NoError(t, err)
	require.Equal(t, []string{"code", "error"}, tmpl.Placeholders())

	_, err = tmpl.Render(map[string]string{"code": "print(1)"})
	require.ErrorIs(t, err, ErrMissingPlaceholder)
	require.Contains(t, err.Error(), "error")

	out, err := tmpl.Render(map[string]string{"code": "print(1)", "error": "boom"})
	require.NoError(t, err)
	require.Equal(t, "Error:\nboom\nCode:\nprint(1)", out)
}

func TestRenderDoesNotEscape(t *testing.T) {
	tmpl, err := Parse("k", "{{.code}}")
	require.NoError(t, err)
	out, err := tmpl.Render(map[string]string{"code": `if (a < b && c > "d") {}`})
	require.NoError(t, err)
	require.Equal(t, `if (a < b && c > "d") {}`, out)
}

func TestPlaceholdersInsideBranches(t *testing.T) {
	tmpl, err := Parse("k", "{{if .feedback}}Issues: {{.feedback}}{{else}}{{.code}}{{end}}")
	require.NoError(t, err)
	require.Equal(t, []string{"code", "feedback"}, tmpl.Placeholders())
}

func TestEmbeddedProfilesHaveStageTemplates(t *testing.T) {
	tests := []struct {
		profile Profile
		keys    []string
	}{
		{ProfileSketch, []string{
			KeyPromptAnalysis, KeyMathVerification, KeyVisualizationSpec, KeyCodeStructure,
			KeyCodeGeneration, KeyCodeSanitization, KeyValidation, KeyFallbackGeneration,
		}},
		{ProfileAnimation, []string{
			KeyPromptAnalysis, KeyMathVerification, KeyVisualizationSpec, KeyCodeStructure,
			KeyCodeGeneration, KeyCodeTesting, KeyCodeOptimization, KeyErrorDiagnosis,
			KeyValidation, KeyFallbackGeneration,
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.profile), func(t *testing.T) {
			store, err := Load(tt.profile)
			require.NoError(t, err)
			require.ElementsMatch(t, tt.keys, store.Keys())
		})
	}
}

func TestAnimationTemplatePlaceholders(t *testing.T) {
	store, err := Load(ProfileAnimation)
	require.NoError(t, err)

	want := map[string][]string{
		KeyPromptAnalysis:     {"prompt"},
		KeyMathVerification:   {"concept"},
		KeyVisualizationSpec:  {"concept"},
		KeyCodeStructure:      {"specification"},
		KeyCodeGeneration:     {"structure"},
		KeyCodeTesting:        {"code"},
		KeyErrorDiagnosis:     {"code", "error"},
		KeyValidation:         {"code"},
		KeyFallbackGeneration: {"concept"},
	}
	for key, placeholders := range want {
		tmpl, err := store.Get(key)
		require.NoError(t, err)
		require.Equal(t, placeholders, tmpl.Placeholders(), key)
	}
}

func TestLoadDirOverridesEmbedded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "validation.tmpl"), []byte("Is {{.code}} fine?\n"), 0644))

	store, err := LoadDir(ProfileSketch, dir)
	require.NoError(t, err)
	out, err := store.Render(KeyValidation, map[string]string{"code": "x"})
	require.NoError(t, err)
	require.Equal(t, "Is x fine?", out)
}

func TestUnknownTemplateAndProfile(t *testing.T) {
	store, err := Load(ProfileSketch)
	require.NoError(t, err)
	_, err = store.Get(KeyCodeTesting)
	require.ErrorIs(t, err, ErrUnknownTemplate)

	_, err = ParseProfile("slides")
	require.ErrorIs(t, err, ErrUnknownProfile)
	p, err := ParseProfile(" Animation ")
	require.NoError(t, err)
	require.Equal(t, ProfileAnimation, p)
}
