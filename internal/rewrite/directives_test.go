package rewrite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDirectives = `prompts:
  polish:
    name: Polish
    description: Clean up dictation for prose surfaces
    template: |
      Rewrite the following dictation as clear prose:
      {transcript}
    add_indicator: true
  clean:
    template: "Fix punctuation only: {transcript}"

applications:
  browsers:
    patterns: ["chrome", "firefox"]
    prompt: polish
  terminals:
    patterns: ["alacritty", "kitty"]
    prompt: null
  default:
    prompt: clean

config:
  indicator: "✦"
`

func TestParseValidDirectives(t *testing.T) {
	d, err := Parse([]byte(sampleDirectives))
	require.NoError(t, err)

	assert.Len(t, d.Prompts, 2)
	polish := d.Prompts["polish"]
	assert.True(t, polish.AddIndicator)
	assert.Contains(t, polish.Template, "{transcript}")

	assert.Len(t, d.Applications, 3)
	require.NotNil(t, d.Applications["browsers"].Prompt)
	assert.Equal(t, "polish", *d.Applications["browsers"].Prompt)
	assert.Nil(t, d.Applications["terminals"].Prompt)
	assert.Equal(t, "✦", d.Settings.Indicator)
}

func TestParseRejectsMissingSections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "no prompts",
			doc:  "applications:\n  default:\n    prompt: null\n",
		},
		{
			name: "no applications",
			doc:  "prompts:\n  clean:\n    template: \"Fix: {transcript}\"\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid directives")
		})
	}
}

func TestParseRejectsTemplateWithoutPlaceholder(t *testing.T) {
	doc := `prompts:
  broken:
    template: "Rewrite this nicely."
applications:
  default:
    prompt: null
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{transcript}")
}

func TestParseRejectsUnknownPromptReference(t *testing.T) {
	doc := `prompts:
  clean:
    template: "Fix: {transcript}"
applications:
  browsers:
    patterns: ["chrome"]
    prompt: nonexistent
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown prompt")
}

func TestParseRejectsUnknownFields(t *testing.T) {
	doc := `prompts:
  clean:
    template: "Fix: {transcript}"
    extra_field: true
applications:
  default:
    prompt: null
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid directives")
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("prompts: [unclosed"))
	require.Error(t, err)
}

func TestSelectDirective(t *testing.T) {
	d, err := Parse([]byte(sampleDirectives))
	require.NoError(t, err)

	tests := []struct {
		name     string
		appClass string
		want     string
	}{
		{name: "pattern match", appClass: "Google-chrome", want: "polish"},
		{name: "pattern match other browser", appClass: "firefox-esr", want: "polish"},
		{name: "default fallback", appClass: "Terminal", want: "clean"},
		{name: "explicit null suppresses rewrite", appClass: "Alacritty", want: ""},
		{name: "empty identifier", appClass: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			directive := d.Select(tt.appClass)
			if tt.want == "" {
				assert.Nil(t, directive)
				return
			}
			require.NotNil(t, directive)
			assert.Equal(t, tt.want, directive.Name)
		})
	}
}

func TestSelectWalksGroupsInSortedOrder(t *testing.T) {
	doc := `prompts:
  first:
    template: "A: {transcript}"
  second:
    template: "B: {transcript}"
applications:
  zebra:
    patterns: ["editor"]
    prompt: second
  apple:
    patterns: ["editor"]
    prompt: first
`
	d, err := Parse([]byte(doc))
	require.NoError(t, err)

	directive := d.Select("Some-Editor")
	require.NotNil(t, directive)
	assert.Equal(t, "first", directive.Name, "group apple sorts before zebra")
}

func TestSelectWithoutDefaultPrompt(t *testing.T) {
	doc := `prompts:
  clean:
    template: "Fix: {transcript}"
applications:
  browsers:
    patterns: ["chrome"]
    prompt: clean
`
	d, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Nil(t, d.Select("Terminal"))
}

func TestIndicator(t *testing.T) {
	d, err := Parse([]byte(sampleDirectives))
	require.NoError(t, err)
	assert.Equal(t, "✦", d.Indicator())

	assert.Equal(t, "✦", defaultDirectives().Indicator())
}

func TestLoadMissingFileDisablesRewriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directives.yaml")

	d, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, d.Select("Google-chrome"))
	assert.Nil(t, d.Select("Terminal"))
}

func TestExpandTemplate(t *testing.T) {
	out := expandTemplate(
		"Rewrite for {window_title}: {transcript}",
		"hello world",
		"Compose Mail",
	)
	assert.Equal(t, "Rewrite for Compose Mail: hello world", out)
}

func TestEnsureDefaultFileWritesValidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "directives.yaml")

	created, err := EnsureDefaultFile(path)
	require.NoError(t, err)
	assert.True(t, created)

	d, err := Load(path)
	require.NoError(t, err)

	assert.Nil(t, d.Select("Alacritty"), "terminals map to no rewrite")

	directive := d.Select("Google-chrome")
	require.NotNil(t, directive, "unmatched classes fall through to polish")
	assert.Equal(t, "polish", directive.Name)
	assert.True(t, directive.AddIndicator)
	assert.Equal(t, "✦", d.Indicator())
}

func TestEnsureDefaultFileKeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directives.yaml")
	require.NoError(t, os.WriteFile(path, []byte("# custom\n"), 0o644))

	created, err := EnsureDefaultFile(path)
	require.NoError(t, err)
	assert.False(t, created)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# custom\n", string(data))
}

func TestEnsureDefaultFileEmptyPath(t *testing.T) {
	created, err := EnsureDefaultFile("")
	require.NoError(t, err)
	assert.False(t, created)
}
