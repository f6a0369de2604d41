// Package rewrite turns a raw transcript into context-appropriate text.
//
// A directives document maps focused-application identifiers to named
// instruction templates. When a directive matches, the transcript is
// run through a language model; every failure path degrades to the
// original transcript because rewriting is strictly best-effort.
package rewrite

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"dictate/internal/security"
)

// defaultIndicator marks model-rewritten output when the directives
// file does not configure its own glyph.
const defaultIndicator = "✦"

//go:embed schema.json
var schemaJSON []byte

// Prompt is a named instruction template. The template must contain a
// {transcript} placeholder and may contain {window_title}.
type Prompt struct {
	Name         string `yaml:"name" json:"name"`
	Description  string `yaml:"description" json:"description"`
	Template     string `yaml:"template" json:"template"`
	AddIndicator bool   `yaml:"add_indicator" json:"add_indicator"`
}

// Application maps substring patterns against the focused window class
// to a prompt name. A nil Prompt means "no rewrite" for this group.
type Application struct {
	Patterns []string `yaml:"patterns" json:"patterns"`
	Prompt   *string  `yaml:"prompt" json:"prompt"`
}

// Settings carries document-wide options.
type Settings struct {
	Indicator string `yaml:"indicator" json:"indicator"`
}

// Directives is one parsed and validated directives document.
type Directives struct {
	Prompts      map[string]Prompt      `yaml:"prompts" json:"prompts"`
	Applications map[string]Application `yaml:"applications" json:"applications"`
	Settings     Settings               `yaml:"config" json:"config"`
}

// Directive is one selected rewrite instruction.
type Directive struct {
	// Name of the prompt the directive came from.
	Name string

	// Template is the instruction text with the {transcript}
	// placeholder and an optional {window_title} placeholder.
	Template string

	// AddIndicator appends the completion glyph after streamed output.
	AddIndicator bool
}

// Load reads and validates the directives document at path. A missing
// file yields the built-in minimal set, which rewrites nothing.
func Load(path string) (*Directives, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultDirectives(), nil
		}
		return nil, fmt.Errorf("rewrite: read directives: %w", err)
	}
	return Parse(data)
}

// Parse validates raw YAML against the embedded schema and the
// referential rules the schema cannot express, then decodes it.
func Parse(data []byte) (*Directives, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var d Directives
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("rewrite: parse directives: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// defaultDirectives is the configuration used when no file exists:
// every application falls through to "no rewrite".
func defaultDirectives() *Directives {
	return &Directives{
		Prompts:      map[string]Prompt{},
		Applications: map[string]Application{"default": {}},
	}
}

// starterFile is written on first run so users edit a working document
// instead of learning the format from scratch. Terminals are mapped to
// no rewrite; everything else gets light cleanup once GEMINI_API_KEY
// is set.
const starterFile = `# dictate rewrite directives
#
# prompts define how a transcript is rewritten before typing;
# applications map focused-window classes (substring match) to a
# prompt. Rewriting only runs when GEMINI_API_KEY is set. A prompt of
# null means "type the transcript verbatim".

prompts:
  polish:
    description: Clean up casual dictation into readable prose
    add_indicator: true
    template: |
      Fix punctuation, capitalization and obvious dictation errors in
      the transcript below. Keep the wording and meaning; do not add
      content. Return only the corrected text.

      {transcript}

applications:
  terminals:
    patterns: ["alacritty", "kitty", "konsole", "gnome-terminal", "xterm"]
    prompt: null

  default:
    prompt: polish

config:
  indicator: "✦"
`

// EnsureDefaultFile writes the starter directives document to path
// when nothing exists there. It reports whether a file was written.
func EnsureDefaultFile(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("rewrite: stat directives: %w", err)
	}
	if err := security.WriteFileAtomic(path, []byte(starterFile), security.PermPublicFile); err != nil {
		return false, fmt.Errorf("rewrite: write starter directives: %w", err)
	}
	return true, nil
}

// validate enforces the cross-field rules: templates must carry the
// transcript placeholder and groups may only reference prompts that
// exist. Both fail at load time, never at selection time.
func (d *Directives) validate() error {
	for name, p := range d.Prompts {
		if !strings.Contains(p.Template, "{transcript}") {
			return fmt.Errorf("rewrite: prompt %q: template missing {transcript} placeholder", name)
		}
	}
	for group, app := range d.Applications {
		if app.Prompt == nil {
			continue
		}
		if _, ok := d.Prompts[*app.Prompt]; !ok {
			return fmt.Errorf("rewrite: application group %q references unknown prompt %q", group, *app.Prompt)
		}
	}
	return nil
}

// Select returns the directive for the focused application identifier,
// or nil when the transcript should pass through unchanged. Groups are
// walked in sorted name order; the first case-insensitive substring
// pattern match wins. The "default" group only applies when nothing
// else matched.
func (d *Directives) Select(appClass string) *Directive {
	if appClass == "" {
		return nil
	}
	lower := strings.ToLower(appClass)

	groups := make([]string, 0, len(d.Applications))
	for name := range d.Applications {
		if name != "default" {
			groups = append(groups, name)
		}
	}
	sort.Strings(groups)

	for _, group := range groups {
		app := d.Applications[group]
		for _, pattern := range app.Patterns {
			if pattern == "" || !strings.Contains(lower, strings.ToLower(pattern)) {
				continue
			}
			if app.Prompt == nil {
				return nil
			}
			return d.directiveFor(*app.Prompt)
		}
	}

	if def, ok := d.Applications["default"]; ok && def.Prompt != nil {
		return d.directiveFor(*def.Prompt)
	}
	return nil
}

func (d *Directives) directiveFor(name string) *Directive {
	p, ok := d.Prompts[name]
	if !ok {
		return nil
	}
	return &Directive{
		Name:         name,
		Template:     p.Template,
		AddIndicator: p.AddIndicator,
	}
}

// Indicator returns the configured completion glyph.
func (d *Directives) Indicator() string {
	if d.Settings.Indicator != "" {
		return d.Settings.Indicator
	}
	return defaultIndicator
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaCompile  error
)

// directivesSchema compiles the embedded schema once.
func directivesSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("directives.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaCompile = err
			return
		}
		compiledSchema, schemaCompile = compiler.Compile("directives.schema.json")
	})
	return compiledSchema, schemaCompile
}

// validateSchema checks the document structure. The validator wants
// JSON-shaped values, so the YAML is normalised through encoding/json
// before validation.
func validateSchema(data []byte) error {
	schema, err := directivesSchema()
	if err != nil {
		return fmt.Errorf("rewrite: compile directives schema: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("rewrite: parse directives: %w", err)
	}
	normalised, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("rewrite: normalise directives: %w", err)
	}
	var instance any
	if err := json.Unmarshal(normalised, &instance); err != nil {
		return fmt.Errorf("rewrite: normalise directives: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("rewrite: invalid directives: %w", err)
	}
	return nil
}

// expandTemplate fills the {transcript} and {window_title}
// placeholders.
func expandTemplate(template, transcript, windowTitle string) string {
	out := strings.ReplaceAll(template, "{transcript}", transcript)
	out = strings.ReplaceAll(out, "{window_title}", windowTitle)
	return out
}
