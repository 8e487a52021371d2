// Package prompt holds the stage prompt templates. Templates are embedded per
// profile and can be overridden from a directory of .tmpl files.
package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"
)

//go:embed templates/*/*.tmpl
var templatesFS embed.FS

// Profile selects the family of templates, which also fixes the target
// language of the generated code.
type Profile string

const (
	// ProfileSketch produces p5.js sketches.
	ProfileSketch Profile = "sketch"
	// ProfileAnimation produces Manim scripts.
	ProfileAnimation Profile = "animation"
)

// Stage template keys.
const (
	KeyPromptAnalysis     = "prompt_analysis"
	KeyMathVerification   = "math_verification"
	KeyVisualizationSpec  = "visualization_spec"
	KeyCodeStructure      = "code_structure"
	KeyCodeGeneration     = "code_generation"
	KeyCodeSanitization   = "code_sanitization"
	KeyCodeTesting        = "code_testing"
	KeyCodeOptimization   = "code_optimization"
	KeyErrorDiagnosis     = "error_diagnosis"
	KeyValidation         = "validation"
	KeyFallbackGeneration = "fallback_generation"
)

var (
	ErrUnknownProfile     = errors.New("unknown prompt profile")
	ErrUnknownTemplate    = errors.New("unknown prompt template")
	ErrMissingPlaceholder = errors.New("missing placeholder value")
)

// ParseProfile validates a profile name.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(s))); p {
	case ProfileSketch, ProfileAnimation:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProfile, s)
	}
}

// Template is an immutable prompt with named placeholders written {{.name}}.
type Template struct {
	key          string
	text         string
	tmpl         *template.Template
	placeholders []string
}

// Parse compiles a template. Placeholders are collected from the parse tree.
func Parse(key, text string) (*Template, error) {
	t, err := template.New(key).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", key, err)
	}
	seen := make(map[string]struct{})
	if t.Tree != nil {
		collectFields(t.Tree.Root, seen)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Template{key: key, text: text, tmpl: t, placeholders: names}, nil
}

// Key returns the stage key the template was registered under.
func (t *Template) Key() string { return t.key }

// Text returns the raw template source.
func (t *Template) Text() string { return t.text }

// Placeholders returns the sorted placeholder names the template references.
func (t *Template) Placeholders() []string {
	return append([]string(nil), t.placeholders...)
}

// Render substitutes values into the template. Every referenced placeholder
// must be present in values.
func (t *Template) Render(values map[string]string) (string, error) {
	var missing []string
	for _, name := range t.placeholders {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("render %s: %w: %s", t.key, ErrMissingPlaceholder, strings.Join(missing, ", "))
	}

	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, values); err != nil {
		return "", fmt.Errorf("render %s: %w", t.key, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func collectFields(node parse.Node, seen map[string]struct{}) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			collectFields(child, seen)
		}
	case *parse.ActionNode:
		collectPipe(n.Pipe, seen)
	case *parse.IfNode:
		collectBranch(&n.BranchNode, seen)
	case *parse.RangeNode:
		collectBranch(&n.BranchNode, seen)
	case *parse.WithNode:
		collectBranch(&n.BranchNode, seen)
	}
}

func collectBranch(b *parse.BranchNode, seen map[string]struct{}) {
	collectPipe(b.Pipe, seen)
	collectFields(b.List, seen)
	if b.ElseList != nil {
		collectFields(b.ElseList, seen)
	}
}

func collectPipe(p *parse.PipeNode, seen map[string]struct{}) {
	if p == nil {
		return
	}
	for _, cmd := range p.Cmds {
		for _, arg := range cmd.Args {
			if f, ok := arg.(*parse.FieldNode); ok && len(f.Ident) > 0 {
				seen[f.Ident[0]] = struct{}{}
			}
		}
	}
}

// Store maps stage keys to templates for one profile.
type Store struct {
	profile   Profile
	templates map[string]*Template
}

// Load returns the embedded templates for profile.
func Load(profile Profile) (*Store, error) {
	return LoadDir(profile, "")
}

// LoadDir returns the embedded templates for profile, with any
// <key>.tmpl file found in dir taking precedence.
func LoadDir(profile Profile, dir string) (*Store, error) {
	if _, err := ParseProfile(string(profile)); err != nil {
		return nil, err
	}

	s := &Store{profile: profile, templates: make(map[string]*Template)}
	root := path.Join("templates", string(profile))
	entries, err := fs.ReadDir(templatesFS, root)
	if err != nil {
		return nil, fmt.Errorf("read embedded templates for %s: %w", profile, err)
	}
	for _, entry := range entries {
		data, err := templatesFS.ReadFile(path.Join(root, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		if err := s.add(strings.TrimSuffix(entry.Name(), ".tmpl"), string(data)); err != nil {
			return nil, err
		}
	}

	if dir == "" {
		return s, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmpl"))
	if err != nil {
		return nil, err
	}
	for _, match := range matches {
		data, err := os.ReadFile(match)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", match, err)
		}
		if err := s.add(strings.TrimSuffix(filepath.Base(match), ".tmpl"), string(data)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// FromMap builds a store from literal templates.
func FromMap(profile Profile, texts map[string]string) (*Store, error) {
	s := &Store{profile: profile, templates: make(map[string]*Template, len(texts))}
	for key, text := range texts {
		if err := s.add(key, text); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) add(key, text string) error {
	t, err := Parse(key, strings.TrimSpace(text))
	if err != nil {
		return err
	}
	s.templates[key] = t
	return nil
}

// Profile returns the profile the store was loaded for.
func (s *Store) Profile() Profile { return s.profile }

// Get returns the template registered under key.
func (s *Store) Get(key string) (*Template, error) {
	t, ok := s.templates[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownTemplate, s.profile, key)
	}
	return t, nil
}

// Render looks up key and renders it with values.
func (s *Store) Render(key string, values map[string]string) (string, error) {
	t, err := s.Get(key)
	if err != nil {
		return "", err
	}
	return t.Render(values)
}

// Keys returns the sorted template keys.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.templates))
	for k := range s.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
