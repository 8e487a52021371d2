package config

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

// Default model aliases. Stages refer to models by these short names.
const (
	AliasFlash = "flash"
	AliasLearn = "learn"
	AliasQwen  = "qwen"
)

// Canonical model IDs behind the default aliases.
const (
	ModelGeminiFlashThinking = "gemini-2.0-flash-thinking-exp-01-21"
	ModelLearnLM             = "learnlm-1.5-pro-experimental"
	ModelQwenVL              = "qwen/qwen2.5-vl-72b-instruct:free"
)

// ModelAliases manages model alias resolution and validation.
type ModelAliases struct {
	Aliases   map[string]string   `yaml:"aliases"`
	Providers map[string][]string `yaml:"providers"`
}

// LoadAliases reads model aliases from a YAML file.
func LoadAliases(path string) (*ModelAliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var aliases ModelAliases
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if aliases.Aliases == nil {
		aliases.Aliases = make(map[string]string)
	}
	if aliases.Providers == nil {
		aliases.Providers = make(map[string][]string)
	}

	return &aliases, nil
}

// Merge overlays other onto a. Aliases are replaced by name, provider model
// lists are extended without duplicates.
func (a *ModelAliases) Merge(other *ModelAliases) {
	if a == nil || other == nil {
		return
	}
	if a.Aliases == nil {
		a.Aliases = make(map[string]string)
	}
	if a.Providers == nil {
		a.Providers = make(map[string][]string)
	}
	maps.Copy(a.Aliases, other.Aliases)
	for provider, models := range other.Providers {
		for _, m := range models {
			if !slices.Contains(a.Providers[provider], m) {
				a.Providers[provider] = append(a.Providers[provider], m)
			}
		}
	}
}

// Resolve returns the canonical model name for an alias.
// If the input is not an alias, it returns the input unchanged.
func (a *ModelAliases) Resolve(modelOrAlias string) string {
	if a == nil || a.Aliases == nil {
		return modelOrAlias
	}
	if canonical, ok := a.Aliases[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

// IsAlias returns true if the given string is a known alias.
func (a *ModelAliases) IsAlias(name string) bool {
	if a == nil || a.Aliases == nil {
		return false
	}
	_, ok := a.Aliases[name]
	return ok
}

// ValidateModel checks if a model exists in the provider's list.
// Returns nil if valid, or an error describing the problem.
func (a *ModelAliases) ValidateModel(adapter, model string) error {
	if a == nil || len(a.Providers) == 0 {
		return nil
	}

	models, ok := a.Providers[adapter]
	if !ok {
		return fmt.Errorf("unknown adapter %q", adapter)
	}
	if slices.Contains(models, model) {
		return nil
	}
	return fmt.Errorf("model %q not in %s provider list", model, adapter)
}

// ListAliases returns a copy of the aliases map.
func (a *ModelAliases) ListAliases() map[string]string {
	if a == nil || a.Aliases == nil {
		return make(map[string]string)
	}
	return maps.Clone(a.Aliases)
}

// ListProviders returns a sorted list of provider names.
func (a *ModelAliases) ListProviders() []string {
	if a == nil || a.Providers == nil {
		return nil
	}
	providers := make([]string, 0, len(a.Providers))
	for p := range a.Providers {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

// GetProviderForModel returns the provider name for a canonical model.
// Providers are searched in name order so the answer is stable.
func (a *ModelAliases) GetProviderForModel(model string) string {
	for _, provider := range a.ListProviders() {
		if slices.Contains(a.Providers[provider], model) {
			return provider
		}
	}
	return ""
}

// ValidateTargets checks that every stage, validator and the fallback of a
// pipeline config names a known model for its adapter.
func (a *ModelAliases) ValidateTargets(cfg *PipelineConfig) []error {
	if a == nil || cfg == nil {
		return nil
	}

	var errs []error
	check := func(label string, t RouteTarget) {
		model := a.Resolve(t.Model)
		adapter := t.Adapter
		if adapter == "" {
			adapter = a.GetProviderForModel(model)
		}
		if adapter == "" {
			errs = append(errs, fmt.Errorf("%s: no provider serves model %q", label, model))
			return
		}
		if err := a.ValidateModel(adapter, model); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
	}

	for _, name := range sortedKeys(cfg.Stages) {
		check(fmt.Sprintf("stage %q", name), cfg.Stages[name].RouteTarget)
	}
	for i, v := range cfg.Consensus.Validators {
		check(fmt.Sprintf("validator %d (%s)", i, v.Name), v.RouteTarget)
	}
	check("fallback", cfg.Consensus.Fallback)

	return errs
}

// DefaultAliases returns the default model aliases configuration.
func DefaultAliases() *ModelAliases {
	return &ModelAliases{
		Aliases: map[string]string{
			AliasFlash: ModelGeminiFlashThinking,
			AliasLearn: ModelLearnLM,
			AliasQwen:  ModelQwenVL,
		},
		Providers: map[string][]string{
			"google":     {ModelGeminiFlashThinking, ModelLearnLM, "gemini-2.0-flash"},
			"openrouter": {ModelQwenVL},
			"openai":     {"gpt-4o", "gpt-4o-mini"},
			"anthropic":  {"claude-sonnet-4-20250514"},
			"deepseek":   {"deepseek-chat", "deepseek-coder", "deepseek-reasoner"},
			"mock":       {"mock-1"},
		},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
