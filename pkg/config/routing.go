package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zen-systems/vizflow/pkg/adapter"
	"github.com/zen-systems/vizflow/pkg/consensus"
	"github.com/zen-systems/vizflow/pkg/pipeline"
	"github.com/zen-systems/vizflow/pkg/prompt"
	"github.com/zen-systems/vizflow/pkg/stage"
	"gopkg.in/yaml.v3"
)

// PipelineConfig routes each stage of a profile to a model and tunes the
// consensus, retry and transport layers.
type PipelineConfig struct {
	Profile     string                    `yaml:"profile"`
	Variant     string                    `yaml:"variant,omitempty"`
	Models      ModelAliases              `yaml:"models,omitempty"`
	Stages      map[string]StageConfig    `yaml:"stages"`
	Consensus   ConsensusConfig           `yaml:"consensus"`
	Retry       RetryConfig               `yaml:"retry,omitempty"`
	Generation  adapter.GenerationOptions `yaml:"generation,omitempty"`
	RateLimits  map[string]int            `yaml:"rate_limits,omitempty"`
	CacheTTL    time.Duration             `yaml:"cache_ttl,omitempty"`
	CallTimeout time.Duration             `yaml:"call_timeout,omitempty"`
	EvidenceDir string                    `yaml:"evidence_dir,omitempty"`
	PromptsDir  string                    `yaml:"prompts_dir,omitempty"`
}

// RouteTarget specifies an adapter and model combination. An empty adapter
// is inferred from the provider lists.
type RouteTarget struct {
	Adapter string `yaml:"adapter,omitempty"`
	Model   string `yaml:"model"`
}

// StageConfig binds one stage to a model.
type StageConfig struct {
	RouteTarget `yaml:",inline"`
	// Reject overrides the stage's rejection rule, e.g. "error_marker".
	Reject string `yaml:"reject,omitempty"`
}

// ValidatorConfig names one consensus member.
type ValidatorConfig struct {
	Name        string `yaml:"name"`
	RouteTarget `yaml:",inline"`
}

// ConsensusConfig selects and tunes the validation policy.
type ConsensusConfig struct {
	Policy      string            `yaml:"policy"`
	Required    int               `yaml:"required,omitempty"`
	Questions   int               `yaml:"questions,omitempty"`
	Threshold   float64           `yaml:"threshold,omitempty"`
	Validators  []ValidatorConfig `yaml:"validators"`
	Fallback    RouteTarget       `yaml:"fallback"`
	Concurrency int               `yaml:"concurrency,omitempty"`
}

// RetryConfig defines the transport retry.
type RetryConfig struct {
	DelayMs  int  `yaml:"delay_ms,omitempty"`
	MaxTries uint `yaml:"max_tries,omitempty"`
}

// LoadPipelineConfig reads a pipeline file. Keys it omits keep the defaults
// of the profile it names.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePipelineConfig(data)
}

// ParsePipelineConfig decodes pipeline YAML over the defaults of its profile.
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	var head struct {
		Profile string `yaml:"profile"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	profile := prompt.ProfileAnimation
	if head.Profile != "" {
		p, err := prompt.ParseProfile(head.Profile)
		if err != nil {
			return nil, err
		}
		profile = p
	}

	cfg := DefaultPipelineConfig(profile)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	applyPipelineDefaults(cfg)
	return cfg, nil
}

// DefaultPipelineConfig returns the model assignment each profile ships with.
func DefaultPipelineConfig(profile prompt.Profile) *PipelineConfig {
	target := func(alias string) RouteTarget { return RouteTarget{Model: alias} }
	stageOn := func(alias string) StageConfig { return StageConfig{RouteTarget: target(alias)} }

	cfg := &PipelineConfig{
		Profile: string(profile),
		Variant: string(pipeline.VariantFor(profile)),
		Models:  *DefaultAliases(),
		Consensus: ConsensusConfig{
			Validators: []ValidatorConfig{
				{Name: AliasFlash, RouteTarget: target(AliasFlash)},
				{Name: AliasLearn, RouteTarget: target(AliasLearn)},
				{Name: AliasQwen, RouteTarget: target(AliasQwen)},
			},
			Fallback: target(AliasFlash),
		},
		Retry:      RetryConfig{DelayMs: 1000, MaxTries: 2},
		Generation: adapter.DefaultGenerationOptions(),
	}

	switch profile {
	case prompt.ProfileSketch:
		cfg.Stages = map[string]StageConfig{
			pipeline.StagePromptAnalysis:    stageOn(AliasFlash),
			pipeline.StageMathVerification:  stageOn(AliasLearn),
			pipeline.StageVisualizationSpec: stageOn(AliasQwen),
			pipeline.StageCodeStructure:     stageOn(AliasQwen),
			pipeline.StageCodeGeneration:    stageOn(AliasQwen),
			pipeline.StageCodeSanitization:  stageOn(AliasFlash),
		}
		cfg.Consensus.Policy = "binary"
		cfg.Consensus.Required = 2
	default:
		cfg.Stages = map[string]StageConfig{
			pipeline.StagePromptAnalysis:    stageOn(AliasFlash),
			pipeline.StageMathVerification:  stageOn(AliasLearn),
			pipeline.StageVisualizationSpec: stageOn(AliasQwen),
			pipeline.StageCodeStructure:     stageOn(AliasQwen),
			pipeline.StageCodeGeneration:    stageOn(AliasFlash),
			pipeline.StageCodeTesting:       stageOn(AliasLearn),
			pipeline.StageCodeOptimization:  stageOn(AliasFlash),
			pipeline.StageErrorDiagnosis:    stageOn(AliasLearn),
		}
		cfg.Consensus.Policy = "scored"
		cfg.Consensus.Questions = 5
		cfg.Consensus.Threshold = 0.6
	}

	applyPipelineDefaults(cfg)
	return cfg
}

func applyPipelineDefaults(cfg *PipelineConfig) {
	if cfg == nil {
		return
	}
	if cfg.Profile == "" {
		cfg.Profile = string(prompt.ProfileAnimation)
	}
	if cfg.Variant == "" {
		cfg.Variant = string(pipeline.VariantFor(prompt.Profile(cfg.Profile)))
	}
	if cfg.Retry.MaxTries == 0 {
		cfg.Retry.MaxTries = 2
	}
	if cfg.Retry.DelayMs < 0 {
		cfg.Retry.DelayMs = 0
	}
	if cfg.Consensus.Required == 0 {
		cfg.Consensus.Required = 2
	}
	if cfg.Consensus.Questions == 0 {
		cfg.Consensus.Questions = 5
	}
	if cfg.Consensus.Threshold == 0 {
		cfg.Consensus.Threshold = 0.6
	}
	if cfg.Models.Aliases == nil {
		cfg.Models.Aliases = make(map[string]string)
	}
	if cfg.Models.Providers == nil {
		cfg.Models.Providers = make(map[string][]string)
	}
}

// Validate reports every problem in the config at once.
func (c *PipelineConfig) Validate() error {
	var errs []error

	if _, err := prompt.ParseProfile(c.Profile); err != nil {
		errs = append(errs, err)
	}
	variant, err := pipeline.ParseVariant(c.Variant)
	if err != nil {
		errs = append(errs, err)
	} else {
		for _, name := range pipeline.Stages(variant) {
			if _, ok := c.Stages[name]; !ok {
				errs = append(errs, fmt.Errorf("stage %q has no model", name))
			}
		}
	}
	for _, name := range sortedKeys(c.Stages) {
		if _, err := stage.RuleByName(c.Stages[name].Reject); err != nil {
			errs = append(errs, fmt.Errorf("stage %q: %w", name, err))
		}
	}
	if len(c.Consensus.Validators) == 0 {
		errs = append(errs, errors.New("consensus: at least one validator is required"))
	}
	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}
	if c.Consensus.Threshold < 0 || c.Consensus.Threshold > 1 {
		errs = append(errs, fmt.Errorf("consensus: threshold %v outside [0,1]", c.Consensus.Threshold))
	}
	errs = append(errs, c.Models.ValidateTargets(c)...)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid %q pipeline config: %w", c.Profile, err)
	}
	return nil
}

// Resolve returns the canonical adapter and model for a target.
func (c *PipelineConfig) Resolve(t RouteTarget) RouteTarget {
	model := c.Models.Resolve(t.Model)
	adapterName := t.Adapter
	if adapterName == "" {
		adapterName = c.Models.GetProviderForModel(model)
	}
	return RouteTarget{Adapter: adapterName, Model: model}
}

// Policy builds the configured consensus policy.
func (c *PipelineConfig) Policy() (consensus.Policy, error) {
	return consensus.PolicyByName(c.Consensus.Policy, c.Consensus.Required, c.Consensus.Questions, c.Consensus.Threshold)
}

// RetryPolicy converts the retry settings for adapter.Call.
func (c *PipelineConfig) RetryPolicy() adapter.RetryPolicy {
	return adapter.RetryPolicy{
		Delay:    time.Duration(c.Retry.DelayMs) * time.Millisecond,
		MaxTries: c.Retry.MaxTries,
		Timeout:  c.CallTimeout,
	}
}

// Adapters returns the names of every adapter the config routes to.
func (c *PipelineConfig) Adapters() []string {
	seen := make(map[string]struct{})
	add := func(t RouteTarget) {
		if name := c.Resolve(t).Adapter; name != "" {
			seen[name] = struct{}{}
		}
	}
	for _, s := range c.Stages {
		add(s.RouteTarget)
	}
	for _, v := range c.Consensus.Validators {
		add(v.RouteTarget)
	}
	add(c.Consensus.Fallback)
	return sortedKeys(seen)
}
