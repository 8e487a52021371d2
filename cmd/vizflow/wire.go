package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zen-systems/vizflow/pkg/adapter"
	"github.com/zen-systems/vizflow/pkg/config"
	"github.com/zen-systems/vizflow/pkg/consensus"
	"github.com/zen-systems/vizflow/pkg/pipeline"
	"github.com/zen-systems/vizflow/pkg/prompt"
	"github.com/zen-systems/vizflow/pkg/stage"
)

// loadConfig reads the config and applies the --profile override. A
// profile other than the file's swaps in that profile's model assignment
// while keeping the transport settings.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadWithPipelineFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if profileFlag != "" {
		p, err := prompt.ParseProfile(profileFlag)
		if err != nil {
			return nil, err
		}
		if string(p) != cfg.Pipeline.Profile {
			cfg.Pipeline = withProfile(cfg.Pipeline, p)
		}
	}

	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withProfile(current *config.PipelineConfig, p prompt.Profile) *config.PipelineConfig {
	next := config.DefaultPipelineConfig(p)
	next.Models = current.Models
	next.Retry = current.Retry
	next.Generation = current.Generation
	next.RateLimits = current.RateLimits
	next.CacheTTL = current.CacheTTL
	next.CallTimeout = current.CallTimeout
	next.EvidenceDir = current.EvidenceDir
	next.Consensus.Concurrency = current.Consensus.Concurrency
	return next
}

// createAdapters builds one adapter per provider the pipeline routes to.
// Google keys share a round-robin pool; every provider is then rate
// limited and cached as configured.
func createAdapters(ctx context.Context, cfg *config.Config, log *slog.Logger) (map[string]adapter.Adapter, error) {
	p := cfg.Pipeline
	adapters := make(map[string]adapter.Adapter)

	for _, name := range p.Adapters() {
		var a adapter.Adapter
		var err error

		if dryRun {
			a = newDryRunAdapter(name, prompt.Profile(p.Profile))
		} else {
			a, err = createProviderAdapter(ctx, name, cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create %s adapter: %w", name, err)
			}
		}

		a = adapter.NewRateLimited(a, p.RateLimits[name])
		a = adapter.NewCached(a, p.CacheTTL)
		adapters[name] = a
		log.Debug("adapter ready", "adapter", name, "keys", cfg.KeyCount(name), "dry_run", dryRun)
	}

	return adapters, nil
}

func createProviderAdapter(ctx context.Context, name string, cfg *config.Config) (adapter.Adapter, error) {
	p := cfg.Pipeline
	opts := []adapter.Option{adapter.WithGeneration(p.Generation)}
	if models := p.Models.Providers[name]; len(models) > 0 {
		opts = append(opts, adapter.WithModels(models...))
	}
	if !cfg.HasAdapter(name) && name != "mock" {
		return nil, fmt.Errorf("no API key configured for %s", name)
	}

	switch name {
	case "google":
		members := make([]adapter.Adapter, 0, len(cfg.GoogleAPIKeys))
		for _, key := range cfg.GoogleAPIKeys {
			g, err := adapter.NewGoogleAdapter(ctx, key, opts...)
			if err != nil {
				return nil, err
			}
			members = append(members, g)
		}
		return adapter.NewKeyPool(name, members...)
	case "openrouter":
		return adapter.NewOpenRouterAdapter(cfg.OpenRouterAPIKey, opts...)
	case "openai":
		return adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey, opts...)
	case "anthropic":
		return adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey, opts...)
	case "deepseek":
		return adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey, opts...)
	case "mock":
		return adapter.NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown adapter %q", name)
	}
}

func loadStore(p *config.PipelineConfig) (*prompt.Store, error) {
	profile, err := prompt.ParseProfile(p.Profile)
	if err != nil {
		return nil, err
	}
	if p.PromptsDir != "" {
		return prompt.LoadDir(profile, p.PromptsDir)
	}
	return prompt.Load(profile)
}

func lookup(adapters map[string]adapter.Adapter, p *config.PipelineConfig, t config.RouteTarget) (adapter.Adapter, string, error) {
	resolved := p.Resolve(t)
	a, ok := adapters[resolved.Adapter]
	if !ok {
		return nil, "", fmt.Errorf("adapter %q for model %q not available", resolved.Adapter, resolved.Model)
	}
	return a, resolved.Model, nil
}

func createValidator(cfg *config.Config, store *prompt.Store, adapters map[string]adapter.Adapter, log *slog.Logger) (*consensus.Validator, error) {
	p := cfg.Pipeline

	members := make([]consensus.Member, 0, len(p.Consensus.Validators))
	for _, v := range p.Consensus.Validators {
		a, model, err := lookup(adapters, p, v.RouteTarget)
		if err != nil {
			return nil, fmt.Errorf("validator %s: %w", v.Name, err)
		}
		members = append(members, consensus.Member{Name: v.Name, Adapter: a, Model: model})
	}

	fa, fmodel, err := lookup(adapters, p, p.Consensus.Fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}

	policy, err := p.Policy()
	if err != nil {
		return nil, err
	}

	return consensus.New(consensus.Config{
		Store:       store,
		Members:     members,
		Policy:      policy,
		Fallback:    consensus.Member{Name: "fallback", Adapter: fa, Model: fmodel},
		Retry:       p.RetryPolicy(),
		Concurrency: p.Consensus.Concurrency,
		Logger:      log,
	})
}

// createController wires the stage table, the validator and the controller.
// The caller closes the returned validator.
func createController(ctx context.Context, cfg *config.Config, evidenceDir string, log *slog.Logger) (*pipeline.Controller, *consensus.Validator, error) {
	p := cfg.Pipeline

	store, err := loadStore(p)
	if err != nil {
		return nil, nil, err
	}
	adapters, err := createAdapters(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	variant, err := pipeline.ParseVariant(p.Variant)
	if err != nil {
		return nil, nil, err
	}

	bindings := make(map[string]pipeline.Binding, len(p.Stages))
	for name, sc := range p.Stages {
		a, model, err := lookup(adapters, p, sc.RouteTarget)
		if err != nil {
			return nil, nil, fmt.Errorf("stage %s: %w", name, err)
		}
		b := pipeline.Binding{Adapter: a, Model: model}
		if sc.Reject != "" {
			rule, err := stage.RuleByName(sc.Reject)
			if err != nil {
				return nil, nil, fmt.Errorf("stage %s: %w", name, err)
			}
			b.Reject = rule
		}
		bindings[name] = b
	}
	specs, err := pipeline.Specs(variant, bindings)
	if err != nil {
		return nil, nil, err
	}

	validator, err := createValidator(cfg, store, adapters, log)
	if err != nil {
		return nil, nil, err
	}

	if evidenceDir == "" {
		evidenceDir = p.EvidenceDir
	}
	ctrl, err := pipeline.New(pipeline.Config{
		Profile:     store.Profile(),
		Variant:     variant,
		Store:       store,
		Stages:      specs,
		Validator:   validator,
		Retry:       p.RetryPolicy(),
		EvidenceDir: evidenceDir,
		Logger:      log,
	})
	if err != nil {
		validator.Close()
		return nil, nil, err
	}
	return ctrl, validator, nil
}
