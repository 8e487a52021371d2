// Package pipeline sequences the stage agents that turn a mathematical
// explanation into visualization code, validates the code by consensus, and
// falls back to a simplified generator when validation cannot be satisfied.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/zen-systems/vizflow/pkg/adapter"
	"github.com/zen-systems/vizflow/pkg/consensus"
	"github.com/zen-systems/vizflow/pkg/prompt"
	"github.com/zen-systems/vizflow/pkg/stage"
)

// Config holds the configuration for a Controller.
type Config struct {
	Profile   prompt.Profile
	Variant   Variant
	Store     *prompt.Store
	Stages    []stage.Spec
	Validator *consensus.Validator
	Retry     adapter.RetryPolicy
	// EvidenceDir, when set, receives one directory per run.
	EvidenceDir string
	Logger      *slog.Logger
	Clock       clockwork.Clock
	// NewRunID overrides run ID generation.
	NewRunID func() string
}

// Controller runs the pipeline. It is safe for concurrent use: each Run
// keeps its own state and shares only the read-only agents and adapters.
type Controller struct {
	cfg       Config
	table     *stage.Table
	validator *consensus.Validator
	log       *slog.Logger
	clock     clockwork.Clock
}

// New validates cfg and builds a Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("prompt store is required")
	}
	if cfg.Validator == nil {
		return nil, fmt.Errorf("consensus validator is required")
	}
	if cfg.Profile == "" {
		cfg.Profile = cfg.Store.Profile()
	}
	if cfg.Variant == "" {
		cfg.Variant = VariantFor(cfg.Profile)
	}
	if _, err := ParseVariant(string(cfg.Variant)); err != nil {
		return nil, err
	}
	if cfg.Retry.MaxTries == 0 {
		cfg.Retry = adapter.DefaultRetryPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = uuid.NewString
	}

	table, err := stage.NewTable(cfg.Stages, cfg.Store, stage.Options{
		Retry:  cfg.Retry,
		Logger: cfg.Logger,
		Clock:  cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	if err := checkTable(cfg.Variant, table); err != nil {
		return nil, err
	}

	return &Controller{
		cfg:       cfg,
		table:     table,
		validator: cfg.Validator,
		log:       cfg.Logger.With("profile", cfg.Profile, "variant", cfg.Variant),
		clock:     cfg.Clock,
	}, nil
}

// checkTable verifies that every stage of the variant exists and that the
// controller can supply each placeholder its template references.
func checkTable(v Variant, table *stage.Table) error {
	var errs []error
	for _, name := range Stages(v) {
		agent, ok := table.Get(name)
		if !ok {
			errs = append(errs, fmt.Errorf("stage %s is not configured", name))
			continue
		}
		for _, placeholder := range agent.Placeholders() {
			if !slices.Contains(stageInputs[name], placeholder) {
				errs = append(errs, fmt.Errorf("stage %s: template references unknown placeholder %q", name, placeholder))
			}
		}
	}
	return errors.Join(errs...)
}

// Variant returns the stage sequence the controller runs.
func (c *Controller) Variant() Variant { return c.cfg.Variant }

// Profile returns the prompt profile.
func (c *Controller) Profile() prompt.Profile { return c.cfg.Profile }

// Validator returns the consensus validator.
func (c *Controller) Validator() *consensus.Validator { return c.validator }

// StageSpecs returns the resolved stage table in execution order.
func (c *Controller) StageSpecs() []stage.Spec {
	names := c.table.Names()
	specs := make([]stage.Spec, 0, len(names))
	for _, name := range names {
		agent, _ := c.table.Get(name)
		specs = append(specs, agent.Spec())
	}
	return specs
}

// Run executes the pipeline for one user prompt. It never returns an error:
// every failure is encoded in the Result.
func (c *Controller) Run(ctx context.Context, input string) *Result {
	r := c.newRun(input)
	r.log.Info("run started", "chars", len(input))

	var res *Result
	func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("run panicked", "panic", p)
				res = r.fail(r.stage, fmt.Sprintf("internal error: %v", p))
			}
		}()
		switch c.cfg.Variant {
		case VariantMinimal:
			res = r.minimal(ctx)
		default:
			res = r.extended(ctx)
		}
	}()

	return r.finish(res)
}

func (c *Controller) newRun(input string) *run {
	id := c.cfg.NewRunID()
	return &run{
		ctrl:     c,
		id:       id,
		input:    input,
		started:  c.clock.Now(),
		attempts: make(map[string]int),
		log:      c.log.With("run_id", id),
	}
}

func durationMillis(d time.Duration) int64 { return d.Milliseconds() }
