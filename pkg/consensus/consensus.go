// Package consensus asks several independent models to judge generated code
// and aggregates their verdicts. It also owns the last-resort fallback
// generator used when code cannot be validated.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
	"github.com/zen-systems/vizflow/pkg/adapter"
	"github.com/zen-systems/vizflow/pkg/metrics"
	"github.com/zen-systems/vizflow/pkg/prompt"
	"github.com/zen-systems/vizflow/pkg/stage"
)

const (
	ResultPass = "pass"
	ResultFail = "fail"
)

// Member is one validating model.
type Member struct {
	Name    string
	Adapter adapter.Adapter
	Model   string
}

// Verdict is one validator's judgement.
type Verdict struct {
	Validator string             `json:"validator"`
	PassRate  float64            `json:"pass_rate"`
	Passed    bool               `json:"passed"`
	Response  string             `json:"response"`
	Err       error              `json:"-"`
	Call      adapter.CallReport `json:"call"`
}

// Outcome aggregates the verdicts for one piece of code.
type Outcome struct {
	Result   string    `json:"result"`
	Score    float64   `json:"score"`
	Feedback string    `json:"feedback,omitempty"`
	Verdicts []Verdict `json:"verdicts"`
	Code     string    `json:"-"`
}

// Passed reports whether consensus was reached.
func (o Outcome) Passed() bool { return o.Result == ResultPass }

// Calls returns the call reports of every verdict.
func (o Outcome) Calls() []adapter.CallReport {
	calls := make([]adapter.CallReport, 0, len(o.Verdicts))
	for _, v := range o.Verdicts {
		if v.Call.Adapter != "" {
			calls = append(calls, v.Call)
		}
	}
	return calls
}

// Config configures a Validator.
type Config struct {
	Store    *prompt.Store
	Members  []Member
	Policy   Policy
	Fallback Member
	Retry    adapter.RetryPolicy
	// Concurrency above one fans validator calls out on a worker pool.
	Concurrency int
	Logger      *slog.Logger
	Clock       clockwork.Clock
}

// Validator runs consensus validation and fallback generation.
type Validator struct {
	members  []Member
	policy   Policy
	tmpl     *prompt.Template
	fallback *stage.Agent
	retry    adapter.RetryPolicy
	pool     pond.ResultPool[Verdict]
	log      *slog.Logger
}

// New validates cfg and builds a Validator.
func New(cfg Config) (*Validator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("prompt store is required")
	}
	if len(cfg.Members) == 0 {
		return nil, fmt.Errorf("at least one validator is required")
	}
	for i := range cfg.Members {
		m := &cfg.Members[i]
		if m.Adapter == nil {
			return nil, fmt.Errorf("validator %d: adapter is required", i)
		}
		if m.Name == "" {
			m.Name = m.Adapter.Name()
		}
		if m.Model == "" && len(m.Adapter.Models()) > 0 {
			m.Model = m.Adapter.Models()[0]
		}
	}
	if cfg.Policy == nil {
		cfg.Policy = BinaryVote{Required: 2}
	}
	if cfg.Fallback.Adapter == nil {
		return nil, fmt.Errorf("fallback adapter is required")
	}
	if cfg.Retry.MaxTries == 0 {
		cfg.Retry = adapter.DefaultRetryPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	tmpl, err := cfg.Store.Get(prompt.KeyValidation)
	if err != nil {
		return nil, err
	}
	for _, name := range tmpl.Placeholders() {
		if name != "code" {
			return nil, fmt.Errorf("validation template: unsupported placeholder %q", name)
		}
	}

	fallback, err := stage.NewAgent(stage.Spec{
		Name:        prompt.KeyFallbackGeneration,
		Adapter:     cfg.Fallback.Adapter,
		Model:       cfg.Fallback.Model,
		PostProcess: []stage.PostProcessor{stage.StripFences},
	}, cfg.Store, stage.Options{Retry: cfg.Retry, Logger: cfg.Logger, Clock: cfg.Clock})
	if err != nil {
		return nil, err
	}

	v := &Validator{
		members:  cfg.Members,
		policy:   cfg.Policy,
		tmpl:     tmpl,
		fallback: fallback,
		retry:    cfg.Retry,
		log:      cfg.Logger.With("component", "consensus", "policy", cfg.Policy.Name()),
	}
	if cfg.Concurrency > 1 {
		v.pool = pond.NewResultPool[Verdict](cfg.Concurrency)
	}
	return v, nil
}

// Close releases the worker pool, if any.
func (v *Validator) Close() {
	if v.pool != nil {
		v.pool.StopAndWait()
	}
}

// Members returns the configured validators.
func (v *Validator) Members() []Member {
	return append([]Member(nil), v.members...)
}

// Policy returns the aggregation policy.
func (v *Validator) Policy() Policy { return v.policy }

// Validate asks every validator about code. A failing validator call is
// recorded as a zero-rate verdict and never aborts the aggregation.
func (v *Validator) Validate(ctx context.Context, code string) Outcome {
	v.log.Info("consensus validation started", "validators", len(v.members), "chars", len(code))

	rendered, err := v.tmpl.Render(map[string]string{"code": code})
	if err != nil {
		v.log.Error("consensus validation failed", "error", err)
		return Outcome{Result: ResultFail, Feedback: err.Error(), Code: code}
	}

	var verdicts []Verdict
	if v.pool != nil {
		verdicts = v.fanOut(ctx, rendered)
	} else {
		verdicts = make([]Verdict, 0, len(v.members))
		for _, m := range v.members {
			verdicts = append(verdicts, v.ask(ctx, m, rendered))
		}
	}

	passed, score, feedback := v.policy.Decide(verdicts)
	out := Outcome{Result: ResultFail, Score: score, Feedback: feedback, Verdicts: verdicts, Code: code}
	if passed {
		out.Result = ResultPass
	}
	metrics.ConsensusScore.WithLabelValues(v.policy.Name()).Observe(score)
	v.log.Info("consensus validation completed", "result", out.Result, "score", score)
	return out
}

func (v *Validator) fanOut(ctx context.Context, rendered string) []Verdict {
	group := v.pool.NewGroupContext(ctx)
	for _, m := range v.members {
		m := m
		group.Submit(func() Verdict {
			return v.ask(ctx, m, rendered)
		})
	}

	results, err := group.Wait()
	verdicts := make([]Verdict, len(v.members))
	for i, m := range v.members {
		if i < len(results) && results[i].Validator != "" {
			verdicts[i] = results[i]
			continue
		}
		cause := err
		if cause == nil {
			cause = errors.New("validator did not run")
		}
		verdicts[i] = errorVerdict(m, cause)
	}
	return verdicts
}

func (v *Validator) ask(ctx context.Context, m Member, rendered string) Verdict {
	resp, report, err := adapter.Call(ctx, m.Adapter, m.Model, rendered, v.retry)
	report.Stage = prompt.KeyValidation
	if err != nil {
		v.log.Error("validator call failed", "validator", m.Name, "error", err)
		verdict := errorVerdict(m, err)
		verdict.Call = report
		return verdict
	}

	text := resp.Text()
	rate := v.policy.Rate(text)
	verdict := Verdict{
		Validator: m.Name,
		PassRate:  rate,
		Passed:    v.policy.VerdictPassed(rate),
		Response:  text,
		Call:      report,
	}
	v.log.Info("validator verdict", "validator", m.Name, "pass_rate", rate, "passed", verdict.Passed)
	return verdict
}

func errorVerdict(m Member, err error) Verdict {
	return Verdict{
		Validator: m.Name,
		Response:  "Error: " + err.Error(),
		Err:       err,
		Call:      adapter.CallReport{Adapter: m.Adapter.Name(), Model: m.Model, Error: err.Error()},
	}
}

// GenerateFallback asks the designated fallback model for simplified code
// for concept. On failure the result is failed and its Text carries an
// error description so callers always have something to return.
func (v *Validator) GenerateFallback(ctx context.Context, concept string) stage.Result {
	res := v.fallback.Process(ctx, map[string]string{"concept": concept})
	if res.Failed() {
		res.Text = "Error generating fallback code: " + res.Message()
	}
	return res
}
