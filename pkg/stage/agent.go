// Package stage implements the generic stage agent: render a template, call
// one model, post-process the text, and tag the outcome.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/zen-systems/vizflow/pkg/adapter"
	"github.com/zen-systems/vizflow/pkg/metrics"
	"github.com/zen-systems/vizflow/pkg/prompt"
)

// Spec is one row of a stage table.
type Spec struct {
	Name        string
	TemplateKey string
	Adapter     adapter.Adapter
	Model       string
	PostProcess []PostProcessor
	Reject      RejectRule
	// RetryEmpty makes one extra call when the processed output is empty
	// or the literal "none".
	RetryEmpty bool
}

// Options are shared by every agent of a pipeline.
type Options struct {
	Retry  adapter.RetryPolicy
	Logger *slog.Logger
	Clock  clockwork.Clock
}

// Agent runs a single stage.
type Agent struct {
	spec  Spec
	tmpl  *prompt.Template
	retry adapter.RetryPolicy
	log   *slog.Logger
	clock clockwork.Clock
}

// NewAgent binds spec to its template in store.
func NewAgent(spec Spec, store *prompt.Store, opts Options) (*Agent, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("stage name is required")
	}
	if spec.Adapter == nil {
		return nil, fmt.Errorf("stage %s: adapter is required", spec.Name)
	}
	if spec.Model == "" {
		models := spec.Adapter.Models()
		if len(models) == 0 {
			return nil, fmt.Errorf("stage %s: model is required", spec.Name)
		}
		spec.Model = models[0]
	}
	if spec.TemplateKey == "" {
		spec.TemplateKey = spec.Name
	}
	if spec.Reject == nil {
		spec.Reject = RejectNone
	}
	if store == nil {
		return nil, fmt.Errorf("stage %s: prompt store is required", spec.Name)
	}
	tmpl, err := store.Get(spec.TemplateKey)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", spec.Name, err)
	}

	if opts.Retry.MaxTries == 0 {
		opts.Retry = adapter.DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Agent{
		spec:  spec,
		tmpl:  tmpl,
		retry: opts.Retry,
		log:   opts.Logger.With("stage", spec.Name),
		clock: opts.Clock,
	}, nil
}

// Name returns the stage name.
func (a *Agent) Name() string { return a.spec.Name }

// Spec returns the resolved stage row.
func (a *Agent) Spec() Spec { return a.spec }

// Placeholders returns the values Process expects.
func (a *Agent) Placeholders() []string { return a.tmpl.Placeholders() }

// Process renders the stage prompt with values, calls the model and returns
// the tagged result. It never panics on model failure.
func (a *Agent) Process(ctx context.Context, values map[string]string) Result {
	start := a.clock.Now()
	res := a.process(ctx, values)
	res.Stage = a.spec.Name
	res.Duration = a.clock.Since(start)

	outcome := metrics.ResultOK
	switch {
	case res.Is(ErrRejected):
		outcome = metrics.ResultRejected
	case res.Failed():
		outcome = metrics.ResultError
	}
	metrics.StageDuration.WithLabelValues(a.spec.Name, outcome).Observe(res.Duration.Seconds())

	if res.Failed() {
		a.log.Error("stage failed", "error", res.Err, "duration", res.Duration)
	} else {
		a.log.Info("stage completed", "chars", len(res.Text), "duration", res.Duration)
		a.log.Debug("stage output", "output", res.Text)
	}
	return res
}

func (a *Agent) process(ctx context.Context, values map[string]string) Result {
	a.log.Info("stage started", "template", a.spec.TemplateKey, "adapter", a.spec.Adapter.Name(), "model", a.spec.Model)

	rendered, err := a.tmpl.Render(values)
	if err != nil {
		return Fail(a.spec.Name, ErrRender, err)
	}
	a.log.Debug("stage input", "prompt", rendered)

	var calls []adapter.CallReport
	text, raw, resp, err := a.call(ctx, rendered, &calls)
	if err == nil && a.spec.RetryEmpty && isBlank(text) {
		a.log.Warn("empty stage output, retrying once")
		if err = a.wait(ctx); err == nil {
			text, raw, resp, err = a.call(ctx, rendered, &calls)
		}
	}

	var res Result
	switch {
	case err != nil:
		res = Fail(a.spec.Name, ErrTransport, err)
	case isBlank(text):
		res = Fail(a.spec.Name, ErrEmptyOutput, nil)
	default:
		if rejectErr := a.spec.Reject(text); rejectErr != nil {
			res = Fail(a.spec.Name, ErrRejected, rejectErr)
		} else {
			res = Ok(text)
			res.Artifact = resp.Artifact.ForStage(a.spec.Name).WithMetadata("template", a.spec.TemplateKey)
			if post := res.Artifact.NewVersion(text); res.Artifact.Changed(post) {
				res.Artifact = post
			}
		}
	}
	res.Input = rendered
	res.Raw = raw
	res.Calls = calls
	return res
}

func (a *Agent) call(ctx context.Context, rendered string, calls *[]adapter.CallReport) (string, string, *adapter.Response, error) {
	resp, report, err := adapter.Call(ctx, a.spec.Adapter, a.spec.Model, rendered, a.retry)
	report.Stage = a.spec.Name
	*calls = append(*calls, report)
	if err != nil {
		return "", "", nil, err
	}
	raw := resp.Text()
	return applyPost(raw, a.spec.PostProcess), raw, resp, nil
}

func (a *Agent) wait(ctx context.Context) error {
	if a.retry.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.clock.After(a.retry.Delay):
		return nil
	}
}

func isBlank(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, "none")
}

// Table is an ordered set of agents addressed by stage name.
type Table struct {
	order  []string
	agents map[string]*Agent
}

// NewTable builds one agent per spec.
func NewTable(specs []Spec, store *prompt.Store, opts Options) (*Table, error) {
	t := &Table{agents: make(map[string]*Agent, len(specs))}
	var errs []error
	for _, spec := range specs {
		agent, err := NewAgent(spec, store, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := t.agents[agent.Name()]; dup {
			errs = append(errs, fmt.Errorf("duplicate stage %s", agent.Name()))
			continue
		}
		t.order = append(t.order, agent.Name())
		t.agents[agent.Name()] = agent
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

// Get returns the agent for a stage.
func (t *Table) Get(name string) (*Agent, bool) {
	a, ok := t.agents[name]
	return a, ok
}

// Names returns stage names in table order.
func (t *Table) Names() []string {
	return append([]string(nil), t.order...)
}
