package pipeline

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/zen-systems/vizflow/pkg/adapter"
	"github.com/zen-systems/vizflow/pkg/consensus"
	"github.com/zen-systems/vizflow/pkg/evidence"
	"github.com/zen-systems/vizflow/pkg/metrics"
	"github.com/zen-systems/vizflow/pkg/prompt"
	"github.com/zen-systems/vizflow/pkg/repair"
	"github.com/zen-systems/vizflow/pkg/stage"
)

// run is the mutable state of one execution. It is never shared.
type run struct {
	ctrl     *Controller
	id       string
	input    string
	started  time.Time
	stage    string
	calls    []adapter.CallReport
	usage    adapter.Usage
	attempts map[string]int
	writer   *evidence.Writer
	noWriter bool
	log      *slog.Logger
}

func (r *run) minimal(ctx context.Context) *Result {
	verified, structure, failed := r.design(ctx)
	if failed != nil {
		return failed
	}

	generated := r.step(ctx, StageCodeGeneration, map[string]string{"structure": structure})
	if generated.Failed() {
		return r.failStage(generated)
	}

	sanitized := r.step(ctx, StageCodeSanitization, map[string]string{"code": generated.Text})
	if sanitized.Failed() {
		return r.failStage(sanitized)
	}

	outcome := r.validate(ctx, StageValidation, sanitized.Text)
	if outcome.Passed() {
		return r.succeed(StatusSuccess, StageComplete, sanitized.Text, outcome)
	}
	return r.fallback(ctx, verified, sanitized.Text, outcome)
}

func (r *run) extended(ctx context.Context) *Result {
	verified, structure, failed := r.design(ctx)
	if failed != nil {
		return failed
	}

	generated := r.step(ctx, StageCodeGeneration, map[string]string{"structure": structure})
	if generated.Failed() {
		return r.failStage(generated)
	}
	code := generated.Text

	tested := r.step(ctx, StageCodeTesting, map[string]string{"code": code})
	switch {
	case tested.Failed():
		r.log.Warn("code testing unavailable, continuing with untested code", "error", tested.Err)
	case !repair.TestsPassed(tested.Text):
		r.log.Info("code testing reported issues, regenerating once")
		regenerated := r.step(ctx, StageCodeGeneration, map[string]string{
			"structure": repair.WithTestFeedback(structure, tested.Text),
		})
		if regenerated.Failed() {
			return r.failStage(regenerated)
		}
		code = regenerated.Text
	}

	optimized := r.step(ctx, StageCodeOptimization, map[string]string{"code": code})
	if optimized.Failed() {
		r.log.Warn("code optimization failed, keeping unoptimized code", "error", optimized.Err)
	} else {
		code = optimized.Text
	}

	outcome := r.validate(ctx, StageValidation, code)
	if outcome.Passed() {
		return r.succeed(StatusSuccess, StageComplete, code, outcome)
	}

	fixed := code
	diagnosis := r.step(ctx, StageErrorDiagnosis, map[string]string{
		"error": repair.DiagnosisInput(outcome.Feedback),
		"code":  code,
	})
	if diagnosis.Failed() {
		r.log.Warn("error diagnosis failed, revalidating original code", "error", diagnosis.Err)
	} else if extracted, ok := repair.ExtractFix(diagnosis.Text, code); ok {
		fixed = extracted
	} else {
		r.log.Info("diagnosis carried no usable fix, revalidating original code")
	}

	revalidated := r.validate(ctx, StageRevalidation, fixed)
	if revalidated.Passed() {
		return r.succeed(StatusSuccessAfterFix, StageCompleteAfterFix, fixed, revalidated)
	}
	return r.fallback(ctx, verified, code, revalidated)
}

// design runs the stages shared by both variants, up to the code structure.
// A non-nil Result means the run already failed.
func (r *run) design(ctx context.Context) (verified, structure string, failed *Result) {
	analysis := r.step(ctx, StagePromptAnalysis, map[string]string{"prompt": r.input})
	if analysis.Failed() {
		return "", "", r.failStage(analysis)
	}

	verification := r.step(ctx, StageMathVerification, map[string]string{"concept": analysis.Text})
	if verification.Failed() {
		return "", "", r.failStage(verification)
	}

	spec := r.step(ctx, StageVisualizationSpec, map[string]string{"concept": verification.Text})
	if spec.Failed() {
		return "", "", r.failStage(spec)
	}

	outline := r.step(ctx, StageCodeStructure, map[string]string{"specification": spec.Text})
	if outline.Failed() {
		return "", "", r.failStage(outline)
	}

	return verification.Text, outline.Text, nil
}

func (r *run) step(ctx context.Context, name string, values map[string]string) stage.Result {
	r.stage = name
	agent, ok := r.ctrl.table.Get(name)
	if !ok {
		return stage.Fail(name, stage.ErrRender, prompt.ErrUnknownTemplate)
	}

	res := agent.Process(ctx, values)
	r.record(res.Calls)

	r.attempts[name]++
	spec := agent.Spec()
	rec := evidence.StageRecord{
		Name:           name,
		Attempt:        r.attempts[name],
		Adapter:        spec.Adapter.Name(),
		Model:          spec.Model,
		Prompt:         res.Input,
		Output:         res.Raw,
		Artifact:       evidence.ArtifactRef(res.Artifact),
		Calls:          res.Calls,
		DurationMillis: durationMillis(res.Duration),
	}
	if res.Failed() {
		rec.Error = res.Message()
	}
	r.writeStage(rec)
	return res
}

func (r *run) validate(ctx context.Context, round, code string) consensus.Outcome {
	r.stage = round
	start := r.ctrl.clock.Now()
	out := r.ctrl.validator.Validate(ctx, code)
	r.record(out.Calls())

	if w := r.evidenceWriter(); w != nil {
		rec := evidence.ValidationRecord{
			Round:          round,
			Policy:         r.ctrl.validator.Policy().Name(),
			Result:         out.Result,
			Score:          out.Score,
			Feedback:       out.Feedback,
			CodeHash:       evidence.Hash(code),
			DurationMillis: durationMillis(r.ctrl.clock.Since(start)),
		}
		for _, v := range out.Verdicts {
			rec.Verdicts = append(rec.Verdicts, evidence.VerdictRecord{
				Validator: v.Validator,
				PassRate:  v.PassRate,
				Passed:    v.Passed,
				Response:  v.Response,
			})
		}
		if err := w.WriteValidation(rec); err != nil {
			r.log.Warn("failed to write validation evidence", "error", err)
		}
	}
	return out
}

func (r *run) fallback(ctx context.Context, concept, original string, last consensus.Outcome) *Result {
	r.stage = StageFallback
	r.log.Warn("validation failed, generating fallback code", "score", last.Score)

	res := r.ctrl.validator.GenerateFallback(ctx, concept)
	r.record(res.Calls)
	r.attempts[StageFallback]++
	rec := evidence.StageRecord{
		Name:           StageFallback,
		Attempt:        r.attempts[StageFallback],
		Prompt:         res.Input,
		Output:         res.Raw,
		Artifact:       evidence.ArtifactRef(res.Artifact),
		Calls:          res.Calls,
		DurationMillis: durationMillis(res.Duration),
	}
	if len(res.Calls) > 0 {
		rec.Adapter, rec.Model = res.Calls[0].Adapter, res.Calls[0].Model
	}
	if res.Failed() {
		rec.Error = res.Message()
	}
	r.writeStage(rec)

	out := &Result{
		Status:       StatusFallback,
		Stage:        StageFallback,
		Code:         res.Text,
		Score:        scorePtr(last.Score),
		OriginalCode: original,
		Verdicts:     last.Verdicts,
	}
	if res.Failed() {
		out.Message = res.Message()
	}
	return out
}

func (r *run) succeed(status Status, marker, code string, out consensus.Outcome) *Result {
	return &Result{
		Status:   status,
		Stage:    marker,
		Code:     code,
		Score:    scorePtr(out.Score),
		Verdicts: out.Verdicts,
	}
}

func (r *run) failStage(res stage.Result) *Result {
	return r.fail(res.Stage, res.Message())
}

func (r *run) fail(stageName, message string) *Result {
	return &Result{Status: StatusError, Stage: stageName, Message: message}
}

func (r *run) record(calls []adapter.CallReport) {
	for _, c := range calls {
		r.usage.Add(c.Usage)
	}
	r.calls = append(r.calls, calls...)
}

func (r *run) writeStage(rec evidence.StageRecord) {
	w := r.evidenceWriter()
	if w == nil {
		return
	}
	if err := w.WriteStage(rec); err != nil {
		r.log.Warn("failed to write stage evidence", "stage", rec.Name, "error", err)
	}
}

// evidenceWriter opens the run directory on first use. A failure disables
// evidence for the rest of the run without affecting the result.
func (r *run) evidenceWriter() *evidence.Writer {
	if r.writer != nil || r.noWriter || r.ctrl.cfg.EvidenceDir == "" {
		return r.writer
	}
	w, err := evidence.NewWriter(r.ctrl.cfg.EvidenceDir, r.id)
	if err != nil {
		r.log.Warn("evidence disabled", "error", err)
		r.noWriter = true
		return nil
	}
	r.writer = w
	return w
}

func (r *run) finish(res *Result) *Result {
	res.RunID = r.id
	res.Calls = r.calls
	res.Usage = r.usage
	res.Duration = r.ctrl.clock.Since(r.started)
	metrics.RunsTotal.WithLabelValues(string(res.Status)).Inc()

	if w := r.evidenceWriter(); w != nil {
		res.EvidenceDir = w.RunDir()
		rec := evidence.RunRecord{
			ID:             r.id,
			Timestamp:      r.started.UTC(),
			Profile:        string(r.ctrl.cfg.Profile),
			Variant:        string(r.ctrl.cfg.Variant),
			InputHash:      evidence.Hash(r.input),
			Input:          r.input,
			Status:         string(res.Status),
			Stage:          res.Stage,
			Score:          res.Score,
			Message:        res.Message,
			Usage:          r.usage,
			DurationMillis: durationMillis(res.Duration),
			ToolVersions:   map[string]string{"go": runtime.Version()},
		}
		if res.Code != "" {
			name, err := w.WriteCode(codeFilename(r.ctrl.cfg.Profile), res.Code)
			if err != nil {
				r.log.Warn("failed to write code evidence", "error", err)
			}
			rec.CodeFile = name
		}
		if err := w.WriteRun(rec); err != nil {
			r.log.Warn("failed to write run evidence", "error", err)
		}
	}

	attrs := []any{"status", res.Status, "stage", res.Stage, "duration", res.Duration, "calls", len(res.Calls)}
	if res.Score != nil {
		attrs = append(attrs, "score", *res.Score)
	}
	if res.Status == StatusError {
		r.log.Error("run failed", append(attrs, "message", res.Message)...)
	} else {
		r.log.Info("run finished", attrs...)
	}
	return res
}

func codeFilename(p prompt.Profile) string {
	if p == prompt.ProfileSketch {
		return "sketch.js"
	}
	return "scene.py"
}

func scorePtr(v float64) *float64 { return &v }
