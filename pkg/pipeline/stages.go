package pipeline

import (
	"fmt"

	"github.com/zen-systems/vizflow/pkg/adapter"
	"github.com/zen-systems/vizflow/pkg/prompt"
	"github.com/zen-systems/vizflow/pkg/stage"
)

// Variant selects the stage sequence.
type Variant string

const (
	// VariantMinimal runs generation, sanitization and one validation round.
	VariantMinimal Variant = "minimal"
	// VariantExtended adds testing, optimization and a repair round.
	VariantExtended Variant = "extended"
)

// Stage names. Template keys share these names.
const (
	StagePromptAnalysis    = prompt.KeyPromptAnalysis
	StageMathVerification  = prompt.KeyMathVerification
	StageVisualizationSpec = prompt.KeyVisualizationSpec
	StageCodeStructure     = prompt.KeyCodeStructure
	StageCodeGeneration    = prompt.KeyCodeGeneration
	StageCodeSanitization  = prompt.KeyCodeSanitization
	StageCodeTesting       = prompt.KeyCodeTesting
	StageCodeOptimization  = prompt.KeyCodeOptimization
	StageErrorDiagnosis    = prompt.KeyErrorDiagnosis
	StageValidation        = prompt.KeyValidation
	StageRevalidation      = "revalidation"
	StageFallback          = prompt.KeyFallbackGeneration

	StageComplete         = "complete"
	StageCompleteAfterFix = "complete_after_fix"
)

// ParseVariant validates a variant name.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case VariantMinimal, VariantExtended:
		return v, nil
	default:
		return "", fmt.Errorf("unknown pipeline variant %q", s)
	}
}

// VariantFor returns the variant a profile runs by default.
func VariantFor(profile prompt.Profile) Variant {
	if profile == prompt.ProfileSketch {
		return VariantMinimal
	}
	return VariantExtended
}

// Stages returns the agent-backed stages a variant runs, in order.
func Stages(v Variant) []string {
	common := []string{StagePromptAnalysis, StageMathVerification, StageVisualizationSpec, StageCodeStructure, StageCodeGeneration}
	switch v {
	case VariantMinimal:
		return append(common, StageCodeSanitization)
	default:
		return append(common, StageCodeTesting, StageCodeOptimization, StageErrorDiagnosis)
	}
}

// stageInputs lists the values the controller supplies to each stage.
var stageInputs = map[string][]string{
	StagePromptAnalysis:    {"prompt"},
	StageMathVerification:  {"concept"},
	StageVisualizationSpec: {"concept"},
	StageCodeStructure:     {"specification"},
	StageCodeGeneration:    {"structure"},
	StageCodeSanitization:  {"code"},
	StageCodeTesting:       {"code"},
	StageCodeOptimization:  {"code"},
	StageErrorDiagnosis:    {"error", "code"},
}

// Binding attaches a model to a stage. A nil Reject keeps the stage default.
type Binding struct {
	Adapter adapter.Adapter
	Model   string
	Reject  stage.RejectRule
}

// Specs builds the stage table for a variant. Post-processing and rejection
// defaults are fixed per stage; bindings supply the model for each one.
func Specs(v Variant, bindings map[string]Binding) ([]stage.Spec, error) {
	names := Stages(v)
	specs := make([]stage.Spec, 0, len(names))
	for _, name := range names {
		b, ok := bindings[name]
		if !ok || b.Adapter == nil {
			return nil, fmt.Errorf("no model bound to stage %s", name)
		}
		spec := defaultSpec(v, name)
		spec.Adapter = b.Adapter
		spec.Model = b.Model
		if b.Reject != nil {
			spec.Reject = b.Reject
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func defaultSpec(v Variant, name string) stage.Spec {
	spec := stage.Spec{
		Name:        name,
		TemplateKey: name,
		PostProcess: []stage.PostProcessor{stage.TrimSpace},
		Reject:      stage.RejectNone,
	}
	switch name {
	case StageMathVerification:
		spec.Reject = stage.AnyOf(stage.RejectErrorMarker, stage.RejectErrorSubstring)
	case StageCodeStructure:
		spec.RetryEmpty = v == VariantExtended
	case StageCodeGeneration, StageCodeOptimization:
		spec.PostProcess = []stage.PostProcessor{stage.StripFences}
	case StageCodeSanitization:
		spec.PostProcess = []stage.PostProcessor{stage.StripFences}
		spec.Reject = stage.AnyOf(stage.RejectVulnerabilities, stage.RejectErrorMarker)
	}
	return spec
}
