package pipeline

import (
	"time"

	"github.com/zen-systems/vizflow/pkg/adapter"
	"github.com/zen-systems/vizflow/pkg/consensus"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusSuccessAfterFix Status = "success_after_fix"
	StatusFallback        Status = "fallback"
	StatusError           Status = "error"
)

// Trusted reports whether the code passed validation as is or after repair.
func (s Status) Trusted() bool {
	return s == StatusSuccess || s == StatusSuccessAfterFix
}

// Result is what a run returns to the caller.
type Result struct {
	RunID  string `json:"run_id"`
	Status Status `json:"status"`
	// Stage is the failing stage on error, otherwise the terminal marker
	// (complete, complete_after_fix or fallback_generation).
	Stage   string   `json:"stage"`
	Code    string   `json:"code,omitempty"`
	Score   *float64 `json:"score,omitempty"`
	Message string   `json:"message,omitempty"`
	// OriginalCode is the rejected code when the fallback was used.
	OriginalCode string               `json:"original_code,omitempty"`
	Verdicts     []consensus.Verdict  `json:"verdicts,omitempty"`
	Calls        []adapter.CallReport `json:"calls,omitempty"`
	Usage        adapter.Usage        `json:"usage"`
	EvidenceDir  string               `json:"evidence_dir,omitempty"`
	Duration     time.Duration        `json:"duration"`
}

// HasCode reports whether the result carries a code field.
func (r *Result) HasCode() bool {
	return r != nil && r.Code != ""
}
