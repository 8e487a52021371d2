package repair

import (
	"fmt"
	"strings"

	"github.com/zen-systems/vizflow/pkg/consensus"
	"github.com/zen-systems/vizflow/pkg/stage"
)

// TestPassMarker is the literal a testing stage answers with when it finds
// no problems.
const TestPassMarker = "CODE PASSES TESTING"

// MinFixLength is the shortest diagnosis body accepted as replacement code.
// Shorter answers are explanations, not scripts.
const MinFixLength = 100

// TestsPassed reports whether testing output starts with TestPassMarker,
// ignoring case and surrounding whitespace.
func TestsPassed(output string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(output)), TestPassMarker)
}

// WithTestFeedback appends testing findings to a code structure so that a
// second generation pass can address them.
func WithTestFeedback(structure, findings string) string {
	var sb strings.Builder
	sb.WriteString(structure)
	sb.WriteString("\n\nImportant issues to address:\n")
	sb.WriteString(findings)
	return sb.String()
}

// DiagnosisInput builds the problem report handed to the error-diagnosis
// stage after failed validation.
func DiagnosisInput(feedback string) string {
	return "Code failed validation with feedback:\n" + feedback
}

// ExtractFix pulls corrected code out of a diagnosis. When the fenced body
// is too short to be a script, the original code is returned and ok is false.
func ExtractFix(diagnosis, original string) (code string, ok bool) {
	fixed := stage.StripFences(diagnosis)
	if len(fixed) > MinFixLength {
		return fixed, true
	}
	return original, false
}

// Summary renders a consensus outcome for humans.
func Summary(out consensus.Outcome) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Consensus: %s (score %.2f)\n", strings.ToUpper(out.Result), out.Score))
	for _, v := range out.Verdicts {
		mark := "FAIL"
		if v.Passed {
			mark = "PASS"
		}
		sb.WriteString(fmt.Sprintf("- [%s] %s: %.2f\n", mark, v.Validator, v.PassRate))
		if !v.Passed {
			sb.WriteString(fmt.Sprintf("  %s\n", firstLine(v.Response)))
		}
	}

	if out.Feedback != "" {
		sb.WriteString("\nFeedback:\n")
		sb.WriteString(out.Feedback)
		sb.WriteString("\n")
	}

	return sb.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
