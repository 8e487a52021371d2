package repair

import (
	"strings"
	"testing"

	"github.com/zen-systems/vizflow/pkg/consensus"
)

func TestTestsPassed(t *testing.T) {
	cases := map[string]bool{
		"CODE PASSES TESTING":                    true,
		"  code passes testing. No issues found.": true,
		"Line 4: Create is deprecated":           false,
		"The CODE PASSES TESTING after fixes":    false,
	}
	for output, want := range cases {
		if got := TestsPassed(output); got != want {
			t.Errorf("TestsPassed(%q) = %v, want %v", output, got, want)
		}
	}
}

func TestWithTestFeedback(t *testing.T) {
	got := WithTestFeedback("class Scene", "Line 3: missing import")
	want := "class Scene\n\nImportant issues to address:\nLine 3: missing import"
	if got != want {
		t.Fatalf("unexpected enhanced structure: %q", got)
	}
}

func TestDiagnosisInput(t *testing.T) {
	got := DiagnosisInput("flash: NO")
	if got != "Code failed validation with feedback:\nflash: NO" {
		t.Fatalf("unexpected diagnosis input: %q", got)
	}
}

func TestExtractFix(t *testing.T) {
	original := "from manim import *"
	long := "from manim import *\n\nclass Factoring(Scene):\n    def construct(self):\n        eq = MathTex(r\"x^2+3x+2=(x+1)(x+2)\")\n        self.play(Write(eq))\n"

	fixed, ok := ExtractFix("The bug is on line 3.\n```python\n"+long+"```\nThis fixes it.", original)
	if !ok {
		t.Fatalf("expected fix to be extracted")
	}
	if fixed != strings.TrimSpace(long) {
		t.Fatalf("unexpected fix: %q", fixed)
	}

	fixed, ok = ExtractFix("Use Create instead of ShowCreation.", original)
	if ok {
		t.Fatalf("short diagnosis must not replace code")
	}
	if fixed != original {
		t.Fatalf("expected original code, got %q", fixed)
	}
}

func TestSummary(t *testing.T) {
	out := consensus.Outcome{
		Result: consensus.ResultFail,
		Score:  1.0 / 3.0,
		Verdicts: []consensus.Verdict{
			{Validator: "flash", PassRate: 1, Passed: true, Response: "YES"},
			{Validator: "learn", PassRate: 0, Response: "NO - axes inverted\nmore"},
		},
		Feedback: "Code validation failed. learn: - axes inverted",
	}

	summary := Summary(out)
	for _, want := range []string{"Consensus: FAIL (score 0.33)", "[PASS] flash", "[FAIL] learn", "NO - axes inverted", "Feedback:"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q:\n%s", want, summary)
		}
	}
	if strings.Contains(summary, "more") {
		t.Fatalf("summary should only show the first response line")
	}
}
