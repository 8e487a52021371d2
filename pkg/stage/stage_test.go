package stage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zen-systems/vizflow/pkg/adapter"
	"github.com/zen-systems/vizflow/pkg/prompt"
)

func testStore(t *testing.T) *prompt.Store {
	t.Helper()
	store, err := prompt.FromMap(prompt.ProfileAnimation, map[string]string{
		"math_verification": "VERIFY: {{.concept}}",
		"code_generation":   "GENERATE: {{.structure}}",
		"code_structure":    "STRUCTURE: {{.specification}}",
	})
	require.NoError(t, err)
	return store
}

func testOptions() Options {
	return Options{
		Retry:  adapter.RetryPolicy{MaxTries: 2},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newAgent(t *testing.T, spec Spec) *Agent {
	t.Helper()
	agent, err := NewAgent(spec, testStore(t), testOptions())
	require.NoError(t, err)
	return agent
}

func TestProcessStripsFences(t *testing.T) {
	mock := adapter.NewMockAdapter().On("GENERATE", adapter.Text("```python\nfrom manim import *\n```"))
	agent := newAgent(t, Spec{
		Name:        "code_generation",
		Adapter:     mock,
		PostProcess: []PostProcessor{StripFences},
	})

	res := agent.Process(context.Background(), map[string]string{"structure": "outline"})
	require.False(t, res.Failed(), res.Message())
	require.Equal(t, "from manim import *", res.Text)
	require.Equal(t, "GENERATE: outline", res.Input)
	require.Equal(t, "code_generation", res.Artifact.Stage)
	require.Equal(t, 2, res.Artifact.Version)
	require.Len(t, res.Calls, 1)
	require.Equal(t, "code_generation", res.Calls[0].Stage)
}

func TestProcessMissingPlaceholderMakesNoCall(t *testing.T) {
	mock := adapter.NewMockAdapter()
	agent := newAgent(t, Spec{Name: "code_generation", Adapter: mock})

	res := agent.Process(context.Background(), map[string]string{"code": "x"})
	require.True(t, res.Is(ErrRender))
	require.ErrorIs(t, res.Err, prompt.ErrMissingPlaceholder)
	require.Empty(t, mock.Calls())
}

func TestProcessTransportFailureAfterRetry(t *testing.T) {
	mock := adapter.NewMockAdapter().Default(adapter.Fail(errors.New("quota exhausted")))
	agent := newAgent(t, Spec{Name: "code_generation", Adapter: mock})

	res := agent.Process(context.Background(), map[string]string{"structure": "s"})
	require.True(t, res.Is(ErrTransport))
	require.Contains(t, res.Message(), "error in code_generation")
	require.Contains(t, res.Message(), "quota exhausted")
	require.Len(t, mock.Calls(), 2)
	require.Equal(t, 1, res.Calls[0].Retries)
}

func TestProcessRejection(t *testing.T) {
	mock := adapter.NewMockAdapter().On("VERIFY", adapter.Text("Error: division by zero is undefined"))
	agent := newAgent(t, Spec{
		Name:        "math_verification",
		Adapter:     mock,
		PostProcess: []PostProcessor{TrimSpace},
		Reject:      RejectErrorMarker,
	})

	res := agent.Process(context.Background(), map[string]string{"concept": "1/0"})
	require.True(t, res.Is(ErrRejected))
	require.Contains(t, res.Message(), "division by zero")
	require.Empty(t, res.Text)
}

func TestProcessRetryEmptyOnce(t *testing.T) {
	mock := adapter.NewMockAdapter().On("STRUCTURE", adapter.Text("None"), adapter.Text("class Scene"))
	agent := newAgent(t, Spec{
		Name:        "code_structure",
		Adapter:     mock,
		PostProcess: []PostProcessor{TrimSpace},
		RetryEmpty:  true,
	})

	res := agent.Process(context.Background(), map[string]string{"specification": "spec"})
	require.False(t, res.Failed(), res.Message())
	require.Equal(t, "class Scene", res.Text)
	require.Len(t, res.Calls, 2)
}

func TestProcessEmptyOutputFails(t *testing.T) {
	mock := adapter.NewMockAdapter().On("STRUCTURE", adapter.Text("  "))
	agent := newAgent(t, Spec{Name: "code_structure", Adapter: mock, RetryEmpty: true})

	res := agent.Process(context.Background(), map[string]string{"specification": "spec"})
	require.True(t, res.Is(ErrEmptyOutput))
	require.Len(t, mock.Calls(), 2)
}

func TestNewAgentValidation(t *testing.T) {
	store := testStore(t)
	_, err := NewAgent(Spec{Name: "x"}, store, testOptions())
	require.Error(t, err)

	_, err = NewAgent(Spec{Name: "code_testing", Adapter: adapter.NewMockAdapter()}, store, testOptions())
	require.ErrorIs(t, err, prompt.ErrUnknownTemplate)

	agent, err := NewAgent(Spec{Name: "code_generation", Adapter: adapter.NewMockAdapter()}, store, testOptions())
	require.NoError(t, err)
	require.Equal(t, "mock-1", agent.Spec().Model)
	require.Equal(t, []string{"structure"}, agent.Placeholders())
}

func TestNewTableRejectsDuplicates(t *testing.T) {
	mock := adapter.NewMockAdapter()
	_, err := NewTable([]Spec{
		{Name: "code_generation", Adapter: mock},
		{Name: "code_generation", Adapter: mock},
	}, testStore(t), testOptions())
	require.Error(t, err)

	table, err := NewTable([]Spec{
		{Name: "code_structure", Adapter: mock},
		{Name: "code_generation", Adapter: mock},
	}, testStore(t), testOptions())
	require.NoError(t, err)
	require.Equal(t, []string{"code_structure", "code_generation"}, table.Names())
	_, ok := table.Get("code_generation")
	require.True(t, ok)
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", "  let x = 1;  ", "let x = 1;"},
		{"language tag", "```javascript\nfunction setup() {}\n```", "function setup() {}"},
		{"no language tag", "```\nfunction draw() {}\n```", "function draw() {}"},
		{"prose around", "Here you go:\n```python\nprint(1)\n```\nEnjoy!", "print(1)"},
		{"unterminated", "```python\nprint(2)", "print(2)"},
		{"code on fence line", "```x = 1\ny = 2```", "x = 1\ny = 2"},
		{"first of several blocks", "```python\nA = 1\n```\nexplanation prose here\n```python\nB = 2\n```", "A = 1"},
		{"code then shell block", "Fixed code:\n```python\nclass Fix(Scene):\n    pass\n```\nWhy: the axes overlapped.\n```\nmanim -pql fix.py\n```", "class Fix(Scene):\n    pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripFences(tt.in)
			require.Equal(t, tt.want, got)
			require.Equal(t, got, StripFences(got), "stripping must be idempotent")
		})
	}
}

func TestRejectRules(t *testing.T) {
	require.Error(t, RejectErrorMarker("Error: not an equation"))
	require.Error(t, RejectErrorMarker("Verified.\nerror: bad domain"))
	require.NoError(t, RejectErrorMarker("y = x^2 has no errors"))
	require.NoError(t, RejectErrorMarker("errorBars.push(1);\nerror = 0.5;"))
	require.Error(t, RejectErrorMarker("ERROR"))

	require.Error(t, RejectErrorSubstring("console.error('x')"))
	require.Error(t, RejectVulnerabilities("Found VULNERABILITIES in eval"))
	require.NoError(t, RejectVulnerabilities("function setup() {}"))

	rule, err := RuleByName("error_marker, vulnerabilities")
	require.NoError(t, err)
	require.Error(t, rule("vulnerabilities found"))
	require.Error(t, rule("Error: x"))
	require.NoError(t, rule("fine"))

	rule, err = RuleByName("")
	require.NoError(t, err)
	require.NoError(t, rule("Error"))

	_, err = RuleByName("bogus")
	require.Error(t, err)
}

func TestResultTags(t *testing.T) {
	ok := Ok("code")
	require.False(t, ok.Failed())
	require.Empty(t, ok.Message())

	failed := Fail("code_testing", ErrTransport, errors.New("timeout"))
	require.True(t, failed.Failed())
	require.True(t, failed.Is(ErrTransport))
	require.False(t, failed.Is(ErrRejected))
	require.Equal(t, "error in code_testing: model call failed: timeout", failed.Message())
}
