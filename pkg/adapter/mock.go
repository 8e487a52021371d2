package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/zen-systems/vizflow/pkg/artifact"
)

// Reply is one scripted answer of a MockAdapter.
type Reply struct {
	Text string
	Err  error
}

// Text is shorthand for a successful reply.
func Text(s string) Reply { return Reply{Text: s} }

// Fail is shorthand for a failing reply.
func Fail(err error) Reply { return Reply{Err: err} }

type mockRule struct {
	match   string
	replies []Reply
	served  int
}

func (r *mockRule) next() Reply {
	idx := r.served
	if idx >= len(r.replies) {
		idx = len(r.replies) - 1
	}
	r.served++
	return r.replies[idx]
}

// MockAdapter returns deterministic responses for dry runs and tests.
// Rules match on a prompt substring and are checked in registration order.
// Each rule replays its replies in sequence and then repeats the last one.
type MockAdapter struct {
	name  string
	Usage *Usage

	mu       sync.Mutex
	rules    []*mockRule
	fallback *mockRule
	calls    []string
}

// NewMockAdapter creates a mock adapter that echoes unmatched prompts.
func NewMockAdapter() *MockAdapter {
	return NewNamedMockAdapter("mock")
}

// NewNamedMockAdapter creates a mock adapter with a custom identifier.
func NewNamedMockAdapter(name string) *MockAdapter {
	return &MockAdapter{name: name}
}

// On registers replies for prompts containing match.
func (a *MockAdapter) On(match string, replies ...Reply) *MockAdapter {
	if len(replies) == 0 {
		replies = []Reply{Text("")}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules = append(a.rules, &mockRule{match: match, replies: replies})
	return a
}

// Default sets the replies used when no rule matches.
func (a *MockAdapter) Default(replies ...Reply) *MockAdapter {
	if len(replies) == 0 {
		replies = []Reply{Text("")}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fallback = &mockRule{replies: replies}
	return a
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return a.name
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Generate returns the scripted reply for the prompt.
func (a *MockAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if model == "" {
		model = "mock-1"
	}

	a.mu.Lock()
	a.calls = append(a.calls, prompt)
	reply, ok := a.match(prompt)
	a.mu.Unlock()

	if !ok {
		reply = Text(fmt.Sprintf("mock response:\n%s", prompt))
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &Response{Artifact: artifact.New(reply.Text, a.Name(), model, prompt), Usage: a.Usage}, nil
}

func (a *MockAdapter) match(prompt string) (Reply, bool) {
	for _, rule := range a.rules {
		if strings.Contains(prompt, rule.match) {
			return rule.next(), true
		}
	}
	if a.fallback != nil {
		return a.fallback.next(), true
	}
	return Reply{}, false
}

// Calls returns every prompt received so far.
func (a *MockAdapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// CallCount returns how many received prompts contain match.
func (a *MockAdapter) CallCount(match string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if strings.Contains(c, match) {
			n++
		}
	}
	return n
}
