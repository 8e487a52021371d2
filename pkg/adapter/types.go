package adapter

import "github.com/zen-systems/vizflow/pkg/artifact"

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// CallReport captures adapter call metadata.
type CallReport struct {
	Stage          string `json:"stage,omitempty"`
	Adapter        string `json:"adapter"`
	Model          string `json:"model"`
	Usage          Usage  `json:"usage"`
	Retries        int    `json:"retries"`
	DurationMillis int64  `json:"duration_ms"`
	Cached         bool   `json:"cached,omitempty"`
	Error          string `json:"error,omitempty"`
	Transient      bool   `json:"transient,omitempty"`
}

// Response wraps an adapter output and optional usage data.
type Response struct {
	Artifact *artifact.Artifact
	Usage    *Usage
	Cached   bool
}

// Text returns the generated content, or "" for an empty response.
func (r *Response) Text() string {
	if r == nil || r.Artifact == nil {
		return ""
	}
	return r.Artifact.Content
}

func normalizeUsage(u *Usage) Usage {
	if u == nil {
		return Usage{}
	}
	out := *u
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}
