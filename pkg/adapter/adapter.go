package adapter

import (
	"context"
)

// Adapter defines the interface for LLM provider adapters.
type Adapter interface {
	// Generate sends a prompt to the model and returns its output.
	Generate(ctx context.Context, model string, prompt string) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// GenerationOptions are the sampling knobs forwarded to providers that
// accept them. Zero values are left to the provider default.
type GenerationOptions struct {
	Temperature     float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP            float64 `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	TopK            int     `yaml:"top_k,omitempty" json:"top_k,omitempty"`
	MaxOutputTokens int     `yaml:"max_output_tokens,omitempty" json:"max_output_tokens,omitempty"`
}

// DefaultGenerationOptions matches the settings the Gemini stages run with.
func DefaultGenerationOptions() GenerationOptions {
	return GenerationOptions{
		Temperature:     0.7,
		TopP:            0.95,
		TopK:            64,
		MaxOutputTokens: 65536,
	}
}

// Option customizes a provider adapter at construction time.
type Option func(*settings)

type settings struct {
	name       string
	baseURL    string
	models     []string
	generation GenerationOptions
}

// WithName overrides the adapter identifier, e.g. "openrouter" for an
// OpenAI-compatible client.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithBaseURL points an OpenAI-compatible client at another endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithModels replaces the advertised model list.
func WithModels(models ...string) Option {
	return func(s *settings) { s.models = models }
}

// WithGeneration sets sampling options for every call.
func WithGeneration(opts GenerationOptions) Option {
	return func(s *settings) { s.generation = opts }
}

func applyOptions(base settings, opts []Option) settings {
	for _, opt := range opts {
		if opt != nil {
			opt(&base)
		}
	}
	return base
}
