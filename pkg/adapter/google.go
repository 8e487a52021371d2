package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/zen-systems/vizflow/pkg/artifact"
	"google.golang.org/genai"
)

// GoogleAdapter implements the Adapter interface for Gemini and LearnLM models.
type GoogleAdapter struct {
	client   *genai.Client
	settings settings
}

// NewGoogleAdapter creates a Gemini API adapter for a single credential.
func NewGoogleAdapter(ctx context.Context, apiKey string, opts ...Option) (*GoogleAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	s := applyOptions(settings{
		name: "google",
		models: []string{
			"gemini-2.0-flash-thinking-exp-01-21",
			"learnlm-1.5-pro-experimental",
			"gemini-2.0-flash",
		},
		generation: DefaultGenerationOptions(),
	}, opts)

	return &GoogleAdapter{client: client, settings: s}, nil
}

// Name returns the adapter identifier.
func (a *GoogleAdapter) Name() string {
	return a.settings.name
}

// Models returns the list of supported models.
func (a *GoogleAdapter) Models() []string {
	return a.settings.models
}

// Generate sends a prompt to Gemini and returns the concatenated text parts.
func (a *GoogleAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	resp, err := a.client.Models.GenerateContent(ctx, model, genai.Text(prompt), a.contentConfig())
	if err != nil {
		return nil, wrapProviderError(a.Name(), err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("google returned no candidates: %w", ErrEmptyResponse)
	}

	var content strings.Builder
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil && part.Text != "" && !part.Thought {
				content.WriteString(part.Text)
			}
		}
	}

	out := &Response{Artifact: artifact.New(content.String(), a.Name(), model, prompt)}
	if md := resp.UsageMetadata; md != nil {
		out.Usage = &Usage{
			PromptTokens:     int(md.PromptTokenCount),
			CompletionTokens: int(md.CandidatesTokenCount),
			TotalTokens:      int(md.TotalTokenCount),
		}
	}
	return out, nil
}

func (a *GoogleAdapter) contentConfig() *genai.GenerateContentConfig {
	g := a.settings.generation
	if g == (GenerationOptions{}) {
		return nil
	}
	cfg := &genai.GenerateContentConfig{}
	if g.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(g.Temperature))
	}
	if g.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(g.TopP))
	}
	if g.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(g.TopK))
	}
	if g.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(g.MaxOutputTokens)
	}
	return cfg
}
