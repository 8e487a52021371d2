package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/zen-systems/vizflow/pkg/artifact"
)

const anthropicDefaultMaxTokens = 8192

// AnthropicAdapter implements the Adapter interface for Claude models.
type AnthropicAdapter struct {
	client   anthropic.Client
	settings settings
}

// NewAnthropicAdapter creates a new Anthropic adapter.
func NewAnthropicAdapter(apiKey string, opts ...Option) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	s := applyOptions(settings{
		name:   "anthropic",
		models: []string{"claude-sonnet-4-20250514", "claude-opus-4-20250514"},
	}, opts)

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicAdapter{client: client, settings: s}, nil
}

// Name returns the adapter identifier.
func (a *AnthropicAdapter) Name() string {
	return a.settings.name
}

// Models returns the list of supported Claude models.
func (a *AnthropicAdapter) Models() []string {
	return a.settings.models
}

// Generate sends a prompt to Claude and concatenates the text blocks.
func (a *AnthropicAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	maxTokens := int64(anthropicDefaultMaxTokens)
	g := a.settings.generation
	if g.MaxOutputTokens > 0 && g.MaxOutputTokens < anthropicDefaultMaxTokens {
		maxTokens = int64(g.MaxOutputTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if g.Temperature > 0 {
		params.Temperature = anthropic.Float(g.Temperature)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapProviderError(a.Name(), err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &Response{
		Artifact: artifact.New(content.String(), a.Name(), model, prompt),
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}
