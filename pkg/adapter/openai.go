package adapter

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/zen-systems/vizflow/pkg/artifact"
)

// OpenRouterBaseURL is the OpenAI-compatible OpenRouter endpoint.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAIAdapter implements the Adapter interface for any OpenAI-compatible
// chat-completions endpoint.
type OpenAIAdapter struct {
	client   openai.Client
	settings settings
}

// NewOpenAIAdapter creates a chat-completions adapter.
func NewOpenAIAdapter(apiKey string, opts ...Option) (*OpenAIAdapter, error) {
	s := applyOptions(settings{
		name:   "openai",
		models: []string{"gpt-4o", "gpt-4o-mini"},
	}, opts)
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key is required", s.name)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}

	return &OpenAIAdapter{client: openai.NewClient(reqOpts...), settings: s}, nil
}

// NewOpenRouterAdapter creates an adapter for models served through OpenRouter.
func NewOpenRouterAdapter(apiKey string, opts ...Option) (*OpenAIAdapter, error) {
	base := []Option{
		WithName("openrouter"),
		WithBaseURL(OpenRouterBaseURL),
		WithModels("qwen/qwen2.5-vl-72b-instruct:free"),
	}
	return NewOpenAIAdapter(apiKey, append(base, opts...)...)
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() string {
	return a.settings.name
}

// Models returns the list of supported models.
func (a *OpenAIAdapter) Models() []string {
	return a.settings.models
}

// Generate sends the prompt as a single user message.
func (a *OpenAIAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	g := a.settings.generation
	if g.Temperature > 0 {
		params.Temperature = openai.Float(g.Temperature)
	}
	if g.TopP > 0 {
		params.TopP = openai.Float(g.TopP)
	}
	if g.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(g.MaxOutputTokens))
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapProviderError(a.Name(), err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices: %w", a.Name(), ErrEmptyResponse)
	}

	content := resp.Choices[0].Message.Content
	return &Response{
		Artifact: artifact.New(content, a.Name(), model, prompt),
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}
