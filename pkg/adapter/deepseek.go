package adapter

// DeepSeekBaseURL is the OpenAI-compatible DeepSeek endpoint.
const DeepSeekBaseURL = "https://api.deepseek.com/v1"

// NewDeepSeekAdapter creates an adapter for DeepSeek models. DeepSeek speaks
// the chat-completions protocol, so it shares the OpenAI client.
func NewDeepSeekAdapter(apiKey string, opts ...Option) (*OpenAIAdapter, error) {
	base := []Option{
		WithName("deepseek"),
		WithBaseURL(DeepSeekBaseURL),
		WithModels("deepseek-chat", "deepseek-reasoner"),
	}
	return NewOpenAIAdapter(apiKey, append(base, opts...)...)
}
