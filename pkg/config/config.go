package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/zen-systems/vizflow/pkg/prompt"
)

// Config holds the application configuration.
type Config struct {
	// GoogleAPIKeys rotate round-robin across Gemini calls.
	GoogleAPIKeys    []string
	OpenRouterAPIKey string
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	DeepSeekAPIKey   string
	Pipeline         *PipelineConfig
	ConfigDir        string
}

// Load reads credentials from the environment (after loading .env from the
// working directory) and the pipeline file from ~/.vizflow/pipeline.yaml,
// falling back to the defaults of the animation profile. A models.yaml next
// to it extends the model aliases.
func Load() (*Config, error) {
	return LoadWithPipelineFile("")
}

// LoadWithPipelineFile loads config with a specific pipeline file. An empty
// path uses the file in the config directory when it exists.
func LoadWithPipelineFile(pipelinePath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	cfg := &Config{
		GoogleAPIKeys:    googleKeys(),
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		DeepSeekAPIKey:   os.Getenv("DEEPSEEK_API_KEY"),
		ConfigDir:        configDir,
	}

	explicit := pipelinePath != ""
	if !explicit {
		pipelinePath = filepath.Join(configDir, "pipeline.yaml")
	}
	switch _, err := os.Stat(pipelinePath); {
	case err == nil:
		p, err := LoadPipelineConfig(pipelinePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load pipeline config from %s: %w", pipelinePath, err)
		}
		cfg.Pipeline = p
	case explicit:
		return nil, fmt.Errorf("failed to load pipeline config: %w", err)
	default:
		cfg.Pipeline = DefaultPipelineConfig(prompt.ProfileAnimation)
	}

	modelsPath := filepath.Join(configDir, "models.yaml")
	if _, err := os.Stat(modelsPath); err == nil {
		extra, err := LoadAliases(modelsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load model aliases: %w", err)
		}
		cfg.Pipeline.Models.Merge(extra)
	}

	return cfg, nil
}

// HasAdapter returns true if the API key for the given adapter is configured.
func (c *Config) HasAdapter(name string) bool {
	return c.KeyCount(name) > 0
}

// KeyCount returns how many API keys are configured for an adapter.
func (c *Config) KeyCount(name string) int {
	switch name {
	case "google":
		return len(c.GoogleAPIKeys)
	case "openrouter":
		return boolToInt(c.OpenRouterAPIKey != "")
	case "openai":
		return boolToInt(c.OpenAIAPIKey != "")
	case "anthropic":
		return boolToInt(c.AnthropicAPIKey != "")
	case "deepseek":
		return boolToInt(c.DeepSeekAPIKey != "")
	default:
		return 0
	}
}

// loadDotEnv sets variables from path without overriding the environment.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// googleKeys collects GEMINI_API_KEY_1..N (stopping at the first gap),
// then GEMINI_API_KEYS (comma separated), then GOOGLE_API_KEY. Duplicates
// are dropped.
func googleKeys() []string {
	var keys []string
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k == "" {
			return
		}
		for _, existing := range keys {
			if existing == k {
				return
			}
		}
		keys = append(keys, k)
	}

	for i := 1; ; i++ {
		k, ok := os.LookupEnv("GEMINI_API_KEY_" + strconv.Itoa(i))
		if !ok || strings.TrimSpace(k) == "" {
			break
		}
		add(k)
	}
	for _, k := range strings.Split(os.Getenv("GEMINI_API_KEYS"), ",") {
		add(k)
	}
	add(os.Getenv("GOOGLE_API_KEY"))
	return keys
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".vizflow")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", err
	}
	return configDir, nil
}
