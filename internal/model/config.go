package model

import "time"

// Config is the explicit, immutable configuration passed into the pipeline
// and batch runner at construction. Core logic never reads ambient process
// state.
type Config struct {
	Inference   InferenceConfig   `yaml:"inference"`
	Prompts     PromptConfig      `yaml:"prompts"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Storage     StorageConfig     `yaml:"storage"`
	Output      OutputConfig      `yaml:"output"`
}

// InferenceConfig selects and tunes the inference capability.
type InferenceConfig struct {
	Provider  string        `yaml:"provider"` // openai, ollama, mock
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"-"` // Never serialized; from env only
	BaseURL   string        `yaml:"base_url,omitempty"`
	Timeout   time.Duration `yaml:"timeout"` // Per inference call, not per pipeline
	MaxTokens int           `yaml:"max_tokens"`
}

// PromptConfig pins the template version used for a run. There is no
// implicit "latest": the version here is selected explicitly.
type PromptConfig struct {
	Version string `yaml:"version"`
}

// ScoringConfig holds the label penalties. ReviewPenalty must exceed
// UncertainPenalty.
type ScoringConfig struct {
	UncertainPenalty int `yaml:"uncertain_penalty"`
	ReviewPenalty    int `yaml:"review_penalty"`
}

// ConcurrencyConfig bounds the batch worker pool.
type ConcurrencyConfig struct {
	Workers int `yaml:"workers"`
}

// RateLimitConfig throttles calls into the inference capability.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// StorageConfig locates the persistence collaborator.
type StorageConfig struct {
	Path string `yaml:"path"` // SQLite database file; empty means in-memory
}

// OutputConfig controls report rendering.
type OutputConfig struct {
	Dir     string `yaml:"dir"`
	Verbose bool   `yaml:"verbose"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Inference: InferenceConfig{
			Provider:  "mock",
			Model:     "gpt-4o-mini",
			Timeout:   90 * time.Second,
			MaxTokens: 2000,
		},
		Prompts: PromptConfig{
			Version: "v1",
		},
		Scoring: ScoringConfig{
			UncertainPenalty: 8,
			ReviewPenalty:    25,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Storage: StorageConfig{
			Path: "",
		},
		Output: OutputConfig{
			Dir: "./rtl-reports",
		},
	}
}
