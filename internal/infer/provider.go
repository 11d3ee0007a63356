// Package infer wraps the inference capability: given a prompt and an
// optional image, return text. Implementations are swappable; the pipeline
// is agnostic to which one is configured.
package infer

import (
	"context"
	"fmt"
	"strings"

	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
)

// Request is one inference call.
type Request struct {
	Prompt    string
	Image     []byte // optional; PNG or JPEG bytes
	MaxTokens int
}

// Provider defines the interface for inference backends.
type Provider interface {
	// Name returns the provider name
	Name() string

	// Infer runs one blocking inference call and returns raw text.
	Infer(ctx context.Context, req Request) (string, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// Error reports an inference capability failure: unreachable, timed out, or
// refused. Distinguishable from schema failures.
type Error struct {
	Provider string
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("inference (%s): %v", e.Provider, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Code returns the stable taxonomy code for inference failures.
func (e *Error) Code() string { return "inference_error" }

// NewProvider creates an inference provider from configuration.
func NewProvider(cfg model.InferenceConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "ollama":
		return NewOllamaProvider(cfg)
	case "mock", "":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown inference provider: %s (supported: openai, ollama, mock)", cfg.Provider)
	}
}
