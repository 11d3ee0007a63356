package infer

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
)

// OpenAIProvider implements the Provider interface for OpenAI-compatible
// chat endpoints, including vision input.
type OpenAIProvider struct {
	client  *openai.Client
	cfg     model.InferenceConfig
	timeout time.Duration
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg model.InferenceConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}

	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientConfig),
		cfg:     cfg,
		timeout: timeout,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string { return "openai" }

// IsAvailable checks if the provider is properly configured
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	return err == nil
}

// Infer runs one chat completion. When the request carries image bytes they
// are attached as a base64 data URL content part.
func (p *OpenAIProvider) Infer(ctx context.Context, req Request) (string, error) {
	modelName := p.cfg.Model
	if modelName == "" {
		modelName = openai.GPT4oMini
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var message openai.ChatCompletionMessage
	if len(req.Image) > 0 {
		dataURL := imageDataURL(req.Image)
		message = openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
			},
		}
	} else {
		message = openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       modelName,
		Messages:    []openai.ChatCompletionMessage{message},
		MaxTokens:   maxTokens,
		Temperature: 0.1, // Structured output wants near-deterministic decoding
	})
	if err != nil {
		return "", &Error{Provider: p.Name(), Cause: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Provider: p.Name(), Cause: fmt.Errorf("empty response")}
	}
	return resp.Choices[0].Message.Content, nil
}

// imageDataURL encodes image bytes as a data URL, sniffing the content type
// from the bytes so JPEG and other formats are not mislabeled.
func imageDataURL(img []byte) string {
	return "data:" + http.DetectContentType(img) + ";base64," + base64.StdEncoding.EncodeToString(img)
}
