package summarize

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// GeminiOptions はGeminiBackendの接続設定。通常はゼロ値でよい。
type GeminiOptions struct {
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiBackend は Gemini API を使うBackend。
type GeminiBackend struct {
	client *genai.Client
	model  string
}

var _ Backend = (*GeminiBackend)(nil)

// NewGeminiBackend はGeminiBackendを生成する。
func NewGeminiBackend(ctx context.Context, apiKey, model string, opts GeminiOptions) (*GeminiBackend, error) {
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiBackend{client: client, model: model}, nil
}

func (b *GeminiBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.System}}},
		Temperature:       genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens:   int32(req.MaxTokens),
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: req.Prompt}},
		Role:  "user",
	}}
	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	return resp.Text(), nil
}
