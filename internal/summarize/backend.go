package summarize

import (
	"context"
	"fmt"
)

// CompletionRequest はテキスト生成バックエンドへの1回のリクエスト。
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSON はバックエンドがサポートする場合にJSON出力を要求する。
	JSON bool
}

// Backend はテキスト生成サービスのインターフェース。
type Backend interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// BackendFactory は認証情報からBackendを生成する。
type BackendFactory func(apiKey string) (Backend, error)

// 対応するバックエンド名。
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// FactoryFor はプロバイダ名とモデル名に対応するBackendFactoryを返す。
func FactoryFor(provider, model string) (BackendFactory, error) {
	switch provider {
	case ProviderOpenAI:
		return func(apiKey string) (Backend, error) {
			return NewOpenAIBackend(apiKey, model), nil
		}, nil
	case ProviderGemini:
		return func(apiKey string) (Backend, error) {
			return NewGeminiBackend(context.Background(), apiKey, model, GeminiOptions{})
		}, nil
	default:
		return nil, fmt.Errorf("unknown summarizer provider: %q", provider)
	}
}
