package summarize

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIBackend は OpenAI Chat Completions API を使うBackend。
type OpenAIBackend struct {
	client openai.Client
	model  string
}

var _ Backend = (*OpenAIBackend)(nil)

// NewOpenAIBackend はOpenAIBackendを生成する。
// optsはテストでのベースURL差し替えなどに使う。
func NewOpenAIBackend(apiKey, model string, opts ...option.RequestOption) *OpenAIBackend {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIBackend{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (b *OpenAIBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
