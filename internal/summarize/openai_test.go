package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/v2/option"
)

func TestOpenAIBackend_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}

		var body struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
			MaxTokens   int     `json:"max_tokens"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("リクエストボディのデコードに失敗: %v", err)
		}
		if body.Model != "gpt-3.5-turbo" || body.Temperature != 0.7 || body.MaxTokens != 200 {
			t.Errorf("body = %+v", body)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Messages[1].Role != "user" {
			t.Errorf("messages = %+v", body.Messages)
		}
		if body.Messages[1].Content != "hello" {
			t.Errorf("user content = %q", body.Messages[1].Content)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1760000000,
			"model": "gpt-3.5-turbo",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"summary\":\"ok\"}"}}]
		}`))
	}))
	defer server.Close()

	b := NewOpenAIBackend("sk-test", "gpt-3.5-turbo",
		option.WithBaseURL(server.URL),
		option.WithHTTPClient(server.Client()),
		option.WithMaxRetries(0),
	)

	got, err := b.Complete(context.Background(), CompletionRequest{
		System:      "sys",
		Prompt:      "hello",
		MaxTokens:   200,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Complete がエラーを返した: %v", err)
	}
	if got != `{"summary":"ok"}` {
		t.Errorf("Complete = %q", got)
	}
}

func TestOpenAIBackend_ResponseFormat(t *testing.T) {
	tests := []struct {
		name     string
		json     bool
		wantType string
	}{
		{"JSON出力を要求", true, "json_object"},
		{"テキスト出力", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotType string
			var hasFormat bool
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body map[string]json.RawMessage
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("リクエストボディのデコードに失敗: %v", err)
				}
				if raw, ok := body["response_format"]; ok {
					hasFormat = true
					var format struct {
						Type string `json:"type"`
					}
					json.Unmarshal(raw, &format)
					gotType = format.Type
				}
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"id":"chatcmpl-2","object":"chat.completion","created":1760000000,"model":"gpt-3.5-turbo",
					"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}]}`))
			}))
			defer server.Close()

			b := NewOpenAIBackend("sk-test", "gpt-3.5-turbo",
				option.WithBaseURL(server.URL),
				option.WithHTTPClient(server.Client()),
				option.WithMaxRetries(0),
			)
			if _, err := b.Complete(context.Background(), CompletionRequest{
				System: "sys", Prompt: "hello", MaxTokens: 200, Temperature: 0.7, JSON: tt.json,
			}); err != nil {
				t.Fatalf("Complete がエラーを返した: %v", err)
			}

			if hasFormat != tt.json {
				t.Errorf("response_format の有無 = %v, want %v", hasFormat, tt.json)
			}
			if gotType != tt.wantType {
				t.Errorf("response_format.type = %q, want %q", gotType, tt.wantType)
			}
		})
	}
}

func TestOpenAIBackend_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	b := NewOpenAIBackend("bad", "gpt-3.5-turbo",
		option.WithBaseURL(server.URL),
		option.WithHTTPClient(server.Client()),
		option.WithMaxRetries(0),
	)

	if _, err := b.Complete(context.Background(), CompletionRequest{Prompt: "x", MaxTokens: 10}); err == nil {
		t.Fatal("401 はエラーになるべき")
	}
}

func TestOpenAIBackend_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer server.Close()

	b := NewOpenAIBackend("k", "m",
		option.WithBaseURL(server.URL),
		option.WithHTTPClient(server.Client()),
		option.WithMaxRetries(0),
	)

	if _, err := b.Complete(context.Background(), CompletionRequest{Prompt: "x", MaxTokens: 10}); err == nil {
		t.Fatal("choicesが空の場合はエラーになるべき")
	}
}
