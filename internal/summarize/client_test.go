package summarize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/techdigest/internal/model"
)

// mockBackend はBackendのテスト用モック。
type mockBackend struct {
	completeFn func(ctx context.Context, req CompletionRequest) (string, error)
	calls      atomic.Int32
}

func (m *mockBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	m.calls.Add(1)
	return m.completeFn(ctx, req)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var fixedNow = time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)

func newInitializedClient(t *testing.T, backend Backend) (*Client, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	c := NewClient(func(string) (Backend, error) { return backend, nil }, time.Second, newTestLogger(&buf))
	c.now = func() time.Time { return fixedNow }
	if err := c.Initialize("test-key"); err != nil {
		t.Fatalf("Initialize がエラーを返した: %v", err)
	}
	return c, &buf
}

func sampleStory(id int64, title string) model.Story {
	return model.Story{ID: id, Title: title, URL: "https://example.com/" + title, Score: 120, CommentCount: 34}
}

func TestInitialize_EmptyKey_ReturnsConfigurationError(t *testing.T) {
	var buf bytes.Buffer
	c := NewClient(func(string) (Backend, error) {
		t.Fatal("空のキーでバックエンドを生成してはならない")
		return nil, nil
	}, time.Second, newTestLogger(&buf))

	err := c.Initialize("")

	var cfgErr *model.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *model.ConfigurationError", err)
	}
}

func TestInitialize_FactoryError_ReturnsConfigurationError(t *testing.T) {
	var buf bytes.Buffer
	c := NewClient(func(string) (Backend, error) {
		return nil, errors.New("bad key format")
	}, time.Second, newTestLogger(&buf))

	err := c.Initialize("k")

	var cfgErr *model.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *model.ConfigurationError", err)
	}
	if _, err := c.SummarizeOne(context.Background(), sampleStory(1, "x")); !errors.Is(err, model.ErrNotInitialized) {
		t.Errorf("初期化失敗後は未初期化のままであるべき: %v", err)
	}
}

func TestInitialize_SameKeyReusesBackend(t *testing.T) {
	var created int
	var buf bytes.Buffer
	c := NewClient(func(string) (Backend, error) {
		created++
		return &mockBackend{}, nil
	}, time.Second, newTestLogger(&buf))

	_ = c.Initialize("k1")
	_ = c.Initialize("k1")
	_ = c.Initialize("k2")

	if created != 2 {
		t.Errorf("バックエンド生成回数 = %d, want 2", created)
	}
}

func TestSummarize_BeforeInitialize_ReturnsErrNotInitialized(t *testing.T) {
	var buf bytes.Buffer
	c := NewClient(nil, time.Second, newTestLogger(&buf))
	ctx := context.Background()

	if _, err := c.SummarizeOne(ctx, sampleStory(1, "a")); !errors.Is(err, model.ErrNotInitialized) {
		t.Errorf("SummarizeOne err = %v, want ErrNotInitialized", err)
	}
	if _, err := c.SummarizeMany(ctx, []model.Story{sampleStory(1, "a")}); !errors.Is(err, model.ErrNotInitialized) {
		t.Errorf("SummarizeMany err = %v, want ErrNotInitialized", err)
	}
	if _, err := c.SummarizeOverview(ctx, nil, "Thu Oct 15 2026"); !errors.Is(err, model.ErrNotInitialized) {
		t.Errorf("SummarizeOverview err = %v, want ErrNotInitialized", err)
	}
}

func TestSummarizeOne_Success(t *testing.T) {
	backend := &mockBackend{completeFn: func(ctx context.Context, req CompletionRequest) (string, error) {
		if req.System != storySystemPrompt {
			t.Errorf("System = %q", req.System)
		}
		if req.MaxTokens != 200 || req.Temperature != 0.7 || !req.JSON {
			t.Errorf("unexpected request parameters: %+v", req)
		}
		if _, ok := ctx.Deadline(); !ok {
			t.Error("バックエンド呼び出しにはタイムアウトが設定されるべき")
		}
		return `{"summary":"Go 2 ships generics.","why_it_matters":"Big for backend teams.","category":"Web Development"}`, nil
	}}
	c, _ := newInitializedClient(t, backend)
	story := sampleStory(1, "Go 2 released")

	res, err := c.SummarizeOne(context.Background(), story)
	if err != nil {
		t.Fatalf("SummarizeOne がエラーを返した: %v", err)
	}
	if res.Degraded() {
		t.Fatalf("成功結果であるべき: %+v", res)
	}
	s := res.Summary
	if s.SummaryText != "Go 2 ships generics." || s.WhyItMatters != "Big for backend teams." {
		t.Errorf("summary = %+v", s)
	}
	if s.Category != model.CategoryWebDevelopment {
		t.Errorf("Category = %q", s.Category)
	}
	if s.OriginalStory.ID != 1 || !s.GeneratedAt.Equal(fixedNow) || s.Error != "" {
		t.Errorf("summary metadata = %+v", s)
	}
}

func TestSummarizeOne_FencedJSON(t *testing.T) {
	backend := &mockBackend{completeFn: func(context.Context, CompletionRequest) (string, error) {
		return "```json\n{\"summary\":\"Fenced.\",\"why_it_matters\":\"x\",\"category\":\"Security\"}\n```", nil
	}}
	c, _ := newInitializedClient(t, backend)

	res, _ := c.SummarizeOne(context.Background(), sampleStory(1, "a"))
	if res.Degraded() || res.Summary.SummaryText != "Fenced." || res.Summary.Category != model.CategorySecurity {
		t.Errorf("コードフェンス付きJSONも解釈できるべき: %+v", res)
	}
}

func TestSummarizeOne_UnknownCategoryFallsBackToRules(t *testing.T) {
	backend := &mockBackend{completeFn: func(context.Context, CompletionRequest) (string, error) {
		return `{"summary":"s","why_it_matters":"","category":"Gardening"}`, nil
	}}
	c, _ := newInitializedClient(t, backend)

	res, _ := c.SummarizeOne(context.Background(), sampleStory(1, "Kubernetes operators"))
	if res.Degraded() {
		t.Fatalf("カテゴリ不明は成功扱い: %+v", res)
	}
	if res.Summary.Category != model.CategoryCloudInfra {
		t.Errorf("Category = %q, want %q", res.Summary.Category, model.CategoryCloudInfra)
	}
	if res.Summary.WhyItMatters != fallbackWhyItMatters {
		t.Errorf("空のwhy_it_mattersは定型文で補うべき: %q", res.Summary.WhyItMatters)
	}
}

func TestSummarizeOne_Degraded(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		backendErr error
		wantReason string
	}{
		{"backend error", "", errors.New("rate limited"), "rate limited"},
		{"not json", "Sure! Here is a summary.", nil, "not a JSON object"},
		{"broken json", `{"summary": "oops"`, nil, "not a JSON object"},
		{"invalid json", `{"summary": oops}`, nil, "parsing response JSON"},
		{"empty summary", `{"summary":"  ","why_it_matters":"x","category":"Mobile"}`, nil, "empty summary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{completeFn: func(context.Context, CompletionRequest) (string, error) {
				return tt.response, tt.backendErr
			}}
			c, logs := newInitializedClient(t, backend)
			story := sampleStory(9, "Some title")

			res, err := c.SummarizeOne(context.Background(), story)
			if err != nil {
				t.Fatalf("フォールバック時もエラーは返さない: %v", err)
			}
			if !res.Degraded() {
				t.Fatalf("Degraded であるべき: %+v", res)
			}
			if !strings.Contains(res.Reason, tt.wantReason) || res.Summary.Error != res.Reason {
				t.Errorf("Reason = %q, Error = %q, want containing %q", res.Reason, res.Summary.Error, tt.wantReason)
			}
			want := "Some title - A trending story on HackerNews with 120 points and 34 comments."
			if res.Summary.SummaryText != want {
				t.Errorf("SummaryText = %q, want %q", res.Summary.SummaryText, want)
			}
			if res.Summary.WhyItMatters != fallbackWhyItMatters || res.Summary.Category != model.CategoryGeneralTech {
				t.Errorf("fallback = %+v", res.Summary)
			}
			if res.Summary.OriginalStory.ID != 9 {
				t.Errorf("OriginalStory = %+v", res.Summary.OriginalStory)
			}
			if !strings.Contains(logs.String(), `"story_id":9`) {
				t.Errorf("フォールバックはログに記録されるべき: %s", logs.String())
			}
		})
	}
}

func TestSummarizeOne_TimeoutDegrades(t *testing.T) {
	backend := &mockBackend{completeFn: func(ctx context.Context, _ CompletionRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	c, _ := newInitializedClient(t, backend)
	c.timeout = 10 * time.Millisecond

	res, err := c.SummarizeOne(context.Background(), sampleStory(1, "slow"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Degraded() || !strings.Contains(res.Reason, "deadline exceeded") {
		t.Errorf("タイムアウトはフォールバックになるべき: %+v", res)
	}
}

func TestSummarizeMany_PreservesOrderWithPartialFailure(t *testing.T) {
	backend := &mockBackend{completeFn: func(_ context.Context, req CompletionRequest) (string, error) {
		switch {
		case strings.Contains(req.Prompt, "first"):
			// 先に投入した記事ほど遅く返し、完了順を入れ替える
			time.Sleep(30 * time.Millisecond)
			return `{"summary":"one","why_it_matters":"w","category":"AI & ML"}`, nil
		case strings.Contains(req.Prompt, "second"):
			return "", errors.New("backend exploded")
		default:
			return `{"summary":"three","why_it_matters":"w","category":"Hardware"}`, nil
		}
	}}
	c, _ := newInitializedClient(t, backend)
	stories := []model.Story{sampleStory(1, "first"), sampleStory(2, "second"), sampleStory(3, "third")}

	results, err := c.SummarizeMany(context.Background(), stories)
	if err != nil {
		t.Fatalf("SummarizeMany がエラーを返した: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for i, r := range results {
		if r.Summary.OriginalStory.ID != stories[i].ID {
			t.Errorf("results[%d] の順序が入力と一致しない: %d", i, r.Summary.OriginalStory.ID)
		}
	}
	if results[0].Degraded() || results[2].Degraded() {
		t.Error("成功した要約がDegradedになっている")
	}
	if !results[1].Degraded() || results[1].Summary.Error == "" {
		t.Errorf("失敗した要約はDegradedであるべき: %+v", results[1])
	}
	if backend.calls.Load() != 3 {
		t.Errorf("呼び出し回数 = %d, want 3", backend.calls.Load())
	}
}

func TestSummarizeMany_LimitsConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	backend := &mockBackend{completeFn: func(_ context.Context, req CompletionRequest) (string, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return `{"summary":"s","why_it_matters":"w","category":"AI & ML"}`, nil
	}}
	c, _ := newInitializedClient(t, backend)
	c.maxConcurrent = 3

	stories := make([]model.Story, 12)
	for i := range stories {
		stories[i] = sampleStory(int64(i+1), fmt.Sprintf("story %d", i+1))
	}
	results, err := c.SummarizeMany(context.Background(), stories)
	if err != nil {
		t.Fatalf("SummarizeMany がエラーを返した: %v", err)
	}
	if len(results) != len(stories) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(stories))
	}
	if got := peak.Load(); got > 3 || got == 0 {
		t.Errorf("同時実行数の最大 = %d, want 1..3", got)
	}
	if backend.calls.Load() != int32(len(stories)) {
		t.Errorf("backend calls = %d, want %d", backend.calls.Load(), len(stories))
	}
}

func TestSummarizeMany_Empty(t *testing.T) {
	c, _ := newInitializedClient(t, &mockBackend{})
	results, err := c.SummarizeMany(context.Background(), nil)
	if err != nil || len(results) != 0 {
		t.Errorf("SummarizeMany(nil) = %v, %v", results, err)
	}
}

func TestSummarizeOverview_Success(t *testing.T) {
	backend := &mockBackend{completeFn: func(_ context.Context, req CompletionRequest) (string, error) {
		if req.System != overviewSystemPrompt || req.MaxTokens != 150 || req.JSON {
			t.Errorf("unexpected request: %+v", req)
		}
		if !strings.Contains(req.Prompt, "1. Rust 2.0 (Web Development)") || !strings.Contains(req.Prompt, "2 stories from Thu Oct 15 2026") {
			t.Errorf("prompt = %s", req.Prompt)
		}
		return "  AI and Rust dominate today.  ", nil
	}}
	c, _ := newInitializedClient(t, backend)
	summaries := []model.Summary{
		{OriginalStory: model.Story{Title: "Rust 2.0"}, Category: model.CategoryWebDevelopment},
		{OriginalStory: model.Story{Title: "New LLM"}, Category: model.CategoryAIML},
	}

	ov, err := c.SummarizeOverview(context.Background(), summaries, "Thu Oct 15 2026")
	if err != nil {
		t.Fatalf("SummarizeOverview がエラーを返した: %v", err)
	}
	if ov.Text != "AI and Rust dominate today." || ov.StoryCount != 2 || ov.Date != "Thu Oct 15 2026" || ov.Error != "" {
		t.Errorf("overview = %+v", ov)
	}
	if !ov.GeneratedAt.Equal(fixedNow) {
		t.Errorf("GeneratedAt = %v", ov.GeneratedAt)
	}
}

func TestSummarizeOverview_FallbackOnFailure(t *testing.T) {
	for name, fn := range map[string]func(context.Context, CompletionRequest) (string, error){
		"error": func(context.Context, CompletionRequest) (string, error) { return "", errors.New("503") },
		"empty": func(context.Context, CompletionRequest) (string, error) { return "   ", nil },
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := newInitializedClient(t, &mockBackend{completeFn: fn})
			summaries := make([]model.Summary, 4)

			ov, err := c.SummarizeOverview(context.Background(), summaries, "Thu Oct 15 2026")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := "Today's digest includes 4 trending tech stories covering various aspects of the technology industry."
			if ov.Text != want {
				t.Errorf("Text = %q, want %q", ov.Text, want)
			}
			if ov.Error == "" || ov.StoryCount != 4 {
				t.Errorf("overview = %+v", ov)
			}
		})
	}
}

func TestSummarizeOverview_NoSummariesSkipsBackend(t *testing.T) {
	backend := &mockBackend{}
	c, _ := newInitializedClient(t, backend)

	ov, err := c.SummarizeOverview(context.Background(), nil, "Thu Oct 15 2026")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.calls.Load() != 0 {
		t.Error("要約0件ではバックエンドを呼ばないべき")
	}
	if ov.StoryCount != 0 || ov.Error != "" || !strings.Contains(ov.Text, "0 trending") {
		t.Errorf("overview = %+v", ov)
	}
}
