// Package summarize はテキスト生成バックエンドを使ってストーリーの要約とダイジェストの概要を生成する。
//
// バックエンドの呼び出し失敗や応答の解釈失敗は、既知のストーリー情報のみから作る
// 定型の要約にフォールバックし、生成全体は中断しない。
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/techdigest/internal/categorize"
	"github.com/hitoshi/techdigest/internal/model"
)

// Outcome は要約生成の結果種別。
type Outcome int

const (
	// OutcomeSuccess はバックエンドの応答から要約を生成できたことを示す。
	OutcomeSuccess Outcome = iota
	// OutcomeDegraded は定型の要約にフォールバックしたことを示す。
	OutcomeDegraded
)

func (o Outcome) String() string {
	if o == OutcomeDegraded {
		return "degraded"
	}
	return "success"
}

// Result は1件の要約生成の結果。
// OutcomeDegraded の場合、Reason と Summary.Error にフォールバックの理由が入る。
type Result struct {
	Summary model.Summary
	Outcome Outcome
	Reason  string
}

// Degraded はフォールバックした結果かを返す。
func (r Result) Degraded() bool {
	return r.Outcome == OutcomeDegraded
}

// defaultMaxConcurrent はSummarizeManyで同時に実行するバックエンド呼び出しの上限。
const defaultMaxConcurrent = 5

// Client は要約生成クライアント。
// 使用前にInitializeで認証情報を設定する必要がある。
type Client struct {
	newBackend    BackendFactory
	timeout       time.Duration
	maxConcurrent int
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.RWMutex
	apiKey  string
	backend Backend
}

// NewClient はClientを生成する。timeoutはバックエンド呼び出し1回あたりの上限。
func NewClient(newBackend BackendFactory, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		newBackend:    newBackend,
		timeout:       timeout,
		maxConcurrent: defaultMaxConcurrent,
		logger:        logger,
		now:           time.Now,
	}
}

// Initialize は認証情報からバックエンドを準備する。
// apiKeyが空の場合は *model.ConfigurationError を返す。
// 同じapiKeyで再度呼ばれた場合は既存のバックエンドを使い続ける。
func (c *Client) Initialize(apiKey string) error {
	if apiKey == "" {
		return model.NewMissingCredentialsError()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend != nil && c.apiKey == apiKey {
		return nil
	}
	backend, err := c.newBackend(apiKey)
	if err != nil {
		return &model.ConfigurationError{
			Setting: "SUMMARIZER_PROVIDER",
			Message: fmt.Sprintf("failed to create summarization backend: %v", err),
		}
	}
	c.apiKey = apiKey
	c.backend = backend
	return nil
}

func (c *Client) currentBackend() (Backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.backend == nil {
		return nil, model.ErrNotInitialized
	}
	return c.backend, nil
}

// SummarizeOne はストーリー1件の要約を生成する。
// 返すエラーは未初期化の場合の model.ErrNotInitialized のみで、
// バックエンドの失敗はフォールバックした Result として返す。
func (c *Client) SummarizeOne(ctx context.Context, story model.Story) (Result, error) {
	backend, err := c.currentBackend()
	if err != nil {
		return Result{}, err
	}
	return c.summarize(ctx, backend, story), nil
}

func (c *Client) summarize(ctx context.Context, backend Backend, story model.Story) Result {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := backend.Complete(callCtx, CompletionRequest{
		System:      storySystemPrompt,
		Prompt:      storyPrompt(story),
		MaxTokens:   storyMaxTokens,
		Temperature: temperature,
		JSON:        true,
	})
	if err != nil {
		return c.degraded(story, fmt.Errorf("summarization request failed: %w", err))
	}

	resp, err := parseStoryResponse(raw)
	if err != nil {
		return c.degraded(story, err)
	}

	category, ok := model.ParseCategory(resp.Category)
	if !ok {
		category = categorize.Classify(story)
	}
	why := resp.WhyItMatters
	if why == "" {
		why = fallbackWhyItMatters
	}

	return Result{
		Summary: model.Summary{
			SummaryText:   resp.Summary,
			WhyItMatters:  why,
			Category:      category,
			OriginalStory: story,
			GeneratedAt:   c.now().UTC(),
		},
		Outcome: OutcomeSuccess,
	}
}

func (c *Client) degraded(story model.Story, cause error) Result {
	reason := cause.Error()
	c.logger.Warn("要約の生成に失敗したため定型の要約を使用します",
		slog.Int64("story_id", story.ID),
		slog.String("reason", reason),
	)
	return Result{
		Summary: model.Summary{
			SummaryText:   fallbackSummaryText(story),
			WhyItMatters:  fallbackWhyItMatters,
			Category:      model.CategoryGeneralTech,
			OriginalStory: story,
			GeneratedAt:   c.now().UTC(),
			Error:         reason,
		},
		Outcome: OutcomeDegraded,
		Reason:  reason,
	}
}

// SummarizeMany は全ストーリーの要約を並行して生成する。
// 同時実行数はmaxConcurrentまでに制限する。結果は入力と同じ順序・同じ件数で返す。
func (c *Client) SummarizeMany(ctx context.Context, stories []model.Story) ([]Result, error) {
	backend, err := c.currentBackend()
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(stories))
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.maxConcurrent)
	for i, s := range stories {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int, s model.Story) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = c.summarize(ctx, backend, s)
		}(i, s)
	}
	wg.Wait()
	return results, nil
}

// SummarizeOverview は要約一覧からダイジェスト全体の概要を生成する。
// バックエンドが失敗した場合は件数のみに触れる定型文にフォールバックし、Errorに理由を入れる。
// 要約が0件の場合はバックエンドを呼ばずに定型文を返す。
func (c *Client) SummarizeOverview(ctx context.Context, summaries []model.Summary, date string) (model.Overview, error) {
	backend, err := c.currentBackend()
	if err != nil {
		return model.Overview{}, err
	}

	overview := model.Overview{
		StoryCount: len(summaries),
		Date:       date,
	}
	if len(summaries) == 0 {
		overview.Text = fallbackOverviewText(0)
		overview.GeneratedAt = c.now().UTC()
		return overview, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := backend.Complete(callCtx, CompletionRequest{
		System:      overviewSystemPrompt,
		Prompt:      overviewPrompt(summaries, date),
		MaxTokens:   overviewMaxTokens,
		Temperature: temperature,
	})
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = errors.New("backend returned an empty overview")
	}
	overview.GeneratedAt = c.now().UTC()
	if err != nil {
		c.logger.Warn("概要の生成に失敗したため定型文を使用します",
			slog.Int("story_count", len(summaries)),
			slog.String("reason", err.Error()),
		)
		overview.Text = fallbackOverviewText(len(summaries))
		overview.Error = err.Error()
		return overview, nil
	}
	overview.Text = text
	return overview, nil
}
