package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/techdigest/internal/model"
	"github.com/hitoshi/techdigest/internal/security"
)

// DefaultHackerNewsBaseURL は Hacker News Firebase API のベースURL。
const DefaultHackerNewsBaseURL = "https://hacker-news.firebaseio.com/v0"

// hnItem は /item/{id}.json のレスポンス。
type hnItem struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Text        string `json:"text"`
}

// HackerNewsConfig はHackerNewsClientの設定。
type HackerNewsConfig struct {
	BaseURL       string
	MaxConcurrent int
	MaxBodySize   int64
}

// HackerNewsClient は Hacker News Firebase API から上位ストーリーを取得する。
type HackerNewsClient struct {
	fetcher       httpFetcher
	logger        *slog.Logger
	baseURL       string
	maxConcurrent int
	sanitizer     *security.StoryTextSanitizer
	now           func() time.Time
}

var _ Provider = (*HackerNewsClient)(nil)

// NewHackerNewsClient はHackerNewsClientを生成する。
// 本番ではhttpClientにsecurity.OutboundGuardが生成したクライアントを渡す。
func NewHackerNewsClient(httpClient *http.Client, logger *slog.Logger, cfg HackerNewsConfig) *HackerNewsClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHackerNewsBaseURL
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 5 << 20
	}
	return &HackerNewsClient{
		fetcher: httpFetcher{
			client:      httpClient,
			logger:      logger,
			maxBodySize: cfg.MaxBodySize,
			retryDelays: defaultRetryDelays,
		},
		logger:        logger,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		maxConcurrent: cfg.MaxConcurrent,
		sanitizer:     security.NewStoryTextSanitizer(),
		now:           time.Now,
	}
}

// FetchCandidates は上位ストーリーIDの先頭maxCount件について詳細を並列取得する。
// 返却順は提供元のランキング順を維持する。
// typeがstory以外の記事とURLを持たない記事（Ask HN など）は除外する。
func (c *HackerNewsClient) FetchCandidates(ctx context.Context, maxCount int) ([]model.Story, error) {
	ids, err := c.topStoryIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching top stories: %w", model.ErrProviderUnavailable, err)
	}
	if maxCount >= 0 && len(ids) > maxCount {
		ids = ids[:maxCount]
	}
	if len(ids) == 0 {
		return []model.Story{}, nil
	}

	start := time.Now()
	results := make([]*model.Story, len(ids))
	var (
		mu     sync.Mutex
		failed int
		wg     sync.WaitGroup
	)
	sem := make(chan struct{}, c.maxConcurrent)

	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int, id int64) {
			defer wg.Done()
			defer func() { <-sem }()

			story, err := c.fetchItem(ctx, id)
			if err != nil {
				c.logger.Warn("ストーリーの取得に失敗したため除外します",
					slog.Int64("story_id", id),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			results[i] = story
		}(i, id)
	}
	wg.Wait()

	if failed == len(ids) {
		return nil, fmt.Errorf("%w: all %d item requests failed", model.ErrProviderUnavailable, failed)
	}

	stories := make([]model.Story, 0, len(ids))
	for _, s := range results {
		if s != nil {
			stories = append(stories, *s)
		}
	}

	c.logger.Info("候補ストーリーを取得しました",
		slog.Int("requested", len(ids)),
		slog.Int("stories", len(stories)),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return stories, nil
}

// FetchTrending はCandidatePoolSize(limit)件の候補から直近hoursBack時間のトレンドを選ぶ。
func (c *HackerNewsClient) FetchTrending(ctx context.Context, limit, hoursBack int) ([]model.Story, error) {
	candidates, err := c.FetchCandidates(ctx, CandidatePoolSize(limit))
	if err != nil {
		return nil, err
	}
	return SelectTrending(candidates, limit, hoursBack, c.now()), nil
}

func (c *HackerNewsClient) topStoryIDs(ctx context.Context) ([]int64, error) {
	body, err := c.fetcher.get(ctx, c.baseURL+"/topstories.json", "application/json", true)
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("decoding top stories: %w", err)
	}
	return ids, nil
}

// fetchItem は記事1件を取得する。ストーリーとして扱えない記事の場合は (nil, nil) を返す。
func (c *HackerNewsClient) fetchItem(ctx context.Context, id int64) (*model.Story, error) {
	body, err := c.fetcher.get(ctx, fmt.Sprintf("%s/item/%d.json", c.baseURL, id), "application/json", false)
	if err != nil {
		return nil, err
	}

	// 削除済みの記事は "null" が返る
	var item *hnItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("decoding item %d: %w", id, err)
	}
	if item == nil || item.Type != "story" || item.URL == "" {
		return nil, nil
	}

	return &model.Story{
		ID:           item.ID,
		Title:        strings.TrimSpace(item.Title),
		URL:          item.URL,
		Score:        max(item.Score, 0),
		CommentCount: max(item.Descendants, 0),
		CreatedAt:    item.Time,
		Author:       item.By,
		Text:         c.sanitizer.Sanitize(item.Text),
	}, nil
}
