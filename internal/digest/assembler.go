// Package digest はストーリーの取得から要約、分類までを順に実行してダイジェストを組み立てる。
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/techdigest/internal/cache"
	"github.com/hitoshi/techdigest/internal/categorize"
	"github.com/hitoshi/techdigest/internal/metrics"
	"github.com/hitoshi/techdigest/internal/model"
	"github.com/hitoshi/techdigest/internal/relevance"
	"github.com/hitoshi/techdigest/internal/source"
	"github.com/hitoshi/techdigest/internal/summarize"
)

// overFetchFactor はフィルタでの脱落を見越して提供元に要求する倍率。
const overFetchFactor = 2

// defaultGenerationTimeout は1回の生成全体の上限。呼び出し元のコンテキストとは独立して適用する。
const defaultGenerationTimeout = 2 * time.Minute

// Summarizer は要約生成のインターフェース。
type Summarizer interface {
	Initialize(apiKey string) error
	SummarizeMany(ctx context.Context, stories []model.Story) ([]summarize.Result, error)
	SummarizeOverview(ctx context.Context, summaries []model.Summary, date string) (model.Overview, error)
}

var _ Summarizer = (*summarize.Client)(nil)

// Assembler はダイジェスト生成を統括する。
// 同一プロセス内で同じキャッシュキーに対する生成が重なった場合は1回にまとめる。
type Assembler struct {
	provider   source.Provider
	summarizer Summarizer
	cache      cache.Cache
	window     time.Duration
	timeout    time.Duration
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
	inflight   singleflight.Group
}

// NewAssembler はAssemblerを生成する。
// windowはキャッシュのTTLと同じ値を渡し、同時実行をまとめるキーの導出に使う。
func NewAssembler(
	provider source.Provider,
	summarizer Summarizer,
	c cache.Cache,
	window time.Duration,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Assembler {
	if window <= 0 {
		window = cache.DefaultTTL
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Assembler{
		provider:   provider,
		summarizer: summarizer,
		cache:      c,
		window:     window,
		timeout:    defaultGenerationTimeout,
		metrics:    collector,
		logger:     logger,
		now:        time.Now,
		newID:      func() string { return "digest-" + uuid.New().String() },
	}
}

// Generate はダイジェストを返す。キャッシュにあればそれを返し、なければ生成してキャッシュする。
//
// 返すエラー:
//   - パラメータが範囲外の場合は *model.APIError
//   - 認証情報がない場合は *model.ConfigurationError
//   - 提供元が利用できない場合は model.ErrProviderUnavailable をラップしたエラー
//   - 呼び出し元のctxが先に終了した場合は ctx.Err()
//
// 生成は呼び出し元のキャンセルから切り離して実行する。途中で離脱した呼び出し元が
// いても、同じ生成を待つ他の呼び出し元とキャッシュには影響しない。
func (a *Assembler) Generate(ctx context.Context, cfg model.GenerateConfig) (*model.Digest, error) {
	params := cfg.Params()
	if err := params.Validate(); err != nil {
		return nil, err
	}

	if cached := a.cache.Get(ctx, params); cached != nil {
		return cached, nil
	}

	if cfg.Credentials == "" {
		return nil, model.NewMissingCredentialsError()
	}

	key := cache.Key(params, a.now(), a.window)
	leader := false
	ch := a.inflight.DoChan(key, func() (interface{}, error) {
		leader = true
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		return a.generate(genCtx, cfg)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared && !leader {
			a.metrics.RecordGeneration(metrics.OutcomeShared, 0)
			a.logger.Info("実行中の生成結果を共有しました", slog.String("key", key))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Digest), nil
	}
}

// generate はパイプラインを順に実行する。
// ダイジェストを組み立てる前のエラーでは何もキャッシュしない。
func (a *Assembler) generate(ctx context.Context, cfg model.GenerateConfig) (*model.Digest, error) {
	start := a.now()

	if err := a.summarizer.Initialize(cfg.Credentials); err != nil {
		a.metrics.RecordGeneration(metrics.OutcomeFailure, a.now().Sub(start))
		return nil, err
	}

	stories, err := a.provider.FetchTrending(ctx, cfg.StoryLimit*overFetchFactor, cfg.HoursBack)
	if err != nil {
		a.metrics.RecordProviderFailure()
		a.metrics.RecordGeneration(metrics.OutcomeFailure, a.now().Sub(start))
		return nil, fmt.Errorf("failed to fetch trending stories: %w", err)
	}

	relevant := relevance.Filter(stories)
	selected := source.RankByScore(relevant, cfg.StoryLimit)

	results, err := a.summarizer.SummarizeMany(ctx, selected)
	if err != nil {
		a.metrics.RecordGeneration(metrics.OutcomeFailure, a.now().Sub(start))
		return nil, fmt.Errorf("failed to summarize stories: %w", err)
	}

	summaries := make([]model.Summary, len(results))
	degraded := 0
	for i, r := range results {
		summaries[i] = r.Summary
		if r.Degraded() {
			degraded++
			a.metrics.RecordSummaryOutcome(metrics.OutcomeDegraded)
		} else {
			a.metrics.RecordSummaryOutcome(metrics.OutcomeSuccess)
		}
	}

	categories := categorize.Categorize(selected)

	generatedAt := a.now().UTC()
	date := generatedAt.Format(model.DigestDateLayout)
	overview, err := a.summarizer.SummarizeOverview(ctx, summaries, date)
	if err != nil {
		a.metrics.RecordGeneration(metrics.OutcomeFailure, a.now().Sub(start))
		return nil, fmt.Errorf("failed to summarize overview: %w", err)
	}

	d := &model.Digest{
		ID:          a.newID(),
		GeneratedAt: generatedAt,
		Date:        date,
		Overview:    overview,
		Summaries:   summaries,
		Categories:  categories,
		Stats: model.DigestStats{
			Fetched:       len(stories),
			Filtered:      len(relevant),
			Summarized:    len(summaries),
			CategoryCount: len(categories),
		},
		Config: model.GenerateConfig{
			StoryLimit: cfg.StoryLimit,
			HoursBack:  cfg.HoursBack,
		},
	}

	// 時間切れで定型文に置き換わった結果はTTLの間残さない
	if ctx.Err() != nil {
		a.logger.Warn("生成が時間内に完了しなかったためキャッシュしません",
			slog.String("id", d.ID),
			slog.String("reason", ctx.Err().Error()),
		)
	} else {
		a.cache.Set(ctx, cfg.Params(), d)
	}

	outcome := metrics.OutcomeSuccess
	if degraded > 0 || overview.Error != "" {
		outcome = metrics.OutcomeDegraded
	}
	elapsed := a.now().Sub(start)
	a.metrics.RecordGeneration(outcome, elapsed)

	a.logger.Info("ダイジェストを生成しました",
		slog.String("id", d.ID),
		slog.Int("fetched", d.Stats.Fetched),
		slog.Int("filtered", d.Stats.Filtered),
		slog.Int("summarized", d.Stats.Summarized),
		slog.Int("degraded", degraded),
		slog.Int("categories", d.Stats.CategoryCount),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)

	return d, nil
}
