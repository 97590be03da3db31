package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hitoshi/techdigest/internal/cache"
	"github.com/hitoshi/techdigest/internal/config"
	"github.com/hitoshi/techdigest/internal/database"
	"github.com/hitoshi/techdigest/internal/digest"
	"github.com/hitoshi/techdigest/internal/metrics"
	"github.com/hitoshi/techdigest/internal/repository"
	"github.com/hitoshi/techdigest/internal/security"
	"github.com/hitoshi/techdigest/internal/source"
	"github.com/hitoshi/techdigest/internal/summarize"
)

// components はサブコマンド間で共有するダイジェスト生成の依存関係。
type components struct {
	cache     cache.Cache
	assembler *digest.Assembler
	db        *sql.DB // 永続化キャッシュ使用時のみ
}

// Close はDB接続を閉じる。
func (c *components) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// buildComponents は設定に従ってキャッシュ、提供元、要約クライアント、Assemblerを組み立てる。
func buildComponents(ctx context.Context, cfg *config.Config, collector metrics.MetricsCollector, logger *slog.Logger) (*components, error) {
	provider, err := newProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	summarizer, err := newSummarizer(cfg, logger)
	if err != nil {
		return nil, err
	}

	c, db, err := newCache(ctx, cfg, collector, logger)
	if err != nil {
		return nil, err
	}

	return &components{
		cache:     c,
		assembler: digest.NewAssembler(provider, summarizer, c, cfg.CacheTTL, collector, logger),
		db:        db,
	}, nil
}

// newProvider はSTORY_SOURCEに対応するストーリー提供元を生成する。
// 接続先URLは起動時に検証する。
func newProvider(cfg *config.Config, logger *slog.Logger) (source.Provider, error) {
	guard := security.NewOutboundGuard()
	httpClient := guard.NewClient(cfg.FetchTimeout)

	switch cfg.StorySource {
	case config.SourceRSS:
		if err := guard.ValidateSourceURL(cfg.RSSFeedURL); err != nil {
			return nil, fmt.Errorf("invalid RSS_FEED_URL: %w", err)
		}
		return source.NewRSSProvider(httpClient, logger, cfg.RSSFeedURL, cfg.FetchMaxSize), nil
	case config.SourceHackerNews:
		if err := guard.ValidateSourceURL(cfg.HNAPIBaseURL); err != nil {
			return nil, fmt.Errorf("invalid HN_API_BASE_URL: %w", err)
		}
		return source.NewHackerNewsClient(httpClient, logger, source.HackerNewsConfig{
			BaseURL:       cfg.HNAPIBaseURL,
			MaxConcurrent: cfg.FetchMaxConcurrent,
			MaxBodySize:   cfg.FetchMaxSize,
		}), nil
	default:
		return nil, fmt.Errorf("unknown story source: %q", cfg.StorySource)
	}
}

// newSummarizer はSUMMARIZER_PROVIDERに対応する要約クライアントを生成する。
// 認証情報の検証はダイジェスト生成時に行う。
func newSummarizer(cfg *config.Config, logger *slog.Logger) (*summarize.Client, error) {
	factory, err := summarize.FactoryFor(cfg.SummarizerProvider, cfg.SummarizerModel)
	if err != nil {
		return nil, err
	}
	return summarize.NewClient(factory, cfg.SummarizeTimeout, logger), nil
}

// newCache はCACHE_BACKENDに対応するキャッシュを生成する。
// 永続化バックエンドの場合は開いたDB接続も返す。
func newCache(ctx context.Context, cfg *config.Config, collector metrics.MetricsCollector, logger *slog.Logger) (cache.Cache, *sql.DB, error) {
	switch cfg.CacheBackend {
	case config.CacheMemory:
		return cache.NewMemoryCache(cfg.CacheTTL, logger, collector), nil, nil

	case config.CachePostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Info("database connection established", slog.String("backend", cache.BackendPostgres))
		repo := repository.NewPostgresCacheRepo(db)
		return cache.NewPersistedCache(repo, cache.BackendPostgres, cfg.CacheTTL, logger, collector), db, nil

	case config.CacheSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite cache: %w", err)
		}
		logger.Info("database connection established",
			slog.String("backend", cache.BackendSQLite),
			slog.String("path", cfg.SQLitePath),
		)
		repo := repository.NewSQLiteCacheRepo(db)
		return cache.NewPersistedCache(repo, cache.BackendSQLite, cfg.CacheTTL, logger, collector), db, nil

	default:
		return nil, nil, fmt.Errorf("unknown cache backend: %q", cfg.CacheBackend)
	}
}
