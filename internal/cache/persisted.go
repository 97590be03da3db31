package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/techdigest/internal/metrics"
	"github.com/hitoshi/techdigest/internal/model"
	"github.com/hitoshi/techdigest/internal/repository"
)

// PersistedCache は外部ストアの行としてダイジェストを保持するキャッシュ。
// ストアの障害は生成処理に伝播させず、ログとメトリクスに記録する。
type PersistedCache struct {
	repo    repository.CacheEntryRepository
	backend string
	ttl     time.Duration
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time
	newID   func() string
}

var _ Cache = (*PersistedCache)(nil)

// NewPersistedCache はPersistedCacheを生成する。
// backendはメトリクスとログに使うストア名（postgres, sqlite）。
func NewPersistedCache(
	repo repository.CacheEntryRepository,
	backend string,
	ttl time.Duration,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
) *PersistedCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &PersistedCache{
		repo:    repo,
		backend: backend,
		ttl:     ttl,
		logger:  logger,
		metrics: collector,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Backend はバックエンド名を返す。
func (c *PersistedCache) Backend() string { return c.backend }

// Get はキーが一致する最新の行を読み出す。
// ストアの読み出しに失敗した場合はミスとして扱う。
func (c *PersistedCache) Get(ctx context.Context, params model.DigestParams) *model.Digest {
	now := c.now()
	key := Key(params, now, c.ttl)

	entries, err := c.repo.List(ctx, repository.CacheEntryFilter{Key: key, Limit: 1})
	if err != nil {
		c.logger.Warn("キャッシュの参照に失敗しました",
			slog.String("backend", c.backend),
			slog.String("error", (&model.CachePersistenceError{Op: "get", Key: key, Err: err}).Error()),
		)
		c.metrics.RecordCacheMiss(c.backend)
		return nil
	}
	if len(entries) == 0 {
		c.metrics.RecordCacheMiss(c.backend)
		return nil
	}

	entry := entries[0]
	if now.Sub(entry.CreatedAt) > c.ttl {
		c.logger.Debug("キャッシュエントリの有効期限が切れています", slog.String("key", key))
		c.metrics.RecordCacheMiss(c.backend)
		return nil
	}

	d, err := decodeDigest(entry.Payload)
	if err != nil {
		c.logger.Warn("キャッシュ済みダイジェストの復元に失敗しました", slog.String("key", key), slog.String("error", err.Error()))
		c.metrics.RecordCacheMiss(c.backend)
		return nil
	}

	info := hitInfo(d, entry.CreatedAt, now)
	c.metrics.RecordCacheHit(c.backend)
	c.logger.Info("キャッシュにヒットしました",
		slog.String("backend", c.backend),
		slog.String("key", key),
		slog.Int("age_minutes", info.AgeMinutes),
	)
	return d.WithCacheInfo(info)
}

// Set は新しい行を作成し、同じキーのTTLより古い行を削除する。
// 作成した行自体は削除対象から除外する。
func (c *PersistedCache) Set(ctx context.Context, params model.DigestParams, digest *model.Digest) {
	now := c.now()
	key := Key(params, now, c.ttl)

	id, err := c.write(ctx, key, params, digest, now)
	if err != nil {
		c.metrics.RecordCacheWriteFailure(c.backend)
		c.logger.Warn("ダイジェストのキャッシュに失敗しました",
			slog.String("backend", c.backend),
			slog.String("error", (&model.CachePersistenceError{Op: "set", Key: key, Err: err}).Error()),
		)
		return
	}

	c.removeStale(ctx, key, id, now)
	c.logger.Info("ダイジェストをキャッシュしました",
		slog.String("backend", c.backend),
		slog.String("key", key),
		slog.Duration("ttl", c.ttl),
	)
}

// write は行を作成し、そのIDを返す。
func (c *PersistedCache) write(ctx context.Context, key string, params model.DigestParams, digest *model.Digest, now time.Time) (string, error) {
	payload, err := encodeDigest(digest)
	if err != nil {
		return "", err
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}

	entry := &model.CacheEntry{
		ID:        c.newID(),
		Key:       key,
		Payload:   payload,
		Params:    rawParams,
		CreatedAt: now,
	}
	if err := c.repo.Create(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// removeStale は同じキーの期限切れ行を削除する。失敗は記録のみ行う。
func (c *PersistedCache) removeStale(ctx context.Context, key, currentID string, now time.Time) {
	stale, err := c.repo.List(ctx, repository.CacheEntryFilter{
		Key:           key,
		CreatedBefore: now.Add(-c.ttl),
		ExcludeID:     currentID,
	})
	if err != nil {
		c.logger.Warn("期限切れキャッシュ行の検索に失敗しました", slog.String("key", key), slog.String("error", err.Error()))
		return
	}

	removed := c.deleteAll(ctx, stale)
	c.metrics.RecordCacheEvictions(c.backend, removed)
}

// deleteAll は行を順に削除し、削除できた件数を返す。
func (c *PersistedCache) deleteAll(ctx context.Context, entries []model.CacheEntry) int {
	removed := 0
	for _, e := range entries {
		if err := c.repo.DeleteByID(ctx, e.ID); err != nil {
			c.logger.Warn("キャッシュ行の削除に失敗しました",
				slog.String("id", e.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}
	return removed
}

// Sweep は全キーを対象に期限切れの行を削除する。
func (c *PersistedCache) Sweep(ctx context.Context) (int, error) {
	stale, err := c.repo.List(ctx, repository.CacheEntryFilter{CreatedBefore: c.now().Add(-c.ttl)})
	if err != nil {
		return 0, &model.CachePersistenceError{Op: "sweep", Key: "*", Err: err}
	}

	removed := c.deleteAll(ctx, stale)
	c.metrics.RecordCacheEvictions(c.backend, removed)
	return removed, nil
}

// Clear は全行を削除する。
func (c *PersistedCache) Clear(ctx context.Context) (int, error) {
	entries, err := c.repo.List(ctx, repository.CacheEntryFilter{})
	if err != nil {
		return 0, &model.CachePersistenceError{Op: "clear", Key: "*", Err: err}
	}

	removed := c.deleteAll(ctx, entries)
	c.logger.Info("キャッシュを全削除しました", slog.String("backend", c.backend), slog.Int("entries", removed))
	if removed < len(entries) {
		return removed, &model.CachePersistenceError{
			Op:  "clear",
			Key: "*",
			Err: fmt.Errorf("%d of %d entries could not be deleted", len(entries)-removed, len(entries)),
		}
	}
	return removed, nil
}

// Stats はキャッシュの統計情報を返す。サイズはペイロードのバイト数の合計。
func (c *PersistedCache) Stats(ctx context.Context) (model.CacheStats, error) {
	entries, err := c.repo.List(ctx, repository.CacheEntryFilter{})
	if err != nil {
		return model.CacheStats{}, &model.CachePersistenceError{Op: "stats", Key: "*", Err: err}
	}

	now := c.now()
	stats := model.CacheStats{TotalEntries: len(entries)}
	size := 0
	for _, e := range entries {
		age := now.Sub(e.CreatedAt)
		if age > c.ttl {
			stats.ExpiredEntries++
		} else {
			stats.FreshEntries++
		}
		stats.OldestEntryAgeMinutes = max(stats.OldestEntryAgeMinutes, ageMinutes(age))
		size += len(e.Payload)
	}
	stats.ApproxSizeMB = toMB(size)

	return stats, nil
}
