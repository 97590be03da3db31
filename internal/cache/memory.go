package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/techdigest/internal/metrics"
	"github.com/hitoshi/techdigest/internal/model"
)

type memoryEntry struct {
	payload   []byte
	createdAt time.Time
	ttl       time.Duration
}

// MemoryCache はプロセス内のマップにダイジェストを保持するキャッシュ。
// 期限切れエントリはGetでの参照時とSet時の全件走査で削除される。
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache はMemoryCacheを生成する。
// ttlが0以下の場合はDefaultTTL、collectorがnilの場合はメトリクスを記録しない。
func NewMemoryCache(ttl time.Duration, logger *slog.Logger, collector metrics.MetricsCollector) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		logger:  logger,
		metrics: collector,
		now:     time.Now,
	}
}

// Backend はバックエンド名を返す。
func (c *MemoryCache) Backend() string { return BackendMemory }

// Get は有効なエントリがあればキャッシュメタデータ付きのダイジェストを返す。
func (c *MemoryCache) Get(ctx context.Context, params model.DigestParams) *model.Digest {
	now := c.now()
	key := Key(params, now, c.ttl)

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && now.Sub(entry.createdAt) > entry.ttl {
		delete(c.entries, key)
		c.mu.Unlock()
		c.metrics.RecordCacheEvictions(BackendMemory, 1)
		c.metrics.RecordCacheMiss(BackendMemory)
		c.logger.Debug("キャッシュエントリの有効期限が切れています", slog.String("key", key))
		return nil
	}
	c.mu.Unlock()

	if !ok {
		c.metrics.RecordCacheMiss(BackendMemory)
		return nil
	}

	d, err := decodeDigest(entry.payload)
	if err != nil {
		c.logger.Warn("キャッシュ済みダイジェストの復元に失敗しました", slog.String("key", key), slog.String("error", err.Error()))
		c.metrics.RecordCacheMiss(BackendMemory)
		return nil
	}

	info := hitInfo(d, entry.createdAt, now)
	c.metrics.RecordCacheHit(BackendMemory)
	c.logger.Info("キャッシュにヒットしました",
		slog.String("key", key),
		slog.Int("age_minutes", info.AgeMinutes),
	)
	return d.WithCacheInfo(info)
}

// Set はダイジェストを保存し、期限切れのエントリを全件走査で削除する。
func (c *MemoryCache) Set(ctx context.Context, params model.DigestParams, digest *model.Digest) {
	now := c.now()
	key := Key(params, now, c.ttl)

	payload, err := encodeDigest(digest)
	if err != nil {
		c.metrics.RecordCacheWriteFailure(BackendMemory)
		c.logger.Warn("ダイジェストのキャッシュに失敗しました",
			slog.String("error", (&model.CachePersistenceError{Op: "set", Key: key, Err: err}).Error()),
		)
		return
	}

	c.mu.Lock()
	c.entries[key] = memoryEntry{payload: payload, createdAt: now, ttl: c.ttl}
	removed := c.sweepLocked(now)
	c.mu.Unlock()

	c.metrics.RecordCacheEvictions(BackendMemory, removed)
	c.logger.Info("ダイジェストをキャッシュしました",
		slog.String("key", key),
		slog.Duration("ttl", c.ttl),
		slog.Int("expired_removed", removed),
	)
}

// Sweep は期限切れのエントリを削除する。
func (c *MemoryCache) Sweep(ctx context.Context) (int, error) {
	now := c.now()

	c.mu.Lock()
	removed := c.sweepLocked(now)
	c.mu.Unlock()

	c.metrics.RecordCacheEvictions(BackendMemory, removed)
	return removed, nil
}

// sweepLocked は期限切れのエントリを削除する。呼び出し側がロックを保持すること。
func (c *MemoryCache) sweepLocked(now time.Time) int {
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) > entry.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear は全エントリを削除する。
func (c *MemoryCache) Clear(ctx context.Context) (int, error) {
	c.mu.Lock()
	size := len(c.entries)
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()

	c.logger.Info("キャッシュを全削除しました", slog.Int("entries", size))
	return size, nil
}

// Stats はキャッシュの統計情報を返す。
// サイズはキーとペイロードのバイト数の2倍で概算する。
func (c *MemoryCache) Stats(ctx context.Context) (model.CacheStats, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := model.CacheStats{TotalEntries: len(c.entries)}
	var oldest time.Time
	size := 0
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) > entry.ttl {
			stats.ExpiredEntries++
		} else {
			stats.FreshEntries++
		}
		if oldest.IsZero() || entry.createdAt.Before(oldest) {
			oldest = entry.createdAt
		}
		size += len(key) + len(entry.payload)
	}
	if !oldest.IsZero() {
		stats.OldestEntryAgeMinutes = ageMinutes(now.Sub(oldest))
	}
	stats.ApproxSizeMB = toMB(size * 2)

	return stats, nil
}
