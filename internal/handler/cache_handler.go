package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/techdigest/internal/cache"
	"github.com/hitoshi/techdigest/internal/middleware"
	"github.com/hitoshi/techdigest/internal/model"
)

// CacheHandler はキャッシュの参照と削除のHTTPハンドラー。
type CacheHandler struct {
	cache  cache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewCacheHandler はCacheHandlerを生成する。
func NewCacheHandler(c cache.Cache, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{
		cache:  c,
		logger: logger,
		now:    time.Now,
	}
}

// cacheStatsResponse はキャッシュ統計のAPIレスポンス。
type cacheStatsResponse struct {
	Status    string           `json:"status"`
	Backend   string           `json:"backend"`
	Stats     model.CacheStats `json:"cache_stats"`
	Timestamp string           `json:"timestamp"`
}

// cacheClearResponse はキャッシュ削除のAPIレスポンス。
type cacheClearResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	RemovedEntries int    `json:"removed_entries"`
	Timestamp      string `json:"timestamp"`
}

// GetStats はキャッシュの統計情報を返す。
// GET /api/cache
func (h *CacheHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.logger.Error("キャッシュ統計の取得に失敗しました",
			slog.String("backend", h.cache.Backend()),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, cacheStatsResponse{
		Status:    "success",
		Backend:   h.cache.Backend(),
		Stats:     stats,
		Timestamp: h.timestamp(),
	})
}

// Clear は全エントリを削除する。
// DELETE /api/cache, POST /api/cache/clear
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.Clear(r.Context())
	if err != nil {
		h.logger.Error("キャッシュの削除に失敗しました",
			slog.String("backend", h.cache.Backend()),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	h.logger.Info("キャッシュを削除しました",
		slog.String("backend", h.cache.Backend()),
		slog.Int("removed", removed),
	)

	writeJSON(w, http.StatusOK, cacheClearResponse{
		Status:         "success",
		Message:        "Cache cleared successfully",
		RemovedEntries: removed,
		Timestamp:      h.timestamp(),
	})
}

func (h *CacheHandler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}
