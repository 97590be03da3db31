package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/techdigest/internal/cache"
	"github.com/hitoshi/techdigest/internal/metrics"
	"github.com/hitoshi/techdigest/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	Logger            *slog.Logger

	// ダイジェスト
	Generator DigestGenerator
	Defaults  DigestDefaults

	// キャッシュ
	Cache cache.Cache

	// ヘルスチェック・メトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// ダイジェスト生成ルートにはさらにRateLimit(Digest)を適用する。
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	digestHandler := NewDigestHandler(deps.Generator, deps.Defaults, logger)
	cacheHandler := NewCacheHandler(deps.Cache, logger)
	healthHandler := NewHealthHandler(deps.HealthChecker, deps.Cache.Backend(), logger)

	// --- レート制限対象外のルート ---
	r.Get("/health", healthHandler.Check)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- API ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/digest", func(r chi.Router) {
			r.Use(deps.RateLimiter.DigestMiddleware())
			r.Get("/", digestHandler.GetDigest)
			r.Post("/", digestHandler.PostDigest)
		})

		r.Route("/api/cache", func(r chi.Router) {
			r.Get("/", cacheHandler.GetStats)
			r.Delete("/", cacheHandler.Clear)
			r.Post("/clear", cacheHandler.Clear)
		})
	})

	return r
}
