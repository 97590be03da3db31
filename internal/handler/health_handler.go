package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// HealthChecker はデータベース疎通確認のインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	checker HealthChecker
	backend string
	logger  *slog.Logger
}

// NewHealthHandler はHealthHandlerを生成する。
// checkerがnilの場合はデータベースの確認を行わない。
func NewHealthHandler(checker HealthChecker, backend string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		backend: backend,
		logger:  logger,
	}
}

// healthResponse はヘルスチェックのAPIレスポンス。
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Check はサービスの稼働状態を返す。
// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"cache": h.backend}

	if h.checker != nil {
		if err := h.checker.PingContext(r.Context()); err != nil {
			h.logger.Error("データベースに接続できません", slog.String("error", err.Error()))
			checks["database"] = "error"
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Checks: checks})
			return
		}
		checks["database"] = "ok"
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: checks})
}
