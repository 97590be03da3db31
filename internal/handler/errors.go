package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/techdigest/internal/middleware"
	"github.com/hitoshi/techdigest/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はダイジェスト生成から返されたエラーを適切なHTTPレスポンスに変換する。
// 詳細はログのみに記録し、レスポンスには利用者向けのメッセージだけを含める。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var cfgErr *model.ConfigurationError
	if errors.As(err, &cfgErr) {
		logger.Error("設定不備のためダイジェストを生成できません",
			slog.String("setting", cfgErr.Setting),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError,
			model.NewConfigurationAPIError("要約APIの認証情報が設定されていません。"))
		return
	}

	if errors.Is(err, model.ErrProviderUnavailable) {
		logger.Warn("ストーリー提供元が利用できません", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewProviderUnavailableError())
		return
	}

	if errors.Is(err, context.Canceled) {
		logger.Info("クライアントがリクエストを中断しました", slog.String("error", err.Error()))
	} else {
		logger.Error("internal server error", slog.String("error", err.Error()))
	}
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidParameter:
		return http.StatusBadRequest
	case model.ErrCodeProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
