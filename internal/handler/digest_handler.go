package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/techdigest/internal/digest"
	"github.com/hitoshi/techdigest/internal/middleware"
	"github.com/hitoshi/techdigest/internal/model"
)

// DigestGenerator はダイジェストハンドラーが必要とする生成インターフェース。
type DigestGenerator interface {
	// Generate はキャッシュ済みまたは新規生成のダイジェストを返す。
	Generate(ctx context.Context, cfg model.GenerateConfig) (*model.Digest, error)
}

var _ DigestGenerator = (*digest.Assembler)(nil)

// DigestDefaults はリクエストで省略されたパラメータの既定値と、サーバー側の認証情報。
type DigestDefaults struct {
	StoryLimit  int
	HoursBack   int
	Credentials string
}

// DigestHandler はダイジェスト生成のHTTPハンドラー。
type DigestHandler struct {
	generator DigestGenerator
	defaults  DigestDefaults
	logger    *slog.Logger
}

// NewDigestHandler はDigestHandlerを生成する。
func NewDigestHandler(generator DigestGenerator, defaults DigestDefaults, logger *slog.Logger) *DigestHandler {
	return &DigestHandler{
		generator: generator,
		defaults:  defaults,
		logger:    logger,
	}
}

// generateDigestRequest はPOSTリクエストのボディ。省略されたフィールドは既定値を使う。
type generateDigestRequest struct {
	StoryLimit *int `json:"story_limit"`
	HoursBack  *int `json:"hours_back"`
}

// GetDigest はクエリパラメータ limit, hours に従ってダイジェストを返す。
// GET /api/digest
func (h *DigestHandler) GetDigest(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.queryInt(w, r, "limit", h.defaults.StoryLimit)
	if !ok {
		return
	}
	hours, ok := h.queryInt(w, r, "hours", h.defaults.HoursBack)
	if !ok {
		return
	}

	h.respondDigest(w, r, model.DigestParams{StoryLimit: limit, HoursBack: hours})
}

// PostDigest はJSONボディ {"story_limit":N,"hours_back":H} に従ってダイジェストを返す。
// POST /api/digest
func (h *DigestHandler) PostDigest(w http.ResponseWriter, r *http.Request) {
	var req generateDigestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	params := model.DigestParams{StoryLimit: h.defaults.StoryLimit, HoursBack: h.defaults.HoursBack}
	if req.StoryLimit != nil {
		params.StoryLimit = *req.StoryLimit
	}
	if req.HoursBack != nil {
		params.HoursBack = *req.HoursBack
	}

	h.respondDigest(w, r, params)
}

// respondDigest はパラメータを検証してから生成を呼び出す。
// 範囲外のパラメータは生成を開始せずに400を返す。
func (h *DigestHandler) respondDigest(w http.ResponseWriter, r *http.Request, params model.DigestParams) {
	if err := params.Validate(); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	d, err := h.generator.Generate(r.Context(), model.GenerateConfig{
		StoryLimit:  params.StoryLimit,
		HoursBack:   params.HoursBack,
		Credentials: h.defaults.Credentials,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// queryInt は整数のクエリパラメータを読む。未指定の場合はfallbackを返す。
// 整数でない場合は400を書き込みfalseを返す。
func (h *DigestHandler) queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidParameterError(name, name+" must be an integer"))
		return 0, false
	}
	return v, true
}
