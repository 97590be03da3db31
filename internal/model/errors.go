package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, config, provider, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidParameter    = "INVALID_PARAMETER"
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewInvalidParameterError はリクエストパラメータ不正エラーを生成する。
func NewInvalidParameterError(param, message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidParameter,
		Message:  message,
		Category: "validation",
		Action:   fmt.Sprintf("パラメータ %s の値を確認してください。", param),
	}
}

// NewConfigurationAPIError は設定不備エラーを生成する。
func NewConfigurationAPIError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeConfiguration,
		Message:  message,
		Category: "config",
		Action:   "サーバーの環境変数（SUMMARIZER_API_KEY など）を設定してください。",
	}
}

// NewProviderUnavailableError はストーリー提供元の障害エラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "ストーリー提供元に接続できないため、ダイジェストを生成できませんでした。",
		Category: "provider",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// ConfigurationError は設定不備による致命的エラー。
// ネットワーク呼び出しの前に生成を中断する。
type ConfigurationError struct {
	Setting string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %s", e.Setting, e.Message)
}

// NewMissingCredentialsError は要約用の認証情報が未設定であることを示すエラーを生成する。
func NewMissingCredentialsError() *ConfigurationError {
	return &ConfigurationError{
		Setting: "SUMMARIZER_API_KEY",
		Message: "summarization API key is required. Set SUMMARIZER_API_KEY (or OPENAI_API_KEY) environment variable.",
	}
}

var (
	// ErrProviderUnavailable はストーリー提供元が全面的に利用できないことを示す。
	ErrProviderUnavailable = errors.New("story provider unavailable")

	// ErrNotInitialized は初期化前に要約クライアントが使用されたことを示す。
	ErrNotInitialized = errors.New("summarization client not initialized: call Initialize first")
)

// CachePersistenceError はキャッシュの永続化に失敗したことを示す。
// 生成結果の返却は妨げない。
type CachePersistenceError struct {
	Op  string
	Key string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *CachePersistenceError) Error() string {
	return fmt.Sprintf("cache %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *CachePersistenceError) Unwrap() error {
	return e.Err
}
