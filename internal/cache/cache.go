// Package cache は生成済みダイジェストのキャッシュを提供する。
// キーは粗い時間バケットから導出されるため、同一バケット内の同一パラメータは同じキーに衝突する。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/hitoshi/techdigest/internal/model"
)

// DefaultTTL はキャッシュの既定の有効期間。キーの時間バケット幅も兼ねる。
const DefaultTTL = 45 * time.Minute

// Backend名。メトリクスのラベルにも使用する。
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Cache はダイジェストキャッシュの契約。
// 実装は複数のgoroutineから同時に呼び出されても安全でなければならない。
type Cache interface {
	// Get は有効なエントリがあればキャッシュメタデータ付きのダイジェストを返す。
	// ミスまたは期限切れの場合はnilを返す。
	Get(ctx context.Context, params model.DigestParams) *model.Digest

	// Set はダイジェストを認証情報を除いて保存する。
	// 保存失敗はログに記録され、呼び出し側には伝播しない。
	Set(ctx context.Context, params model.DigestParams, digest *model.Digest)

	// Clear は全エントリを削除し、削除件数を返す。
	Clear(ctx context.Context) (int, error)

	// Stats はキャッシュの統計情報を返す。
	Stats(ctx context.Context) (model.CacheStats, error)

	// Sweep は期限切れのエントリを削除し、削除件数を返す。
	Sweep(ctx context.Context) (int, error)

	// Backend はバックエンド名を返す。
	Backend() string
}

// Key はパラメータと時刻からキャッシュキーを導出する。
// windowごとにキーが1回だけ変わる。1ms未満のwindowは1msとして扱う。
func Key(params model.DigestParams, now time.Time, window time.Duration) string {
	bucket := now.UnixMilli() / max(window.Milliseconds(), 1)
	return fmt.Sprintf("digest_%d_%d_%d", params.StoryLimit, params.HoursBack, bucket)
}

// encodeDigest は認証情報とキャッシュメタデータを除いたダイジェストをJSONにする。
func encodeDigest(d *model.Digest) ([]byte, error) {
	payload, err := json.Marshal(d.WithoutSecrets())
	if err != nil {
		return nil, fmt.Errorf("failed to encode digest: %w", err)
	}
	return payload, nil
}

func decodeDigest(payload []byte) (*model.Digest, error) {
	var d model.Digest
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("failed to decode cached digest: %w", err)
	}
	return &d, nil
}

// hitInfo はキャッシュヒット時に付与するメタデータを組み立てる。
func hitInfo(d *model.Digest, createdAt, now time.Time) model.CacheInfo {
	served := now
	return model.CacheInfo{
		Cached:      true,
		GeneratedAt: d.GeneratedAt,
		ServedAt:    &served,
		AgeMinutes:  ageMinutes(now.Sub(createdAt)),
	}
}

func ageMinutes(age time.Duration) int {
	return int(math.Round(age.Minutes()))
}

// toMB はバイト数をMB単位で小数第2位に丸める。
func toMB(bytes int) float64 {
	return math.Round(float64(bytes)/(1024*1024)*100) / 100
}
