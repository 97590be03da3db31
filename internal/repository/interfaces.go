// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/techdigest/internal/model"
)

// CacheEntryFilter はキャッシュ行の検索条件。ゼロ値の条件は適用しない。
type CacheEntryFilter struct {
	Key           string
	CreatedAfter  time.Time // この時刻より後に作成された行のみ
	CreatedBefore time.Time // この時刻より前に作成された行のみ
	ExcludeID     string
	Limit         int
}

// CacheEntryRepository はダイジェストキャッシュ行の永続化インターフェース。
type CacheEntryRepository interface {
	// List は条件に一致する行を作成日時の新しい順に返す。
	List(ctx context.Context, filter CacheEntryFilter) ([]model.CacheEntry, error)

	// Create はキャッシュ行を作成する。IDとCreatedAtは呼び出し側が設定する。
	Create(ctx context.Context, entry *model.CacheEntry) error

	// DeleteByID は指定IDの行を削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
}
