package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/techdigest/internal/model"
)

// SQLiteCacheRepo はSQLiteを使用したキャッシュリポジトリ。
// created_atはUnixナノ秒で保存する。
type SQLiteCacheRepo struct {
	db *sql.DB
}

// NewSQLiteCacheRepo はSQLiteCacheRepoを生成する。
func NewSQLiteCacheRepo(db *sql.DB) *SQLiteCacheRepo {
	return &SQLiteCacheRepo{db: db}
}

var _ CacheEntryRepository = (*SQLiteCacheRepo)(nil)

// List は条件に一致するキャッシュ行を作成日時の新しい順に返す。
func (r *SQLiteCacheRepo) List(ctx context.Context, filter CacheEntryFilter) ([]model.CacheEntry, error) {
	query := `SELECT id, cache_key, payload, params, created_at FROM digest_cache WHERE 1 = 1`
	var args []interface{}

	if filter.Key != "" {
		query += " AND cache_key = ?"
		args = append(args, filter.Key)
	}
	if !filter.CreatedAfter.IsZero() {
		query += " AND created_at > ?"
		args = append(args, filter.CreatedAfter.UnixNano())
	}
	if !filter.CreatedBefore.IsZero() {
		query += " AND created_at < ?"
		args = append(args, filter.CreatedBefore.UnixNano())
	}
	if filter.ExcludeID != "" {
		query += " AND id <> ?"
		args = append(args, filter.ExcludeID)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("キャッシュ行の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []model.CacheEntry
	for rows.Next() {
		var e model.CacheEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Key, &e.Payload, &e.Params, &createdAt); err != nil {
			return nil, fmt.Errorf("キャッシュ行の読み取りに失敗しました: %w", err)
		}
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("キャッシュ行の走査に失敗しました: %w", err)
	}

	return entries, nil
}

// Create はキャッシュ行を作成する。
func (r *SQLiteCacheRepo) Create(ctx context.Context, entry *model.CacheEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO digest_cache (id, cache_key, payload, params, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Key, entry.Payload, entry.Params, entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("キャッシュ行の作成に失敗しました: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのキャッシュ行を削除する。
func (r *SQLiteCacheRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM digest_cache WHERE id = ?`, id); err != nil {
		return fmt.Errorf("キャッシュ行の削除に失敗しました: %w", err)
	}
	return nil
}
