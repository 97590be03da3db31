package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/techdigest/internal/model"
)

// PostgresCacheRepo はPostgreSQLを使用したキャッシュリポジトリ。
type PostgresCacheRepo struct {
	db *sql.DB
}

// NewPostgresCacheRepo はPostgresCacheRepoを生成する。
func NewPostgresCacheRepo(db *sql.DB) *PostgresCacheRepo {
	return &PostgresCacheRepo{db: db}
}

var _ CacheEntryRepository = (*PostgresCacheRepo)(nil)

// List は条件に一致するキャッシュ行を作成日時の新しい順に返す。
func (r *PostgresCacheRepo) List(ctx context.Context, filter CacheEntryFilter) ([]model.CacheEntry, error) {
	query := `SELECT id, cache_key, payload, params, created_at FROM digest_cache WHERE true`
	var args []interface{}
	argIndex := 1

	if filter.Key != "" {
		query += fmt.Sprintf(" AND cache_key = $%d", argIndex)
		args = append(args, filter.Key)
		argIndex++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(" AND created_at > $%d", argIndex)
		args = append(args, filter.CreatedAfter)
		argIndex++
	}
	if !filter.CreatedBefore.IsZero() {
		query += fmt.Sprintf(" AND created_at < $%d", argIndex)
		args = append(args, filter.CreatedBefore)
		argIndex++
	}
	if filter.ExcludeID != "" {
		query += fmt.Sprintf(" AND id <> $%d", argIndex)
		args = append(args, filter.ExcludeID)
		argIndex++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
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
		if err := rows.Scan(&e.ID, &e.Key, &e.Payload, &e.Params, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("キャッシュ行の読み取りに失敗しました: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("キャッシュ行の走査に失敗しました: %w", err)
	}

	return entries, nil
}

// Create はキャッシュ行を作成する。
// lib/pqは[]byteをbyteaとして送るため、JSONB列には文字列で渡す。
func (r *PostgresCacheRepo) Create(ctx context.Context, entry *model.CacheEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO digest_cache (id, cache_key, payload, params, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.Key, string(entry.Payload), string(entry.Params), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("キャッシュ行の作成に失敗しました: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのキャッシュ行を削除する。
func (r *PostgresCacheRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM digest_cache WHERE id = $1`, id); err != nil {
		return fmt.Errorf("キャッシュ行の削除に失敗しました: %w", err)
	}
	return nil
}
