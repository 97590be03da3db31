// Package cleanup は期限切れキャッシュエントリの定期削除ジョブを提供する。
// キャッシュへの書き込み時に行われる掃除とは別に、書き込みがない期間も
// 期限切れエントリが残り続けないようにする。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sweeper は期限切れエントリを削除できるキャッシュのインターフェース。
// cache.Cacheの全実装が満たす。
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
	Backend() string
}

// CleanupJob は期限切れキャッシュエントリの削除ジョブ。冪等に実行できる。
type CleanupJob struct {
	cache  Sweeper
	logger *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(cache Sweeper, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		cache:  cache,
		logger: logger,
	}
}

// Run は期限切れエントリを1回削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.cache.Sweep(ctx)
	if err != nil {
		j.logger.Error("キャッシュクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.String("backend", j.cache.Backend()),
		)
		return fmt.Errorf("キャッシュクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("キャッシュクリーンアップジョブが完了しました",
		slog.Int("deleted_count", deletedCount),
		slog.String("backend", j.cache.Backend()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("キャッシュクリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.String("backend", j.cache.Backend()),
	)

	// 失敗はRun内でログ済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("キャッシュクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
