// Package schedule はcron式に従ってダイジェストを定期生成し、ファイルに書き出すワーカーを提供する。
// 連続して失敗した場合はバックオフ期間中の実行をスキップする。
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/techdigest/internal/digest"
	"github.com/hitoshi/techdigest/internal/model"
)

// Presets はスケジュール名とcron式の対応。
var Presets = map[string]string{
	"daily":     "0 8 * * *",
	"sixHourly": "0 */6 * * *",
	"hourly":    "0 * * * *",
	"testing":   "*/5 * * * *",
}

// ResolveSpec はプリセット名またはcron式を検証済みのcron式に変換する。
func ResolveSpec(schedule string) (string, error) {
	spec := strings.TrimSpace(schedule)
	if preset, ok := Presets[spec]; ok {
		spec = preset
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return "", fmt.Errorf("invalid cron pattern %q: %w", schedule, err)
	}
	return spec, nil
}

// Generator はダイジェスト生成のインターフェース。
type Generator interface {
	Generate(ctx context.Context, cfg model.GenerateConfig) (*model.Digest, error)
}

var _ Generator = (*digest.Assembler)(nil)

// Config は定期生成の設定。
type Config struct {
	Schedule    string // プリセット名またはcron式
	Timezone    string
	OutputDir   string
	StoryLimit  int
	HoursBack   int
	Credentials string
}

// Runner はcronスケジュールに従ってダイジェストを生成する。
type Runner struct {
	generator Generator
	config    Config
	spec      string
	cron      *cron.Cron
	logger    *slog.Logger
	now       func() time.Time
	save      func(d *model.Digest, dir string) (string, error)

	mu                sync.Mutex
	consecutiveErrors int
	backoffUntil      time.Time
}

// NewRunner はRunnerを生成する。スケジュールとタイムゾーンはここで検証する。
func NewRunner(generator Generator, cfg Config, logger *slog.Logger) (*Runner, error) {
	spec, err := ResolveSpec(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	return &Runner{
		generator: generator,
		config:    cfg,
		spec:      spec,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger,
		now:    time.Now,
		save:   digest.SaveToFile,
	}, nil
}

// Spec は解決済みのcron式を返す。
func (r *Runner) Spec() string {
	return r.spec
}

// Start はスケジューラを起動し、コンテキストがキャンセルされるまでブロックする。
// 停止時は実行中の生成が終わるのを待つ。
func (r *Runner) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.spec, func() {
		if err := r.RunOnce(ctx); err != nil {
			r.logger.Error("定期ダイジェスト生成に失敗しました", slog.String("error", err.Error()))
		}
		r.logNextRun()
	}); err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}

	r.cron.Start()
	r.logger.Info("ダイジェストスケジューラを開始しました",
		slog.String("schedule", r.config.Schedule),
		slog.String("spec", r.spec),
		slog.String("timezone", r.config.Timezone),
	)
	r.logNextRun()

	<-ctx.Done()
	<-r.cron.Stop().Done()
	r.logger.Info("ダイジェストスケジューラを停止しました")
	return nil
}

// NextRun は次回の実行予定時刻を返す。未起動の場合はゼロ値。
func (r *Runner) NextRun() time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (r *Runner) logNextRun() {
	if next := r.NextRun(); !next.IsZero() {
		r.logger.Info("次回のダイジェスト生成予定", slog.Time("next_run", next))
	}
}

// RunOnce はダイジェストを1回生成してファイルに書き出す。
// バックオフ中の場合は何もせずnilを返す。
func (r *Runner) RunOnce(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.now()
	if !r.backoffUntil.IsZero() && start.Before(r.backoffUntil) {
		r.logger.Info("ダイジェスト生成はバックオフ中のためスキップします",
			slog.Time("backoff_until", r.backoffUntil),
		)
		return nil
	}

	d, err := r.generator.Generate(ctx, model.GenerateConfig{
		StoryLimit:  r.config.StoryLimit,
		HoursBack:   r.config.HoursBack,
		Credentials: r.config.Credentials,
	})
	if err != nil {
		r.recordFailure(start)
		return fmt.Errorf("failed to generate digest: %w", err)
	}

	path, err := r.save(d, r.config.OutputDir)
	if err != nil {
		r.recordFailure(start)
		return fmt.Errorf("failed to save digest: %w", err)
	}

	r.consecutiveErrors = 0
	r.backoffUntil = time.Time{}

	r.logger.Info("定期ダイジェストを生成しました",
		slog.String("date", d.Date),
		slog.Int("stories", d.Stats.Summarized),
		slog.Int("categories", len(d.Categories)),
		slog.String("file", path),
		slog.Float64("duration_ms", float64(r.now().Sub(start).Milliseconds())),
	)
	return nil
}

// recordFailure は連続失敗回数を加算し、必要ならバックオフを設定する。
func (r *Runner) recordFailure(now time.Time) {
	r.consecutiveErrors++
	if backoff := calculateErrorBackoff(r.consecutiveErrors); backoff > 0 {
		r.backoffUntil = now.Add(backoff)
		r.logger.Warn("連続エラーのためダイジェスト生成をバックオフします",
			slog.Int("consecutive_errors", r.consecutiveErrors),
			slog.Duration("backoff_duration", backoff),
		)
	}
}

// calculateErrorBackoff は連続エラー回数に基づくバックオフ時間を計算する。
// 3回連続: 30分、5回連続: 1時間、10回連続: 6時間。
func calculateErrorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 6 * time.Hour
	case consecutiveErrors >= 5:
		return 1 * time.Hour
	case consecutiveErrors >= 3:
		return 30 * time.Minute
	default:
		return 0
	}
}
