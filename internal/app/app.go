package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/hitoshi/techdigest/internal/config"
	"github.com/hitoshi/techdigest/internal/database"
	"github.com/hitoshi/techdigest/internal/digest"
	"github.com/hitoshi/techdigest/internal/handler"
	"github.com/hitoshi/techdigest/internal/logger"
	"github.com/hitoshi/techdigest/internal/metrics"
	"github.com/hitoshi/techdigest/internal/middleware"
	"github.com/hitoshi/techdigest/internal/model"
	"github.com/hitoshi/techdigest/internal/worker/cleanup"
	"github.com/hitoshi/techdigest/internal/worker/schedule"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルを設定値に合わせる
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("cache_backend", cfg.CacheBackend),
		slog.String("story_source", cfg.StorySource),
		slog.String("summarizer", cfg.SummarizerProvider),
	)
	if !cfg.HasCredentials() {
		slog.Warn("要約APIの認証情報が未設定です。ダイジェスト生成はエラーになります")
	}

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandGenerate:
		return runGenerate(w, cfg, args[1:])
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーとキャッシュクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. ダイジェスト生成の依存関係
	comps, err := buildComponents(ctx, cfg, collector, slog.Default())
	if err != nil {
		return err
	}
	defer comps.Close()

	// 3. キャッシュクリーンアップジョブ（メモリキャッシュはこのプロセス内でしか掃除できない）
	cleanupJob := cleanup.NewCleanupJob(comps.cache, slog.Default())
	go cleanupJob.Start(ctx, cfg.CleanupInterval)

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitDigest),
	)
	defer rateLimiter.Stop()

	var healthChecker handler.HealthChecker
	if comps.db != nil {
		healthChecker = comps.db
	}

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		Logger:            slog.Default(),
		Generator:         comps.assembler,
		Defaults: handler.DigestDefaults{
			StoryLimit:  cfg.DefaultStoryLimit,
			HoursBack:   cfg.DefaultHoursBack,
			Credentials: cfg.SummarizerAPIKey,
		},
		Cache:          comps.cache,
		HealthChecker:  healthChecker,
		MetricsHandler: metrics.Handler(reg),
	})

	// 5. HTTPサーバーの起動
	// WriteTimeoutはダイジェスト生成の所要時間より長くする
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// cronスケジュールに従ってダイジェストを生成し、ファイルに書き出す。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	comps, err := buildComponents(ctx, cfg, metrics.Nop{}, slog.Default())
	if err != nil {
		return err
	}
	defer comps.Close()

	runner, err := schedule.NewRunner(comps.assembler, schedule.Config{
		Schedule:    cfg.DigestSchedule,
		Timezone:    cfg.ScheduleTimezone,
		OutputDir:   cfg.DigestOutputDir,
		StoryLimit:  cfg.DefaultStoryLimit,
		HoursBack:   cfg.DefaultHoursBack,
		Credentials: cfg.SummarizerAPIKey,
	}, slog.Default())
	if err != nil {
		return fmt.Errorf("invalid digest schedule: %w", err)
	}

	slog.Info("worker starting",
		slog.String("schedule", cfg.DigestSchedule),
		slog.String("spec", runner.Spec()),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	cleanupJob := cleanup.NewCleanupJob(comps.cache, slog.Default())
	go cleanupJob.Start(ctx, cfg.CleanupInterval)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	if err := runner.Start(ctx); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runGenerate はダイジェストを1回生成し、JSONファイルに保存して概要を表示する。
// 引数: --limit N --hours H --output DIR
func runGenerate(w io.Writer, cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("generate", pflag.ContinueOnError)
	fs.SetOutput(w)
	limit := fs.Int("limit", cfg.DefaultStoryLimit, "number of stories to summarize (1-50)")
	hours := fs.Int("hours", cfg.DefaultHoursBack, "how many hours back to look (1-168)")
	outputDir := fs.String("output", cfg.DigestOutputDir, "directory to write the digest file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("invalid generate arguments: %w", err)
	}

	params := model.DigestParams{StoryLimit: *limit, HoursBack: *hours}
	if err := params.Validate(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	comps, err := buildComponents(ctx, cfg, metrics.Nop{}, slog.Default())
	if err != nil {
		return err
	}
	defer comps.Close()

	d, err := comps.assembler.Generate(ctx, model.GenerateConfig{
		StoryLimit:  params.StoryLimit,
		HoursBack:   params.HoursBack,
		Credentials: cfg.SummarizerAPIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to generate digest: %w", err)
	}

	path, err := digest.SaveToFile(d, *outputDir)
	if err != nil {
		return err
	}

	printDigestSummary(w, d, path)
	return nil
}

// printDigestSummary は生成したダイジェストの概要を表示する。
func printDigestSummary(w io.Writer, d *model.Digest, path string) {
	size := "unknown size"
	if info, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}

	names := make([]string, 0, len(d.Categories))
	for _, c := range d.CategoryNames() {
		names = append(names, string(c))
	}

	fmt.Fprintln(w, "Digest Summary:")
	fmt.Fprintf(w, "   Date: %s\n", d.Date)
	fmt.Fprintf(w, "   Stories: %d\n", d.Stats.Summarized)
	fmt.Fprintf(w, "   Categories: %s\n", strings.Join(names, ", "))
	fmt.Fprintf(w, "   File: %s (%s)\n", path, size)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
// SQLiteキャッシュは起動時にスキーマを作成するため対象外。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required to run migrations")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
