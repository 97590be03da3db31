package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 要約バックエンドの種類。
const (
	SummarizerOpenAI = "openai"
	SummarizerGemini = "gemini"
)

// ストーリー取得元の種類。
const (
	SourceHackerNews = "hackernews"
	SourceRSS        = "rss"
)

// キャッシュバックエンドの種類。
const (
	CacheMemory   = "memory"
	CachePostgres = "postgres"
	CacheSQLite   = "sqlite"
)

// MinCacheTTL はCACHE_TTLの下限。TTLはキャッシュキーの時間枠も兼ねる。
const MinCacheTTL = time.Minute

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Summarizer
	SummarizerProvider string
	SummarizerAPIKey   string
	SummarizerModel    string
	SummarizeTimeout   time.Duration

	// Story source
	StorySource        string
	HNAPIBaseURL       string
	RSSFeedURL         string
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int

	// Cache
	CacheBackend string
	CacheTTL     time.Duration
	DatabaseURL  string
	SQLitePath   string

	// Digest defaults
	DefaultStoryLimit int
	DefaultHoursBack  int

	// Schedule
	DigestSchedule   string
	ScheduleTimezone string
	DigestOutputDir  string
	CleanupInterval  time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitDigest  int

	// Server
	ServerPort        string
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 不正な値や条件付き必須の環境変数が未設定の場合はエラーを返す。
// 要約用のAPIキーは未設定でも読み込みは成功し、ダイジェスト生成時にエラーとなる。
func Load() (*Config, error) {
	cfg := &Config{}

	var invalid []string

	cfg.SummarizerProvider = strings.ToLower(getEnvString("SUMMARIZER_PROVIDER", SummarizerOpenAI))
	switch cfg.SummarizerProvider {
	case SummarizerOpenAI:
		cfg.SummarizerAPIKey = getEnvString("SUMMARIZER_API_KEY", os.Getenv("OPENAI_API_KEY"))
		cfg.SummarizerModel = getEnvString("SUMMARIZER_MODEL", "gpt-3.5-turbo")
	case SummarizerGemini:
		cfg.SummarizerAPIKey = getEnvString("SUMMARIZER_API_KEY", os.Getenv("GEMINI_API_KEY"))
		cfg.SummarizerModel = getEnvString("SUMMARIZER_MODEL", "gemini-2.0-flash")
	default:
		invalid = append(invalid, "SUMMARIZER_PROVIDER")
	}

	cfg.StorySource = strings.ToLower(getEnvString("STORY_SOURCE", SourceHackerNews))
	if cfg.StorySource != SourceHackerNews && cfg.StorySource != SourceRSS {
		invalid = append(invalid, "STORY_SOURCE")
	}

	cfg.CacheBackend = strings.ToLower(getEnvString("CACHE_BACKEND", CacheMemory))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	switch cfg.CacheBackend {
	case CacheMemory, CacheSQLite:
	case CachePostgres:
		if cfg.DatabaseURL == "" {
			invalid = append(invalid, "DATABASE_URL")
		}
	default:
		invalid = append(invalid, "CACHE_BACKEND")
	}

	cfg.CacheTTL = getEnvDuration("CACHE_TTL", 45*time.Minute)
	if cfg.CacheTTL < MinCacheTTL {
		invalid = append(invalid, "CACHE_TTL")
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("environment variables are missing or invalid: %v", invalid)
	}

	// Optional fields with defaults
	cfg.SummarizeTimeout = getEnvDuration("SUMMARIZE_TIMEOUT", 30*time.Second)
	cfg.HNAPIBaseURL = strings.TrimRight(getEnvString("HN_API_BASE_URL", "https://hacker-news.firebaseio.com/v0"), "/")
	cfg.RSSFeedURL = getEnvString("RSS_FEED_URL", "https://hnrss.org/frontpage")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 10)
	cfg.SQLitePath = getEnvString("SQLITE_PATH", "data/techdigest.db")
	cfg.DefaultStoryLimit = getEnvInt("DEFAULT_STORY_LIMIT", 12)
	cfg.DefaultHoursBack = getEnvInt("DEFAULT_HOURS_BACK", 24)
	cfg.DigestSchedule = getEnvString("DIGEST_SCHEDULE", "daily")
	cfg.ScheduleTimezone = getEnvString("SCHEDULE_TIMEZONE", "America/New_York")
	cfg.DigestOutputDir = getEnvString("DIGEST_OUTPUT_DIR", "digests")
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitDigest = getEnvInt("RATE_LIMIT_DIGEST", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// HasCredentials は要約バックエンドの認証情報が設定されているかを返す。
func (c *Config) HasCredentials() bool {
	return c.SummarizerAPIKey != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
