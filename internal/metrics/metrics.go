// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// キャッシュ、ダイジェスト生成、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordCacheHit(backend string)
	RecordCacheMiss(backend string)
	RecordCacheWriteFailure(backend string)
	RecordCacheEvictions(backend string, count int)
	RecordGeneration(outcome string, duration time.Duration)
	RecordSummaryOutcome(outcome string)
	RecordProviderFailure()
	RecordHTTPStatus(statusCode int)
}

// 生成結果のラベル値。
const (
	OutcomeSuccess  = "success"
	OutcomeDegraded = "degraded"
	OutcomeFailure  = "failure"
	OutcomeShared   = "shared"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheWriteFailures *prometheus.CounterVec
	cacheEvictions     *prometheus.CounterVec
	generations        *prometheus.CounterVec
	generationLatency  prometheus.Histogram
	summaries          *prometheus.CounterVec
	providerFailures   prometheus.Counter
	httpStatus         *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techdigest_cache_hits_total",
			Help: "キャッシュヒット数",
		}, []string{"backend"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techdigest_cache_misses_total",
			Help: "キャッシュミス数",
		}, []string{"backend"}),
		cacheWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techdigest_cache_write_failures_total",
			Help: "キャッシュ書き込み失敗数",
		}, []string{"backend"}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techdigest_cache_evictions_total",
			Help: "期限切れにより削除されたキャッシュエントリ数",
		}, []string{"backend"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techdigest_digest_generations_total",
			Help: "結果別のダイジェスト生成数",
		}, []string{"outcome"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "techdigest_digest_generation_seconds",
			Help:    "ダイジェスト生成のレイテンシ（秒）",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techdigest_summaries_total",
			Help: "結果別のストーリー要約数",
		}, []string{"outcome"}),
		providerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "techdigest_provider_failures_total",
			Help: "ストーリー提供元の全面障害数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "techdigest_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.cacheHits,
		c.cacheMisses,
		c.cacheWriteFailures,
		c.cacheEvictions,
		c.generations,
		c.generationLatency,
		c.summaries,
		c.providerFailures,
		c.httpStatus,
	)

	return c
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit(backend string) {
	c.cacheHits.WithLabelValues(backend).Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(backend string) {
	c.cacheMisses.WithLabelValues(backend).Inc()
}

// RecordCacheWriteFailure はキャッシュ書き込み失敗を記録する。
func (c *Collector) RecordCacheWriteFailure(backend string) {
	c.cacheWriteFailures.WithLabelValues(backend).Inc()
}

// RecordCacheEvictions は期限切れエントリの削除数を記録する。
func (c *Collector) RecordCacheEvictions(backend string, count int) {
	if count <= 0 {
		return
	}
	c.cacheEvictions.WithLabelValues(backend).Add(float64(count))
}

// RecordGeneration はダイジェスト生成の結果とレイテンシを記録する。
func (c *Collector) RecordGeneration(outcome string, duration time.Duration) {
	c.generations.WithLabelValues(outcome).Inc()
	if outcome != OutcomeShared {
		c.generationLatency.Observe(duration.Seconds())
	}
}

// RecordSummaryOutcome はストーリー要約の結果を記録する。
func (c *Collector) RecordSummaryOutcome(outcome string) {
	c.summaries.WithLabelValues(outcome).Inc()
}

// RecordProviderFailure はストーリー提供元の全面障害を記録する。
func (c *Collector) RecordProviderFailure() {
	c.providerFailures.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordCacheHit(string) {}
func (Nop) RecordCacheMiss(string) {}
func (Nop) RecordCacheWriteFailure(string) {}
func (Nop) RecordCacheEvictions(string, int) {}
func (Nop) RecordGeneration(string, time.Duration) {}
func (Nop) RecordSummaryOutcome(string) {}
func (Nop) RecordProviderFailure() {}
func (Nop) RecordHTTPStatus(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
