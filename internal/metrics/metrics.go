// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲート、オンボーディング判定、キャッシュから利用する。
type MetricsCollector interface {
	RecordDecision(rule, action string)
	RecordSessionFailure()
	RecordProfileLookupFailure(kind string)
	RecordProfileLookupLatency(duration time.Duration)
	RecordCacheRequest(hit bool)
	RecordCacheInvalidation(source string)
	RecordListenerFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	decisions       *prometheus.CounterVec
	sessionFailures prometheus.Counter
	lookupFailures  *prometheus.CounterVec
	lookupLatency   prometheus.Histogram
	cacheRequests   *prometheus.CounterVec
	invalidations   *prometheus.CounterVec
	listenerFails   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "padelgate_gate_decisions_total",
			Help: "判定ルール・アクション別のゲート判定数",
		}, []string{"rule", "action"}),
		sessionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "padelgate_session_failures_total",
			Help: "セッション解決に失敗した回数",
		}),
		lookupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "padelgate_profile_lookup_failures_total",
			Help: "プロフィール種別ごとの検索失敗数",
		}, []string{"kind"}),
		lookupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "padelgate_profile_lookup_seconds",
			Help:    "オンボーディング状態の解決にかかった時間（秒）",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "padelgate_cache_requests_total",
			Help: "オンボーディング状態キャッシュの参照数",
		}, []string{"result"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "padelgate_cache_invalidations_total",
			Help: "通知元別のキャッシュ無効化数",
		}, []string{"source"}),
		listenerFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "padelgate_listener_failures_total",
			Help: "プロフィール変更通知の購読開始に失敗した回数",
		}),
	}

	reg.MustRegister(
		c.decisions,
		c.sessionFailures,
		c.lookupFailures,
		c.lookupLatency,
		c.cacheRequests,
		c.invalidations,
		c.listenerFails,
	)

	return c
}

// RecordDecision はゲート判定を記録する。
func (c *Collector) RecordDecision(rule, action string) {
	c.decisions.WithLabelValues(rule, action).Inc()
}

// RecordSessionFailure はセッション解決の失敗を記録する。
func (c *Collector) RecordSessionFailure() {
	c.sessionFailures.Inc()
}

// RecordProfileLookupFailure はプロフィール種別の検索失敗を記録する。
func (c *Collector) RecordProfileLookupFailure(kind string) {
	c.lookupFailures.WithLabelValues(kind).Inc()
}

// RecordProfileLookupLatency はオンボーディング状態解決のレイテンシを記録する。
func (c *Collector) RecordProfileLookupLatency(duration time.Duration) {
	c.lookupLatency.Observe(duration.Seconds())
}

// RecordCacheRequest はキャッシュ参照の結果を記録する。
func (c *Collector) RecordCacheRequest(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheRequests.WithLabelValues(result).Inc()
}

// RecordCacheInvalidation はキャッシュ無効化を記録する。sourceは listen または webhook。
func (c *Collector) RecordCacheInvalidation(source string) {
	c.invalidations.WithLabelValues(source).Inc()
}

// RecordListenerFailure は通知購読の失敗を記録する。
// 増加し続ける場合、キャッシュはTTL満了まで古い状態を返しうる。
func (c *Collector) RecordListenerFailure() {
	c.listenerFails.Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordDecision(string, string)            {}
func (Nop) RecordSessionFailure()                    {}
func (Nop) RecordProfileLookupFailure(string)        {}
func (Nop) RecordProfileLookupLatency(time.Duration) {}
func (Nop) RecordCacheRequest(bool)                  {}
func (Nop) RecordCacheInvalidation(string)           {}
func (Nop) RecordListenerFailure()                   {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
