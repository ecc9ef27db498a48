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
// セッションストア、認証フォーム、APIクライアント、ソース検査から利用する。
type MetricsCollector interface {
	RecordSessionTransition(kind string)
	RecordAuthSubmission(action, outcome string)
	RecordAPIRequest(endpoint string, statusCode int, duration time.Duration)
	RecordSourceCheck(status string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionTransitions *prometheus.CounterVec
	authSubmissions    *prometheus.CounterVec
	apiRequests        *prometheus.CounterVec
	apiLatency         *prometheus.HistogramVec
	sourceChecks       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aidaily_session_transitions_total",
			Help: "セッションストアが適用した遷移の合計数",
		}, []string{"kind"}),
		authSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aidaily_auth_submissions_total",
			Help: "認証フォーム送信の合計数",
		}, []string{"action", "outcome"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aidaily_api_requests_total",
			Help: "バックエンドAPIへのリクエスト数",
		}, []string{"endpoint", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aidaily_api_request_duration_seconds",
			Help:    "バックエンドAPIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		sourceChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aidaily_feedcheck_results_total",
			Help: "ソース検査結果の区分別件数",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.sessionTransitions,
		c.authSubmissions,
		c.apiRequests,
		c.apiLatency,
		c.sourceChecks,
	)

	return c
}

// RecordSessionTransition はセッション遷移を記録する。
func (c *Collector) RecordSessionTransition(kind string) {
	c.sessionTransitions.WithLabelValues(kind).Inc()
}

// RecordAuthSubmission は認証フォームの送信結果を記録する。
func (c *Collector) RecordAuthSubmission(action, outcome string) {
	c.authSubmissions.WithLabelValues(action, outcome).Inc()
}

// RecordAPIRequest はバックエンドAPIリクエストを記録する。
// 通信エラーでレスポンスがない場合、statusCodeは0とする。
func (c *Collector) RecordAPIRequest(endpoint string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	c.apiRequests.WithLabelValues(endpoint, status).Inc()
	c.apiLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordSourceCheck はソース検査結果を記録する。
func (c *Collector) RecordSourceCheck(status string) {
	c.sourceChecks.WithLabelValues(status).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordSessionTransition(string) {}

func (Nop) RecordAuthSubmission(string, string) {}

func (Nop) RecordAPIRequest(string, int, time.Duration) {}

func (Nop) RecordSourceCheck(string) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
