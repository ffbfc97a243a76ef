// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/carelink/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordGuardDecision(outcome string)
	RecordLogin(result string)
	RecordSessionTransition(s model.Session)
	RecordRecoveredSession(reason string)
	ObserveBackendResponse(operation string, status int, d time.Duration)
	ObserveSlotComputation(d time.Duration, result string)
	RecordHTTPStatus(statusCode int)
	RecordCleanup(deleted int64, err error)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	guardDecisions     *prometheus.CounterVec
	logins             *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
	recoveredSessions  *prometheus.CounterVec
	backendResponses   *prometheus.CounterVec
	backendLatency     *prometheus.HistogramVec
	slotComputation    *prometheus.HistogramVec
	httpStatus         *prometheus.CounterVec
	cleanupRuns        *prometheus.CounterVec
	cleanupDeleted     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_guard_decisions_total",
			Help: "アクセスガードの判定結果別の件数",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_logins_total",
			Help: "ログイン結果別の件数",
		}, []string{"result"}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_session_transitions_total",
			Help: "セッション状態の遷移数（遷移後の状態別）",
		}, []string{"state"}),
		recoveredSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_recovered_sessions_total",
			Help: "破損した永続化セッションを破棄した件数",
		}, []string{"reason"}),
		backendResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_backend_responses_total",
			Help: "バックエンドAPIの操作・ステータスコード別のレスポンス数",
		}, []string{"operation", "status_code"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carelink_backend_latency_seconds",
			Help:    "バックエンドAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		slotComputation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carelink_slot_computation_seconds",
			Help:    "予約枠算出にかかった時間（秒）",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		cleanupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_cleanup_runs_total",
			Help: "クライアント状態クリーンアップの実行結果別の回数",
		}, []string{"result"}),
		cleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_cleanup_deleted_rows_total",
			Help: "クリーンアップで削除したクライアント状態の行数",
		}),
	}

	reg.MustRegister(
		c.guardDecisions,
		c.logins,
		c.sessionTransitions,
		c.recoveredSessions,
		c.backendResponses,
		c.backendLatency,
		c.slotComputation,
		c.httpStatus,
		c.cleanupRuns,
		c.cleanupDeleted,
	)

	return c
}

// RecordGuardDecision はアクセスガードの判定結果を記録する。
func (c *Collector) RecordGuardDecision(outcome string) {
	c.guardDecisions.WithLabelValues(outcome).Inc()
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordSessionTransition はセッションの遷移を記録する。
// session.Observerとして登録できる形はSessionObserverを使う。
func (c *Collector) RecordSessionTransition(s model.Session) {
	state := "signed_out"
	if s.Authenticated() {
		state = "signed_in"
	}
	c.sessionTransitions.WithLabelValues(state).Inc()
}

// SessionObserver はsession.Manager.Observeに渡すコールバックを返す。
func (c *Collector) SessionObserver() func(clientID string, s model.Session) {
	return func(_ string, s model.Session) {
		c.RecordSessionTransition(s)
	}
}

// RecordRecoveredSession は破損セッションの破棄を記録する。
func (c *Collector) RecordRecoveredSession(reason string) {
	c.recoveredSessions.WithLabelValues(reason).Inc()
}

// ObserveBackendResponse はバックエンドAPIのレスポンスを記録する。
// 通信自体に失敗した場合、statusは0になる。
func (c *Collector) ObserveBackendResponse(operation string, status int, d time.Duration) {
	c.backendResponses.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	c.backendLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveSlotComputation は予約枠算出の所要時間を記録する。
func (c *Collector) ObserveSlotComputation(d time.Duration, result string) {
	c.slotComputation.WithLabelValues(result).Observe(d.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCleanup はクリーンアップジョブの実行結果を記録する。
func (c *Collector) RecordCleanup(deleted int64, err error) {
	if err != nil {
		c.cleanupRuns.WithLabelValues("failure").Inc()
		return
	}
	c.cleanupRuns.WithLabelValues("success").Inc()
	c.cleanupDeleted.Add(float64(deleted))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントのみを提供するHTTPハンドラーを返す。
// APIサーバーを持たないワーカーがPrometheusスクレイプに応答するために使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
