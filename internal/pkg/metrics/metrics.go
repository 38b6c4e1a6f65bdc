package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はアプリケーションのメトリクスを管理する
type Metrics struct {
	// HTTPリクエストの総数（method, path, status_code）
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPリクエストのレイテンシ（method, path）
	HTTPRequestDuration *prometheus.HistogramVec

	// トランザクション操作の総数（operation: begin/commit/rollback, status: success/failed/refused）
	TxOperationsTotal *prometheus.CounterVec

	// コミット失敗後の補償ロールバック（status: success/failed）
	CompensatingRollbacksTotal *prometheus.CounterVec

	// 文の実行時間（statement: BEGIN, SAVEPOINT, COMMIT ...）
	StatementDuration *prometheus.HistogramVec

	// 破損として破棄されたコネクション数
	BrokenConnectionsTotal prometheus.Counter

	// 競合プローブの結果（outcome: committed, serialization_failure, error）
	ProbeOutcomesTotal *prometheus.CounterVec
}

// New は新しいMetricsインスタンスを作成し、デフォルトレジストリに登録する
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry は指定したレジストリにメトリクスを登録する
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		TxOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tx_operations_total",
				Help: "Total number of transaction manager operations",
			},
			[]string{"operation", "status"},
		),
		CompensatingRollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tx_compensating_rollbacks_total",
				Help: "Rollbacks issued after a serialization or read-only commit failure",
			},
			[]string{"status"},
		),
		StatementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tx_statement_duration_seconds",
				Help:    "Time spent executing transaction control statements",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"statement"},
		),
		BrokenConnectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tx_broken_connections_total",
				Help: "Connections left with an uncommittable, unabortable transaction",
			},
		),
		ProbeOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probe_outcomes_total",
				Help: "Outcomes of serializable conflict probe transactions",
			},
			[]string{"outcome"},
		),
	}

	// レジストリに登録
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TxOperationsTotal,
		m.CompensatingRollbacksTotal,
		m.StatementDuration,
		m.BrokenConnectionsTotal,
		m.ProbeOutcomesTotal,
	)

	return m
}

// ObserveTxOperation はトランザクション操作の結果を記録する
func (m *Metrics) ObserveTxOperation(operation, status string) {
	m.TxOperationsTotal.WithLabelValues(operation, status).Inc()
}

// ObserveCompensatingRollback は補償ロールバックの結果を記録する
func (m *Metrics) ObserveCompensatingRollback(status string) {
	m.CompensatingRollbacksTotal.WithLabelValues(status).Inc()
}

// ObserveStatement は文の実行時間を記録する
func (m *Metrics) ObserveStatement(statement string, d time.Duration) {
	m.StatementDuration.WithLabelValues(statement).Observe(d.Seconds())
}

// ObserveBrokenConnection は破損したコネクションを記録する
func (m *Metrics) ObserveBrokenConnection() {
	m.BrokenConnectionsTotal.Inc()
}

// ObserveProbeOutcome はプローブの結果を記録する
func (m *Metrics) ObserveProbeOutcome(outcome string, n int) {
	m.ProbeOutcomesTotal.WithLabelValues(outcome).Add(float64(n))
}

// デフォルトのメトリクスインスタンス
var defaultMetrics *Metrics

// Init はデフォルトのメトリクスインスタンスを初期化する
func Init() *Metrics {
	defaultMetrics = New()
	return defaultMetrics
}

// Get はデフォルトのメトリクスインスタンスを返す
func Get() *Metrics {
	return defaultMetrics
}
