// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベル
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ワーカー・HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordSignIn(outcome string)
	RecordAnalysisCreated()
	RecordResultRecorded(classification string, analysisTime time.Duration)
	RecordWriteRejected(operation string, kind string)
	RecordBackfill(outcome string)
	RecordRetentionDeleted(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIns          *prometheus.CounterVec
	analysesCreated  prometheus.Counter
	resultsRecorded  *prometheus.CounterVec
	analysisTime     prometheus.Histogram
	writesRejected   *prometheus.CounterVec
	backfills        *prometheus.CounterVec
	retentionDeleted prometheus.Counter
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forensiclab_sign_ins_total",
			Help: "OAuthサインインの試行数（結果別）",
		}, []string{"outcome"}),
		analysesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forensiclab_analyses_created_total",
			Help: "登録された画像解析の合計数",
		}),
		resultsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forensiclab_results_recorded_total",
			Help: "記録された解析結果の合計数（判定別）",
		}, []string{"classification"}),
		analysisTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forensiclab_analysis_time_seconds",
			Help:    "解析エンジンが報告した解析時間（秒）",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		writesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forensiclab_writes_rejected_total",
			Help: "拒否された書き込みの数（操作・エラー分類別）",
		}, []string{"operation", "kind"}),
		backfills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forensiclab_dimension_backfill_total",
			Help: "画像サイズ補完の処理数（結果別）",
		}, []string{"outcome"}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forensiclab_retention_deleted_total",
			Help: "保持期間超過で削除された画像解析の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forensiclab_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.signIns,
		c.analysesCreated,
		c.resultsRecorded,
		c.analysisTime,
		c.writesRejected,
		c.backfills,
		c.retentionDeleted,
		c.httpStatus,
	)

	return c
}

// RecordSignIn はサインインの結果を記録する。
func (c *Collector) RecordSignIn(outcome string) {
	c.signIns.WithLabelValues(outcome).Inc()
}

// RecordAnalysisCreated は画像解析の登録を記録する。
func (c *Collector) RecordAnalysisCreated() {
	c.analysesCreated.Inc()
}

// RecordResultRecorded は解析結果の記録と解析時間を記録する。
func (c *Collector) RecordResultRecorded(classification string, analysisTime time.Duration) {
	c.resultsRecorded.WithLabelValues(classification).Inc()
	c.analysisTime.Observe(analysisTime.Seconds())
}

// RecordWriteRejected は検証・競合などで拒否された書き込みを記録する。
func (c *Collector) RecordWriteRejected(operation string, kind string) {
	c.writesRejected.WithLabelValues(operation, kind).Inc()
}

// RecordBackfill は画像サイズ補完1件の結果を記録する。
func (c *Collector) RecordBackfill(outcome string) {
	c.backfills.WithLabelValues(outcome).Inc()
}

// RecordRetentionDeleted は保持期間による削除件数を記録する。
func (c *Collector) RecordRetentionDeleted(count int64) {
	c.retentionDeleted.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordSignIn(string)                        {}
func (Nop) RecordAnalysisCreated()                     {}
func (Nop) RecordResultRecorded(string, time.Duration) {}
func (Nop) RecordWriteRejected(string, string)         {}
func (Nop) RecordBackfill(string)                      {}
func (Nop) RecordRetentionDeleted(int64)               {}
func (Nop) RecordHTTPStatus(int)                       {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
