// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	syncpkg "github.com/hitoshi/calsync/internal/sync"
)

// Collector は同期パスの実行結果をPrometheusメトリクスとして収集する。
// sync.CoordinatorのRecorderとして動作する。
type Collector struct {
	syncRuns     *prometheus.CounterVec
	syncFailures prometheus.Counter
	syncDuration prometheus.Histogram

	sessionsImported prometheus.Counter
	sessionsUpdated  prometheus.Counter
	sessionsDeleted  prometheus.Counter
	sessionsPushed   prometheus.Counter
	pastCompleted    prometheus.Counter
	eventsRejected   prometheus.Counter
	eventsWarned     prometheus.Counter
	apiRetries       prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calsync_sync_runs_total",
			Help: "同期パス実行の合計数（結果別）",
		}, []string{"result"}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calsync_sync_failures_total",
			Help: "同期パス失敗の合計数",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calsync_sync_duration_seconds",
			Help:    "同期パスの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calsync_sessions_imported_total",
			Help: "外部イベントから作成されたセッションの合計数",
		}),
		sessionsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calsync_sessions_updated_total",
			Help: "外部イベントの内容で更新されたセッションの合計数",
		}),
		sessionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calsync_sessions_deleted_total",
			Help: "外部での削除に追従して削除されたセッションの合計数",
		}),
		sessionsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calsync_sessions_pushed_total",
			Help: "外部カレンダーへ送信された作成・更新の合計数",
		}),
		pastCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calsync_sessions_past_completed_total",
			Help: "終了済みとして完了に倒されたセッションの合計数",
		}),
		eventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calsync_events_rejected_total",
			Help: "検証で拒否されたレコードの合計数",
		}),
		eventsWarned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calsync_events_warned_total",
			Help: "警告付きで処理されたレコードの合計数",
		}),
		apiRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calsync_api_retries_total",
			Help: "一時的APIエラーによるリトライの合計数",
		}),
	}

	reg.MustRegister(
		c.syncRuns,
		c.syncFailures,
		c.syncDuration,
		c.sessionsImported,
		c.sessionsUpdated,
		c.sessionsDeleted,
		c.sessionsPushed,
		c.pastCompleted,
		c.eventsRejected,
		c.eventsWarned,
		c.apiRetries,
	)

	return c
}

// RecordRun は1回の同期パスの実行結果を記録する。
func (c *Collector) RecordRun(result *syncpkg.Result, err error) {
	if err != nil {
		c.syncRuns.WithLabelValues("failure").Inc()
		c.syncFailures.Inc()
	} else {
		c.syncRuns.WithLabelValues("success").Inc()
	}

	if result == nil {
		return
	}

	c.syncDuration.Observe(result.Duration.Seconds())
	c.sessionsImported.Add(float64(result.Imported))
	c.sessionsUpdated.Add(float64(result.Updated))
	c.sessionsDeleted.Add(float64(result.Deleted))
	c.sessionsPushed.Add(float64(result.Pushed))
	c.pastCompleted.Add(float64(result.PastCompleted))
	c.eventsRejected.Add(float64(len(result.Rejected)))
	c.eventsWarned.Add(float64(len(result.Warnings)))
	c.apiRetries.Add(float64(result.Retries))
}

// CollectorがRecorderを満たすことのコンパイル時チェック
var _ syncpkg.Recorder = (*Collector)(nil)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
