// Package metrics 定义推荐引擎的 Prometheus 指标。
//
// 指标通过 promauto 注册到默认 Registry，由 api 包的 /metrics 暴露。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 刷新任务
	RefreshTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reclearn_refresh_tasks_total",
			Help: "Refresh tasks finished, by priority and terminal status",
		},
		[]string{"priority", "status"},
	)

	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reclearn_refresh_duration_seconds",
			Help:    "Duration of a single user recompute in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"}, // personalized / cold_start / fallback
	)

	RefreshRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reclearn_refresh_retries_total",
			Help: "Retries of transient refresh failures",
		},
	)

	StaleWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reclearn_stale_writes_total",
			Help: "Recommendation set writes discarded because a newer set was active",
		},
	)

	BatchUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reclearn_refresh_batch_users",
			Help: "Users scheduled in the last cadence batch",
		},
	)

	// 召回
	RecallCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reclearn_recall_candidates",
			Help:    "Candidates returned per recall source",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
		[]string{"source"},
	)

	RecallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reclearn_recall_errors_total",
			Help: "Recall source failures",
		},
		[]string{"source"},
	)

	// 反馈
	FeedbackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reclearn_feedback_events_total",
			Help: "Feedback events processed, by action",
		},
		[]string{"action"},
	)

	ThresholdTriggers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reclearn_feedback_threshold_triggers_total",
			Help: "High priority refreshes requested by the interaction threshold",
		},
	)

	// 向量化服务
	EmbeddingCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reclearn_embedding_calls_total",
			Help: "Embedding lookups, by outcome",
		},
		[]string{"outcome"}, // hit / miss / error / rejected
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reclearn_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reclearn_http_requests_total",
			Help: "HTTP requests, by route and status code",
		},
		[]string{"route", "code"},
	)
)

// ObserveRefresh 记录一次重算耗时。
func ObserveRefresh(path string, start time.Time) {
	RefreshDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
}
