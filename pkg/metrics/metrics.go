// Package metrics 定义了 embedding 流水线与语义搜索的 Prometheus 指标。
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global     *Metrics
	globalOnce sync.Once
)

// Metrics holds Prometheus metrics for the embedding queue, worker and search.
type Metrics struct {
	JobsEnqueued  *prometheus.CounterVec
	JobsFinished  *prometheus.CounterVec
	JobDuration   prometheus.Histogram
	JobsPromoted  prometheus.Counter
	JobsPurged    prometheus.Counter
	Truncations   *prometheus.CounterVec
	EmbedRequests *prometheus.CounterVec
	EmbedDuration *prometheus.HistogramVec

	SearchRequests *prometheus.CounterVec
	SearchDuration prometheus.Histogram
	ModelMismatch  prometheus.Counter
}

// Get 返回进程内唯一的指标集合。
// 使用 sync.Once 保证只注册一次，避免 "duplicate metrics collector registration" panic。
//
// Metrics:
//   - resumecast_jobs_enqueued_total{type}
//   - resumecast_jobs_finished_total{outcome} - completed / retried / failed
//   - resumecast_job_duration_seconds
//   - resumecast_jobs_promoted_total - delayed jobs moved back to waiting
//   - resumecast_jobs_purged_total
//   - resumecast_embedding_truncations_total{field}
//   - resumecast_embedding_requests_total{class,status}
//   - resumecast_embedding_request_duration_seconds{class}
//   - resumecast_search_requests_total{status}
//   - resumecast_search_duration_seconds
//   - resumecast_search_model_mismatch_total
func Get() *Metrics {
	globalOnce.Do(func() {
		global = &Metrics{
			JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "resumecast_jobs_enqueued_total",
				Help: "Total number of embedding jobs enqueued",
			}, []string{"type"}),
			JobsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "resumecast_jobs_finished_total",
				Help: "Total number of embedding job attempts by outcome",
			}, []string{"outcome"}),
			JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "resumecast_job_duration_seconds",
				Help:    "Duration of a single embedding job attempt",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			}),
			JobsPromoted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "resumecast_jobs_promoted_total",
				Help: "Total number of delayed jobs promoted back to waiting",
			}),
			JobsPurged: promauto.NewCounter(prometheus.CounterOpts{
				Name: "resumecast_jobs_purged_total",
				Help: "Total number of failed jobs removed by maintenance",
			}),
			Truncations: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "resumecast_embedding_truncations_total",
				Help: "Total number of texts truncated before embedding",
			}, []string{"field"}),
			EmbedRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "resumecast_embedding_requests_total",
				Help: "Total number of requests sent to the embedding service",
			}, []string{"class", "status"}),
			EmbedDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "resumecast_embedding_request_duration_seconds",
				Help:    "Duration of embedding service requests",
				Buckets: prometheus.DefBuckets,
			}, []string{"class"}),
			SearchRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "resumecast_search_requests_total",
				Help: "Total number of semantic search requests",
			}, []string{"status"}),
			SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "resumecast_search_duration_seconds",
				Help:    "End-to-end semantic search latency",
				Buckets: prometheus.DefBuckets,
			}),
			ModelMismatch: promauto.NewCounter(prometheus.CounterOpts{
				Name: "resumecast_search_model_mismatch_total",
				Help: "Candidates whose stored embedding model differs from the query model",
			}),
		}
	})
	return global
}
