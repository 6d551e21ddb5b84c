// Package metrics は検索経路の観測値を Prometheus メトリクスとして公開する
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

// RetrievalMetrics は retrieval.Observer の Prometheus 実装
type RetrievalMetrics struct {
	Requests   prometheus.Counter
	Candidates prometheus.Counter
	Kept       prometheus.Counter
	Empty      prometheus.Counter
	Scores     prometheus.Histogram
}

var _ retrieval.Observer = (*RetrievalMetrics)(nil)

// NewRetrievalMetrics はメトリクスを作成して reg に登録する
func NewRetrievalMetrics(reg prometheus.Registerer) *RetrievalMetrics {
	factory := promauto.With(reg)
	return &RetrievalMetrics{
		Requests: factory.NewCounter(prometheus.CounterOpts{
			Name: "docrag_retrieval_requests_total",
			Help: "Total number of retrieval requests",
		}),
		Candidates: factory.NewCounter(prometheus.CounterOpts{
			Name: "docrag_retrieval_candidates_total",
			Help: "Total number of chunks returned by the index before threshold filtering",
		}),
		Kept: factory.NewCounter(prometheus.CounterOpts{
			Name: "docrag_retrieval_kept_total",
			Help: "Total number of chunks kept after threshold filtering",
		}),
		Empty: factory.NewCounter(prometheus.CounterOpts{
			Name: "docrag_retrieval_empty_total",
			Help: "Total number of retrievals where every candidate exceeded the threshold",
		}),
		Scores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docrag_retrieval_score",
			Help:    "Distribution of candidate relevance scores (squared L2 distance, lower is better)",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5, 10},
		}),
	}
}

// ObserveRetrieval は1回の検索結果を記録する
func (m *RetrievalMetrics) ObserveRetrieval(stats retrieval.RetrievalStats) {
	m.Requests.Inc()
	m.Candidates.Add(float64(stats.Candidates))
	m.Kept.Add(float64(stats.Kept))
	if stats.Kept == 0 {
		m.Empty.Inc()
	}
	for _, score := range stats.Scores {
		m.Scores.Observe(score)
	}
}
