package retrieval

import (
	"context"
	"log/slog"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/vectorindex"
)

const (
	// DefaultTopK は既定の検索件数
	DefaultTopK = 4
	// DefaultScoreThreshold は既定のスコア閾値（二乗L2距離、この値以下を採用）
	DefaultScoreThreshold = 3.0
)

// Searcher はベクトル検索を提供するインターフェース
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]vectorindex.ScoredChunk, error)
}

// Retriever は質問に関連する Chunk を閾値でフィルタして返す
type Retriever struct {
	searcher  Searcher
	topK      int
	threshold float64
	observer  Observer
	logger    *slog.Logger
}

// Option は Retriever のオプション
type Option func(*Retriever)

// WithTopK は検索件数を設定する
func WithTopK(k int) Option {
	return func(r *Retriever) {
		r.topK = k
	}
}

// WithScoreThreshold はスコア閾値を設定する
func WithScoreThreshold(threshold float64) Option {
	return func(r *Retriever) {
		r.threshold = threshold
	}
}

// WithObserver は観測フックを設定する
func WithObserver(observer Observer) Option {
	return func(r *Retriever) {
		if observer != nil {
			r.observer = observer
		}
	}
}

// WithRetrieverLogger はロガーを設定する
func WithRetrieverLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// NewRetriever は Retriever を作成する
func NewRetriever(searcher Searcher, opts ...Option) *Retriever {
	r := &Retriever{
		searcher:  searcher,
		topK:      DefaultTopK,
		threshold: DefaultScoreThreshold,
		observer:  NopObserver{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// TopK は検索件数を返す
func (r *Retriever) TopK() int { return r.topK }

// ScoreThreshold はスコア閾値を返す
func (r *Retriever) ScoreThreshold() float64 { return r.threshold }

// Retrieve は閾値を満たす Chunk を近い順に返す
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]document.Chunk, error) {
	hits, err := r.RetrieveWithScores(ctx, question)
	if err != nil {
		return nil, err
	}
	chunks := make([]document.Chunk, len(hits))
	for i, h := range hits {
		chunks[i] = h.Chunk
	}
	return chunks, nil
}

// RetrieveWithScores は閾値を満たすヒットをスコア付きで近い順に返す
// 全件が閾値を超えた場合は空スライスを返す
func (r *Retriever) RetrieveWithScores(ctx context.Context, question string) ([]vectorindex.ScoredChunk, error) {
	hits, err := r.searcher.Search(ctx, question, r.topK)
	if err != nil {
		return nil, err
	}

	kept := make([]vectorindex.ScoredChunk, 0, len(hits))
	scores := make([]float64, len(hits))
	for i, h := range hits {
		scores[i] = h.Score
		if h.Score <= r.threshold {
			kept = append(kept, h)
		}
	}

	r.observer.ObserveRetrieval(RetrievalStats{
		Candidates: len(hits),
		Kept:       len(kept),
		Scores:     scores,
		Threshold:  r.threshold,
	})
	r.logger.Debug("retrieved chunks",
		"candidates", len(hits),
		"retrieved", len(kept),
		"threshold", r.threshold,
	)
	return kept, nil
}
