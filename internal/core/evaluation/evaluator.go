// Package evaluation は検索品質を質問集に対して集計する
package evaluation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/vectorindex"
)

// ScoredRetriever はスコア付きで検索結果を返すインターフェース
type ScoredRetriever interface {
	RetrieveWithScores(ctx context.Context, question string) ([]vectorindex.ScoredChunk, error)
}

// Report は評価結果を表す。率とスコアは小数第3位で丸める
type Report struct {
	TotalQuestions     int     `json:"total_questions"`
	HitRate            float64 `json:"hit_rate"`
	EmptyRetrievalRate float64 `json:"empty_retrieval_rate"`
	AverageScore       float64 `json:"average_similarity_score"`
}

// Evaluator は検索の Hit Rate・空振り率・平均スコアを集計する
type Evaluator struct {
	retriever ScoredRetriever
	logger    *slog.Logger
}

// EvaluatorOption は Evaluator のオプション
type EvaluatorOption func(*Evaluator)

// WithEvaluatorLogger はロガーを設定する
func WithEvaluatorLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// NewEvaluator は Evaluator を作成する
func NewEvaluator(retriever ScoredRetriever, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{retriever: retriever, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Evaluate は questions を順に検索して集計する
func (e *Evaluator) Evaluate(ctx context.Context, questions []string) (*Report, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions provided for evaluation", document.ErrUnsupportedInput)
	}

	var (
		hits   int
		empty  int
		scores []float64
	)
	for _, q := range questions {
		results, err := e.retriever.RetrieveWithScores(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve for %q: %w", q, err)
		}
		if len(results) == 0 {
			empty++
			continue
		}
		hits++
		for _, r := range results {
			scores = append(scores, r.Score)
		}
	}

	total := len(questions)
	report := &Report{
		TotalQuestions:     total,
		HitRate:            round3(float64(hits) / float64(total)),
		EmptyRetrievalRate: round3(float64(empty) / float64(total)),
		AverageScore:       round3(mean(scores)),
	}

	e.logger.Info("evaluation completed",
		"questions", total,
		"hitRate", report.HitRate,
		"emptyRate", report.EmptyRetrievalRate,
		"averageScore", report.AverageScore,
	)
	return report, nil
}

// ReadQuestions は1行1問の質問集を読み込む。空行と # で始まる行は無視する
func ReadQuestions(r io.Reader) ([]string, error) {
	var questions []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read questions: %w", err)
	}
	return questions, nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
