package retrieval

// RetrievalStats は1回の検索の観測値を表す
type RetrievalStats struct {
	Candidates int       // 閾値適用前のヒット数
	Kept       int       // 閾値適用後のヒット数
	Scores     []float64 // 閾値適用前の全スコア（昇順）
	Threshold  float64
}

// Observer は検索結果の観測フック
type Observer interface {
	ObserveRetrieval(stats RetrievalStats)
}

// NopObserver は何もしない Observer
type NopObserver struct{}

// ObserveRetrieval は何もしない
func (NopObserver) ObserveRetrieval(RetrievalStats) {}
