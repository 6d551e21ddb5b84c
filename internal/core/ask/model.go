package ask

// Confidence は回答の確信度ラベル
// 検索ヒット件数に基づく粗いヒューリスティックであり、確率ではない
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// HighConfidenceMinChunks は ConfidenceHigh とみなす最小ヒット件数
const HighConfidenceMinChunks = 2

// ConfidenceFor はヒット件数から確信度を決める
func ConfidenceFor(retrieved int) Confidence {
	if retrieved >= HighConfidenceMinChunks {
		return ConfidenceHigh
	}
	return ConfidenceLow
}

// AskResult は質問応答の結果を表す
type AskResult struct {
	Answer     string            // LLMによる回答
	Sources    []SourceReference // 参照したソース情報
	Confidence Confidence
}

// SourceReference は回答の根拠となったソース参照を表す
type SourceReference struct {
	Page    string // ページ番号（不明な場合は "Unknown"）
	Snippet string // 本文の先頭 SnippetLength 文字
}

// State は1回の質問処理の進行状態
type State int32

const (
	StateIdle State = iota
	StateRetrieving
	StateFormatting
	StateGenerating
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrieving:
		return "retrieving"
	case StateFormatting:
		return "formatting"
	case StateGenerating:
		return "generating"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
