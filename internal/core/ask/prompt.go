package ask

import (
	"fmt"
	"strings"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/memory"
)

const (
	// NoContextMarker は検索結果が空の場合にコンテキストへ入れる文
	NoContextMarker = "No relevant information found."
	// NoHistoryMarker は会話履歴が空の場合に履歴へ入れる文
	NoHistoryMarker = "No previous conversation."
	// FallbackAnswer はコンテキストが不十分な場合にモデルへ返させる文
	FallbackAnswer = "I cannot find enough information in the document to answer this question."

	// HistoryWindow はプロンプトに含める直近ターン数
	HistoryWindow = 6
	// SnippetLength は SourceReference.Snippet の最大文字数
	SnippetLength = 200
)

// Prompt は言語モデルに渡すメッセージの組を表す
type Prompt struct {
	System   string // 指示・コンテキスト・会話履歴
	Question string // ユーザーの質問
}

// String は単一テキストとして連結したプロンプトを返す
func (p Prompt) String() string {
	return p.System + "\n\n" + p.Question
}

// FormatContext は Chunk を番号とページ付きのブロックに整形する
func FormatContext(chunks []document.Chunk) string {
	if len(chunks) == 0 {
		return NoContextMarker
	}

	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		parts = append(parts, fmt.Sprintf("[Source %d - Page %s]\n%s", i+1, c.Page(), strings.TrimSpace(c.Text)))
	}
	return strings.Join(parts, "\n\n")
}

// FormatHistory はターンを役割付きの行に整形する
func FormatHistory(turns []memory.Turn) string {
	if len(turns) == 0 {
		return NoHistoryMarker
	}

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		role := "Assistant"
		if t.Role == memory.RoleUser {
			role = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, t.Content))
	}
	return strings.Join(lines, "\n")
}

// BuildPrompt は整形済みのコンテキストと履歴から最終プロンプトを構築する
func BuildPrompt(context, history, question string) Prompt {
	var sb strings.Builder

	sb.WriteString("You are a helpful assistant that answers questions based only on the provided context.\n\n")
	sb.WriteString("If the answer is not in the context, say:\n")
	sb.WriteString(`"` + FallbackAnswer + `"` + "\n\n")

	sb.WriteString("Context:\n")
	sb.WriteString(context)
	sb.WriteString("\n\n")

	sb.WriteString("Conversation history:\n")
	sb.WriteString(history)
	sb.WriteString("\n")

	return Prompt{System: sb.String(), Question: question}
}

// BuildSources は Chunk から SourceReference を作る
func BuildSources(chunks []document.Chunk) []SourceReference {
	sources := make([]SourceReference, 0, len(chunks))
	for _, c := range chunks {
		sources = append(sources, SourceReference{
			Page:    c.Page(),
			Snippet: truncateRunes(c.Text, SnippetLength),
		})
	}
	return sources
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
