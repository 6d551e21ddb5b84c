package ask

import (
	"context"
	"iter"

	"github.com/jinford/doc-rag/internal/core/document"
)

// Backend は言語モデルバックエンドのインターフェース
// 実装は通信失敗を ErrProviderUnavailable でラップして返す
type Backend interface {
	// Name はログ表示用のバックエンド名を返す
	Name() string

	// Invoke は回答全体を同期的に生成する
	Invoke(ctx context.Context, prompt Prompt) (string, error)

	// Stream はトークンを逐次返す。消費側が反復を止めた場合は接続を解放する
	Stream(ctx context.Context, prompt Prompt) iter.Seq2[string, error]
}

// Retriever は質問に関連する Chunk を返すインターフェース
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]document.Chunk, error)
}

// TokenCounter はプロンプトのトークン数を数えるインターフェース
type TokenCounter interface {
	CountTokens(text string) int
}
