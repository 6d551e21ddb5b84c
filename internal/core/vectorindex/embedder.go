package vectorindex

import "context"

// Embedder はテキストを固定次元のベクトルに変換するインターフェース
// create / add / 検索で同一インスタンスを使う必要がある
type Embedder interface {
	// Embed は単一テキストの Embedding を生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed は複数テキストの Embedding を入力順に生成する
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName はモデル名を返す
	ModelName() string
}
