package vectorindex

import (
	"errors"
	"fmt"

	"github.com/jinford/doc-rag/internal/core/document"
)

var (
	// ErrIndexNotReady はインデックス作成前に検索・追加・保存が呼ばれた場合のエラー
	ErrIndexNotReady = errors.New("vector index not ready")

	// ErrStoreNotFound は永続化先が存在しない、または不正な場合のエラー
	ErrStoreNotFound = errors.New("vector store not found")

	// ErrDimensionMismatch はベクトル次元がインデックスの次元と一致しない場合のエラー
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrDuplicateChunk はインデックス内で Chunk ID が重複した場合のエラー
	ErrDuplicateChunk = errors.New("duplicate chunk id")

	// ErrEmptyChunks は空の Chunk 列が渡された場合のエラー
	ErrEmptyChunks = fmt.Errorf("%w: no chunks", document.ErrUnsupportedInput)
)
