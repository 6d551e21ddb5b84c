package vectorindex

import (
	"context"
	"fmt"

	"github.com/jinford/doc-rag/internal/core/document"
)

// Entry はインデックスに格納された Chunk とその Embedding を表す
type Entry struct {
	Chunk  document.Chunk
	Vector []float32
}

// Snapshot はインデックス全体の永続化単位を表す
// Entries は挿入順
type Snapshot struct {
	Model     string
	Dimension int
	Entries   []Entry
}

// Validate はスナップショットの整合性を検証する
func (s *Snapshot) Validate() error {
	if s == nil || len(s.Entries) == 0 {
		return fmt.Errorf("%w: snapshot is empty", ErrStoreNotFound)
	}
	if s.Dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", ErrDimensionMismatch, s.Dimension)
	}
	seen := make(map[string]struct{}, len(s.Entries))
	for _, e := range s.Entries {
		if err := e.Chunk.Validate(); err != nil {
			return err
		}
		if len(e.Vector) != s.Dimension {
			return fmt.Errorf("%w: chunk %s has %d dimensions, want %d", ErrDimensionMismatch, e.Chunk.ID, len(e.Vector), s.Dimension)
		}
		if _, dup := seen[e.Chunk.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateChunk, e.Chunk.ID)
		}
		seen[e.Chunk.ID] = struct{}{}
	}
	return nil
}

// SnapshotStore はスナップショットの永続化媒体を抽象化する
// Save はアトミックでなければならない（書き込み途中で失敗しても既存の保存内容を壊さない）
type SnapshotStore interface {
	// Save は location にスナップショットを保存する
	Save(ctx context.Context, location string, snapshot *Snapshot) error

	// Load は location からスナップショットを読み込む。存在しない場合は ErrStoreNotFound を返す
	Load(ctx context.Context, location string) (*Snapshot, error)
}
