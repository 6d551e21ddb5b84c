package document

import (
	"fmt"
	"maps"
	"strings"
)

const (
	// MetadataPage はページ番号を保持するメタデータキー
	MetadataPage = "page"
	// MetadataDocument は元ドキュメント名を保持するメタデータキー
	MetadataDocument = "document"

	// UnknownPage はページ番号が不明な場合の表示値
	UnknownPage = "Unknown"
)

// Chunk はインデックス・検索の単位となるテキスト断片を表す
type Chunk struct {
	ID       string            // インデックス内で一意なID
	Text     string            // 本文（空文字不可）
	Metadata map[string]string // page, document などのメタデータ
}

// Page はメタデータ上のページ番号を返す。未設定の場合は UnknownPage を返す
func (c Chunk) Page() string {
	if page, ok := c.Metadata[MetadataPage]; ok && page != "" {
		return page
	}
	return UnknownPage
}

// Clone はメタデータを複製した Chunk を返す
func (c Chunk) Clone() Chunk {
	c.Metadata = maps.Clone(c.Metadata)
	return c
}

// Validate は Chunk の不変条件を検証する
func (c Chunk) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: chunk id is required", ErrInvalidChunk)
	}
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("%w: chunk %s has empty text", ErrInvalidChunk, c.ID)
	}
	return nil
}

// Segment はローダーが返す生テキスト断片（ページ単位）を表す
type Segment struct {
	Text     string
	Metadata map[string]string
}
