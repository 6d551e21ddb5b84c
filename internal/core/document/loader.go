package document

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Loader はファイルを読み込みページ単位のテキスト断片を返すインターフェース
type Loader interface {
	Load(ctx context.Context, path string) ([]Segment, error)
}

// pageBreak はテキストファイル中のページ区切り（フォームフィード）
const pageBreak = "\f"

// TextLoader はプレーンテキスト / Markdown を読み込む Loader 実装
// フォームフィードをページ区切りとして扱い、ページ番号は1始まり
type TextLoader struct {
	extensions []string
}

// NewTextLoader は新しい TextLoader を作成する
func NewTextLoader() *TextLoader {
	return &TextLoader{extensions: []string{".txt", ".md", ".markdown"}}
}

// SupportedExtensions は対応する拡張子を返す
func (l *TextLoader) SupportedExtensions() []string {
	return slices.Clone(l.extensions)
}

// Load はファイルを読み込み、空でないページごとに Segment を返す
func (l *TextLoader) Load(ctx context.Context, path string) ([]Segment, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(l.extensions, ext) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return pageSegments(strings.Split(string(data), pageBreak), filepath.Base(path))
}

// pageSegments は空でないページごとに Segment を作る。ページ番号は位置から1始まりで振る
func pageSegments(pages []string, name string) ([]Segment, error) {
	segments := make([]Segment, 0, len(pages))
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		segments = append(segments, Segment{
			Text: page,
			Metadata: map[string]string{
				MetadataPage:     strconv.Itoa(i + 1),
				MetadataDocument: name,
			},
		})
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %s has no text", ErrUnsupportedInput, name)
	}
	return segments, nil
}

// ExtensionLoader は拡張子で対象を判定できる Loader
type ExtensionLoader interface {
	Loader
	SupportedExtensions() []string
}

// CompositeLoader は拡張子に応じて Loader を振り分ける
type CompositeLoader struct {
	byExt map[string]Loader
}

// NewCompositeLoader は新しい CompositeLoader を作成する
// 同じ拡張子を複数の Loader が扱う場合は後に渡したものが優先される
func NewCompositeLoader(loaders ...ExtensionLoader) *CompositeLoader {
	byExt := make(map[string]Loader)
	for _, l := range loaders {
		for _, ext := range l.SupportedExtensions() {
			byExt[ext] = l
		}
	}
	return &CompositeLoader{byExt: byExt}
}

// NewDefaultLoader はテキスト / PDF / DOCX を扱う Loader を作成する
func NewDefaultLoader() *CompositeLoader {
	return NewCompositeLoader(NewTextLoader(), NewPDFLoader(), NewDocxLoader())
}

// SupportedExtensions は対応する拡張子をソートして返す
func (l *CompositeLoader) SupportedExtensions() []string {
	return slices.Sorted(maps.Keys(l.byExt))
}

// Load は拡張子に対応する Loader で読み込む
func (l *CompositeLoader) Load(ctx context.Context, path string) ([]Segment, error) {
	ext := strings.ToLower(filepath.Ext(path))
	loader, ok := l.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}
	return loader.Load(ctx, path)
}

var (
	_ ExtensionLoader = (*TextLoader)(nil)
	_ ExtensionLoader = (*CompositeLoader)(nil)
)
