package document

import (
	"fmt"
	"maps"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// DefaultChunkSize はチャンクの既定最大文字数
	DefaultChunkSize = 1000
	// DefaultChunkOverlap は隣接チャンク間の既定オーバーラップ文字数
	DefaultChunkOverlap = 200
)

// Splitter は Segment 列を Chunk 列に分割するインターフェース
type Splitter interface {
	Split(segments []Segment) ([]Chunk, error)
}

// RecursiveSplitter は区切り文字を段階的に細かくしながら再帰的に分割する
// 長さは文字数（rune数）で数える
type RecursiveSplitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
	newID        func() string
}

// SplitterOption は RecursiveSplitter のオプション
type SplitterOption func(*RecursiveSplitter)

// WithIDGenerator はチャンクIDの生成関数を差し替える
func WithIDGenerator(fn func() string) SplitterOption {
	return func(s *RecursiveSplitter) {
		s.newID = fn
	}
}

// NewRecursiveSplitter は新しい RecursiveSplitter を作成する
func NewRecursiveSplitter(chunkSize, chunkOverlap int, opts ...SplitterOption) (*RecursiveSplitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive: %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d): %d", chunkSize, chunkOverlap)
	}

	s := &RecursiveSplitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   []string{"\n\n", "\n", " ", ""},
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Split は各 Segment を分割し、メタデータを引き継いだ Chunk を返す
func (s *RecursiveSplitter) Split(segments []Segment) ([]Chunk, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no segments to split", ErrUnsupportedInput)
	}

	var chunks []Chunk
	for _, seg := range segments {
		for _, text := range s.SplitText(seg.Text) {
			chunks = append(chunks, Chunk{
				ID:       s.newID(),
				Text:     text,
				Metadata: maps.Clone(seg.Metadata),
			})
		}
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: segments produced no chunks", ErrUnsupportedInput)
	}
	return chunks, nil
}

// SplitText は単一テキストを chunkSize 以下の断片に分割する
func (s *RecursiveSplitter) SplitText(text string) []string {
	return s.splitText(text, s.separators)
}

func (s *RecursiveSplitter) splitText(text string, separators []string) []string {
	// テキストに含まれる最初の区切り文字を採用する
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var parts []string
	if separator == "" {
		parts = splitRunes(text)
	} else {
		parts = strings.Split(text, separator)
	}

	var final, pending []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if runeLen(part) < s.chunkSize {
			pending = append(pending, part)
			continue
		}
		if len(pending) > 0 {
			final = append(final, s.merge(pending, separator)...)
			pending = nil
		}
		if len(rest) == 0 {
			final = append(final, part)
		} else {
			final = append(final, s.splitText(part, rest)...)
		}
	}
	if len(pending) > 0 {
		final = append(final, s.merge(pending, separator)...)
	}
	return final
}

// merge は小さな断片を chunkSize を超えない範囲で連結し、末尾 chunkOverlap 文字分を次に持ち越す
func (s *RecursiveSplitter) merge(parts []string, separator string) []string {
	sepLen := runeLen(separator)

	var docs, current []string
	total := 0
	for _, part := range parts {
		partLen := runeLen(part)
		if total+partLen+joinCost(current, sepLen) > s.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.chunkOverlap || (total+partLen+joinCost(current, sepLen) > s.chunkSize && total > 0) {
				removed := runeLen(current[0])
				if len(current) > 1 {
					removed += sepLen
				}
				total -= removed
				current = current[1:]
			}
		}
		current = append(current, part)
		total += partLen
		if len(current) > 1 {
			total += sepLen
		}
	}

	if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func joinCost(current []string, sepLen int) int {
	if len(current) > 0 {
		return sepLen
	}
	return 0
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func splitRunes(s string) []string {
	out := make([]string, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

var _ Splitter = (*RecursiveSplitter)(nil)
