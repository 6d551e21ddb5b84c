package vectorindex

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jinford/doc-rag/internal/core/document"
)

const (
	// DefaultBatchSize は Embedding 生成の既定バッチサイズ
	DefaultBatchSize = 64
	// DefaultConcurrency は Embedding バッチの既定並列数
	DefaultConcurrency = 4
)

// ScoredChunk は検索ヒット1件を表す
// Score は二乗L2距離で、小さいほど類似している
type ScoredChunk struct {
	Chunk document.Chunk
	Score float64
}

// Index は Chunk の Embedding に対する全探索の最近傍インデックス
// 検索は並行に実行でき、Create / Add / Persist / Load は排他的に実行される
type Index struct {
	embedder    Embedder
	store       SnapshotStore
	logger      *slog.Logger
	batchSize   int
	concurrency int

	mu        sync.RWMutex
	ready     bool
	dimension int
	entries   []Entry
	ids       map[string]struct{}
}

// Option は Index のオプション
type Option func(*Index)

// WithIndexLogger はロガーを設定する
func WithIndexLogger(logger *slog.Logger) Option {
	return func(idx *Index) {
		idx.logger = logger
	}
}

// WithBatchSize は Embedding のバッチサイズを設定する
func WithBatchSize(size int) Option {
	return func(idx *Index) {
		if size > 0 {
			idx.batchSize = size
		}
	}
}

// WithConcurrency は Embedding バッチの並列数を設定する
func WithConcurrency(n int) Option {
	return func(idx *Index) {
		if n > 0 {
			idx.concurrency = n
		}
	}
}

// New は未初期化状態の Index を作成する
func New(embedder Embedder, store SnapshotStore, opts ...Option) *Index {
	idx := &Index{
		embedder:    embedder,
		store:       store,
		logger:      slog.Default(),
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = slog.Default()
	}
	return idx
}

// Ready はインデックスが検索可能かを返す
func (idx *Index) Ready() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Len は格納済み Chunk 数を返す
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Dimension はベクトル次元を返す。未初期化の場合は0
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimension
}

// Create は chunks を埋め込んでインデックスを構築し直す。既存の内容は破棄される
func (idx *Index) Create(ctx context.Context, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	if err := validateBatch(chunks, nil); err != nil {
		return err
	}

	vectors, err := idx.embedAll(ctx, chunks)
	if err != nil {
		return err
	}
	dimension := len(vectors[0])
	if dimension == 0 {
		return fmt.Errorf("%w: embedder returned empty vector", ErrDimensionMismatch)
	}
	entries, err := buildEntries(chunks, vectors, dimension)
	if err != nil {
		return err
	}

	ids := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		ids[e.Chunk.ID] = struct{}{}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entries = entries
	idx.ids = ids
	idx.dimension = dimension
	idx.ready = true

	idx.logger.Info("vector index created",
		"chunks", len(entries),
		"dimension", dimension,
		"model", idx.embedder.ModelName(),
	)
	return nil
}

// Add は既存エントリを再構築せずに chunks を追加する
func (idx *Index) Add(ctx context.Context, chunks []document.Chunk) error {
	if !idx.Ready() {
		return ErrIndexNotReady
	}
	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	if err := validateBatch(chunks, nil); err != nil {
		return err
	}

	vectors, err := idx.embedAll(ctx, chunks)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.ready {
		return ErrIndexNotReady
	}
	if err := validateBatch(chunks, idx.ids); err != nil {
		return err
	}
	entries, err := buildEntries(chunks, vectors, idx.dimension)
	if err != nil {
		return err
	}

	for _, e := range entries {
		idx.ids[e.Chunk.ID] = struct{}{}
	}
	idx.entries = append(idx.entries, entries...)

	idx.logger.Info("vector index extended",
		"added", len(entries),
		"total", len(idx.entries),
	)
	return nil
}

// Search は query に近い順（Score 昇順）に最大 k 件を返す。同点は挿入順
func (idx *Index) Search(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if !idx.Ready() {
		return nil, ErrIndexNotReady
	}
	if k <= 0 {
		return []ScoredChunk{}, nil
	}

	queryVector, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(queryVector) != idx.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(queryVector), idx.dimension)
	}

	// entries は挿入順なので安定ソートで同点時の順序が保たれる
	hits := make([]ScoredChunk, len(idx.entries))
	for i, e := range idx.entries {
		hits[i] = ScoredChunk{
			Chunk: e.Chunk.Clone(),
			Score: squaredL2(queryVector, e.Vector),
		}
	}
	slices.SortStableFunc(hits, func(a, b ScoredChunk) int {
		return cmp.Compare(a.Score, b.Score)
	})

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Persist はインデックス全体を path に保存する
func (idx *Index) Persist(ctx context.Context, path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.ready {
		return ErrIndexNotReady
	}

	snapshot := &Snapshot{
		Model:     idx.embedder.ModelName(),
		Dimension: idx.dimension,
		Entries:   idx.entries,
	}
	if err := idx.store.Save(ctx, path, snapshot); err != nil {
		return fmt.Errorf("failed to persist vector index: %w", err)
	}

	idx.logger.Info("vector index persisted", "path", path, "chunks", len(idx.entries))
	return nil
}

// Load は path からインデックスを読み込み、現在の内容を置き換える
func (idx *Index) Load(ctx context.Context, path string) error {
	snapshot, err := idx.store.Load(ctx, path)
	if err != nil {
		return err
	}
	if err := snapshot.Validate(); err != nil {
		return err
	}
	if model := idx.embedder.ModelName(); snapshot.Model != "" && snapshot.Model != model {
		idx.logger.Warn("persisted index was built with a different embedding model",
			"persistedModel", snapshot.Model,
			"model", model,
		)
	}

	ids := make(map[string]struct{}, len(snapshot.Entries))
	for _, e := range snapshot.Entries {
		ids[e.Chunk.ID] = struct{}{}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entries = snapshot.Entries
	idx.ids = ids
	idx.dimension = snapshot.Dimension
	idx.ready = true

	idx.logger.Info("vector index loaded", "path", path, "chunks", len(snapshot.Entries))
	return nil
}

// embedAll は chunks をバッチに分けて並列に埋め込む。結果は入力順
func (idx *Index) embedAll(ctx context.Context, chunks []document.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)
	for start := 0; start < len(chunks); start += idx.batchSize {
		end := min(start+idx.batchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}
			batch, err := idx.embedder.BatchEmbed(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed chunks %d-%d: %w", start, end-1, err)
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), len(texts))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// validateBatch は chunks 自身と既存IDとの重複を検証する
func validateBatch(chunks []document.Chunk, existing map[string]struct{}) error {
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateChunk, c.ID)
		}
		if _, dup := existing[c.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateChunk, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

func buildEntries(chunks []document.Chunk, vectors [][]float32, dimension int) ([]Entry, error) {
	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		if len(vectors[i]) != dimension {
			return nil, fmt.Errorf("%w: chunk %s has %d dimensions, want %d", ErrDimensionMismatch, c.ID, len(vectors[i]), dimension)
		}
		entries[i] = Entry{Chunk: c.Clone(), Vector: vectors[i]}
	}
	return entries, nil
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
