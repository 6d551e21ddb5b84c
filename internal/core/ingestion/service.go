// Package ingestion はドキュメントの読み込みからインデックス登録・永続化までを行う
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/jinford/doc-rag/internal/core/document"
)

// Index はインジェストが必要とするインデックス操作
type Index interface {
	Ready() bool
	Create(ctx context.Context, chunks []document.Chunk) error
	Add(ctx context.Context, chunks []document.Chunk) error
	Persist(ctx context.Context, path string) error
}

// IngestResult はインジェスト処理の結果を表す
type IngestResult struct {
	Document    string
	TotalChunks int
	Created     bool // インデックスを新規作成した場合 true
	Duration    time.Duration
}

// Service はドキュメントインジェストのユースケースを提供する
// 同時に1件ずつ処理する
type Service struct {
	loader      document.Loader
	splitter    document.Splitter
	index       Index
	persistPath string
	logger      *slog.Logger

	mu sync.Mutex
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*Service)

// WithIngestLogger は Service にロガーを設定する
func WithIngestLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService は新しい Service を作成する
func NewService(loader document.Loader, splitter document.Splitter, index Index, persistPath string, opts ...ServiceOption) *Service {
	s := &Service{
		loader:      loader,
		splitter:    splitter,
		index:       index,
		persistPath: persistPath,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// IngestFile は path を読み込み・分割し、インデックスへ登録して永続化する
// インデックスが未作成なら Create、作成済みなら Add を使う
func (s *Service) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	name := filepath.Base(path)

	segments, err := s.loader.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	for i := range segments {
		if segments[i].Metadata == nil {
			segments[i].Metadata = map[string]string{}
		}
		if _, ok := segments[i].Metadata[document.MetadataDocument]; !ok {
			segments[i].Metadata[document.MetadataDocument] = name
		}
	}

	chunks, err := s.splitter.Split(segments)
	if err != nil {
		return nil, fmt.Errorf("failed to split %s: %w", name, err)
	}

	created := !s.index.Ready()
	if created {
		err = s.index.Create(ctx, chunks)
	} else {
		err = s.index.Add(ctx, chunks)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", name, err)
	}

	if err := s.index.Persist(ctx, s.persistPath); err != nil {
		return nil, err
	}

	result := &IngestResult{
		Document:    name,
		TotalChunks: len(chunks),
		Created:     created,
		Duration:    time.Since(start),
	}
	s.logger.Info("document ingested",
		"document", name,
		"segments", len(segments),
		"chunks", result.TotalChunks,
		"created", created,
		"duration", result.Duration.String(),
	)
	return result, nil
}
