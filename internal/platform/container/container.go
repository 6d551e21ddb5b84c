package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jinford/doc-rag/internal/core/ask"
	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/evaluation"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/memory"
	"github.com/jinford/doc-rag/internal/core/retrieval"
	"github.com/jinford/doc-rag/internal/core/session"
	"github.com/jinford/doc-rag/internal/core/vectorindex"
	"github.com/jinford/doc-rag/internal/infra/metrics"
	"github.com/jinford/doc-rag/internal/infra/postgres"
	"github.com/jinford/doc-rag/internal/infra/sqlite"
	"github.com/jinford/doc-rag/internal/platform/config"
	"github.com/jinford/doc-rag/internal/platform/provider"
)

// ServiceContainer はアプリケーションの依存関係を保持する。
type ServiceContainer struct {
	Config     *config.Config
	Index      *vectorindex.Index
	Retriever  *retrieval.Retriever
	Backend    ask.Backend
	Sessions   *session.Registry
	Ingestion  *ingestion.Service
	Evaluator  *evaluation.Evaluator
	Prometheus *prometheus.Registry

	logger       *slog.Logger
	tokenCounter ask.TokenCounter
	db           *postgres.DB
}

type containerOptions struct {
	logger       *slog.Logger
	embedder     vectorindex.Embedder
	backend      ask.Backend
	store        vectorindex.SnapshotStore
	tokenCounter ask.TokenCounter
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder vectorindex.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerBackend は言語モデルバックエンドを差し替える
func WithContainerBackend(backend ask.Backend) ContainerOption {
	return func(opts *containerOptions) {
		opts.backend = backend
	}
}

// WithContainerSnapshotStore はインデックスの永続化先を差し替える
func WithContainerSnapshotStore(store vectorindex.SnapshotStore) ContainerOption {
	return func(opts *containerOptions) {
		opts.store = store
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter ask.TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// NewContainer は設定からコンテナを生成する。
// 永続化済みのインデックスがあれば読み込む。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (_ *ServiceContainer, err error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	c := &ServiceContainer{
		Config:     cfg,
		Prometheus: prometheus.NewRegistry(),
		logger:     logger,
	}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	settings := cfg.ProviderSettings()

	// Embedder (OpenAI / Ollama)
	embedder := options.embedder
	if embedder == nil {
		embedder, err = provider.NewEmbedder(settings, logger)
		if err != nil {
			return nil, fmt.Errorf("Embedder 初期化に失敗しました: %w", err)
		}
	}

	// SnapshotStore (SQLite / PostgreSQL)
	store := options.store
	if store == nil {
		store, err = c.newSnapshotStore(ctx)
		if err != nil {
			return nil, err
		}
	}

	c.Index = vectorindex.New(embedder, store, vectorindex.WithIndexLogger(logger))
	if err := c.Index.Load(ctx, cfg.Index.PersistPath); err != nil {
		if !errors.Is(err, vectorindex.ErrStoreNotFound) {
			return nil, fmt.Errorf("インデックスの読み込みに失敗しました: %w", err)
		}
		logger.Info("no persisted index found, starting empty", "path", cfg.Index.PersistPath)
	}

	// Retriever + Prometheus
	c.Prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Retriever = retrieval.NewRetriever(c.Index,
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithScoreThreshold(cfg.Retrieval.ScoreThreshold),
		retrieval.WithObserver(metrics.NewRetrievalMetrics(c.Prometheus)),
		retrieval.WithRetrieverLogger(logger),
	)

	// Backend は起動時に1回だけ決定する
	c.Backend = options.backend
	if c.Backend == nil {
		c.Backend, err = provider.NewBackend(settings, logger)
		if err != nil {
			return nil, fmt.Errorf("言語モデルバックエンド初期化に失敗しました: %w", err)
		}
	}

	c.tokenCounter = options.tokenCounter
	if c.tokenCounter == nil {
		counter, tcErr := newTokenCounter()
		if tcErr != nil {
			logger.Warn("token counting disabled", "error", tcErr)
		} else {
			c.tokenCounter = counter
		}
	}

	// Sessions
	sessionStore := session.NewLRUStore(cfg.Session.MaxEntries, cfg.Session.TTL, session.LogEviction(logger))
	c.Sessions = session.NewRegistry(sessionStore, c.NewOrchestrator, session.WithRegistryLogger(logger))

	// Ingestion
	splitter, err := document.NewRecursiveSplitter(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("Splitter 初期化に失敗しました: %w", err)
	}
	c.Ingestion = ingestion.NewService(document.NewDefaultLoader(), splitter, c.Index, cfg.Index.PersistPath,
		ingestion.WithIngestLogger(logger))

	c.Evaluator = evaluation.NewEvaluator(c.Retriever, evaluation.WithEvaluatorLogger(logger))

	return c, nil
}

// NewOrchestrator は会話ログに紐づく Orchestrator を生成する。
// session.Factory として使う。
func (c *ServiceContainer) NewOrchestrator(conv *memory.Conversation) *ask.Orchestrator {
	opts := []ask.OrchestratorOption{ask.WithOrchestratorLogger(c.logger)}
	if c.tokenCounter != nil {
		opts = append(opts, ask.WithTokenCounter(c.tokenCounter))
	}
	return ask.NewOrchestrator(c.Retriever, c.Backend, conv, opts...)
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	return c.logger
}

func (c *ServiceContainer) newSnapshotStore(ctx context.Context) (vectorindex.SnapshotStore, error) {
	switch c.Config.Index.Backend {
	case config.IndexBackendPostgres:
		db, err := postgres.Open(ctx, c.Config.ConnectionParams())
		if err != nil {
			return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		c.db = db
		store := postgres.NewSnapshotStore(db, c.logger)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("スキーマ作成に失敗しました: %w", err)
		}
		return store, nil
	default:
		return sqlite.NewSnapshotStore(c.logger), nil
	}
}

// tokenCounter は tiktoken を利用した TokenCounter 実装。
type tokenCounter struct {
	encoding *tiktoken.Tiktoken
}

func newTokenCounter() (*tokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &tokenCounter{encoding: enc}, nil
}

func (t *tokenCounter) CountTokens(text string) int {
	if t.encoding == nil {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}
