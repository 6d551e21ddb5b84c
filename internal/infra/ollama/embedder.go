package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jinford/doc-rag/internal/core/vectorindex"
)

const (
	// DefaultEmbeddingModel はデフォルトの Embedding モデル
	DefaultEmbeddingModel = "nomic-embed-text"
	// DefaultEmbeddingTimeout は Embedding 呼び出しのデフォルトタイムアウト
	DefaultEmbeddingTimeout = 30 * time.Second
)

// embedRequest は /api/embed のリクエスト形式
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse は /api/embed のレスポンス形式
type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// EmbedderConfig は Embedder の設定
type EmbedderConfig struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Embedder は Ollama /api/embed を使った vectorindex.Embedder 実装
type Embedder struct {
	client *client
	model  string
}

// NewEmbedder は Embedder を作成する
func NewEmbedder(cfg EmbedderConfig) *Embedder {
	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultEmbeddingTimeout
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &Embedder{
		client: newClient(cfg.HTTPClient, cfg.BaseURL),
		model:  cfg.Model,
	}
}

// Embed は単一テキストの Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// BatchEmbed は1リクエストで複数テキストの Embedding を生成する
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	resp, err := e.client.post(ctx, "/api/embed", embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(embedResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embedResp.Embeddings))
	}

	embeddings := make([][]float32, len(texts))
	for i, values := range embedResp.Embeddings {
		vector := make([]float32, len(values))
		for j, v := range values {
			vector[j] = float32(v)
		}
		embeddings[i] = vector
	}
	return embeddings, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// インターフェース実装の確認
var _ vectorindex.Embedder = (*Embedder)(nil)
