package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/jinford/doc-rag/internal/core/ask"
)

// DefaultChatModel はデフォルトのチャットモデル
const DefaultChatModel = "llama3.1:8b"

// chatRequest は /api/chat のリクエスト形式
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

// chatResponse は /api/chat のレスポンス形式（ストリーム時は1行1件）
type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// ChatConfig は ChatBackend の設定
type ChatConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration // Invoke のタイムアウト。ストリームには適用しない
	HTTPClient  *http.Client
}

// ChatBackend は Ollama /api/chat を使った ask.Backend 実装
type ChatBackend struct {
	client      *client
	model       string
	temperature float64
	timeout     time.Duration
}

// NewChatBackend は ChatBackend を作成する
func NewChatBackend(cfg ChatConfig) *ChatBackend {
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &ChatBackend{
		client:      newClient(cfg.HTTPClient, cfg.BaseURL),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}
}

// Name はバックエンド名を返す
func (b *ChatBackend) Name() string {
	return "ollama:" + b.model
}

// Invoke は回答全体を生成する
func (b *ChatBackend) Invoke(ctx context.Context, prompt ask.Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.client.post(ctx, "/api/chat", b.request(prompt, false))
	if err != nil {
		return "", wrapError(ctx, err)
	}
	defer resp.Body.Close()

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", wrapError(ctx, fmt.Errorf("decode response: %w", err))
	}
	if chatResp.Error != "" {
		return "", fmt.Errorf("%w: ollama error: %s", ask.ErrProviderUnavailable, chatResp.Error)
	}
	return chatResp.Message.Content, nil
}

// Stream は改行区切りJSONのレスポンスからトークンを逐次返す
// 反復を途中で止めた場合はレスポンスボディを閉じて接続を解放する
func (b *ChatBackend) Stream(ctx context.Context, prompt ask.Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := b.client.post(ctx, "/api/chat", b.request(prompt, true))
		if err != nil {
			yield("", wrapError(ctx, err))
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var chunk chatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				yield("", fmt.Errorf("%w: decode stream chunk: %w", ask.ErrProviderUnavailable, err))
				return
			}
			if chunk.Error != "" {
				yield("", fmt.Errorf("%w: ollama error: %s", ask.ErrProviderUnavailable, chunk.Error))
				return
			}
			if chunk.Message.Content != "" {
				if !yield(chunk.Message.Content, nil) {
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", wrapError(ctx, fmt.Errorf("read stream: %w", err)))
			return
		}
		yield("", fmt.Errorf("%w: stream ended before completion", ask.ErrProviderUnavailable))
	}
}

func (b *ChatBackend) request(prompt ask.Prompt, stream bool) chatRequest {
	return chatRequest{
		Model: b.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.Question},
		},
		Stream:  stream,
		Options: &chatOptions{Temperature: b.temperature},
	}
}

// wrapError は通信エラーを ask.ErrProviderUnavailable に分類する
func wrapError(ctx context.Context, err error) error {
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.Canceled):
		return ctxErr
	case ctxErr != nil:
		return fmt.Errorf("%w: %w", ask.ErrProviderUnavailable, ctxErr)
	}
	return fmt.Errorf("%w: %w", ask.ErrProviderUnavailable, err)
}

// インターフェース実装の確認
var _ ask.Backend = (*ChatBackend)(nil)
