package openai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/doc-rag/internal/core/ask"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTemperature は生成時のデフォルト温度
	DefaultTemperature = 0.1

	// DefaultTimeout は同期呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second
)

// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

// ChatBackend は OpenAI Chat Completions API を使用した ask.Backend 実装
// SDK の自動リトライは無効化している
type ChatBackend struct {
	client      openai.Client
	model       string
	temperature float64
	timeout     time.Duration
}

type chatOptions struct {
	model       string
	temperature float64
	baseURL     string
	timeout     time.Duration
}

// ChatOption は ChatBackend のオプション設定
type ChatOption func(*chatOptions)

// WithChatModel はモデル名を上書きする
func WithChatModel(model string) ChatOption {
	return func(o *chatOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithTemperature は温度を上書きする
func WithTemperature(t float64) ChatOption {
	return func(o *chatOptions) {
		o.temperature = t
	}
}

// WithChatBaseURL は API のベースURLを上書きする
func WithChatBaseURL(url string) ChatOption {
	return func(o *chatOptions) {
		o.baseURL = url
	}
}

// WithTimeout は同期呼び出しのタイムアウトを上書きする
func WithTimeout(timeout time.Duration) ChatOption {
	return func(o *chatOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// NewChatBackend は新しい ChatBackend を作成する
func NewChatBackend(apiKey string, opts ...ChatOption) (*ChatBackend, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := chatOptions{
		model:       DefaultModel,
		temperature: DefaultTemperature,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &ChatBackend{
		client:      openai.NewClient(clientOptions(apiKey, options.baseURL)...),
		model:       options.model,
		temperature: options.temperature,
		timeout:     options.timeout,
	}, nil
}

// Name はバックエンド名を返す
func (b *ChatBackend) Name() string {
	return "openai:" + b.model
}

// ModelName はモデル名を返す
func (b *ChatBackend) ModelName() string {
	return b.model
}

// Invoke は回答全体を生成する
func (b *ChatBackend) Invoke(ctx context.Context, prompt ask.Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	completion, err := b.client.Chat.Completions.New(ctx, b.params(prompt))
	if err != nil {
		return "", wrapError(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no completion choices returned", ask.ErrProviderUnavailable)
	}
	return completion.Choices[0].Message.Content, nil
}

// Stream はトークンを逐次返す
func (b *ChatBackend) Stream(ctx context.Context, prompt ask.Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := b.client.Chat.Completions.NewStreaming(ctx, b.params(prompt))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			token := chunk.Choices[0].Delta.Content
			if token == "" {
				continue
			}
			if !yield(token, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", wrapError(ctx, err))
		}
	}
}

func (b *ChatBackend) params(prompt ask.Prompt) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: shared.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.Question),
		},
		Temperature: openai.Float(b.temperature),
	}
}

func clientOptions(apiKey, baseURL string) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return opts
}

// wrapError は API エラーを ask.ErrProviderUnavailable に分類する
func wrapError(ctx context.Context, err error) error {
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.Canceled):
		return ctxErr
	case ctxErr != nil:
		return fmt.Errorf("%w: %w", ask.ErrProviderUnavailable, ctxErr)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: OpenAI API error (status %d): %w", ask.ErrProviderUnavailable, apiErr.StatusCode, err)
	}
	return fmt.Errorf("%w: OpenAI API call failed: %w", ask.ErrProviderUnavailable, err)
}

// インターフェース実装の確認
var _ ask.Backend = (*ChatBackend)(nil)
