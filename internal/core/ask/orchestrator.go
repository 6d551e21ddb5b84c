package ask

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/mo"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/memory"
)

// Orchestrator は1セッション分の質問応答を担う
// 同一インスタンスへの Ask / AskStream は直列化される
type Orchestrator struct {
	retriever    Retriever
	backend      Backend
	memory       *memory.Conversation
	tokenCounter TokenCounter
	logger       *slog.Logger

	mu    sync.Mutex
	state atomic.Int32
}

// OrchestratorOption は Orchestrator のオプション
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger はロガーを設定する
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithTokenCounter はプロンプトのトークン数計測を設定する
func WithTokenCounter(counter TokenCounter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tokenCounter = counter
	}
}

// NewOrchestrator は Orchestrator を作成する
// conv が nil の場合は新しい会話ログを使う
func NewOrchestrator(retriever Retriever, backend Backend, conv *memory.Conversation, opts ...OrchestratorOption) *Orchestrator {
	if conv == nil {
		conv = memory.NewConversation()
	}
	o := &Orchestrator{
		retriever: retriever,
		backend:   backend,
		memory:    conv,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// State は直近の質問処理の状態を返す
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Memory は会話ログを返す
func (o *Orchestrator) Memory() *memory.Conversation {
	return o.memory
}

// BackendName は使用中のバックエンド名を返す
func (o *Orchestrator) BackendName() string {
	return o.backend.Name()
}

// Ask は質問に対する回答全体を生成し、成功時に会話ログへ追加する
func (o *Orchestrator) Ask(ctx context.Context, question string) (*AskResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	prompt, chunks, err := o.prepare(ctx, question)
	if err != nil {
		return nil, err
	}

	o.setState(StateGenerating)
	answer, err := o.backend.Invoke(ctx, prompt)
	if err != nil {
		o.setState(StateFailed)
		err = providerError(err)
		o.logger.Error("answer generation failed", "backend", o.backend.Name(), "error", err)
		return nil, err
	}

	o.memory.AppendExchange(question, answer)
	o.setState(StateCompleted)

	result := &AskResult{
		Answer:     answer,
		Sources:    BuildSources(chunks),
		Confidence: ConfidenceFor(len(chunks)),
	}
	o.logger.Info("ask completed",
		"backend", o.backend.Name(),
		"answerLength", len(answer),
		"sources", len(result.Sources),
		"confidence", result.Confidence,
	)
	return result, nil
}

// AskStream は回答をトークン単位で返すイテレータを返す
// 反復の終了時（完走・途中 break・エラー・キャンセル）に、それまでのトークンを連結した回答を
// 質問と一緒に会話ログへ追加する。トークンが1つも得られずに失敗した場合は追加しない
// 返すイテレータは1回だけ反復できる
func (o *Orchestrator) AskStream(ctx context.Context, question string) iter.Seq2[string, error] {
	var consumed atomic.Bool

	return func(yield func(string, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}
		if strings.TrimSpace(question) == "" {
			yield("", ErrEmptyQuestion)
			return
		}

		o.mu.Lock()
		defer o.mu.Unlock()

		prompt, _, err := o.prepare(ctx, question)
		if err != nil {
			yield("", err)
			return
		}

		o.setState(StateGenerating)

		var (
			answer    strings.Builder
			tokens    int
			streamErr error
			stopped   bool
		)
		defer func() {
			o.commitStream(question, answer.String(), tokens, streamErr, stopped)
		}()

		for token, err := range o.backend.Stream(ctx, prompt) {
			if err != nil {
				streamErr = providerError(err)
				yield("", streamErr)
				return
			}
			answer.WriteString(token)
			tokens++
			if !yield(token, nil) {
				stopped = true
				return
			}
		}
	}
}

// commitStream はストリーム終了時に会話ログを確定させる
func (o *Orchestrator) commitStream(question, answer string, tokens int, streamErr error, stopped bool) {
	if streamErr != nil && tokens == 0 {
		o.setState(StateFailed)
		o.logger.Error("answer stream failed", "backend", o.backend.Name(), "error", streamErr)
		return
	}

	o.memory.AppendExchange(question, answer)

	if streamErr != nil {
		o.setState(StateFailed)
		o.logger.Warn("answer stream interrupted, partial answer committed",
			"backend", o.backend.Name(),
			"tokens", tokens,
			"error", streamErr,
		)
		return
	}

	o.setState(StateCompleted)
	if stopped {
		o.logger.Info("answer stream cancelled by consumer, partial answer committed",
			"tokens", tokens,
			"answerLength", len(answer),
		)
		return
	}
	o.logger.Info("answer stream completed",
		"backend", o.backend.Name(),
		"tokens", tokens,
		"answerLength", len(answer),
	)
}

// prepare は検索とプロンプト構築を行う
func (o *Orchestrator) prepare(ctx context.Context, question string) (Prompt, []document.Chunk, error) {
	o.setState(StateRetrieving)
	chunks, err := o.retriever.Retrieve(ctx, question)
	if err != nil {
		o.setState(StateFailed)
		return Prompt{}, nil, fmt.Errorf("failed to retrieve context: %w", err)
	}

	o.setState(StateFormatting)
	contextText := FormatContext(chunks)
	history := FormatHistory(o.memory.History(mo.Some(HistoryWindow)))
	prompt := BuildPrompt(contextText, history, question)

	attrs := []any{"retrieved", len(chunks), "backend", o.backend.Name()}
	if o.tokenCounter != nil {
		attrs = append(attrs, "promptTokens", o.tokenCounter.CountTokens(prompt.String()))
	}
	o.logger.Debug("prompt built", attrs...)

	return prompt, chunks, nil
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

// providerError はバックエンドのエラーを ErrProviderUnavailable に分類する
// コンテキストのキャンセルはそのまま返す
func providerError(err error) error {
	if errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}
