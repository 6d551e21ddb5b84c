// Package provider は設定から言語モデル・Embedding バックエンドを選択する
package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/doc-rag/internal/core/ask"
	"github.com/jinford/doc-rag/internal/core/vectorindex"
	"github.com/jinford/doc-rag/internal/infra/ollama"
	"github.com/jinford/doc-rag/internal/infra/openai"
)

// ErrConfiguration は選択されたプロバイダの前提条件が満たされない場合のエラー
var ErrConfiguration = errors.New("configuration error")

// Mode はバックエンドの選択方針
type Mode string

const (
	// ModeAuto は OpenAI の API キーがあれば OpenAI、なければ Ollama を使う
	ModeAuto   Mode = "auto"
	ModeOpenAI Mode = "openai"
	ModeOllama Mode = "ollama"
)

// ParseMode は文字列を Mode に変換する。空文字は ModeAuto
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeOpenAI, ModeOllama:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown provider mode %q (want auto, openai or ollama)", ErrConfiguration, s)
	}
}

// Settings はバックエンド構築に必要な設定値
type Settings struct {
	Mode          Mode // 言語モデルの選択方針
	EmbeddingMode Mode // Embedding の選択方針

	OpenAIAPIKey             string
	OpenAIBaseURL            string
	OpenAIModel              string
	OpenAIEmbeddingModel     string
	OpenAIEmbeddingDimension int

	OllamaBaseURL        string
	OllamaModel          string
	OllamaEmbeddingModel string

	Temperature float64
}

// Resolve は mode を具体的なプロバイダに確定する
// ModeAuto は API キーの有無だけで1回だけ決まる
func (s Settings) Resolve(mode Mode) (Mode, error) {
	switch mode {
	case ModeAuto, "":
		if s.OpenAIAPIKey != "" {
			return ModeOpenAI, nil
		}
		return ModeOllama, nil
	case ModeOpenAI:
		if s.OpenAIAPIKey == "" {
			return "", fmt.Errorf("%w: provider openai requires OPENAI_API_KEY", ErrConfiguration)
		}
		return ModeOpenAI, nil
	case ModeOllama:
		if s.OllamaBaseURL == "" {
			return "", fmt.Errorf("%w: provider ollama requires OLLAMA_BASE_URL", ErrConfiguration)
		}
		return ModeOllama, nil
	default:
		return "", fmt.Errorf("%w: unknown provider mode %q", ErrConfiguration, mode)
	}
}

// NewBackend は設定に従って言語モデルバックエンドを構築する
func NewBackend(s Settings, logger *slog.Logger) (ask.Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mode, err := s.Resolve(s.Mode)
	if err != nil {
		return nil, err
	}

	var backend ask.Backend
	switch mode {
	case ModeOpenAI:
		b, err := openai.NewChatBackend(s.OpenAIAPIKey,
			openai.WithChatModel(s.OpenAIModel),
			openai.WithChatBaseURL(s.OpenAIBaseURL),
			openai.WithTemperature(s.Temperature),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		backend = b
	case ModeOllama:
		if s.OllamaModel == "" {
			return nil, fmt.Errorf("%w: provider ollama requires OLLAMA_MODEL", ErrConfiguration)
		}
		backend = ollama.NewChatBackend(ollama.ChatConfig{
			BaseURL:     s.OllamaBaseURL,
			Model:       s.OllamaModel,
			Temperature: s.Temperature,
		})
	}

	logger.Info("language model backend selected", "mode", string(s.Mode), "backend", backend.Name())
	return backend, nil
}

// NewEmbedder は設定に従って Embedding バックエンドを構築する
func NewEmbedder(s Settings, logger *slog.Logger) (vectorindex.Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mode, err := s.Resolve(s.EmbeddingMode)
	if err != nil {
		return nil, err
	}

	var embedder vectorindex.Embedder
	switch mode {
	case ModeOpenAI:
		e, err := openai.NewEmbedder(s.OpenAIAPIKey,
			openai.WithEmbeddingModel(s.OpenAIEmbeddingModel),
			openai.WithEmbeddingDimension(s.OpenAIEmbeddingDimension),
			openai.WithEmbeddingBaseURL(s.OpenAIBaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		embedder = e
	case ModeOllama:
		embedder = ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL: s.OllamaBaseURL,
			Model:   s.OllamaEmbeddingModel,
		})
	}

	logger.Info("embedding backend selected", "mode", string(s.EmbeddingMode), "model", embedder.ModelName())
	return embedder, nil
}
