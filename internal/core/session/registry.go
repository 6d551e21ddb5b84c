// Package session はセッションIDごとの会話と Orchestrator を管理する
package session

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jinford/doc-rag/internal/core/ask"
	"github.com/jinford/doc-rag/internal/core/memory"
)

// ErrEmptySessionID はセッションIDが空の場合のエラー
var ErrEmptySessionID = errors.New("session id is required")

// Session はセッションIDと会話・Orchestrator の組を表す
type Session struct {
	ID           string
	Memory       *memory.Conversation
	Orchestrator *ask.Orchestrator
	CreatedAt    time.Time
}

// Factory は新しい会話ログに束縛された Orchestrator を作る
type Factory func(conv *memory.Conversation) *ask.Orchestrator

// Registry はセッションIDから Session を引くレジストリ
// 初回参照時に Session を生成し、同じIDには同じインスタンスを返す
// 生成は ID ごとに1回にまとめられ、異なる ID の呼び出しは互いを待たない
type Registry struct {
	store   Store
	factory Factory
	logger  *slog.Logger
	now     func() time.Time

	creating singleflight.Group
}

// RegistryOption は Registry のオプション
type RegistryOption func(*Registry)

// WithRegistryLogger はロガーを設定する
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry は Registry を作成する
func NewRegistry(store Store, factory Factory, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:   store,
		factory: factory,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// GetOrCreate は id の Session の Orchestrator を返す。存在しなければ作成する
func (r *Registry) GetOrCreate(id string) (*ask.Orchestrator, error) {
	sess, err := r.getOrCreateSession(id)
	if err != nil {
		return nil, err
	}
	return sess.Orchestrator, nil
}

// Get は既存の Session を返す。参照したセッションの有効期限は延長される
func (r *Registry) Get(id string) (*Session, bool) {
	return r.store.Get(id)
}

// Clear は id の会話ログを空にする。存在しない id は何もしない
func (r *Registry) Clear(id string) {
	sess, ok := r.Get(id)
	if !ok {
		r.logger.Debug("clear requested for unknown session", "sessionID", id)
		return
	}
	sess.Memory.Clear()
	r.logger.Info("session memory cleared", "sessionID", id)
}

// Len は保持している Session 数を返す
func (r *Registry) Len() int {
	return r.store.Len()
}

func (r *Registry) getOrCreateSession(id string) (*Session, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}

	if sess, ok := r.store.Get(id); ok {
		return sess, nil
	}

	v, _, _ := r.creating.Do(id, func() (any, error) {
		if sess, ok := r.store.Get(id); ok {
			return sess, nil
		}

		conv := memory.NewConversation()
		sess := &Session{
			ID:           id,
			Memory:       conv,
			Orchestrator: r.factory(conv),
			CreatedAt:    r.now(),
		}
		r.store.Add(id, sess)

		r.logger.Info("session created", "sessionID", id, "sessions", r.store.Len())
		return sess, nil
	})
	return v.(*Session), nil
}

// LogEviction は追い出されたセッションの会話ログを破棄してログに残す EvictCallback を返す
func LogEviction(logger *slog.Logger) EvictCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return func(id string, sess *Session) {
		sess.Memory.Clear()
		logger.Info("session evicted", "sessionID", id, "age", time.Since(sess.CreatedAt).String())
	}
}
