package session

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Store はセッションの保存先を抽象化する
// 実装は並行安全であること。Get は参照したセッションの有効期限を延長する
type Store interface {
	Get(id string) (*Session, bool)
	Add(id string, sess *Session)
	Remove(id string) bool
	Len() int
}

// EvictCallback はセッションが追い出された際に呼ばれる
type EvictCallback func(id string, sess *Session)

// LRUStore は件数上限と TTL で追い出す Store
// TTL は最後に参照された時刻から数える
type LRUStore struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, *Session]
}

var _ Store = (*LRUStore)(nil)

// NewLRUStore は LRUStore を作成する
// maxEntries が0以下の場合は件数無制限、ttl が0以下の場合は期限なし
func NewLRUStore(maxEntries int, ttl time.Duration, onEvict EvictCallback) *LRUStore {
	var cb expirable.EvictCallback[string, *Session]
	if onEvict != nil {
		cb = func(id string, sess *Session) { onEvict(id, sess) }
	}
	return &LRUStore{lru: expirable.NewLRU(max(maxEntries, 0), cb, max(ttl, 0))}
}

// Get はセッションを返し、有効期限を現在時刻から TTL 後に延長する
func (s *LRUStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.lru.Get(id)
	if !ok {
		return nil, false
	}
	// 既存キーへの Add は期限を更新するだけで追い出しは発生しない
	s.lru.Add(id, sess)
	return sess, true
}

// Peek は有効期限を延長せずにセッションを返す
func (s *LRUStore) Peek(id string) (*Session, bool) {
	return s.lru.Peek(id)
}

func (s *LRUStore) Add(id string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(id, sess)
}

func (s *LRUStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Remove(id)
}

func (s *LRUStore) Len() int {
	return s.lru.Len()
}
