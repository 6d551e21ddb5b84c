// Package memory は1セッション分の会話ログを保持する
package memory

import (
	"slices"
	"sync"

	"github.com/samber/mo"
)

// Role は発話者を表す
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn は会話中の1メッセージを表す。追加後は不変
type Turn struct {
	Role    Role
	Content string
	Seq     int // 追加順の通し番号（Clear 後も単調増加）
}

// Conversation は追加専用の会話ログ
// 明示的な Clear 以外で要素が削除されることはない
type Conversation struct {
	mu    sync.RWMutex
	turns []Turn
	seq   int
}

// NewConversation は空の会話ログを作成する
func NewConversation() *Conversation {
	return &Conversation{}
}

// AppendUser はユーザー発話を追加する
func (c *Conversation) AppendUser(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(RoleUser, content)
}

// AppendAssistant はアシスタント発話を追加する
func (c *Conversation) AppendAssistant(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(RoleAssistant, content)
}

// AppendExchange は質問と回答を1単位として追加する
func (c *Conversation) AppendExchange(question, answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(RoleUser, question)
	c.appendLocked(RoleAssistant, answer)
}

// History は会話ログを古い順に返す
// window を指定した場合は末尾 window 件のみ返す
func (c *Conversation) History(window mo.Option[int]) []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	turns := c.turns
	if n, ok := window.Get(); ok {
		n = max(n, 0)
		if n < len(turns) {
			turns = turns[len(turns)-n:]
		}
	}
	return slices.Clone(turns)
}

// Len は保持しているターン数を返す
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Clear は会話ログを空にする
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
}

func (c *Conversation) appendLocked(role Role, content string) {
	c.seq++
	c.turns = append(c.turns, Turn{Role: role, Content: content, Seq: c.seq})
}
