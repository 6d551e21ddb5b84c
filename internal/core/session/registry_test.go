package session

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/ask"
	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/memory"
)

type emptyRetriever struct{}

func (emptyRetriever) Retrieve(ctx context.Context, question string) ([]document.Chunk, error) {
	return nil, nil
}

type echoBackend struct{}

func (echoBackend) Name() string { return "echo" }

func (echoBackend) Invoke(ctx context.Context, prompt ask.Prompt) (string, error) {
	return "echo: " + prompt.Question, nil
}

func (echoBackend) Stream(ctx context.Context, prompt ask.Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("echo: "+prompt.Question, nil)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRegistry(store Store) (*Registry, *int) {
	created := 0
	var mu sync.Mutex
	factory := func(conv *memory.Conversation) *ask.Orchestrator {
		mu.Lock()
		created++
		mu.Unlock()
		return ask.NewOrchestrator(emptyRetriever{}, echoBackend{}, conv, ask.WithOrchestratorLogger(discardLogger()))
	}
	return NewRegistry(store, factory, WithRegistryLogger(discardLogger())), &created
}

func TestRegistry_GetOrCreateReturnsSameInstance(t *testing.T) {
	r, created := newTestRegistry(NewLRUStore(10, time.Hour, nil))

	a1, err := r.GetOrCreate("alice")
	require.NoError(t, err)
	a2, err := r.GetOrCreate("alice")
	require.NoError(t, err)
	b, err := r.GetOrCreate("bob")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.NotSame(t, a1.Memory(), b.Memory())
	assert.Equal(t, 2, *created)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_EmptyID(t *testing.T) {
	r, _ := newTestRegistry(NewLRUStore(10, time.Hour, nil))

	_, err := r.GetOrCreate("")
	require.ErrorIs(t, err, ErrEmptySessionID)
}

func TestRegistry_ConcurrentCreateForSameID(t *testing.T) {
	r, created := newTestRegistry(NewLRUStore(10, time.Hour, nil))

	results := make([]*ask.Orchestrator, 32)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := r.GetOrCreate("shared")
			assert.NoError(t, err)
			results[i] = o
		}()
	}
	wg.Wait()

	for _, o := range results {
		assert.Same(t, results[0], o)
	}
	assert.Equal(t, 1, *created)
}

func TestRegistry_SessionsAreIndependent(t *testing.T) {
	r, _ := newTestRegistry(NewLRUStore(10, time.Hour, nil))
	ctx := context.Background()

	alice, err := r.GetOrCreate("alice")
	require.NoError(t, err)
	_, err = alice.Ask(ctx, "hello from alice")
	require.NoError(t, err)

	bob, err := r.GetOrCreate("bob")
	require.NoError(t, err)
	assert.Equal(t, 0, bob.Memory().Len())
	assert.Equal(t, 2, alice.Memory().Len())
}

func TestRegistry_ClearIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(NewLRUStore(10, time.Hour, nil))

	o, err := r.GetOrCreate("alice")
	require.NoError(t, err)
	_, err = o.Ask(context.Background(), "hi")
	require.NoError(t, err)

	r.Clear("alice")
	r.Clear("alice")
	r.Clear("nobody")

	assert.Empty(t, o.Memory().History(mo.None[int]()))
	_, ok := r.Get("nobody")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	store := NewLRUStore(2, time.Hour, func(id string, sess *Session) {
		evicted = append(evicted, id)
	})
	r, _ := newTestRegistry(store)

	for i := range 3 {
		_, err := r.GetOrCreate(fmt.Sprintf("s%d", i))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"s0"}, evicted)
	assert.Equal(t, 2, r.Len())
	_, ok := r.Get("s0")
	assert.False(t, ok)
}

func TestRegistry_EvictionClearsMemory(t *testing.T) {
	store := NewLRUStore(1, time.Hour, LogEviction(discardLogger()))
	r, _ := newTestRegistry(store)

	first, err := r.GetOrCreate("first")
	require.NoError(t, err)
	_, err = first.Ask(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, 2, first.Memory().Len())

	_, err = r.GetOrCreate("second")
	require.NoError(t, err)
	assert.Equal(t, 0, first.Memory().Len())
}

func TestLRUStore_ExpiresAfterTTL(t *testing.T) {
	store := NewLRUStore(10, 50*time.Millisecond, nil)
	store.Add("a", &Session{ID: "a", Memory: memory.NewConversation()})

	_, ok := store.Get("a")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := store.Peek("a")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRegistry_AccessExtendsTTL(t *testing.T) {
	const ttl = 150 * time.Millisecond
	store := NewLRUStore(10, ttl, LogEviction(discardLogger()))
	r, created := newTestRegistry(store)

	o, err := r.GetOrCreate("active")
	require.NoError(t, err)
	_, err = o.Ask(context.Background(), "hi")
	require.NoError(t, err)

	// TTL の4倍の時間、TTL より短い間隔で参照し続ける
	deadline := time.Now().Add(4 * ttl)
	for time.Now().Before(deadline) {
		time.Sleep(ttl / 3)
		got, err := r.GetOrCreate("active")
		require.NoError(t, err)
		require.Same(t, o, got)
	}

	assert.Equal(t, 2, o.Memory().Len())
	assert.Equal(t, 1, *created)

	// 参照をやめると期限切れになる
	assert.Eventually(t, func() bool {
		_, ok := store.Peek("active")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRegistry_CreateDoesNotBlockOtherIDs(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	factory := func(conv *memory.Conversation) *ask.Orchestrator {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return ask.NewOrchestrator(emptyRetriever{}, echoBackend{}, conv, ask.WithOrchestratorLogger(discardLogger()))
	}
	r := NewRegistry(NewLRUStore(10, time.Hour, nil), factory, WithRegistryLogger(discardLogger()))

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_, err := r.GetOrCreate("slow")
		assert.NoError(t, err)
	}()
	<-started

	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		_, err := r.GetOrCreate("fast")
		assert.NoError(t, err)
		_, ok := r.Get("fast")
		assert.True(t, ok)
		r.Clear("fast")
	}()

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("GetOrCreate for another id waited for a pending creation")
	}

	close(release)
	<-slowDone
	assert.Equal(t, 2, r.Len())
}
