package ask

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/memory"
	"github.com/jinford/doc-rag/internal/core/vectorindex"
)

type stubRetriever struct {
	chunks []document.Chunk
	err    error
}

func (r *stubRetriever) Retrieve(ctx context.Context, question string) ([]document.Chunk, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.chunks, nil
}

// stubBackend は "answer to: <質問>" を空白区切りのトークンで返す
type stubBackend struct {
	mu        sync.Mutex
	prompts   []Prompt
	err       error
	failAfter int
}

func answerFor(p Prompt) string {
	return "answer to: " + p.Question
}

func (b *stubBackend) record(p Prompt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, p)
}

func (b *stubBackend) lastPrompt() Prompt {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prompts[len(b.prompts)-1]
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Invoke(ctx context.Context, prompt Prompt) (string, error) {
	b.record(prompt)
	if b.err != nil {
		return "", b.err
	}
	return answerFor(prompt), nil
}

func (b *stubBackend) Stream(ctx context.Context, prompt Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		b.record(prompt)
		if b.err != nil {
			yield("", b.err)
			return
		}

		tokens := make(chan string)
		done := make(chan struct{})
		defer close(done)
		go func() {
			defer close(tokens)
			for _, t := range strings.SplitAfter(answerFor(prompt), " ") {
				select {
				case tokens <- t:
				case <-done:
					return
				}
			}
		}()

		sent := 0
		for {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			t, ok := <-tokens
			if !ok {
				return
			}
			if b.failAfter > 0 && sent == b.failAfter {
				yield("", errors.New("connection reset"))
				return
			}
			sent++
			if !yield(t, nil) {
				return
			}
		}
	}
}

type countingTokenizer struct{ calls int }

func (c *countingTokenizer) CountTokens(text string) int {
	c.calls++
	return len(strings.Fields(text))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func pageChunks(n int) []document.Chunk {
	chunks := make([]document.Chunk, n)
	for i := range chunks {
		chunks[i] = document.Chunk{
			ID:       fmt.Sprintf("c%d", i),
			Text:     fmt.Sprintf("content %d", i),
			Metadata: map[string]string{document.MetadataPage: fmt.Sprintf("%d", i+1)},
		}
	}
	return chunks
}

func newTestOrchestrator(retriever Retriever, backend Backend, opts ...OrchestratorOption) *Orchestrator {
	return NewOrchestrator(retriever, backend, nil, append([]OrchestratorOption{WithOrchestratorLogger(discardLogger())}, opts...)...)
}

func collect(t *testing.T, seq iter.Seq2[string, error]) (string, error) {
	t.Helper()
	var sb strings.Builder
	for token, err := range seq {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(token)
	}
	return sb.String(), nil
}

func TestOrchestrator_AskConfidenceBoundary(t *testing.T) {
	cases := []struct {
		chunks int
		want   Confidence
	}{
		{0, ConfidenceLow},
		{1, ConfidenceLow},
		{2, ConfidenceHigh},
		{3, ConfidenceHigh},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d chunks", tc.chunks), func(t *testing.T) {
			o := newTestOrchestrator(&stubRetriever{chunks: pageChunks(tc.chunks)}, &stubBackend{})

			result, err := o.Ask(context.Background(), "what?")
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Confidence)
			assert.Len(t, result.Sources, tc.chunks)
		})
	}
}

func TestOrchestrator_AskBuildsResultAndCommits(t *testing.T) {
	backend := &stubBackend{}
	counter := &countingTokenizer{}
	o := newTestOrchestrator(&stubRetriever{chunks: pageChunks(2)}, backend, WithTokenCounter(counter))

	result, err := o.Ask(context.Background(), "what is it?")
	require.NoError(t, err)

	assert.Equal(t, "answer to: what is it?", result.Answer)
	assert.Equal(t, []SourceReference{
		{Page: "1", Snippet: "content 0"},
		{Page: "2", Snippet: "content 1"},
	}, result.Sources)
	assert.Equal(t, StateCompleted, o.State())
	assert.Equal(t, 1, counter.calls)

	history := o.Memory().History(mo.None[int]())
	require.Len(t, history, 2)
	assert.Equal(t, memory.Turn{Role: memory.RoleUser, Content: "what is it?", Seq: 1}, history[0])
	assert.Equal(t, memory.Turn{Role: memory.RoleAssistant, Content: "answer to: what is it?", Seq: 2}, history[1])

	prompt := backend.lastPrompt()
	assert.Contains(t, prompt.System, "[Source 1 - Page 1]\ncontent 0")
	assert.Contains(t, prompt.System, NoHistoryMarker)
	assert.Equal(t, "what is it?", prompt.Question)
}

func TestOrchestrator_AskWithoutContextUsesMarker(t *testing.T) {
	backend := &stubBackend{}
	o := newTestOrchestrator(&stubRetriever{}, backend)

	_, err := o.Ask(context.Background(), "anything")
	require.NoError(t, err)
	assert.Contains(t, backend.lastPrompt().System, "Context:\n"+NoContextMarker)
}

func TestOrchestrator_SecondAskSeesFirstExchange(t *testing.T) {
	backend := &stubBackend{}
	o := newTestOrchestrator(&stubRetriever{chunks: pageChunks(1)}, backend)
	ctx := context.Background()

	first, err := o.Ask(ctx, "first question")
	require.NoError(t, err)
	_, err = o.Ask(ctx, "second question")
	require.NoError(t, err)

	system := backend.lastPrompt().System
	assert.Contains(t, system, "User: first question\nAssistant: "+first.Answer)
	assert.NotContains(t, system, NoHistoryMarker)
}

func TestOrchestrator_HistoryWindowLimitsPrompt(t *testing.T) {
	backend := &stubBackend{}
	o := newTestOrchestrator(&stubRetriever{}, backend)
	ctx := context.Background()

	for i := range 5 {
		_, err := o.Ask(ctx, fmt.Sprintf("q%d", i))
		require.NoError(t, err)
	}

	system := backend.lastPrompt().System
	assert.NotContains(t, system, "User: q0")
	assert.Contains(t, system, "User: q1")
	assert.Contains(t, system, "Assistant: answer to: q3")
}

func TestOrchestrator_ClearResetsHistory(t *testing.T) {
	backend := &stubBackend{}
	o := newTestOrchestrator(&stubRetriever{}, backend)
	ctx := context.Background()

	_, err := o.Ask(ctx, "remember me")
	require.NoError(t, err)

	o.Memory().Clear()
	assert.Empty(t, o.Memory().History(mo.None[int]()))

	_, err = o.Ask(ctx, "do you remember?")
	require.NoError(t, err)
	system := backend.lastPrompt().System
	assert.Contains(t, system, "Conversation history:\n"+NoHistoryMarker)
	assert.NotContains(t, system, "remember me")
}

func TestOrchestrator_ProviderFailure(t *testing.T) {
	backend := &stubBackend{err: errors.New("dial tcp: connection refused")}
	o := newTestOrchestrator(&stubRetriever{chunks: pageChunks(2)}, backend)

	_, err := o.Ask(context.Background(), "hello")
	require.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, StateFailed, o.State())
	assert.Equal(t, 0, o.Memory().Len())
}

func TestOrchestrator_RetrievalFailure(t *testing.T) {
	o := newTestOrchestrator(&stubRetriever{err: vectorindex.ErrIndexNotReady}, &stubBackend{})

	_, err := o.Ask(context.Background(), "hello")
	require.ErrorIs(t, err, vectorindex.ErrIndexNotReady)
	assert.Equal(t, StateFailed, o.State())
}

func TestOrchestrator_EmptyQuestion(t *testing.T) {
	o := newTestOrchestrator(&stubRetriever{}, &stubBackend{})

	_, err := o.Ask(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Equal(t, StateIdle, o.State())

	_, err = collect(t, o.AskStream(context.Background(), ""))
	require.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestOrchestrator_StreamMatchesAsk(t *testing.T) {
	defer goleak.VerifyNone(t)

	retriever := &stubRetriever{chunks: pageChunks(3)}
	batch := newTestOrchestrator(retriever, &stubBackend{})
	streaming := newTestOrchestrator(retriever, &stubBackend{})
	ctx := context.Background()

	result, err := batch.Ask(ctx, "how does it work")
	require.NoError(t, err)

	streamed, err := collect(t, streaming.AskStream(ctx, "how does it work"))
	require.NoError(t, err)

	assert.Equal(t, result.Answer, streamed)
	assert.Equal(t, batch.Memory().History(mo.None[int]()), streaming.Memory().History(mo.None[int]()))
	assert.Equal(t, StateCompleted, streaming.State())
}

func TestOrchestrator_StreamEarlyBreakCommitsPartialAnswer(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := newTestOrchestrator(&stubRetriever{}, &stubBackend{})

	var received []string
	for token, err := range o.AskStream(context.Background(), "one two three") {
		require.NoError(t, err)
		received = append(received, token)
		if len(received) == 2 {
			break
		}
	}

	assert.Equal(t, []string{"answer ", "to: "}, received)
	history := o.Memory().History(mo.None[int]())
	require.Len(t, history, 2)
	assert.Equal(t, "one two three", history[0].Content)
	assert.Equal(t, "answer to: ", history[1].Content)
	assert.Equal(t, StateCompleted, o.State())
}

func TestOrchestrator_StreamContextCancelCommitsPartialAnswer(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := newTestOrchestrator(&stubRetriever{}, &stubBackend{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		received []string
		lastErr  error
	)
	for token, err := range o.AskStream(ctx, "cancel me") {
		if err != nil {
			lastErr = err
			break
		}
		received = append(received, token)
		cancel()
	}

	require.ErrorIs(t, lastErr, context.Canceled)
	assert.Equal(t, []string{"answer "}, received)
	history := o.Memory().History(mo.None[int]())
	require.Len(t, history, 2)
	assert.Equal(t, "answer ", history[1].Content)
	assert.Equal(t, StateFailed, o.State())
}

func TestOrchestrator_StreamMidwayFailureCommitsPartialAnswer(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := newTestOrchestrator(&stubRetriever{}, &stubBackend{failAfter: 1})

	partial, err := collect(t, o.AskStream(context.Background(), "flaky"))
	require.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, "answer ", partial)

	history := o.Memory().History(mo.None[int]())
	require.Len(t, history, 2)
	assert.Equal(t, "answer ", history[1].Content)
	assert.Equal(t, StateFailed, o.State())
}

func TestOrchestrator_StreamFailureBeforeFirstTokenSkipsCommit(t *testing.T) {
	o := newTestOrchestrator(&stubRetriever{}, &stubBackend{err: errors.New("503 service unavailable")})

	_, err := collect(t, o.AskStream(context.Background(), "hello"))
	require.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, 0, o.Memory().Len())
	assert.Equal(t, StateFailed, o.State())
}

func TestOrchestrator_StreamIsNotRestartable(t *testing.T) {
	o := newTestOrchestrator(&stubRetriever{}, &stubBackend{})
	stream := o.AskStream(context.Background(), "once")

	_, err := collect(t, stream)
	require.NoError(t, err)

	_, err = collect(t, stream)
	require.ErrorIs(t, err, ErrStreamConsumed)
	assert.Equal(t, 2, o.Memory().Len())
}

func TestOrchestrator_ConcurrentAsksAreSerialized(t *testing.T) {
	backend := &stubBackend{}
	o := newTestOrchestrator(&stubRetriever{}, backend)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			question := fmt.Sprintf("question %d", i)
			if i%2 == 0 {
				_, err := o.Ask(ctx, question)
				assert.NoError(t, err)
				return
			}
			_, err := collect(t, o.AskStream(ctx, question))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history := o.Memory().History(mo.None[int]())
	require.Len(t, history, 40)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, memory.RoleUser, history[i].Role)
		assert.Equal(t, memory.RoleAssistant, history[i+1].Role)
		assert.Equal(t, "answer to: "+history[i].Content, history[i+1].Content)
	}

	// 各プロンプトの履歴はその質問より前に確定したターンだけで構成される
	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.prompts, 20)
	for i, prompt := range backend.prompts {
		before := history[max(0, 2*i-HistoryWindow) : 2*i]
		want := BuildPrompt(FormatContext(nil), FormatHistory(before), history[2*i].Content)
		assert.Equal(t, want, prompt, "prompt %d", i)
	}
}
