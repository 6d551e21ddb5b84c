package ingestion

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/vectorindex"
)

type constEmbedder struct{}

func (constEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

func (e constEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (constEmbedder) ModelName() string { return "const" }

type recordingStore struct {
	mu    sync.Mutex
	saves map[string]int
	last  *vectorindex.Snapshot
}

func (s *recordingStore) Save(ctx context.Context, location string, snapshot *vectorindex.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saves == nil {
		s.saves = map[string]int{}
	}
	s.saves[location]++
	s.last = snapshot
	return nil
}

func (s *recordingStore) Load(ctx context.Context, location string) (*vectorindex.Snapshot, error) {
	return nil, vectorindex.ErrStoreNotFound
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T, store vectorindex.SnapshotStore) (*Service, *vectorindex.Index) {
	t.Helper()
	splitter, err := document.NewRecursiveSplitter(40, 10)
	require.NoError(t, err)
	idx := vectorindex.New(constEmbedder{}, store, vectorindex.WithIndexLogger(discardLogger()))
	svc := NewService(document.NewTextLoader(), splitter, idx, "data/vectorstore", WithIngestLogger(discardLogger()))
	return svc, idx
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestService_IngestFileCreatesThenAdds(t *testing.T) {
	store := &recordingStore{}
	svc, idx := newTestService(t, store)
	ctx := context.Background()

	first, err := svc.IngestFile(ctx, writeFile(t, "guide.txt", "The first page talks about setup.\fThe second page talks about usage."))
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "guide.txt", first.Document)
	assert.Equal(t, first.TotalChunks, idx.Len())
	assert.Equal(t, 1, store.saves["data/vectorstore"])

	second, err := svc.IngestFile(ctx, writeFile(t, "notes.md", "Some extra notes."))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.TotalChunks+second.TotalChunks, idx.Len())
	assert.Equal(t, 2, store.saves["data/vectorstore"])

	docs := map[string]bool{}
	for _, e := range store.last.Entries {
		docs[e.Chunk.Metadata[document.MetadataDocument]] = true
		assert.NotEmpty(t, e.Chunk.Metadata[document.MetadataPage])
	}
	assert.Equal(t, map[string]bool{"guide.txt": true, "notes.md": true}, docs)
}

func TestService_IngestFileRejectsUnsupportedType(t *testing.T) {
	svc, idx := newTestService(t, &recordingStore{})

	_, err := svc.IngestFile(context.Background(), writeFile(t, "report.pdf", "%PDF-1.4"))
	require.ErrorIs(t, err, document.ErrUnsupportedFileType)
	assert.False(t, idx.Ready())
}

func TestService_IngestFileRejectsEmptyDocument(t *testing.T) {
	store := &recordingStore{}
	svc, _ := newTestService(t, store)

	_, err := svc.IngestFile(context.Background(), writeFile(t, "empty.txt", "   \n"))
	require.ErrorIs(t, err, document.ErrUnsupportedInput)
	assert.Empty(t, store.saves)
}
