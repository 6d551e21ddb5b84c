package ask

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/memory"
)

func TestFormatContext(t *testing.T) {
	assert.Equal(t, NoContextMarker, FormatContext(nil))

	got := FormatContext([]document.Chunk{
		{ID: "a", Text: "  first text \n", Metadata: map[string]string{document.MetadataPage: "3"}},
		{ID: "b", Text: "second text"},
	})
	assert.Equal(t, "[Source 1 - Page 3]\nfirst text\n\n[Source 2 - Page Unknown]\nsecond text", got)
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, NoHistoryMarker, FormatHistory(nil))

	got := FormatHistory([]memory.Turn{
		{Role: memory.RoleUser, Content: "hi"},
		{Role: memory.RoleAssistant, Content: "hello"},
	})
	assert.Equal(t, "User: hi\nAssistant: hello", got)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("CTX", "HIST", "QUESTION")

	assert.Equal(t, "QUESTION", p.Question)
	assert.Contains(t, p.System, `"`+FallbackAnswer+`"`)
	assert.Contains(t, p.System, "Context:\nCTX\n\nConversation history:\nHIST\n")
	assert.True(t, strings.HasSuffix(p.String(), "\n\nQUESTION"))
}

func TestBuildSourcesTruncatesSnippet(t *testing.T) {
	long := strings.Repeat("あ", SnippetLength+50)
	sources := BuildSources([]document.Chunk{{ID: "a", Text: long}})

	assert.Len(t, sources, 1)
	assert.Equal(t, document.UnknownPage, sources[0].Page)
	assert.Equal(t, SnippetLength, len([]rune(sources[0].Snippet)))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "generating", StateGenerating.String())
	assert.Equal(t, "unknown", State(42).String())
}
