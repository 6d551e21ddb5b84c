package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/platform/provider"
)

var configKeys = []string{
	"APP_NAME", "VECTORSTORE_PATH", "VECTORSTORE_BACKEND", "CHUNK_SIZE", "CHUNK_OVERLAP",
	"TOP_K", "SCORE_THRESHOLD", "LLM_PROVIDER", "EMBEDDING_PROVIDER", "LLM_TEMPERATURE",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_LLM_MODEL", "OPENAI_EMBEDDING_MODEL",
	"OPENAI_EMBEDDING_DIMENSION", "OLLAMA_BASE_URL", "OLLAMA_MODEL", "OLLAMA_EMBEDDING_MODEL",
	"SESSION_MAX_ENTRIES", "SESSION_TTL", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD",
	"DB_NAME", "DB_SSLMODE", "HTTP_ADDR", "MAX_FILE_SIZE_MB", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv はテスト中だけ設定用の環境変数を未設定にする
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "RAG Document Assistant", cfg.AppName)
	assert.Equal(t, "data/vectorstore", cfg.Index.PersistPath)
	assert.Equal(t, IndexBackendSQLite, cfg.Index.Backend)
	assert.Equal(t, 1000, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 200, cfg.Ingestion.ChunkOverlap)
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.InDelta(t, 3.0, cfg.Retrieval.ScoreThreshold, 1e-9)
	assert.Equal(t, "auto", cfg.LLM.Provider)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.LLMModel)
	assert.Equal(t, 1536, cfg.OpenAI.EmbeddingDimension)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, "llama3.1:8b", cfg.Ollama.Model)
	assert.Equal(t, 1024, cfg.Session.MaxEntries)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes())
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "TOP_K=7\nSCORE_THRESHOLD=1.5\nLLM_PROVIDER=ollama\nSESSION_TTL=30m\nVECTORSTORE_BACKEND=postgres\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Retrieval.TopK)
	assert.InDelta(t, 1.5, cfg.Retrieval.ScoreThreshold, 1e-9)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, IndexBackendPostgres, cfg.Index.Backend)
}

func TestLoad_EnvironmentWinsOverFile(t *testing.T) {
	clearEnv(t)

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TOP_K=7\n"), 0o600))
	t.Setenv("TOP_K", "2")

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Retrieval.TopK)
}

func TestLoad_InvalidValueFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHUNK_SIZE", "large")
	t.Setenv("SESSION_TTL", "tomorrow")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "zero top_k", env: map[string]string{"TOP_K": "0"}},
		{name: "overlap equals size", env: map[string]string{"CHUNK_SIZE": "100", "CHUNK_OVERLAP": "100"}},
		{name: "unknown llm provider", env: map[string]string{"LLM_PROVIDER": "gemini"}},
		{name: "unknown embedding provider", env: map[string]string{"EMBEDDING_PROVIDER": "cohere"}},
		{name: "unknown index backend", env: map[string]string{"VECTORSTORE_BACKEND": "faiss"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfig_ProviderSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LLM_PROVIDER", "OpenAI")

	cfg, err := Load("")
	require.NoError(t, err)

	s := cfg.ProviderSettings()
	assert.Equal(t, provider.ModeOpenAI, s.Mode)
	assert.Equal(t, provider.ModeAuto, s.EmbeddingMode)
	assert.Equal(t, "sk-test", s.OpenAIAPIKey)
	assert.Equal(t, "text-embedding-3-small", s.OpenAIEmbeddingModel)
	assert.Equal(t, "nomic-embed-text", s.OllamaEmbeddingModel)
}
