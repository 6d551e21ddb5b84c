package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jinford/doc-rag/internal/infra/postgres"
	"github.com/jinford/doc-rag/internal/platform/provider"
)

// ErrInvalidConfig は設定値が不正な場合のエラー
var ErrInvalidConfig = errors.New("invalid configuration")

// インデックスの永続化先
const (
	IndexBackendSQLite   = "sqlite"
	IndexBackendPostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	AppName string

	Index     IndexConfig
	Ingestion IngestionConfig
	Retrieval RetrievalConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	OpenAI    OpenAIConfig
	Ollama    OllamaConfig
	Session   SessionConfig
	Database  DatabaseConfig
	Server    ServerConfig
	Log       LogConfig
}

// IndexConfig はベクトルインデックスの永続化設定
type IndexConfig struct {
	PersistPath string
	Backend     string // "sqlite" or "postgres"
}

// IngestionConfig はチャンク分割の設定
type IngestionConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// RetrievalConfig は検索の設定
type RetrievalConfig struct {
	TopK           int
	ScoreThreshold float64
}

// LLMConfig は言語モデルの選択設定
type LLMConfig struct {
	Provider    string // "auto", "openai" or "ollama"
	Temperature float64
}

// EmbeddingConfig は Embedding の選択設定
type EmbeddingConfig struct {
	Provider string
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	LLMModel           string
	EmbeddingModel     string
	EmbeddingDimension int
}

// OllamaConfig はローカル Ollama サーバーの設定
type OllamaConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
}

// SessionConfig はセッション保持の設定
type SessionConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ServerConfig は HTTP サーバーの設定
type ServerConfig struct {
	Addr        string
	MaxUploadMB int
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		AppName: getEnv("APP_NAME", "RAG Document Assistant"),
		Index: IndexConfig{
			PersistPath: getEnv("VECTORSTORE_PATH", "data/vectorstore"),
			Backend:     strings.ToLower(getEnv("VECTORSTORE_BACKEND", IndexBackendSQLite)),
		},
		Ingestion: IngestionConfig{
			ChunkSize:    getEnvAsInt("CHUNK_SIZE", 1000),
			ChunkOverlap: getEnvAsInt("CHUNK_OVERLAP", 200),
		},
		Retrieval: RetrievalConfig{
			TopK:           getEnvAsInt("TOP_K", 4),
			ScoreThreshold: getEnvAsFloat("SCORE_THRESHOLD", 3.0),
		},
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", string(provider.ModeAuto)),
			Temperature: getEnvAsFloat("LLM_TEMPERATURE", 0.1),
		},
		Embedding: EmbeddingConfig{
			Provider: getEnv("EMBEDDING_PROVIDER", string(provider.ModeAuto)),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
		},
		Ollama: OllamaConfig{
			BaseURL:        getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			Model:          getEnv("OLLAMA_MODEL", "llama3.1:8b"),
			EmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		},
		Session: SessionConfig{
			MaxEntries: getEnvAsInt("SESSION_MAX_ENTRIES", 1024),
			TTL:        getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "docrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "docrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Server: ServerConfig{
			Addr:        getEnv("HTTP_ADDR", ":8000"),
			MaxUploadMB: getEnvAsInt("MAX_FILE_SIZE_MB", 10),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証します
func (c *Config) Validate() error {
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: TOP_K must be positive, got %d", ErrInvalidConfig, c.Retrieval.TopK)
	}
	if c.Ingestion.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive, got %d", ErrInvalidConfig, c.Ingestion.ChunkSize)
	}
	if c.Ingestion.ChunkOverlap < 0 || c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", ErrInvalidConfig, c.Ingestion.ChunkOverlap)
	}
	if c.Session.MaxEntries <= 0 {
		return fmt.Errorf("%w: SESSION_MAX_ENTRIES must be positive, got %d", ErrInvalidConfig, c.Session.MaxEntries)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("%w: MAX_FILE_SIZE_MB must be positive, got %d", ErrInvalidConfig, c.Server.MaxUploadMB)
	}
	switch c.Index.Backend {
	case IndexBackendSQLite, IndexBackendPostgres:
	default:
		return fmt.Errorf("%w: unknown VECTORSTORE_BACKEND %q", ErrInvalidConfig, c.Index.Backend)
	}
	if _, err := provider.ParseMode(c.LLM.Provider); err != nil {
		return fmt.Errorf("%w: LLM_PROVIDER: %w", ErrInvalidConfig, err)
	}
	if _, err := provider.ParseMode(c.Embedding.Provider); err != nil {
		return fmt.Errorf("%w: EMBEDDING_PROVIDER: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ProviderSettings はバックエンド選択用の設定に変換します
// プロバイダ名は Validate 済みであることを前提とします
func (c *Config) ProviderSettings() provider.Settings {
	llmMode, _ := provider.ParseMode(c.LLM.Provider)
	embeddingMode, _ := provider.ParseMode(c.Embedding.Provider)

	return provider.Settings{
		Mode:                     llmMode,
		EmbeddingMode:            embeddingMode,
		OpenAIAPIKey:             c.OpenAI.APIKey,
		OpenAIBaseURL:            c.OpenAI.BaseURL,
		OpenAIModel:              c.OpenAI.LLMModel,
		OpenAIEmbeddingModel:     c.OpenAI.EmbeddingModel,
		OpenAIEmbeddingDimension: c.OpenAI.EmbeddingDimension,
		OllamaBaseURL:            c.Ollama.BaseURL,
		OllamaModel:              c.Ollama.Model,
		OllamaEmbeddingModel:     c.Ollama.EmbeddingModel,
		Temperature:              c.LLM.Temperature,
	}
}

// ConnectionParams は PostgreSQL の接続パラメータに変換します
func (c *Config) ConnectionParams() postgres.ConnectionParams {
	return postgres.ConnectionParams{
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.User,
		Password: c.Database.Password,
		DBName:   c.Database.DBName,
		SSLMode:  c.Database.SSLMode,
	}
}

// MaxUploadBytes はアップロード上限をバイト数で返します
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
