package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions,omitempty"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	BatchSize         int     `yaml:"batch_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// HashingEmbedderConfig configures the offline feature-hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                 `yaml:"type"`
	OpenAI  *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
	Hashing *HashingEmbedderConfig `yaml:"hashing,omitempty"`
}

// OpenAIGeneratorConfig configures the chat completions provider.
type OpenAIGeneratorConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens,omitempty"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// GeneratorConfig selects the generative model provider.
type GeneratorConfig struct {
	Type    string                 `yaml:"type"`
	OpenAI  *OpenAIGeneratorConfig `yaml:"openai,omitempty"`
	Persona string                 `yaml:"persona,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
}

// VectorStoreConfig selects and configures the vector store implementation.
// IndexName is the Qdrant collection or the PostgreSQL table.
type VectorStoreConfig struct {
	Type      string          `yaml:"type"`
	IndexName string          `yaml:"index_name"`
	Qdrant    *QdrantConfig   `yaml:"qdrant,omitempty"`
	PGVector  *PGVectorConfig `yaml:"pgvector,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PGVectorConfig names the environment variable holding the PostgreSQL DSN.
type PGVectorConfig struct {
	DSNEnv   string `yaml:"dsn_env"`
	MaxConns int32  `yaml:"max_conns,omitempty"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	UpsertBatchSize int `yaml:"upsert_batch_size"`
	Concurrency     int `yaml:"concurrency"`
}

// RetrievalConfig configures query-time retrieval.
type RetrievalConfig struct {
	TopK        int    `yaml:"top_k"`
	SourceType  string `yaml:"source_type,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	// PerSourceK, when set, retrieves each listed source separately with
	// its own k and merges the hits.
	PerSourceK map[string]int `yaml:"per_source_k,omitempty"`
}

// MemoryConfig configures conversation memory.
type MemoryConfig struct {
	Type        string        `yaml:"type"`
	MaxTurns    int           `yaml:"max_turns"`
	IdleTTLMins int           `yaml:"idle_ttl_mins"`
	SQLite      *SQLiteConfig `yaml:"sqlite,omitempty"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// AgentConfig bounds agent mode.
type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	TopK          int `yaml:"top_k"`
}

// RetryConfig configures backoff at provider boundaries.
type RetryConfig struct {
	MaxAttempts        int `yaml:"max_attempts"`
	BaseDelayMs        int `yaml:"base_delay_ms"`
	MaxDelayMs         int `yaml:"max_delay_ms"`
	AttemptTimeoutSecs int `yaml:"attempt_timeout_secs"`
}

// SummarizerConfig configures conversation summaries.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Memory      MemoryConfig      `yaml:"memory"`
	Agent       AgentConfig       `yaml:"agent"`
	Retry       RetryConfig       `yaml:"retry"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/flightrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/flightrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "flightrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "openai"},
		Generator:   GeneratorConfig{Type: "openai"},
		VectorStore: VectorStoreConfig{Type: "qdrant"},
		Memory:      MemoryConfig{Type: "memory"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "openai"
	}
	switch cfg.Embedder.Type {
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		e := cfg.Embedder.OpenAI
		if e.BaseURL == "" {
			e.BaseURL = "https://api.openai.com/v1"
		}
		if e.APIKeyEnv == "" {
			e.APIKeyEnv = "OPENAI_API_KEY"
		}
		if e.Model == "" {
			e.Model = "text-embedding-3-large"
		}
		if e.TimeoutSecs == 0 {
			e.TimeoutSecs = 30
		}
		if e.BatchSize == 0 {
			e.BatchSize = 100
		}
	case "hashing":
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if cfg.Embedder.Hashing.Dimension == 0 {
			cfg.Embedder.Hashing.Dimension = 256
		}
	}

	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "openai"
	}
	if cfg.Generator.Type == "openai" {
		if cfg.Generator.OpenAI == nil {
			cfg.Generator.OpenAI = &OpenAIGeneratorConfig{}
		}
		g := cfg.Generator.OpenAI
		if g.BaseURL == "" {
			g.BaseURL = "https://api.openai.com/v1"
		}
		if g.APIKeyEnv == "" {
			g.APIKeyEnv = "OPENAI_API_KEY"
		}
		if g.Model == "" {
			g.Model = "gpt-4o-mini"
		}
		if g.TimeoutSecs == 0 {
			g.TimeoutSecs = 120
		}
	}

	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1000
		if cfg.Chunker.Overlap == 0 {
			cfg.Chunker.Overlap = 200
		}
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "qdrant"
	}
	if cfg.VectorStore.IndexName == "" {
		cfg.VectorStore.IndexName = "flightaware"
	}
	switch cfg.VectorStore.Type {
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.URL == "" {
			cfg.VectorStore.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	case "pgvector":
		if cfg.VectorStore.PGVector == nil {
			cfg.VectorStore.PGVector = &PGVectorConfig{}
		}
		if cfg.VectorStore.PGVector.DSNEnv == "" {
			cfg.VectorStore.PGVector.DSNEnv = "DATABASE_URL"
		}
	}

	if cfg.Ingest.UpsertBatchSize == 0 {
		cfg.Ingest.UpsertBatchSize = 100
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 4
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.TimeoutSecs == 0 {
		cfg.Retrieval.TimeoutSecs = 10
	}

	if cfg.Memory.Type == "" {
		cfg.Memory.Type = "memory"
	}
	if cfg.Memory.MaxTurns == 0 {
		cfg.Memory.MaxTurns = 20
	}
	if cfg.Memory.IdleTTLMins == 0 {
		cfg.Memory.IdleTTLMins = 60
	}
	if cfg.Memory.Type == "sqlite" {
		if cfg.Memory.SQLite == nil {
			cfg.Memory.SQLite = &SQLiteConfig{}
		}
		if cfg.Memory.SQLite.Path == "" {
			if home, err := os.UserHomeDir(); err == nil {
				cfg.Memory.SQLite.Path = filepath.Join(home, ".local", "share", "flightrag", "memory.db")
			} else {
				cfg.Memory.SQLite.Path = "memory.db"
			}
		}
	}

	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 5
	}
	if cfg.Agent.TopK == 0 {
		cfg.Agent.TopK = cfg.Retrieval.TopK
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelayMs == 0 {
		cfg.Retry.BaseDelayMs = 200
	}
	if cfg.Retry.MaxDelayMs == 0 {
		cfg.Retry.MaxDelayMs = 5000
	}
	if cfg.Retry.AttemptTimeoutSecs == 0 {
		cfg.Retry.AttemptTimeoutSecs = 60
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 3
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// Validate rejects configurations the components cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Embedder.Type == "openai" || c.Embedder.Type == "hashing", "embedder.type: unknown %q", c.Embedder.Type)
	check(c.Generator.Type == "openai", "generator.type: unknown %q", c.Generator.Type)
	switch c.VectorStore.Type {
	case "memory", "qdrant", "pgvector":
	default:
		check(false, "vector_store.type: unknown %q", c.VectorStore.Type)
	}
	check(c.Memory.Type == "memory" || c.Memory.Type == "sqlite", "memory.type: unknown %q", c.Memory.Type)

	check(c.Chunker.ChunkSize > 0, "chunker.chunk_size must be positive")
	check(c.Chunker.Overlap >= 0, "chunker.overlap must not be negative")
	check(c.Chunker.Overlap < c.Chunker.ChunkSize, "chunker.overlap (%d) must be smaller than chunk_size (%d)", c.Chunker.Overlap, c.Chunker.ChunkSize)

	if c.Embedder.OpenAI != nil {
		check(c.Embedder.OpenAI.BatchSize > 0, "embedder.openai.batch_size must be positive")
	}
	if c.Embedder.Hashing != nil {
		check(c.Embedder.Hashing.Dimension > 0, "embedder.hashing.dimension must be positive")
	}
	check(c.Ingest.UpsertBatchSize > 0, "ingest.upsert_batch_size must be positive")
	check(c.Ingest.Concurrency > 0, "ingest.concurrency must be positive")
	check(c.Retrieval.TopK > 0, "retrieval.top_k must be positive")
	switch c.Retrieval.SourceType {
	case "", "json", "pdf":
	default:
		check(false, "retrieval.source_type: unknown %q", c.Retrieval.SourceType)
	}
	if len(c.Retrieval.PerSourceK) > 0 {
		check(c.Retrieval.SourceType == "", "retrieval.per_source_k cannot be combined with retrieval.source_type")
	}
	for src, k := range c.Retrieval.PerSourceK {
		switch src {
		case "json", "pdf":
			check(k > 0, "retrieval.per_source_k.%s must be positive", src)
		default:
			check(false, "retrieval.per_source_k: unknown source %q", src)
		}
	}
	check(c.Memory.MaxTurns > 0, "memory.max_turns must be positive")
	check(c.Agent.MaxIterations > 0, "agent.max_iterations must be positive")
	check(c.Agent.TopK > 0, "agent.top_k must be positive")
	check(c.Retry.MaxAttempts > 0, "retry.max_attempts must be positive")
	return errors.Join(errs...)
}

// Duration converts a seconds field.
func Duration(secs int) time.Duration { return time.Duration(secs) * time.Second }
