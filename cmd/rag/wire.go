package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"flightrag/internal/chunker"
	"flightrag/internal/config"
	"flightrag/internal/domain"
	"flightrag/internal/embedding"
	"flightrag/internal/embedding/hashing"
	embedopenai "flightrag/internal/embedding/openai"
	"flightrag/internal/generator"
	genopenai "flightrag/internal/generator/openai"
	"flightrag/internal/ingest"
	"flightrag/internal/memory"
	"flightrag/internal/memory/sqlite"
	"flightrag/internal/retriever"
	"flightrag/internal/retry"
	"flightrag/internal/service"
	"flightrag/internal/summarizer"
	vectormem "flightrag/internal/vectorstore/memory"
	"flightrag/internal/vectorstore/pgvector"
	"flightrag/internal/vectorstore/qdrant"
)

// app holds the assembled components of one process.
type app struct {
	cfg     *config.AppConfig
	logger  *zap.Logger
	svc     *service.RAGService
	memory  *memory.Service
	index   domain.VectorIndex
	indexes *indexSet
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// indexSet opens vector indexes by name and reuses them, so ingestion and
// retrieval against the same name share one index.
type indexSet struct {
	mu     sync.Mutex
	open   func(ctx context.Context, name string) (domain.VectorIndex, error)
	byName map[string]domain.VectorIndex
}

func (s *indexSet) Get(ctx context.Context, name string) (domain.VectorIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byName[name]; ok {
		return idx, nil
	}
	idx, err := s.open(ctx, name)
	if err != nil {
		return nil, err
	}
	s.byName[name] = idx
	return idx, nil
}

// ingestTarget opens the index an ingestion writes to, dropping it first
// when recreate is set.
func (s *indexSet) ingestTarget(recreate bool) service.IndexFactory {
	return func(ctx context.Context, name string) (domain.VectorIndex, error) {
		idx, err := s.Get(ctx, name)
		if err != nil || !recreate {
			return idx, err
		}
		if err := idx.Clear(ctx); err != nil {
			return nil, fmt.Errorf("drop index %s: %w", name, err)
		}
		return idx, nil
	}
}

type buildOptions struct {
	// generation builds the chat model. Ingestion alone does not need it.
	generation bool
	recreate   bool
	progress   func(done, total int)
}

func retryPolicy(cfg config.RetryConfig, logger *zap.Logger) *retry.Policy {
	return &retry.Policy{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		AttemptTimeout: config.Duration(cfg.AttemptTimeoutSecs),
		Logger:         logger,
	}
}

func buildEmbedder(cfg *config.AppConfig) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "hashing":
		return hashing.NewEmbedder(cfg.Embedder.Hashing.Dimension), nil
	case "openai":
		e := cfg.Embedder.OpenAI
		return embedopenai.NewClient(embedopenai.Config{
			BaseURL:           e.BaseURL,
			APIKeyEnv:         e.APIKeyEnv,
			Model:             e.Model,
			Dimensions:        e.Dimensions,
			Timeout:           config.Duration(e.TimeoutSecs),
			RequestsPerSecond: e.RequestsPerSecond,
		})
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

func embedBatchSize(cfg *config.AppConfig) int {
	if cfg.Embedder.OpenAI != nil {
		return cfg.Embedder.OpenAI.BatchSize
	}
	return embedding.DefaultBatchSize
}

// buildIndexes returns the opener for the configured vector store and a
// cleanup for any shared connection.
func buildIndexes(ctx context.Context, cfg *config.AppConfig) (func(context.Context, string) (domain.VectorIndex, error), func(), error) {
	vs := cfg.VectorStore
	switch vs.Type {
	case "memory":
		return func(context.Context, string) (domain.VectorIndex, error) {
			return vectormem.NewStorage(), nil
		}, func() {}, nil
	case "qdrant":
		return func(_ context.Context, name string) (domain.VectorIndex, error) {
			return qdrant.NewStorage(qdrant.Config{
				URL:        vs.Qdrant.URL,
				APIKeyEnv:  vs.Qdrant.APIKeyEnv,
				Collection: name,
				Timeout:    config.Duration(vs.Qdrant.TimeoutSecs),
			}), nil
		}, func() {}, nil
	case "pgvector":
		dsn := os.Getenv(vs.PGVector.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("missing PostgreSQL DSN in env %s", vs.PGVector.DSNEnv)
		}
		st, err := pgvector.Open(ctx, pgvector.Config{DSN: dsn, Table: vs.IndexName, MaxConns: vs.PGVector.MaxConns})
		if err != nil {
			return nil, nil, err
		}
		return func(_ context.Context, name string) (domain.VectorIndex, error) {
			if name == vs.IndexName {
				return st, nil
			}
			return st.WithTable(name), nil
		}, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector store: %s", vs.Type)
	}
}

func buildMemory(cfg *config.AppConfig, logger *zap.Logger) (*memory.Service, func(), error) {
	opts := []memory.Option{
		memory.WithMaxTurns(cfg.Memory.MaxTurns),
		memory.WithIdleTTL(time.Duration(cfg.Memory.IdleTTLMins) * time.Minute),
		memory.WithLogger(logger.Named("memory")),
	}
	switch cfg.Memory.Type {
	case "memory":
		return memory.New(memory.NewMapStore(), opts...), func() {}, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.Memory.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return memory.New(store, opts...), func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown memory store: %s", cfg.Memory.Type)
	}
}

func buildGenerator(cfg *config.AppConfig) (*genopenai.Client, error) {
	if cfg.Generator.Type != "openai" {
		return nil, fmt.Errorf("unknown generator: %s", cfg.Generator.Type)
	}
	g := cfg.Generator.OpenAI
	return genopenai.NewClient(genopenai.Config{
		BaseURL:           g.BaseURL,
		APIKeyEnv:         g.APIKeyEnv,
		Model:             g.Model,
		Temperature:       g.Temperature,
		MaxTokens:         g.MaxTokens,
		Timeout:           config.Duration(g.TimeoutSecs),
		RequestsPerSecond: g.RequestsPerSecond,
	})
}

// build assembles every component named by cfg.
func build(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, opts buildOptions) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	policy := retryPolicy(cfg.Retry, logger.Named("retry"))

	provider, err := buildEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	emb := embedding.NewClient(provider,
		embedding.WithBatchSize(embedBatchSize(cfg)),
		embedding.WithRetry(policy),
		embedding.WithLogger(logger.Named("embedding")))

	ch, err := chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap)
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}

	open, closeIndexes, err := buildIndexes(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	a.closers = append(a.closers, closeIndexes)
	a.indexes = &indexSet{open: open, byName: map[string]domain.VectorIndex{}}
	if a.index, err = a.indexes.Get(ctx, cfg.VectorStore.IndexName); err != nil {
		return nil, err
	}

	mem, closeMemory, err := buildMemory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	a.closers = append(a.closers, closeMemory)
	a.memory = mem

	ret := retriever.New(emb, a.index,
		retriever.WithRetry(policy),
		retriever.WithTimeout(config.Duration(cfg.Retrieval.TimeoutSecs)),
		retriever.WithLogger(logger.Named("retriever")))

	pipeline := ingest.New(ch, emb,
		ingest.WithBatchSize(cfg.Ingest.UpsertBatchSize),
		ingest.WithConcurrency(cfg.Ingest.Concurrency),
		ingest.WithLogger(logger.Named("ingest")),
		ingest.WithProgress(opts.progress))

	svcOpts := []service.Option{
		service.WithTopK(cfg.Retrieval.TopK),
		service.WithFilter(domain.Filter{SourceType: domain.SourceType(cfg.Retrieval.SourceType)}),
		service.WithMaxIterations(cfg.Agent.MaxIterations),
		service.WithIngestion(pipeline, a.indexes.ingestTarget(opts.recreate)),
		service.WithSummarizer(summarizer.NewFrequency(cfg.Summarizer.MaxSentences)),
		service.WithProbe("embedder", emb),
		service.WithProbe("vector_index", a.index),
		service.WithLogger(logger.Named("service")),
	}
	if len(cfg.Retrieval.PerSourceK) > 0 {
		svcOpts = append(svcOpts, service.WithPerSourceK(perSourceK(cfg.Retrieval.PerSourceK)))
	}

	var gen service.Generator
	if opts.generation {
		model, err := buildGenerator(cfg)
		if err != nil {
			return nil, fmt.Errorf("generator: %w", err)
		}
		gen = generator.New(model,
			generator.WithRetriever(ret),
			generator.WithRetry(policy),
			generator.WithPersona(cfg.Generator.Persona),
			generator.WithHistoryTurns(cfg.Memory.MaxTurns),
			generator.WithAgentTopK(cfg.Agent.TopK),
			generator.WithLogger(logger.Named("generator")))
		svcOpts = append(svcOpts, service.WithProbe("generator", model))
	} else {
		gen = unavailableGenerator{}
	}

	a.svc = service.NewRAGService(ret, gen, mem, svcOpts...)
	ok = true
	return a, nil
}

// unavailableGenerator stands in for the chat model in ingestion-only runs.
func perSourceK(in map[string]int) map[domain.SourceType]int {
	out := make(map[domain.SourceType]int, len(in))
	for src, k := range in {
		out[domain.SourceType(src)] = k
	}
	return out
}

type unavailableGenerator struct{}

func (unavailableGenerator) Generate(context.Context, string, domain.RetrievalResult, []domain.Turn, domain.ExecutionMode) (domain.Answer, error) {
	return domain.Answer{}, &domain.ProviderError{Kind: domain.KindGeneration, Op: "generate", Err: errors.New("generator not configured")}
}
