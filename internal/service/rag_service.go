// Package service is the query-side entry point: it ties retrieval,
// generation and conversation memory together.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"flightrag/internal/domain"
	"flightrag/internal/ingest"
	"flightrag/internal/summarizer"
	"flightrag/internal/vectorstore"
)

const (
	MaxUserIDLength = 100
	MaxQueryLength  = 2000
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, filter domain.Filter) (domain.RetrievalResult, error)
}

type Generator interface {
	Generate(ctx context.Context, query string, retrieved domain.RetrievalResult, history []domain.Turn, mode domain.ExecutionMode) (domain.Answer, error)
}

// Memory is the conversation memory the service owns.
type Memory interface {
	History(ctx context.Context, userID string) ([]domain.Turn, error)
	AppendExchange(ctx context.Context, userID, query, reply string) error
	Clear(ctx context.Context, userID string) error
}

// Ingester populates an index from a corpus path.
type Ingester interface {
	Ingest(ctx context.Context, path string, index domain.VectorIndex) (ingest.Report, error)
}

// IndexFactory opens the vector index with the given name.
type IndexFactory func(ctx context.Context, name string) (domain.VectorIndex, error)

// RAGService answers questions for users and keeps their sessions.
type RAGService struct {
	retriever Retriever
	generator Generator
	memory    Memory

	ingester   Ingester
	indexes    IndexFactory
	summarizer *summarizer.Frequency
	probes     map[string]domain.Pinger

	topK          int
	filter        domain.Filter
	perSourceK    map[domain.SourceType]int
	maxIterations int
	probeTimeout  time.Duration
	logger        *zap.Logger
}

type Option func(*RAGService)

// WithTopK sets k for assistant-mode retrieval.
func WithTopK(k int) Option {
	return func(s *RAGService) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithFilter restricts assistant-mode retrieval.
func WithFilter(f domain.Filter) Option {
	return func(s *RAGService) { s.filter = f }
}

// WithPerSourceK makes assistant-mode retrieval search each listed source
// with its own k and merge the hits. It takes precedence over WithTopK and
// WithFilter.
func WithPerSourceK(k map[domain.SourceType]int) Option {
	return func(s *RAGService) {
		s.perSourceK = make(map[domain.SourceType]int, len(k))
		for src, n := range k {
			if n > 0 {
				s.perSourceK[src] = n
			}
		}
	}
}

// WithMaxIterations caps agent-mode tool rounds.
func WithMaxIterations(n int) Option {
	return func(s *RAGService) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// WithIngestion enables Ingest.
func WithIngestion(i Ingester, indexes IndexFactory) Option {
	return func(s *RAGService) {
		s.ingester = i
		s.indexes = indexes
	}
}

func WithSummarizer(f *summarizer.Frequency) Option {
	return func(s *RAGService) { s.summarizer = f }
}

// WithProbe registers a named dependency for Health.
func WithProbe(name string, p domain.Pinger) Option {
	return func(s *RAGService) {
		if p != nil {
			s.probes[name] = p
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *RAGService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewRAGService(retriever Retriever, generator Generator, memory Memory, opts ...Option) *RAGService {
	s := &RAGService{
		retriever:     retriever,
		generator:     generator,
		memory:        memory,
		summarizer:    summarizer.NewFrequency(3),
		probes:        make(map[string]domain.Pinger),
		topK:          5,
		maxIterations: 5,
		probeTimeout:  5 * time.Second,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateUserID(userID string) error {
	id := strings.TrimSpace(userID)
	if id == "" {
		return domain.InvalidArgument("user_id must not be empty")
	}
	if utf8.RuneCountInString(id) > MaxUserIDLength {
		return domain.InvalidArgument("user_id must be at most %d characters", MaxUserIDLength)
	}
	return nil
}

func validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return domain.InvalidArgument("query must not be empty")
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return domain.InvalidArgument("query must be at most %d characters", MaxQueryLength)
	}
	return nil
}

// Ask answers query for userID and records the exchange. Invalid input is
// rejected before any retrieval, generation or memory access. If ctx is
// done before the answer is ready, nothing is recorded.
func (s *RAGService) Ask(ctx context.Context, userID, query string, useAgent bool) (domain.Answer, error) {
	if err := validateUserID(userID); err != nil {
		return domain.Answer{}, err
	}
	if err := validateQuery(query); err != nil {
		return domain.Answer{}, err
	}
	userID = strings.TrimSpace(userID)
	query = strings.TrimSpace(query)

	history, err := s.memory.History(ctx, userID)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("load history: %w", err)
	}

	var (
		mode      domain.ExecutionMode = domain.Assistant{}
		retrieved domain.RetrievalResult
	)
	if useAgent {
		// The agent retrieves through its tool.
		mode = domain.Agent{MaxIterations: s.maxIterations}
	} else {
		retrieved, err = s.retrieve(ctx, query)
		if err != nil {
			return domain.Answer{}, err
		}
	}

	answer, err := s.generator.Generate(ctx, query, retrieved, history, mode)
	if err != nil {
		s.logger.Error("generation failed",
			zap.String("user_id", userID),
			zap.String("mode", domain.ModeName(mode)),
			zap.Error(err))
		return domain.Answer{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Answer{}, err
	}
	if err := s.memory.AppendExchange(context.WithoutCancel(ctx), userID, query, answer.Text); err != nil {
		return domain.Answer{}, fmt.Errorf("record exchange: %w", err)
	}
	s.logger.Info("answered query",
		zap.String("user_id", userID),
		zap.String("mode", answer.Mode),
		zap.String("data_source", string(answer.DataSource)),
		zap.Int("retrieved", answer.RetrievedCount))
	return answer, nil
}

func (s *RAGService) retrieve(ctx context.Context, query string) (domain.RetrievalResult, error) {
	if len(s.perSourceK) == 0 {
		return s.retriever.Retrieve(ctx, query, s.topK, s.filter)
	}
	var (
		mu     sync.Mutex
		merged domain.RetrievalResult
		seen   = make(map[string]struct{})
	)
	g, gctx := errgroup.WithContext(ctx)
	for src, k := range s.perSourceK {
		g.Go(func() error {
			hits, err := s.retriever.Retrieve(gctx, query, k, domain.Filter{SourceType: src})
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, h := range hits {
				if _, dup := seen[h.ID]; dup {
					continue
				}
				seen[h.ID] = struct{}{}
				merged = append(merged, h)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Rank is stable; sort by id first so equal keys do not depend on
	// goroutine completion order.
	slices.SortFunc(merged, func(a, b domain.SearchResult) int { return strings.Compare(a.ID, b.ID) })
	vectorstore.Rank(merged)
	return merged, nil
}

// Ingest loads the corpus at path into the index named indexName.
func (s *RAGService) Ingest(ctx context.Context, path, indexName string) (ingest.Report, error) {
	if s.ingester == nil || s.indexes == nil {
		return ingest.Report{}, errors.New("ingestion is not configured")
	}
	if strings.TrimSpace(path) == "" {
		return ingest.Report{}, domain.InvalidArgument("corpus path must not be empty")
	}
	if strings.TrimSpace(indexName) == "" {
		return ingest.Report{}, domain.InvalidArgument("index name must not be empty")
	}
	index, err := s.indexes(ctx, indexName)
	if err != nil {
		return ingest.Report{}, fmt.Errorf("open index %s: %w", indexName, err)
	}
	return s.ingester.Ingest(ctx, path, index)
}

// History returns the user's turns, oldest first.
func (s *RAGService) History(ctx context.Context, userID string) ([]domain.Turn, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	return s.memory.History(ctx, strings.TrimSpace(userID))
}

// Clear forgets the user's conversation.
func (s *RAGService) Clear(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	return s.memory.Clear(ctx, strings.TrimSpace(userID))
}

// Summary summarises the user's conversation.
func (s *RAGService) Summary(ctx context.Context, userID string) (summarizer.Summary, error) {
	turns, err := s.History(ctx, userID)
	if err != nil {
		return summarizer.Summary{}, err
	}
	return s.summarizer.Session(strings.TrimSpace(userID), turns), nil
}

// HealthReport lists the reachability of every probed dependency.
type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

func (h HealthReport) Healthy() bool { return h.Status == "healthy" }

// Health pings every registered dependency.
func (s *RAGService) Health(ctx context.Context) HealthReport {
	report := HealthReport{Status: "healthy", Components: make(map[string]string, len(s.probes)), Timestamp: time.Now().UTC()}
	for name, p := range s.probes {
		pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			report.Status = "degraded"
			report.Components[name] = "unavailable: " + err.Error()
			s.logger.Warn("health probe failed", zap.String("component", name), zap.Error(err))
			continue
		}
		report.Components[name] = "ok"
	}
	return report
}
