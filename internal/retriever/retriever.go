// Package retriever answers similarity queries over the vector index.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"flightrag/internal/domain"
	"flightrag/internal/retry"
	"flightrag/internal/vectorstore"
)

const DefaultTopK = 5

// Retriever embeds a query and returns its nearest index records.
type Retriever struct {
	embedder domain.Embedder
	index    domain.VectorIndex
	retry    *retry.Policy
	timeout  time.Duration
	logger   *zap.Logger
}

type Option func(*Retriever)

// WithRetry applies p to vector index queries.
func WithRetry(p *retry.Policy) Option {
	return func(r *Retriever) { r.retry = p }
}

// WithTimeout bounds a single index query.
func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) { r.timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(embedder domain.Embedder, index domain.VectorIndex, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: embedder,
		index:    index,
		retry:    &retry.Policy{MaxAttempts: 1},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns at most k hits ordered by descending score.
// An unreachable index yields an empty result and a warning; embedding
// failures are returned.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filter domain.Filter) (domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, domain.InvalidArgument("k must be a positive integer, got %d", k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.InvalidArgument("query must not be empty")
	}
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, &domain.ProviderError{Kind: domain.KindEmbedding, Op: "embed", Err: errors.New("no vector for query")}
	}

	var hits []domain.SearchResult
	err = r.retry.Do(ctx, "query", func(ctx context.Context) error {
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		res, err := r.index.Query(ctx, vectors[0], k, filter)
		if err != nil {
			return domain.AsProviderError(domain.KindVectorIndex, "query", err)
		}
		hits = res
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("vector index unavailable, continuing without context",
			zap.String("source_type", string(filter.SourceType)),
			zap.Error(err))
		return domain.RetrievalResult{}, nil
	}

	out := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		if filter.Matches(h.Metadata) {
			out = append(out, h)
		}
	}
	vectorstore.Rank(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
