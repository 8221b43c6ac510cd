// Package embedding batches text embedding requests against a provider.
package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"flightrag/internal/domain"
	"flightrag/internal/retry"
)

// DefaultBatchSize bounds the number of texts sent in one provider request.
const DefaultBatchSize = 100

// Client splits embedding requests into provider-sized batches and applies
// the retry policy to each batch. It preserves input order.
type Client struct {
	provider  domain.Embedder
	batchSize int
	retry     *retry.Policy
	logger    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBatchSize sets the number of texts per provider request.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithRetry sets the retry policy used for every batch.
func WithRetry(p *retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient wraps provider.
func NewClient(provider domain.Embedder, opts ...Option) *Client {
	c := &Client{
		provider:  provider,
		batchSize: DefaultBatchSize,
		retry:     &retry.Policy{MaxAttempts: 1},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dimension returns the provider's vector size.
func (c *Client) Dimension() int { return c.provider.Dimension() }

// Embed returns one vector per text. Any failure is an EmbeddingProviderError.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += c.batchSize {
		end := min(i+c.batchSize, len(texts))
		batch := texts[i:end]
		var vectors [][]float32
		err := c.retry.Do(ctx, "embed", func(ctx context.Context) error {
			v, err := c.provider.Embed(ctx, batch)
			if err != nil {
				return domain.AsProviderError(domain.KindEmbedding, "embed", err)
			}
			vectors = v
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("embed texts %d-%d: %w", i, end, err)
		}
		if err := c.check(vectors, len(batch)); err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	c.logger.Debug("embedded texts", zap.Int("count", len(texts)))
	return out, nil
}

func (c *Client) check(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return &domain.ProviderError{
			Kind: domain.KindEmbedding,
			Op:   "embed",
			Err:  fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), want),
		}
	}
	dim := c.provider.Dimension()
	for i, v := range vectors {
		if len(v) == 0 || (dim > 0 && len(v) != dim) {
			return &domain.ProviderError{
				Kind: domain.KindEmbedding,
				Op:   "embed",
				Err:  fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim),
			}
		}
	}
	return nil
}

// Ping forwards to the provider when it supports reachability checks.
func (c *Client) Ping(ctx context.Context) error {
	if p, ok := c.provider.(domain.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
