package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"flightrag/internal/domain"
	"flightrag/internal/vectorstore"
)

var _ domain.VectorIndex = (*Storage)(nil)

// Storage is a simple in-memory vector index using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]domain.IndexRecord
}

func NewStorage() *Storage { return &Storage{records: make(map[string]domain.IndexRecord)} }

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension && len(s.records) > 0 {
		return fmt.Errorf("index holds %d-dimensional vectors, got %d", s.dimension, dimension)
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(_ context.Context, records []domain.IndexRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if s.dimension != 0 && len(r.Vector) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
		if r.ID == "" {
			return errors.New("record id is required")
		}
	}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return nil
}

func (s *Storage) Query(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]domain.SearchResult, 0, len(s.records))
	for id, r := range s.records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !filter.Matches(r.Metadata) {
			continue
		}
		results = append(results, domain.SearchResult{ID: id, Score: cosine(r.Vector, vector), Metadata: r.Metadata})
	}
	vectorstore.Rank(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Storage) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *Storage) DeleteDocument(_ context.Context, url string, keepBelow int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if r.Metadata.URL == url && r.Metadata.ChunkIndex >= keepBelow {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *Storage) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]domain.IndexRecord)
	return nil
}

func (s *Storage) Ping(context.Context) error { return nil }

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
