package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightrag/internal/domain"
	"flightrag/internal/embedding/hashing"
	"flightrag/internal/retry"
	"flightrag/internal/vectorstore/memory"
)

type downIndex struct {
	*memory.Storage
	queries int
}

func (d *downIndex) Query(context.Context, []float32, int, domain.Filter) ([]domain.SearchResult, error) {
	d.queries++
	return nil, domain.NewStatusError(domain.KindVectorIndex, "query", 503, "unavailable")
}

// staticIndex returns canned hits regardless of the query.
type staticIndex struct {
	*memory.Storage
	hits []domain.SearchResult
}

func (s *staticIndex) Query(context.Context, []float32, int, domain.Filter) ([]domain.SearchResult, error) {
	return append([]domain.SearchResult(nil), s.hits...), nil
}

type brokenEmbedder struct{}

func (brokenEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, domain.NewStatusError(domain.KindEmbedding, "embed", 401, "bad key")
}
func (brokenEmbedder) Dimension() int { return 8 }

func seeded(t *testing.T, emb *hashing.Embedder) *memory.Storage {
	t.Helper()
	ctx := context.Background()
	idx := memory.NewStorage()
	require.NoError(t, idx.Init(ctx, emb.Dimension()))
	texts := []string{"FlightAware tracks planes using ADS-B.", "Foresight predicts arrival times.", "Firehose streams flight data."}
	vecs, err := emb.Embed(ctx, texts)
	require.NoError(t, err)
	recs := make([]domain.IndexRecord, len(texts))
	for i, text := range texts {
		src := domain.SourceJSON
		if i == 2 {
			src = domain.SourcePDF
		}
		recs[i] = domain.IndexRecord{ID: text, Vector: vecs[i], Metadata: domain.RecordMetadata{SourceType: src, URL: "https://x/" + string(rune('a'+i)), Text: text}}
	}
	require.NoError(t, idx.Upsert(ctx, recs))
	return idx
}

func TestRetrieve_RanksAndLimits(t *testing.T) {
	emb := hashing.NewEmbedder(128)
	r := New(emb, seeded(t, emb))

	res, err := r.Retrieve(context.Background(), "How does ADS-B tracking work for planes?", 2, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "FlightAware tracks planes using ADS-B.", res[0].ChunkText())
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
}

func TestRetrieve_Filter(t *testing.T) {
	emb := hashing.NewEmbedder(128)
	r := New(emb, seeded(t, emb))

	res, err := r.Retrieve(context.Background(), "flight data", 5, domain.Filter{SourceType: domain.SourcePDF})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, domain.SourcePDF, res[0].Metadata.SourceType)
}

func TestRetrieve_InvalidArguments(t *testing.T) {
	emb := hashing.NewEmbedder(16)
	r := New(emb, memory.NewStorage())
	for _, k := range []int{0, -1} {
		_, err := r.Retrieve(context.Background(), "q", k, domain.Filter{})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	}
	_, err := r.Retrieve(context.Background(), "  ", 5, domain.Filter{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRetrieve_EmptyIndex(t *testing.T) {
	r := New(hashing.NewEmbedder(16), memory.NewStorage())
	res, err := r.Retrieve(context.Background(), "anything", 5, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestRetrieve_IndexOutageDegrades(t *testing.T) {
	idx := &downIndex{Storage: memory.NewStorage()}
	policy := &retry.Policy{MaxAttempts: 2, BaseDelay: 1, MaxDelay: 1}
	r := New(hashing.NewEmbedder(16), idx, WithRetry(policy))

	res, err := r.Retrieve(context.Background(), "How does tracking work?", 5, domain.Filter{})
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Empty(t, res)
	assert.Equal(t, 2, idx.queries)
}

func TestRetrieve_EmbeddingFailurePropagates(t *testing.T) {
	r := New(brokenEmbedder{}, memory.NewStorage())
	_, err := r.Retrieve(context.Background(), "q", 5, domain.Filter{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmbeddingProvider))
}

func TestRetrieve_TieBreakAndTruncation(t *testing.T) {
	hit := func(url string, idx int) domain.SearchResult {
		return domain.SearchResult{ID: url, Score: 0.5, Metadata: domain.RecordMetadata{URL: url, ChunkIndex: idx, SourceType: domain.SourceJSON}}
	}
	idx := &staticIndex{Storage: memory.NewStorage(), hits: []domain.SearchResult{hit("https://x/c", 0), hit("https://x/a", 1), hit("https://x/b", 0)}}
	r := New(hashing.NewEmbedder(16), idx)

	res, err := r.Retrieve(context.Background(), "q", 2, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "https://x/a", res[0].Metadata.URL)
	assert.Equal(t, "https://x/b", res[1].Metadata.URL)
}
