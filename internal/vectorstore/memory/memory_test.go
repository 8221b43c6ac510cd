package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightrag/internal/domain"
)

func record(id string, src domain.SourceType, url string, vec ...float32) domain.IndexRecord {
	return domain.IndexRecord{ID: id, Vector: vec, Metadata: domain.RecordMetadata{SourceType: src, URL: url, Text: id}}
}

func TestStorage_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Init(ctx, 2))

	recs := []domain.IndexRecord{record("a", domain.SourceJSON, "u1", 1, 0), record("b", domain.SourceJSON, "u2", 0, 1)}
	require.NoError(t, s.Upsert(ctx, recs))
	require.NoError(t, s.Upsert(ctx, recs))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStorage_QueryRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{
		record("near", domain.SourceJSON, "u1", 1, 0.1),
		record("far", domain.SourceJSON, "u2", 0, 1),
		record("pdf", domain.SourcePDF, "u3", 1, 0),
	}))

	res, err := s.Query(ctx, []float32{1, 0}, 2, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "pdf", res[0].ID)
	assert.Equal(t, "near", res[1].ID)
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)

	res, err = s.Query(ctx, []float32{1, 0}, 5, domain.Filter{SourceType: domain.SourceJSON})
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.Equal(t, domain.SourceJSON, r.Metadata.SourceType)
	}
}

func TestStorage_EmptyIndexReturnsNoResults(t *testing.T) {
	s := NewStorage()
	res, err := s.Query(context.Background(), []float32{1, 0}, 5, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestStorage_RejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Init(ctx, 3))
	assert.Error(t, s.Upsert(ctx, []domain.IndexRecord{record("a", domain.SourceJSON, "u", 1, 0)}))
	assert.Error(t, s.Init(ctx, 0))
}

func TestStorage_Clear(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []domain.IndexRecord{record("a", domain.SourceJSON, "u", 1, 0)}))
	require.NoError(t, s.Clear(ctx))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStorage_DeleteDocumentKeepsLowerChunks(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Init(ctx, 2))
	var recs []domain.IndexRecord
	for i := 0; i < 4; i++ {
		r := record(fmt.Sprintf("a%d", i), domain.SourceJSON, "u1", 1, 0)
		r.Metadata.ChunkIndex = i
		recs = append(recs, r)
	}
	recs = append(recs, record("b0", domain.SourceJSON, "u2", 0, 1))
	require.NoError(t, s.Upsert(ctx, recs))

	require.NoError(t, s.DeleteDocument(ctx, "u1", 1))
	res, err := s.Query(ctx, []float32{1, 0}, 10, domain.Filter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(res))
	for _, r := range res {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"a0", "b0"}, ids)
}
