package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightrag/internal/domain"
)

type fakeQdrant struct {
	mu        sync.Mutex
	exists    bool
	created   map[string]any
	points    map[string]point
	lastQuery map[string]any
	deleted   map[string]any
	fail      int
}

func (f *fakeQdrant) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/collections", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"collections":[]}}`))
	})
	mux.HandleFunc("/collections/flights", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			if !f.exists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
		case http.MethodPut:
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.created))
			f.exists = true
		case http.MethodDelete:
			f.exists = false
			f.points = nil
		}
		_, _ = w.Write([]byte(`{"result":true}`))
	})
	mux.HandleFunc("/collections/flights/points", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			Points []point `json:"points"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if f.points == nil {
			f.points = map[string]point{}
		}
		for _, p := range body.Points {
			f.points[p.ID] = p
		}
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
	})
	mux.HandleFunc("/collections/flights/points/delete", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.deleted))
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
	})
	mux.HandleFunc("/collections/flights/points/count", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"count": len(f.points)}})
	})
	mux.HandleFunc("/collections/flights/points/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail != 0 {
			w.WriteHeader(f.fail)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastQuery))
		_, _ = w.Write([]byte(`{"result":[
			{"id":"b","score":0.5,"payload":{"source_type":"pdf","url":"https://x/b","title":"B","chunk_index":0,"text":"bee"}},
			{"id":"a","score":0.9,"payload":{"source_type":"json","url":"https://x/a","title":"A","chunk_index":1,"text":"ay"}}
		]}`))
	})
	return mux
}

func newTestStorage(t *testing.T) (*Storage, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return NewStorage(Config{URL: srv.URL + "/", Collection: "flights"}), fake
}

func TestStorage_InitCreatesMissingCollection(t *testing.T) {
	s, fake := newTestStorage(t)
	require.NoError(t, s.Init(context.Background(), 8))
	require.NotNil(t, fake.created)
	vectors := fake.created["vectors"].(map[string]any)
	assert.Equal(t, float64(8), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])

	fake.created = nil
	require.NoError(t, s.Init(context.Background(), 8))
	assert.Nil(t, fake.created, "existing collection must not be recreated")
}

func TestStorage_UpsertAndCount(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)
	require.NoError(t, s.Init(ctx, 2))

	recs := []domain.IndexRecord{
		{ID: "a", Vector: []float32{1, 0}, Metadata: domain.RecordMetadata{SourceType: domain.SourceJSON, URL: "u"}},
		{ID: "b", Vector: []float32{0, 1}, Metadata: domain.RecordMetadata{SourceType: domain.SourcePDF, URL: "v"}},
	}
	require.NoError(t, s.Upsert(ctx, recs))
	require.NoError(t, s.Upsert(ctx, recs))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Clear(ctx))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStorage_QuerySendsFilterAndRanks(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	res, err := s.Query(ctx, []float32{1, 0}, 3, domain.Filter{SourceType: domain.SourcePDF})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].ID)
	assert.Equal(t, "ay", res[0].ChunkText())
	assert.Equal(t, domain.SourcePDF, res[1].Metadata.SourceType)

	assert.Equal(t, float64(3), fake.lastQuery["limit"])
	must := fake.lastQuery["filter"].(map[string]any)["must"].([]any)
	cond := must[0].(map[string]any)
	assert.Equal(t, "source_type", cond["key"])
	assert.Equal(t, "pdf", cond["match"].(map[string]any)["value"])

	_, err = s.Query(ctx, []float32{1, 0}, 3, domain.Filter{})
	require.NoError(t, err)
	assert.NotContains(t, fake.lastQuery, "filter")
}

func TestStorage_QueryFailureIsVectorIndexError(t *testing.T) {
	s, fake := newTestStorage(t)
	fake.fail = http.StatusServiceUnavailable

	_, err := s.Query(context.Background(), []float32{1}, 1, domain.Filter{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrVectorIndex))
	assert.True(t, domain.IsRetryable(err))

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusServiceUnavailable, pe.StatusCode)
}

func TestStorage_Ping(t *testing.T) {
	s, _ := newTestStorage(t)
	assert.NoError(t, s.Ping(context.Background()))

	down := NewStorage(Config{URL: "http://127.0.0.1:1", Collection: "flights"})
	err := down.Ping(context.Background())
	assert.ErrorIs(t, err, domain.ErrVectorIndex)
}

func TestStorage_DeleteDocumentFiltersByURLAndChunkIndex(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)
	require.NoError(t, s.DeleteDocument(ctx, "https://x/a", 3), "missing collection is not an error")
	assert.Nil(t, fake.deleted)

	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.DeleteDocument(ctx, "https://x/a", 3))
	require.NotNil(t, fake.deleted)
	must := fake.deleted["filter"].(map[string]any)["must"].([]any)
	require.Len(t, must, 2)
	assert.Equal(t, map[string]any{"key": "url", "match": map[string]any{"value": "https://x/a"}}, must[0])
	assert.Equal(t, map[string]any{"key": "chunk_index", "range": map[string]any{"gte": float64(3)}}, must[1])
}
