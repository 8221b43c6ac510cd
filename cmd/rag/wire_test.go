package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flightrag/internal/config"
	"flightrag/internal/domain"
)

const corpusJSON = `[
 {"url":"https://x/a","title":"A","content":"FlightAware tracks planes using ADS-B."},
 {"url":"https://x/b","title":"B","content":"Airport delays are shown on the delay map."}
]`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func localConfig(t *testing.T, extra string) *config.AppConfig {
	t.Helper()
	path := writeFile(t, t.TempDir(), "config.yaml", `
embedder:
  type: hashing
vector_store:
  type: memory
`+extra)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestBuild_IngestAndRetrieveOffline(t *testing.T) {
	ctx := context.Background()
	a, err := build(ctx, localConfig(t, ""), zap.NewNop(), buildOptions{})
	require.NoError(t, err)
	defer a.Close()

	corpus := writeFile(t, t.TempDir(), "pages.json", corpusJSON)
	report, err := a.svc.Ingest(ctx, corpus, a.cfg.VectorStore.IndexName)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Upserted)

	n, err := a.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "ingestion writes to the index retrieval reads")

	_, err = a.svc.Ask(ctx, "u1", "How does tracking work?", false)
	assert.ErrorIs(t, err, domain.ErrGenerationProvider)
}

func TestBuild_RecreateDropsIndex(t *testing.T) {
	ctx := context.Background()
	a, err := build(ctx, localConfig(t, ""), zap.NewNop(), buildOptions{recreate: true})
	require.NoError(t, err)
	defer a.Close()

	dir := t.TempDir()
	_, err = a.svc.Ingest(ctx, writeFile(t, dir, "pages.json", corpusJSON), "flightaware")
	require.NoError(t, err)
	single := `[{"url":"https://x/c","title":"C","content":"Flight status updates every minute."}]`
	_, err = a.svc.Ingest(ctx, writeFile(t, dir, "single.json", single), "flightaware")
	require.NoError(t, err)

	n, err := a.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "records of the first run are gone")
}

func TestBuild_AskThroughChatProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/models" {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		assert.Equal(t, "/chat/completions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "FlightAware uses ADS-B."},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()
	t.Setenv("FLIGHTRAG_TEST_KEY", "sk-test")

	cfg := localConfig(t, `
generator:
  type: openai
  openai:
    base_url: `+srv.URL+`
    api_key_env: FLIGHTRAG_TEST_KEY
memory:
  type: sqlite
  sqlite:
    path: `+filepath.Join(t.TempDir(), "memory.db")+`
`)
	ctx := context.Background()
	a, err := build(ctx, cfg, zap.NewNop(), buildOptions{generation: true})
	require.NoError(t, err)
	defer a.Close()

	corpus := writeFile(t, t.TempDir(), "pages.json", corpusJSON)
	_, err = a.svc.Ingest(ctx, corpus, cfg.VectorStore.IndexName)
	require.NoError(t, err)

	answer, err := a.svc.Ask(ctx, "u1", "How does tracking work?", false)
	require.NoError(t, err)
	assert.Equal(t, "FlightAware uses ADS-B.", answer.Text)
	assert.Equal(t, domain.DataSourceJSON, answer.DataSource)

	history, err := a.svc.History(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	report := a.svc.Health(ctx)
	assert.True(t, report.Healthy(), report.Components)
	assert.Contains(t, report.Components, "generator")
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
	cfg := localConfig(t, "")
	cfg.Chunker.Overlap = cfg.Chunker.ChunkSize
	_, err := build(context.Background(), cfg, zap.NewNop(), buildOptions{})
	assert.ErrorContains(t, err, "invalid config")

	cfg = localConfig(t, "")
	cfg.VectorStore.Type = "pgvector"
	cfg.VectorStore.PGVector = &config.PGVectorConfig{DSNEnv: "FLIGHTRAG_UNSET_DSN"}
	_, err = build(context.Background(), cfg, zap.NewNop(), buildOptions{})
	assert.ErrorContains(t, err, "FLIGHTRAG_UNSET_DSN")
}

func TestBuild_PerSourceKConfig(t *testing.T) {
	cfg := localConfig(t, `
retrieval:
  per_source_k:
    json: 5
    pdf: 3
`)
	assert.Equal(t, map[domain.SourceType]int{domain.SourceJSON: 5, domain.SourcePDF: 3}, perSourceK(cfg.Retrieval.PerSourceK))

	a, err := build(context.Background(), cfg, zap.NewNop(), buildOptions{})
	require.NoError(t, err)
	defer a.Close()
}
