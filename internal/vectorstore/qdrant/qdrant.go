package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"flightrag/internal/domain"
	"flightrag/internal/vectorstore"
)

var _ domain.VectorIndex = (*Storage)(nil)

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing.
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

type Config struct {
	URL        string
	APIKeyEnv  string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	url := cfg.URL
	if url == "" {
		url = "http://localhost:6333"
	}
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	return &Storage{
		url:        strings.TrimRight(url, "/"),
		apiKey:     key,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Collection returns the name of the backing collection.
func (s *Storage) Collection() string { return s.collection }

// Init creates the collection when it does not exist yet.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return domain.InvalidArgument("invalid dimension %d", dimension)
	}
	s.dimension = dimension
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, nil)
	if err == nil {
		return nil
	}
	if status != http.StatusNotFound {
		return wrap("init", err)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if _, err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return wrap("init", err)
	}
	return nil
}

type point struct {
	ID      string                `json:"id"`
	Vector  []float32             `json:"vector"`
	Payload domain.RecordMetadata `json:"payload"`
}

func (s *Storage) Upsert(ctx context.Context, records []domain.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]point, len(records))
	for i, r := range records {
		if s.dimension != 0 && len(r.Vector) != s.dimension {
			return wrap("upsert", fmt.Errorf("vector dimension %d, collection expects %d", len(r.Vector), s.dimension))
		}
		points[i] = point{ID: r.ID, Vector: r.Vector, Payload: r.Metadata}
	}
	body := map[string]any{"points": points}
	if _, err := s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil); err != nil {
		return wrap("upsert", err)
	}
	return nil
}

func (s *Storage) Query(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if !filter.IsZero() {
		req["filter"] = map[string]any{
			"must": []map[string]any{{
				"key":   "source_type",
				"match": map[string]any{"value": string(filter.SourceType)},
			}},
		}
	}
	var resp struct {
		Result []struct {
			ID      any                   `json:"id"`
			Score   float64               `json:"score"`
			Payload domain.RecordMetadata `json:"payload"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, wrap("query", err)
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.SearchResult{ID: fmt.Sprint(r.ID), Score: r.Score, Metadata: r.Payload})
	}
	vectorstore.Rank(results)
	return results, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), map[string]any{"exact": true}, &resp)
	if status == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("count", err)
	}
	return resp.Result.Count, nil
}

// DeleteDocument deletes the document's points from keepBelow on. A missing
// collection holds nothing to delete.
func (s *Storage) DeleteDocument(ctx context.Context, url string, keepBelow int) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "url", "match": map[string]any{"value": url}},
				{"key": "chunk_index", "range": map[string]any{"gte": keepBelow}},
			},
		},
	}
	status, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
	if err != nil && status != http.StatusNotFound {
		return wrap("delete", err)
	}
	return nil
}

// Clear drops the collection. A missing collection is not an error.
func (s *Storage) Clear(ctx context.Context) error {
	status, err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return wrap("clear", err)
	}
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	if _, err := s.do(ctx, http.MethodGet, s.url+"/collections", nil, nil); err != nil {
		return wrap("ping", err)
	}
	return nil
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

type statusError struct {
	method string
	url    string
	code   int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %d %s", e.method, e.url, e.code, strings.TrimSpace(e.body))
}

// do sends body as JSON and decodes the response into out when non-nil.
// It returns the HTTP status, or 0 if no response was received.
func (s *Storage) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, domain.NewTransportError(domain.KindVectorIndex, strings.ToLower(method), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &statusError{method: method, url: url, code: resp.StatusCode, body: string(msg)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func wrap(op string, err error) error {
	var se *statusError
	if errors.As(err, &se) {
		return &domain.ProviderError{
			Kind:       domain.KindVectorIndex,
			Op:         op,
			StatusCode: se.code,
			Retryable:  domain.RetryableStatus(se.code),
			Err:        err,
		}
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		pe.Op = op
		return pe
	}
	return domain.AsProviderError(domain.KindVectorIndex, op, err)
}
