package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"flightrag/internal/domain"
)

var _ domain.Embedder = (*Client)(nil)

// Known output sizes of OpenAI embedding models.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Client is an OpenAI-compatible embeddings client.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
	limiter   *rate.Limiter
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	// Dimensions overrides the model's default output size.
	Dimensions int
	Timeout    time.Duration
	// RequestsPerSecond throttles outgoing requests. Zero disables throttling.
	RequestsPerSecond float64
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-large"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	dim := cfg.Dimensions
	if dim == 0 {
		dim = modelDimensions[cfg.Model]
	}
	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    key,
		model:     cfg.Model,
		dimension: dim,
		client:    &http.Client{Timeout: t},
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Dimension returns the dimensionality of the produced embedding vectors.
// For unknown models it is learned from the first response.
func (c *Client) Dimension() int { return c.dimension }

type embedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// Embed returns one embedding per text in a single request.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domain.AsProviderError(domain.KindEmbedding, "embed", err)
		}
	}
	body := embedRequest{Model: c.model, Input: texts}
	if strings.HasPrefix(c.model, "text-embedding-3") {
		body.Dimensions = c.dimension
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.NewTransportError(domain.KindEmbedding, "embed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransportError(domain.KindEmbedding, "embed", err)
	}
	if resp.StatusCode >= 300 {
		perr := domain.NewStatusError(domain.KindEmbedding, "embed", resp.StatusCode, string(payload))
		perr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
		return nil, perr
	}

	vectors, err := decode(payload, len(texts))
	if err != nil {
		return nil, &domain.ProviderError{Kind: domain.KindEmbedding, Op: "embed", Err: err}
	}
	if c.dimension == 0 && len(vectors) > 0 {
		c.dimension = len(vectors[0])
	}
	return vectors, nil
}

func decode(payload []byte, n int) ([][]float32, error) {
	// OpenAI-compatible response first
	var openaiOut struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil && len(openaiOut.Data) > 0 {
		out := make([][]float32, n)
		for _, d := range openaiOut.Data {
			if d.Index < 0 || d.Index >= n {
				return nil, fmt.Errorf("embedding index %d out of range", d.Index)
			}
			out[d.Index] = d.Embedding
		}
		for i, v := range out {
			if len(v) == 0 {
				return nil, fmt.Errorf("missing embedding for input %d", i)
			}
		}
		return out, nil
	}
	// Fallback to Ollama-native shape: { "embeddings": [[...]] }
	var ollamaOut struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil && len(ollamaOut.Embeddings) == n {
		return ollamaOut.Embeddings, nil
	}
	return nil, errors.New("no embedding returned")
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// Ping checks the provider is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NewTransportError(domain.KindEmbedding, "ping", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.NewStatusError(domain.KindEmbedding, "ping", resp.StatusCode, "")
	}
	return nil
}
