package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightrag/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	c, err := NewClient(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_OPENAI_KEY", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresKey(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY_MISSING", "")
	_, err := NewClient(Config{APIKeyEnv: "TEST_OPENAI_KEY_MISSING"})
	assert.Error(t, err)
}

func TestComplete_SendsToolsAndParsesToolCalls(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"retrieve_documents","arguments":"{\"query\":\"ADS-B\"}"}}]},
			"finish_reason":"tool_calls"}]}`))
	})

	msgs := []domain.ChatMessage{
		{Role: "system", Content: "persona"},
		{Role: "assistant", ToolCalls: []domain.ToolCall{{ID: "call_0", Name: "retrieve_documents", Arguments: "{}"}}},
		{Role: "tool", ToolCallID: "call_0", Content: "docs"},
		{Role: "user", Content: "How does tracking work?"},
	}
	tools := []domain.ToolSpec{{Name: "retrieve_documents", Description: "search", Parameters: map[string]any{"type": "object"}}}
	out, err := c.Complete(context.Background(), msgs, tools)
	require.NoError(t, err)

	assert.Empty(t, out.Content)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, domain.ToolCall{ID: "call_1", Name: "retrieve_documents", Arguments: `{"query":"ADS-B"}`}, out.ToolCalls[0])

	assert.Equal(t, DefaultModel, got["model"])
	wireMsgs := got["messages"].([]any)
	require.Len(t, wireMsgs, 4)
	assistant := wireMsgs[1].(map[string]any)
	assert.Nil(t, assistant["content"])
	assert.Len(t, assistant["tool_calls"], 1)
	assert.Equal(t, "call_0", wireMsgs[2].(map[string]any)["tool_call_id"])
	wireTools := got["tools"].([]any)
	assert.Equal(t, "function", wireTools[0].(map[string]any)["type"])
}

func TestComplete_FinalAnswer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ADS-B receivers."},"finish_reason":"stop"}]}`))
	})
	out, err := c.Complete(context.Background(), []domain.ChatMessage{{Role: "user", Content: "q"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ADS-B receivers.", out.Content)
	assert.Empty(t, out.ToolCalls)
}

func TestComplete_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad key", http.StatusUnauthorized, false},
		{"bad request", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			})
			_, err := c.Complete(context.Background(), []domain.ChatMessage{{Role: "user", Content: "q"}}, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrGenerationProvider))
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))

			var pe *domain.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, 2*time.Second, pe.RetryAfter)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestComplete_NoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := c.Complete(context.Background(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrGenerationProvider)
}

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	assert.NoError(t, c.Ping(context.Background()))
}
