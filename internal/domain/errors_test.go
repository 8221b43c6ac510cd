package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProviderError_MatchesSentinelOfKind(t *testing.T) {
	tests := []struct {
		kind ProviderKind
		want error
	}{
		{KindEmbedding, ErrEmbeddingProvider},
		{KindVectorIndex, ErrVectorIndex},
		{KindGeneration, ErrGenerationProvider},
	}
	for _, tt := range tests {
		t.Run(tt.want.Error(), func(t *testing.T) {
			err := fmt.Errorf("outer: %w", NewStatusError(tt.kind, "op", 500, "boom"))
			assert.ErrorIs(t, err, tt.want)
			for _, other := range []error{ErrEmbeddingProvider, ErrVectorIndex, ErrGenerationProvider, ErrInvalidArgument} {
				if other != tt.want {
					assert.NotErrorIs(t, err, other)
				}
			}
		})
	}
}

func TestNewStatusError_Classification(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{429, true},
		{408, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{403, false},
		{404, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			err := NewStatusError(KindEmbedding, "embed", tt.code, "")
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Contains(t, err.Error(), fmt.Sprintf("status %d", tt.code))
		})
	}
}

func TestAsProviderError(t *testing.T) {
	assert.NoError(t, AsProviderError(KindGeneration, "complete", nil))

	inner := NewStatusError(KindVectorIndex, "query", 503, "")
	assert.Same(t, inner, AsProviderError(KindGeneration, "complete", inner), "existing classification is kept")

	plain := AsProviderError(KindGeneration, "complete", errors.New("decode"))
	assert.ErrorIs(t, plain, ErrGenerationProvider)
	assert.False(t, IsRetryable(plain))

	deadline := AsProviderError(KindEmbedding, "embed", context.DeadlineExceeded)
	assert.True(t, IsRetryable(deadline))
	assert.ErrorIs(t, deadline, context.DeadlineExceeded)
}

func TestTransportErrorIsRetryable(t *testing.T) {
	err := NewTransportError(KindEmbedding, "embed", errors.New("connection refused"))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, "embedding provider error: embed: connection refused", err.Error())
}

func TestInvalidArgument(t *testing.T) {
	err := InvalidArgument("k must be positive, got %d", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, "invalid argument: k must be positive, got 0", err.Error())
}

func TestProviderError_RetryAfterKept(t *testing.T) {
	err := NewStatusError(KindGeneration, "complete", 429, "slow down")
	err.RetryAfter = 2 * time.Second
	var pe *ProviderError
	assert.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &pe)
	assert.Equal(t, 2*time.Second, pe.RetryAfter)
}
