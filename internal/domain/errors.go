package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrInvalidArgument is returned for bad queries, k values or user ids.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmbeddingProvider wraps failures of the embedding provider.
	ErrEmbeddingProvider = errors.New("embedding provider error")

	// ErrVectorIndex wraps failures of the vector index service.
	ErrVectorIndex = errors.New("vector index error")

	// ErrGenerationProvider wraps failures of the generative model provider.
	ErrGenerationProvider = errors.New("generation provider error")
)

// InvalidArgument builds an error matching ErrInvalidArgument.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// ProviderKind identifies which external boundary failed.
type ProviderKind int

const (
	KindEmbedding ProviderKind = iota + 1
	KindVectorIndex
	KindGeneration
)

func (k ProviderKind) sentinel() error {
	switch k {
	case KindEmbedding:
		return ErrEmbeddingProvider
	case KindVectorIndex:
		return ErrVectorIndex
	case KindGeneration:
		return ErrGenerationProvider
	}
	return nil
}

// ProviderError is a classified failure at a provider boundary.
type ProviderError struct {
	Kind       ProviderKind
	Op         string
	StatusCode int
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Kind.sentinel().Error() + ": " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is makes a ProviderError match the sentinel of its kind.
func (e *ProviderError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// RetryableStatus reports whether an HTTP status is worth retrying.
// Rate limits and server-side failures are; auth, quota and bad input are not.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// NewStatusError classifies a non-2xx provider response.
func NewStatusError(kind ProviderKind, op string, code int, body string) *ProviderError {
	var err error
	if body != "" {
		err = errors.New(body)
	}
	return &ProviderError{Kind: kind, Op: op, StatusCode: code, Retryable: RetryableStatus(code), Err: err}
}

// NewTransportError classifies a network-level failure, which is always retryable.
func NewTransportError(kind ProviderKind, op string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Op: op, Retryable: true, Err: err}
}

// AsProviderError wraps err as a ProviderError of kind unless it already is one.
func AsProviderError(kind ProviderKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	// A per-attempt deadline is a timeout, not a hang; it may be retried.
	retryable := errors.Is(err, context.DeadlineExceeded)
	return &ProviderError{Kind: kind, Op: op, Retryable: retryable, Err: err}
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
