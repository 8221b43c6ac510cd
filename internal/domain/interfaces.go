package domain

import (
	"context"
	"iter"
)

// Chunker splits documents into chunks suitable for embedding.
// The returned sequence is lazy and may be ranged over more than once.
type Chunker interface {
	Chunks(document Document) iter.Seq[Chunk]
}

// Embedder converts texts into fixed-length vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// VectorIndex persists Index Records and answers nearest-neighbor queries.
type VectorIndex interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, records []IndexRecord) error
	Query(ctx context.Context, vector []float32, k int, filter Filter) ([]SearchResult, error)
	Count(ctx context.Context) (int, error)
	// DeleteDocument removes the records of the document at url whose chunk
	// index is keepBelow or higher.
	DeleteDocument(ctx context.Context, url string, keepBelow int) error
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Pinger is implemented by providers that support a cheap reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChatMessage is one entry of a chat-style prompt.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec describes a function the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Completion is a single model response. A completion without tool calls is
// the final-answer signal.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Generator is a chat-style generative model.
type Generator interface {
	Complete(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (Completion, error)
}

// ExecutionMode selects how the response generator runs.
// It is either Assistant or Agent.
type ExecutionMode interface {
	modeName() string
}

// Assistant is a single prompt, single model round-trip.
type Assistant struct{}

// Agent lets the model request extra retrieval rounds, at most MaxIterations.
type Agent struct {
	MaxIterations int
}

func (Assistant) modeName() string { return "assistant" }
func (Agent) modeName() string     { return "agent" }

// ModeName returns "assistant" or "agent".
func ModeName(m ExecutionMode) string {
	if m == nil {
		return Assistant{}.modeName()
	}
	return m.modeName()
}
