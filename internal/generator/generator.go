// Package generator assembles prompts and runs the generative model in
// assistant or agent mode.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"flightrag/internal/domain"
	"flightrag/internal/retry"
)

const (
	DefaultHistoryTurns  = 20
	DefaultAgentTopK     = 5
	DefaultMaxIterations = 5

	// RetrieveTool is the function the model calls in agent mode.
	RetrieveTool = "retrieve_documents"

	fallbackAnswer = "I could not complete an answer right now. Please rephrase your question or visit FlightAware.com for more information."
)

// Retriever is the search capability offered to the model as a tool.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, filter domain.Filter) (domain.RetrievalResult, error)
}

// ResponseGenerator turns a query, retrieved context and history into an Answer.
type ResponseGenerator struct {
	model        domain.Generator
	retriever    Retriever
	retry        *retry.Policy
	persona      string
	historyTurns int
	agentTopK    int
	logger       *zap.Logger
	now          func() time.Time
}

type Option func(*ResponseGenerator)

// WithRetriever enables the retrieval tool in agent mode.
func WithRetriever(r Retriever) Option {
	return func(g *ResponseGenerator) { g.retriever = r }
}

// WithRetry applies p to every model call.
func WithRetry(p *retry.Policy) Option {
	return func(g *ResponseGenerator) { g.retry = p }
}

func WithPersona(p string) Option {
	return func(g *ResponseGenerator) {
		if strings.TrimSpace(p) != "" {
			g.persona = p
		}
	}
}

// WithHistoryTurns bounds how many trailing turns are sent to the model.
func WithHistoryTurns(n int) Option {
	return func(g *ResponseGenerator) {
		if n > 0 {
			g.historyTurns = n
		}
	}
}

// WithAgentTopK sets k for tool-driven retrievals.
func WithAgentTopK(k int) Option {
	return func(g *ResponseGenerator) {
		if k > 0 {
			g.agentTopK = k
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(g *ResponseGenerator) {
		if l != nil {
			g.logger = l
		}
	}
}

func New(model domain.Generator, opts ...Option) *ResponseGenerator {
	g := &ResponseGenerator{
		model:        model,
		retry:        &retry.Policy{MaxAttempts: 1},
		persona:      DefaultPersona,
		historyTurns: DefaultHistoryTurns,
		agentTopK:    DefaultAgentTopK,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate answers query. Generation failures are returned as
// GenerationProviderErrors.
func (g *ResponseGenerator) Generate(ctx context.Context, query string, retrieved domain.RetrievalResult, history []domain.Turn, mode domain.ExecutionMode) (domain.Answer, error) {
	switch m := mode.(type) {
	case nil, domain.Assistant:
		return g.assistant(ctx, query, retrieved, history)
	case domain.Agent:
		return g.agent(ctx, query, retrieved, history, m.MaxIterations)
	default:
		return domain.Answer{}, domain.InvalidArgument("unknown execution mode %T", mode)
	}
}

func (g *ResponseGenerator) assistant(ctx context.Context, query string, retrieved domain.RetrievalResult, history []domain.Turn) (domain.Answer, error) {
	messages := g.baseMessages(query, retrieved, history, false)
	comp, err := g.complete(ctx, messages, nil)
	if err != nil {
		return domain.Answer{}, err
	}
	return g.answer(comp.Content, retrieved, domain.Assistant{}), nil
}

func (g *ResponseGenerator) baseMessages(query string, hits []domain.SearchResult, history []domain.Turn, agent bool) []domain.ChatMessage {
	messages := []domain.ChatMessage{{Role: "system", Content: systemPrompt(g.persona, hits, agent)}}
	messages = append(messages, historyMessages(history, g.historyTurns)...)
	return append(messages, domain.ChatMessage{Role: "user", Content: query})
}

func (g *ResponseGenerator) complete(ctx context.Context, messages []domain.ChatMessage, tools []domain.ToolSpec) (domain.Completion, error) {
	var out domain.Completion
	err := g.retry.Do(ctx, "generate", func(ctx context.Context) error {
		c, err := g.model.Complete(ctx, messages, tools)
		if err != nil {
			return domain.AsProviderError(domain.KindGeneration, "generate", err)
		}
		out = c
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Completion{}, ctxErr
		}
		return domain.Completion{}, err
	}
	return out, nil
}

func (g *ResponseGenerator) answer(text string, used []domain.SearchResult, mode domain.ExecutionMode) domain.Answer {
	text = strings.TrimSpace(text)
	if text == "" {
		text = fallbackAnswer
	}
	return domain.Answer{
		Text:           text,
		DataSource:     domain.DataSourceOf(used),
		RetrievedCount: len(used),
		Mode:           domain.ModeName(mode),
		SourceURLs:     domain.SourceURLs(used),
		Timestamp:      g.now().UTC(),
	}
}

// retrieveSpec describes the tool offered in agent mode.
func retrieveSpec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        RetrieveTool,
		Description: "Search the FlightAware knowledge base: scraped flightaware.com pages (json) and technical documentation and manuals (pdf).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query, reformulated for retrieval.",
				},
				"source_type": map[string]any{
					"type":        "string",
					"enum":        []string{string(domain.SourceJSON), string(domain.SourcePDF)},
					"description": "Restrict the search to one corpus origin.",
				},
			},
			"required": []string{"query"},
		},
	}
}

type toolArgs struct {
	Query      string `json:"query"`
	SourceType string `json:"source_type"`
}

// agent runs the tool loop. Every iteration that requests tools is one
// retrieval round; hits are deduplicated by record id across rounds.
func (g *ResponseGenerator) agent(ctx context.Context, query string, retrieved domain.RetrievalResult, history []domain.Turn, maxIterations int) (domain.Answer, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	mode := domain.Agent{MaxIterations: maxIterations}
	used := make([]domain.SearchResult, 0, len(retrieved))
	seen := make(map[string]struct{})
	for _, h := range retrieved {
		if _, ok := seen[h.ID]; !ok {
			seen[h.ID] = struct{}{}
			used = append(used, h)
		}
	}

	var tools []domain.ToolSpec
	if g.retriever != nil {
		tools = []domain.ToolSpec{retrieveSpec()}
	}
	messages := g.baseMessages(query, used, history, g.retriever != nil)

	var last string
	// shown counts the chunks present in the prompt of the latest model call.
	var shown int
	for i := 0; i < maxIterations; i++ {
		shown = len(used)
		comp, err := g.complete(ctx, messages, tools)
		if err != nil {
			return domain.Answer{}, err
		}
		if strings.TrimSpace(comp.Content) != "" {
			last = comp.Content
		}
		if len(comp.ToolCalls) == 0 {
			return g.answer(comp.Content, used, mode), nil
		}
		messages = append(messages, domain.ChatMessage{Role: "assistant", Content: comp.Content, ToolCalls: comp.ToolCalls})
		for _, call := range comp.ToolCalls {
			content, fresh, err := g.runTool(ctx, call, seen, len(used)+1)
			if err != nil {
				return domain.Answer{}, err
			}
			used = append(used, fresh...)
			messages = append(messages, domain.ChatMessage{Role: "tool", ToolCallID: call.ID, Content: content})
		}
		g.logger.Debug("agent retrieval round",
			zap.Int("iteration", i+1),
			zap.Int("tool_calls", len(comp.ToolCalls)),
			zap.Int("chunks_used", len(used)))
	}
	g.logger.Warn("agent reached iteration cap",
		zap.Int("max_iterations", maxIterations),
		zap.Int("unread_chunks", len(used)-shown))
	return g.answer(last, used[:shown], mode), nil
}

// runTool executes one tool call and returns the tool message content and
// the hits not seen before. Bad arguments are reported back to the model.
func (g *ResponseGenerator) runTool(ctx context.Context, call domain.ToolCall, seen map[string]struct{}, first int) (string, []domain.SearchResult, error) {
	if call.Name != RetrieveTool || g.retriever == nil {
		return fmt.Sprintf("Unknown tool %q.", call.Name), nil, nil
	}
	var args toolArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return "Invalid arguments: " + err.Error(), nil, nil
	}
	filter := domain.Filter{}
	switch domain.SourceType(strings.ToLower(args.SourceType)) {
	case "":
	case domain.SourceJSON:
		filter.SourceType = domain.SourceJSON
	case domain.SourcePDF:
		filter.SourceType = domain.SourcePDF
	default:
		return fmt.Sprintf("Invalid source_type %q: use json or pdf.", args.SourceType), nil, nil
	}

	hits, err := g.retriever.Retrieve(ctx, args.Query, g.agentTopK, filter)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return "Invalid arguments: " + err.Error(), nil, nil
		}
		return "", nil, err
	}
	var fresh []domain.SearchResult
	for _, h := range hits {
		if _, ok := seen[h.ID]; ok {
			continue
		}
		seen[h.ID] = struct{}{}
		fresh = append(fresh, h)
	}
	if len(fresh) == 0 {
		return "No new documents found for this query.", nil, nil
	}
	return FormatContext(fresh, first), fresh, nil
}
