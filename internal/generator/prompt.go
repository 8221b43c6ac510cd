package generator

import (
	"fmt"
	"strings"

	"flightrag/internal/domain"
)

// DefaultPersona is the system prompt used when none is configured.
const DefaultPersona = `You are a FlightAware aviation intelligence assistant with deep expertise in flight tracking, aviation data and aerospace technology.

Your knowledge covers real-time aircraft tracking, ADS-B and global coverage, FlightAware products (Foresight, Firehose, AeroAPI, FlightAware TV), predictive analytics, and airline and airport operations.

How to answer:
- Start with a direct answer, then add details, key features and use cases when they help.
- Ground every claim in the retrieved context when it is available and cite sources with their [n] markers and URLs.
- Never invent FlightAware features or capabilities. Say clearly when information is missing and point to FlightAware resources.
- Distinguish FlightAware-specific information from general aviation knowledge.
- Be professional, precise and approachable.`

const (
	contextInstructions = "Use this information as your primary source. Cite the [n] markers of the passages you rely on."
	noContextNotice     = "No specific retrieved context is available. Answer from general aviation knowledge and the conversation so far, and direct the user to FlightAware resources for specifics."
	agentInstructions   = "You can call the retrieve_documents tool to search the FlightAware knowledge base. Reformulate the question when a search returns nothing useful. Reply without tool calls once you can answer."
)

// sourceLabel renders a source type the way it appears in prompts.
func sourceLabel(t domain.SourceType) string {
	switch t {
	case domain.SourcePDF:
		return "PDF"
	case domain.SourceJSON:
		return "JSON"
	}
	return strings.ToUpper(string(t))
}

// FormatContext renders hits as numbered citation blocks starting at first.
func FormatContext(hits []domain.SearchResult, first int) string {
	blocks := make([]string, len(hits))
	for i, h := range hits {
		md := h.Metadata
		title := md.Title
		if title == "" {
			title = "Unknown"
		}
		blocks[i] = fmt.Sprintf("[%d] Source: %s\nTitle: %s\nData Source: %s\nContent: %s",
			first+i, md.URL, title, sourceLabel(md.SourceType), strings.TrimSpace(md.Text))
	}
	return strings.Join(blocks, "\n\n")
}

func systemPrompt(persona string, hits []domain.SearchResult, agent bool) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")
	if len(hits) > 0 {
		b.WriteString("Retrieved FlightAware knowledge base:\n\n")
		b.WriteString(FormatContext(hits, 1))
		b.WriteString("\n\n")
		b.WriteString(contextInstructions)
	} else if !agent {
		b.WriteString(noContextNotice)
	}
	if agent {
		if len(hits) > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(agentInstructions)
	}
	return b.String()
}

func historyMessages(history []domain.Turn, limit int) []domain.ChatMessage {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]domain.ChatMessage, 0, len(history))
	for _, t := range history {
		role := "user"
		if t.Role == domain.RoleAssistant {
			role = "assistant"
		}
		out = append(out, domain.ChatMessage{Role: role, Content: t.Text})
	}
	return out
}
