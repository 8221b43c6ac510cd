package domain

import (
	"strings"
	"time"
)

// SourceType tags where an indexed chunk originally came from.
type SourceType string

const (
	SourceJSON SourceType = "json"
	SourcePDF  SourceType = "pdf"
)

// Document is a single corpus unit, identified by its URL.
type Document struct {
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	SourceType SourceType        `json:"-"`
}

// ID returns the document identity used for chunk provenance.
func (d Document) ID() string { return d.URL }

// Chunk is a bounded window over a document's content.
// CharStart and CharEnd are rune offsets into Document.Content.
type Chunk struct {
	Text       string
	DocumentID string
	Index      int
	CharStart  int
	CharEnd    int
}

// RecordMetadata is the provenance attached to every Index Record.
type RecordMetadata struct {
	SourceType SourceType `json:"source_type"`
	URL        string     `json:"url"`
	Title      string     `json:"title"`
	ChunkIndex int        `json:"chunk_index"`
	Text       string     `json:"text"`
}

// IndexRecord is what the vector index persists.
type IndexRecord struct {
	ID       string
	Vector   []float32
	Metadata RecordMetadata
}

// Filter restricts a query by metadata. The zero value matches everything.
type Filter struct {
	SourceType SourceType
}

// Matches reports whether md satisfies the filter.
func (f Filter) Matches(md RecordMetadata) bool {
	return f.SourceType == "" || f.SourceType == md.SourceType
}

// IsZero reports whether the filter is unrestricted.
func (f Filter) IsZero() bool { return f.SourceType == "" }

// SearchResult is a single nearest-neighbor hit.
type SearchResult struct {
	ID       string
	Score    float64
	Metadata RecordMetadata
}

// ChunkText returns the stored text of the hit.
func (r SearchResult) ChunkText() string { return r.Metadata.Text }

// RetrievalResult is ordered by descending score and holds at most K hits.
type RetrievalResult []SearchResult

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation session.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// DataSource summarises which corpus origins contributed to an answer.
type DataSource string

const (
	DataSourceNone DataSource = "none"
	DataSourceJSON DataSource = "json"
	DataSourcePDF  DataSource = "pdf"
	DataSourceBoth DataSource = "both"
)

// DataSourceOf derives the data source tag from the chunks used in a prompt.
func DataSourceOf(used []SearchResult) DataSource {
	var hasJSON, hasPDF bool
	for _, r := range used {
		switch r.Metadata.SourceType {
		case SourceJSON:
			hasJSON = true
		case SourcePDF:
			hasPDF = true
		}
	}
	switch {
	case hasJSON && hasPDF:
		return DataSourceBoth
	case hasJSON:
		return DataSourceJSON
	case hasPDF:
		return DataSourcePDF
	default:
		return DataSourceNone
	}
}

// Answer is the final response returned to callers of Ask.
type Answer struct {
	Text           string     `json:"response"`
	DataSource     DataSource `json:"data_source"`
	RetrievedCount int        `json:"retrieved_count"`
	Mode           string     `json:"mode"`
	SourceURLs     []string   `json:"source_urls"`
	Timestamp      time.Time  `json:"timestamp"`
}

// SourceURLs returns the distinct non-empty URLs of results in rank order.
func SourceURLs(results []SearchResult) []string {
	seen := make(map[string]struct{}, len(results))
	out := make([]string, 0, len(results))
	for _, r := range results {
		u := strings.TrimSpace(r.Metadata.URL)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
