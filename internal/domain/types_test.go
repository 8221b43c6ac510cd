package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func hit(url string, st SourceType) SearchResult {
	return SearchResult{Metadata: RecordMetadata{URL: url, SourceType: st}}
}

func TestDataSourceOf(t *testing.T) {
	tests := []struct {
		name string
		used []SearchResult
		want DataSource
	}{
		{"nothing used", nil, DataSourceNone},
		{"json only", []SearchResult{hit("a", SourceJSON), hit("b", SourceJSON)}, DataSourceJSON},
		{"pdf only", []SearchResult{hit("a", SourcePDF)}, DataSourcePDF},
		{"both", []SearchResult{hit("a", SourcePDF), hit("b", SourceJSON)}, DataSourceBoth},
		{"unknown origin", []SearchResult{hit("a", "")}, DataSourceNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DataSourceOf(tt.used))
		})
	}
}

func TestSourceURLs(t *testing.T) {
	got := SourceURLs([]SearchResult{
		hit("https://x/b", SourceJSON),
		hit("https://x/a", SourceJSON),
		hit("https://x/b", SourceJSON),
		hit(" ", SourcePDF),
	})
	assert.Equal(t, []string{"https://x/b", "https://x/a"}, got)
	assert.NotNil(t, SourceURLs(nil))
}

func TestFilter(t *testing.T) {
	md := RecordMetadata{SourceType: SourcePDF}
	assert.True(t, Filter{}.Matches(md))
	assert.True(t, Filter{}.IsZero())
	assert.True(t, Filter{SourceType: SourcePDF}.Matches(md))
	assert.False(t, Filter{SourceType: SourceJSON}.Matches(md))
}

func TestModeName(t *testing.T) {
	assert.Equal(t, "assistant", ModeName(nil))
	assert.Equal(t, "assistant", ModeName(Assistant{}))
	assert.Equal(t, "agent", ModeName(Agent{MaxIterations: 3}))
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "https://x/a", Document{URL: "https://x/a"}.ID())
}
