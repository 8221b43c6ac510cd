package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightrag/internal/domain"
)

func reconstruct(chunks []domain.Chunk, overlap int) string {
	var b strings.Builder
	for i, ch := range chunks {
		r := []rune(ch.Text)
		if i > 0 {
			r = r[overlap:]
		}
		b.WriteString(string(r))
	}
	return b.String()
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c, err := New(0, DefaultOverlap)
		require.NoError(t, err)
		assert.Equal(t, DefaultChunkSize, c.Size())
		assert.Equal(t, DefaultOverlap, c.Overlap())
	})

	t.Run("overlap equal to size rejected", func(t *testing.T) {
		_, err := New(100, 100)
		assert.Error(t, err)
	})

	t.Run("overlap above size rejected", func(t *testing.T) {
		_, err := New(100, 150)
		assert.Error(t, err)
	})

	t.Run("negative overlap rejected", func(t *testing.T) {
		_, err := New(100, -1)
		assert.Error(t, err)
	})
}

func TestChunks_EmptyAndWhitespace(t *testing.T) {
	c, err := New(100, 20)
	require.NoError(t, err)
	for _, content := range []string{"", "   ", "\n\t \n"} {
		assert.Empty(t, c.Chunk(domain.Document{URL: "u", Content: content}))
	}
}

func TestChunks_ShortDocumentSingleChunk(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)
	doc := domain.Document{URL: "https://x/a", Title: "A", Content: "FlightAware tracks planes using ADS-B."}

	chunks := c.Chunk(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, doc.Content, chunks[0].Text)
	assert.Equal(t, "https://x/a", chunks[0].DocumentID)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, len([]rune(doc.Content)), chunks[0].CharEnd)
}

func TestChunks_Reconstruction(t *testing.T) {
	paragraph := "FlightAware Foresight uses machine learning to predict arrival times. " +
		"It combines ADS-B, radar and airline data.\n"
	tests := []struct {
		name    string
		size    int
		overlap int
		content string
	}{
		{"prose", 120, 30, strings.Repeat(paragraph, 12)},
		{"no whitespace hard cut", 50, 10, strings.Repeat("x", 333)},
		{"paragraphs", 200, 50, strings.Repeat("Line one.\n\nLine two is longer than one.\n", 20)},
		{"multibyte", 40, 8, strings.Repeat("Überflug über Zürich – ✈ ", 30)},
		{"zero overlap", 64, 0, strings.Repeat("word ", 100)},
		{"leading and trailing space", 30, 5, "   " + strings.Repeat("abc def ", 15) + "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.size, tt.overlap)
			require.NoError(t, err)
			chunks := c.Chunk(domain.Document{URL: "doc", Content: tt.content})
			require.NotEmpty(t, chunks)

			assert.Equal(t, tt.content, reconstruct(chunks, tt.overlap))
			for i, ch := range chunks {
				assert.Equal(t, i, ch.Index)
				assert.LessOrEqual(t, len([]rune(ch.Text)), tt.size)
				assert.Equal(t, ch.CharEnd-ch.CharStart, len([]rune(ch.Text)))
				if i > 0 {
					prev := chunks[i-1]
					assert.Equal(t, prev.CharEnd-tt.overlap, ch.CharStart)
					assert.LessOrEqual(t, ch.CharStart-prev.CharStart, tt.size-tt.overlap)
					assert.Greater(t, ch.CharStart, prev.CharStart)
				}
			}
		})
	}
}

func TestChunks_PrefersWhitespaceBreaks(t *testing.T) {
	c, err := New(50, 10)
	require.NoError(t, err)
	content := strings.Repeat("alpha beta gamma delta ", 10)
	chunks := c.Chunk(domain.Document{URL: "doc", Content: content})
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(ch.Text, " "), "chunk %q should end on a word boundary", ch.Text)
	}
}

func TestChunks_Restartable(t *testing.T) {
	c, err := New(30, 5)
	require.NoError(t, err)
	doc := domain.Document{URL: "doc", Content: strings.Repeat("restartable sequence ", 10)}
	seq := c.Chunks(doc)

	var first, second []domain.Chunk
	for ch := range seq {
		first = append(first, ch)
	}
	for ch := range seq {
		second = append(second, ch)
	}
	assert.Equal(t, first, second)

	count := 0
	for range seq {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}
