package chunker

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"flightrag/internal/domain"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// separators are tried in order when looking for a soft break.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune(" "),
}

// Chunker splits text into overlapping character windows, preferring to
// break on paragraph, line, sentence or word boundaries.
// Consecutive windows always share exactly overlap characters, so dropping
// the first overlap characters of every chunk but the first reconstructs
// the document.
type Chunker struct {
	size    int
	overlap int
}

// New returns a chunker for windows of size characters. A non-positive size
// selects DefaultChunkSize.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk overlap (%d) must be smaller than chunk size (%d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the target window length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of characters shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunks lazily yields the chunks of document in order.
func (c *Chunker) Chunks(document domain.Document) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		if strings.TrimSpace(document.Content) == "" {
			return
		}
		runes := []rune(document.Content)
		n := len(runes)
		start, idx := 0, 0
		for {
			end := min(start+c.size, n)
			if end < n {
				end = c.breakPoint(runes, start, end)
			}
			chunk := domain.Chunk{
				Text:       string(runes[start:end]),
				DocumentID: document.ID(),
				Index:      idx,
				CharStart:  start,
				CharEnd:    end,
			}
			if !yield(chunk) || end >= n {
				return
			}
			start = end - c.overlap
			idx++
		}
	}
}

// Chunk collects all chunks of document.
func (c *Chunker) Chunk(document domain.Document) []domain.Chunk {
	return slices.Collect(c.Chunks(document))
}

// breakPoint picks the window end in [lo, end]. lo keeps every window longer
// than the overlap so the next window always starts further right.
func (c *Chunker) breakPoint(runes []rune, start, end int) int {
	lo := start + max(c.overlap+1, c.size/2)
	if lo >= end {
		return end
	}
	for _, sep := range separators {
		for i := end - len(sep); i+len(sep) >= lo && i >= start; i-- {
			if slices.Equal(runes[i:i+len(sep)], sep) {
				return i + len(sep)
			}
		}
	}
	return end
}
