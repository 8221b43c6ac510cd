// Package vectorstore holds helpers shared by the vector index adapters.
package vectorstore

import (
	"cmp"
	"slices"
	"strconv"

	"github.com/google/uuid"

	"flightrag/internal/domain"
)

// recordNamespace scopes the name-based UUIDs of index records.
var recordNamespace = uuid.MustParse("6f1c3f7e-2b8e-4f53-9a55-3c9a1b6f0d21")

// RecordID is the deterministic id of chunk chunkIndex of the document at url.
// Re-ingesting the same document overwrites instead of duplicating.
func RecordID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(recordNamespace, []byte(documentID+"#"+strconv.Itoa(chunkIndex))).String()
}

// Rank orders results by descending score. Ties are broken by URL and then
// chunk index so equal scores never depend on provider order.
func Rank(results []domain.SearchResult) {
	slices.SortStableFunc(results, func(a, b domain.SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Metadata.URL, b.Metadata.URL); c != 0 {
			return c
		}
		return cmp.Compare(a.Metadata.ChunkIndex, b.Metadata.ChunkIndex)
	})
}
