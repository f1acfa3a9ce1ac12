package retrieval

import (
	"context"
	"time"
)

// VectorStore holds embedded guidance passages and answers nearest-neighbour
// queries over them. The index is prepared outside this program; Insert is
// provided for loading prepared data and for tests.
type VectorStore interface {
	// Insert adds records to the store.
	Insert(records []Record) error

	// Search returns the topK records most similar to vector, best first.
	Search(vector []float32, topK int) ([]ScoredRecord, error)

	// GetByIDs returns the records with the given IDs.
	GetByIDs(ctx context.Context, ids []string) ([]Record, error)

	// Count returns the number of stored records.
	Count() (int, error)
}

// TextSearcher is implemented by stores that can match passages by keyword
// without an embedding.
type TextSearcher interface {
	SearchText(ctx context.Context, terms []string, limit int) ([]Record, error)
}

// Record is one stored guidance passage.
type Record struct {
	ID        string
	Source    string
	Title     string
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with its cosine similarity to the query.
type ScoredRecord struct {
	Record
	Score float32
}
