// Package keyword provides BM25 keyword indexing and filtered search over chunks.
package keyword

import (
	"context"

	"github.com/hyperjump/docsearch/internal/models"
)

// KeywordIndex defines keyword search operations. Scores are raw BM25 values
// and therefore unbounded.
type KeywordIndex interface {
	// Upsert writes chunk text plus the filterable tech and component fields.
	Upsert(ctx context.Context, chunks []*models.Chunk) error
	// Search returns up to size hits for query. Filter fields are pushed down to the backend.
	Search(ctx context.Context, query string, filter models.Filter, size int) ([]*KeywordResult, error)
	Delete(ctx context.Context, ids []string) error
	// Clear removes every chunk of tech, or every chunk when tech is empty.
	Clear(ctx context.Context, tech string) error
	// IDs lists the chunk ids of tech, or of the whole index when tech is empty.
	IDs(ctx context.Context, tech string) ([]string, error)
	// Ping reports whether the index can serve reads and writes.
	Ping(ctx context.Context) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}
