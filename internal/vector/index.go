// Package vector provides filtered cosine-similarity search over chunk embeddings.
package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/docsearch/internal/models"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("vector index is closed")

// ErrDimensionMismatch reports a vector whose length differs from the index dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Got, e.Expected)
}

// Payload carries the filterable fields stored with each vector.
type Payload struct {
	Tech      string
	Component string
}

// Point is one vector with its chunk id and payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// VectorIndex defines vector storage and filtered nearest-neighbor search.
type VectorIndex interface {
	// Upsert stores points, replacing any existing vector with the same id.
	Upsert(ctx context.Context, points []Point) error
	// Search returns up to k hits ordered by descending score. Filter fields are
	// applied while searching, not to the returned page.
	Search(ctx context.Context, query []float32, filter models.Filter, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	// Clear removes every vector of tech, or every vector when tech is empty.
	Clear(ctx context.Context, tech string) error
	// IDs lists the chunk ids of tech, or of the whole index when tech is empty.
	IDs(ctx context.Context, tech string) ([]string, error)
	// Ping reports whether the index can serve reads and writes.
	Ping(ctx context.Context) error
	// BoundedScores reports whether Search scores are already in [0, 1].
	BoundedScores() bool
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    string
	Score float64 // cosine similarity clamped to [0, 1]
}
