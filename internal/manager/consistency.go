package manager

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/docsearch/internal/indexer"
	"github.com/hyperjump/docsearch/internal/models"
)

// Inconsistency types reported by Check.
const (
	// MissingKeyword is a cached chunk absent from the keyword index.
	MissingKeyword = "missing_keyword"
	// MissingVector is a vector-indexed cached chunk absent from the vector index.
	MissingVector = "missing_vector"
	// OrphanKeyword is a keyword document with no cached chunk.
	OrphanKeyword = "orphan_keyword"
	// OrphanVector is a vector with no cached chunk.
	OrphanVector = "orphan_vector"
)

// Inconsistency is one chunk id whose stores disagree.
type Inconsistency struct {
	Type    string `json:"type"`
	ChunkID string `json:"chunk_id"`
}

// CheckResult reports how the cache and the two backends diverge.
type CheckResult struct {
	Checked         int             `json:"checked"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
}

// Consistent reports whether no inconsistency was found.
func (r *CheckResult) Consistent() bool { return len(r.Inconsistencies) == 0 }

// Check compares the cache snapshot with the ids held by each backend. Orphans
// are the expected residue of an interrupted build; missing entries are not.
func (m *Manager) Check(ctx context.Context) (*CheckResult, error) {
	snap := m.comp.Cache.Snapshot()
	kwIDs, err := m.comp.Keyword.IDs(ctx, "")
	if err != nil {
		return nil, &models.BackendUnavailableError{Backend: indexer.BackendKeyword, Err: err}
	}
	vecIDs, err := m.comp.Vector.IDs(ctx, "")
	if err != nil {
		return nil, &models.BackendUnavailableError{Backend: indexer.BackendVector, Err: err}
	}
	inKeyword := toSet(kwIDs)
	inVector := toSet(vecIDs)

	result := &CheckResult{Checked: snap.Len(), Inconsistencies: []Inconsistency{}}
	for _, id := range snap.IDs("") {
		if !inKeyword[id] {
			result.add(MissingKeyword, id)
		}
		if c, _ := snap.Get(id); c.VectorIndexed && !inVector[id] {
			result.add(MissingVector, id)
		}
	}
	for _, id := range kwIDs {
		if !snap.Has(id) {
			result.add(OrphanKeyword, id)
		}
	}
	for _, id := range vecIDs {
		if !snap.Has(id) {
			result.add(OrphanVector, id)
		}
	}
	sort.Slice(result.Inconsistencies, func(i, j int) bool {
		a, b := result.Inconsistencies[i], result.Inconsistencies[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ChunkID < b.ChunkID
	})
	if n := len(result.Inconsistencies); n > 0 {
		m.logger.Warn("index inconsistent", zap.Int("checked", result.Checked), zap.Int("inconsistencies", n))
	}
	return result, nil
}

func (r *CheckResult) add(kind, id string) {
	r.Inconsistencies = append(r.Inconsistencies, Inconsistency{Type: kind, ChunkID: id})
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
