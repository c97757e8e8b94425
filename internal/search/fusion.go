// Package search provides hybrid search (keyword + semantic) and result fusion.
package search

import (
	"fmt"
	"sort"

	"github.com/hyperjump/docsearch/internal/keyword"
	"github.com/hyperjump/docsearch/internal/vector"
)

// ScoringConfig holds the fusion weights. It is fixed when the engine is built.
type ScoringConfig struct {
	KeywordWeight  float64
	SemanticWeight float64
}

// DefaultScoring weights semantic similarity above keyword relevance.
var DefaultScoring = ScoringConfig{KeywordWeight: 0.4, SemanticWeight: 0.6}

// NewScoringConfig validates the weights.
func NewScoringConfig(keywordWeight, semanticWeight float64) (ScoringConfig, error) {
	if keywordWeight < 0 || semanticWeight < 0 {
		return ScoringConfig{}, fmt.Errorf("fusion weights must not be negative (keyword=%v, semantic=%v)", keywordWeight, semanticWeight)
	}
	if keywordWeight+semanticWeight == 0 {
		return ScoringConfig{}, fmt.Errorf("fusion weights must not both be zero")
	}
	return ScoringConfig{KeywordWeight: keywordWeight, SemanticWeight: semanticWeight}, nil
}

// Hybrid combines two normalized scores.
func (s ScoringConfig) Hybrid(keywordScore, semanticScore float64) float64 {
	return s.KeywordWeight*keywordScore + s.SemanticWeight*semanticScore
}

// FusedResult holds a chunk ID and fused keyword/semantic scores.
type FusedResult struct {
	ChunkID       string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// MinMax rescales scores onto [0,1] over the given result set. When every
// score is equal, each maps to 1 if positive and 0 otherwise.
func MinMax(scores map[string]float64) map[string]float64 {
	normalized := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return normalized
	}
	first := true
	var lo, hi float64
	for _, s := range scores {
		if first {
			lo, hi, first = s, s, false
			continue
		}
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	for id, s := range scores {
		switch {
		case hi == lo && s > 0:
			normalized[id] = 1
		case hi == lo:
			normalized[id] = 0
		default:
			normalized[id] = (s - lo) / (hi - lo)
		}
	}
	return normalized
}

// NormalizeKeywordScores min-max normalizes raw BM25 scores.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	raw := make(map[string]float64, len(results))
	for _, r := range results {
		raw[r.ID] = r.Score
	}
	return MinMax(raw)
}

// NormalizeSemanticScores uses scores as-is when the backend bounds them to
// [0,1] and min-max normalizes them otherwise.
func NormalizeSemanticScores(results []*vector.VectorResult, bounded bool) map[string]float64 {
	raw := make(map[string]float64, len(results))
	for _, r := range results {
		raw[r.ID] = r.Score
	}
	if bounded {
		return raw
	}
	return MinMax(raw)
}

// Fuse merges keyword and semantic score maps and returns results sorted by
// descending hybrid score, ties broken by ascending chunk id. An id missing
// from one map scores 0 for that branch.
func Fuse(keywordScores, semanticScores map[string]float64, scoring ScoringConfig) []*FusedResult {
	scoreMap := make(map[string]*FusedResult, len(keywordScores)+len(semanticScores))
	for id, score := range keywordScores {
		scoreMap[id] = &FusedResult{ChunkID: id, KeywordScore: score}
	}
	for id, score := range semanticScores {
		if result, exists := scoreMap[id]; exists {
			result.SemanticScore = score
		} else {
			scoreMap[id] = &FusedResult{ChunkID: id, SemanticScore: score}
		}
	}
	results := make([]*FusedResult, 0, len(scoreMap))
	for _, result := range scoreMap {
		result.Score = scoring.Hybrid(result.KeywordScore, result.SemanticScore)
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}
