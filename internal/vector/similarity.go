package vector

import (
	"sort"

	"github.com/hyperjump/docsearch/pkg/utils"
)

// score maps cosine similarity onto [0, 1]. Opposing vectors score 0, like
// unrelated ones, and searches drop hits scoring 0.
func score(query, vec []float32) float64 {
	return utils.Clamp01(utils.Cosine(query, vec))
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// sortResults orders hits by descending score, then ascending id.
func sortResults(results []*VectorResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

func checkDims(points []Point, dims int) error {
	for _, p := range points {
		if len(p.Vector) != dims {
			return ErrDimensionMismatch{Expected: dims, Got: len(p.Vector)}
		}
	}
	return nil
}
