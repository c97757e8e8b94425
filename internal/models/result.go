package models

// RankedChunk is one fused search hit.
type RankedChunk struct {
	Chunk         *Chunk  `json:"chunk"`
	Rank          int     `json:"rank"`
	BM25Score     float64 `json:"bm25_score"`
	SemanticScore float64 `json:"semantic_score"`
	HybridScore   float64 `json:"hybrid_score"`
}

// SearchResponse is the response for a search request.
// Degraded is set whenever one retrieval branch failed or timed out; such a
// ranking is built from the surviving branch alone.
type SearchResponse struct {
	Query            string         `json:"query"`
	Results          []*RankedChunk `json:"results"`
	Degraded         bool           `json:"degraded"`
	DegradedBranches []string       `json:"degraded_branches,omitempty"`
	QueryTime        int64          `json:"query_time_ms"`
}
