package models

import (
	"slices"
	"strings"
)

// SearchQuery represents a search request with optional tech and component filters.
type SearchQuery struct {
	Query     string `json:"query"`
	Tech      string `json:"tech,omitempty"`
	Component string `json:"component,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
}

// Validate rejects a negative or oversized top_k and unknown technologies, and
// applies the default top_k when it is zero. An empty query is valid.
func (q *SearchQuery) Validate(techs []string, defaultTopK, maxTopK int) error {
	if q.TopK < 0 {
		return NewValidationError("top_k", "must not be negative, got %d", q.TopK)
	}
	if q.TopK == 0 {
		q.TopK = defaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		return NewValidationError("top_k", "must be at most %d, got %d", maxTopK, q.TopK)
	}
	q.Tech = strings.TrimSpace(q.Tech)
	q.Component = strings.TrimSpace(q.Component)
	if q.Tech != "" && !slices.Contains(techs, q.Tech) {
		return NewValidationError("tech", "unknown technology %q", q.Tech)
	}
	return nil
}

// Empty reports whether the query has no searchable text.
func (q *SearchQuery) Empty() bool {
	return strings.TrimSpace(q.Query) == ""
}

// Filter returns the pushed-down filter for the query.
func (q *SearchQuery) Filter() Filter {
	return Filter{Tech: q.Tech, Component: q.Component}
}
