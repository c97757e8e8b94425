package models

import (
	"errors"
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	techs := []string{"django", "react"}
	tests := []struct {
		name     string
		query    *SearchQuery
		wantErr  bool
		wantTopK int
	}{
		{"empty query is valid", &SearchQuery{Query: ""}, false, 10},
		{"sets default top_k", &SearchQuery{Query: "x", TopK: 0}, false, 10},
		{"keeps explicit top_k", &SearchQuery{Query: "x", TopK: 3}, false, 3},
		{"negative top_k", &SearchQuery{Query: "x", TopK: -1}, true, 0},
		{"top_k over max", &SearchQuery{Query: "x", TopK: 101}, true, 0},
		{"known tech", &SearchQuery{Query: "x", Tech: "django"}, false, 10},
		{"unknown tech", &SearchQuery{Query: "x", Tech: "rails"}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(techs, 10, 100)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("expected *ValidationError, got %T", err)
				}
				return
			}
			if tt.query.TopK != tt.wantTopK {
				t.Errorf("TopK = %d, want %d", tt.query.TopK, tt.wantTopK)
			}
		})
	}
}

func TestSearchQuery_Empty(t *testing.T) {
	if !(&SearchQuery{Query: "  \t\n"}).Empty() {
		t.Error("whitespace query should be empty")
	}
	if (&SearchQuery{Query: "ForeignKey"}).Empty() {
		t.Error("non-blank query should not be empty")
	}
}

func TestFilter_Matches(t *testing.T) {
	tests := []struct {
		f         Filter
		tech      string
		component string
		want      bool
	}{
		{Filter{}, "django", "", true},
		{Filter{Tech: "django"}, "django", "orm", true},
		{Filter{Tech: "django"}, "react", "", false},
		{Filter{Tech: "django", Component: "orm"}, "django", "orm", true},
		{Filter{Tech: "django", Component: "orm"}, "django", "views", false},
		{Filter{Component: "hooks"}, "react", "hooks", true},
	}
	for _, tt := range tests {
		if got := tt.f.Matches(tt.tech, tt.component); got != tt.want {
			t.Errorf("%+v.Matches(%q, %q) = %v, want %v", tt.f, tt.tech, tt.component, got, tt.want)
		}
	}
}

func TestErrorsUnwrapToSentinels(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		err      error
		sentinel error
	}{
		{&FileParseError{Path: "a.md", Err: cause}, ErrFileParse},
		{&EmbeddingError{ChunkID: "c", Err: cause}, ErrEmbedding},
		{&BackendUnavailableError{Backend: "vector", Err: cause}, ErrBackendUnavailable},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.sentinel) {
			t.Errorf("%v should unwrap to %v", tt.err, tt.sentinel)
		}
		if !errors.Is(tt.err, cause) {
			t.Errorf("%v should unwrap to its cause", tt.err)
		}
	}
}

func TestChunkClone(t *testing.T) {
	c := &Chunk{ID: "a", Breadcrumb: []string{"A", "B"}, Embedding: []float32{1}}
	cp := c.Clone()
	cp.Breadcrumb[0] = "Z"
	if c.Breadcrumb[0] != "A" {
		t.Error("Clone should copy the breadcrumb")
	}
	if cp.Embedding != nil {
		t.Error("Clone should drop the embedding")
	}
}
