package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/docsearch/internal/models"
)

func seed(t *testing.T, idx VectorIndex) {
	t.Helper()
	points := []Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: Payload{Tech: "go", Component: "http"}},
		{ID: "b", Vector: []float32{0.9, 0.1, 0}, Payload: Payload{Tech: "go", Component: "sync"}},
		{ID: "c", Vector: []float32{0.1, 1, 0}, Payload: Payload{Tech: "rust"}},
	}
	if err := idx.Upsert(context.Background(), points); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryIndex_UpsertSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	seed(t, idx)
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(context.Background(), []float32{1, 0, 0}, models.Filter{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("order = %s,%s, want a,b", results[0].ID, results[1].ID)
	}
	for _, r := range results {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score %f out of [0,1]", r.Score)
		}
	}
}

func TestMemoryIndex_UpsertReplaces(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	ctx := context.Background()
	seed(t, idx)
	if err := idx.Upsert(ctx, []Point{{ID: "a", Vector: []float32{0, 0, 1}, Payload: Payload{Tech: "go"}}}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d, want 3", idx.Size())
	}
	results, _ := idx.Search(ctx, []float32{0, 0, 1}, models.Filter{}, 1)
	if len(results) != 1 || results[0].ID != "a" {
		t.Errorf("replaced vector not found: %+v", results)
	}
}

func TestMemoryIndex_FilterDuringSearch(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	seed(t, idx)
	ctx := context.Background()

	// "c" is the weakest match for this query but the only rust vector.
	results, err := idx.Search(ctx, []float32{1, 0, 0}, models.Filter{Tech: "rust"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "c" {
		t.Fatalf("filtered search = %+v, want [c]", results)
	}

	results, _ = idx.Search(ctx, []float32{1, 0, 0}, models.Filter{Tech: "go", Component: "sync"}, 5)
	if len(results) != 1 || results[0].ID != "b" {
		t.Errorf("component filter = %+v, want [b]", results)
	}
}

func TestMemoryIndex_TieBreakByID(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []Point{
		{ID: "z", Vector: []float32{1, 0}},
		{ID: "m", Vector: []float32{1, 0}},
		{ID: "k", Vector: []float32{1, 0}},
	})
	results, _ := idx.Search(ctx, []float32{1, 0}, models.Filter{}, 3)
	got := []string{results[0].ID, results[1].ID, results[2].ID}
	if got[0] != "k" || got[1] != "m" || got[2] != "z" {
		t.Errorf("tie order = %v, want [k m z]", got)
	}
}

func TestMemoryIndex_DeleteAndClear(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	ctx := context.Background()
	seed(t, idx)
	if err := idx.Delete(ctx, []string{"a", "missing"}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Errorf("expected size 2, got %d", idx.Size())
	}
	if err := idx.Clear(ctx, "go"); err != nil {
		t.Fatal(err)
	}
	ids, _ := idx.IDs(ctx, "")
	if len(ids) != 1 || ids[0] != "c" {
		t.Errorf("IDs after clear = %v, want [c]", ids)
	}
	_ = idx.Clear(ctx, "")
	if idx.Size() != 0 {
		t.Errorf("Size after full clear = %d", idx.Size())
	}
}

func TestMemoryIndex_ZeroQuery(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	seed(t, idx)
	results, err := idx.Search(context.Background(), []float32{0, 0, 0}, models.Filter{}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("zero query returned %d results", len(results))
	}
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	err := idx.Upsert(context.Background(), []Point{{ID: "x", Vector: []float32{1, 0}}})
	if _, ok := err.(ErrDimensionMismatch); !ok {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := idx.Search(context.Background(), []float32{1}, models.Filter{}, 1); err == nil {
		t.Error("expected error for short query")
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.idx")
	idx, _ := NewMemoryIndex(3)
	seed(t, idx)
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewMemoryIndex(3)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 3 {
		t.Fatalf("loaded Size=%d, want 3", loaded.Size())
	}
	results, _ := loaded.Search(context.Background(), []float32{1, 0, 0}, models.Filter{Tech: "rust"}, 1)
	if len(results) != 1 || results[0].ID != "c" {
		t.Errorf("payload not restored: %+v", results)
	}

	wrong, _ := NewMemoryIndex(4)
	if err := wrong.Load(path); err == nil {
		t.Error("expected dimension mismatch on load")
	}
}

func TestMemoryIndex_LoadMissingFile(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	if err := idx.Load(filepath.Join(t.TempDir(), "nope.idx")); err != nil {
		t.Errorf("Load(missing) = %v, want nil", err)
	}
}

func TestMemoryIndex_Closed(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	_ = idx.Close()
	if err := idx.Ping(context.Background()); err != ErrClosed {
		t.Errorf("Ping after Close = %v, want ErrClosed", err)
	}
}

func TestSearch_DropsZeroSimilarity(t *testing.T) {
	mem, _ := NewMemoryIndex(3)
	graph, _ := NewHNSWIndex(HNSWConfig{Dimensions: 3})
	defer graph.Close()
	for name, idx := range map[string]VectorIndex{"memory": mem, "hnsw": graph} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := idx.Upsert(ctx, []Point{
				{ID: "same", Vector: []float32{1, 0, 0}, Payload: Payload{Tech: "go"}},
				{ID: "orthogonal", Vector: []float32{0, 1, 0}, Payload: Payload{Tech: "go"}},
				{ID: "opposite", Vector: []float32{-1, 0, 0}, Payload: Payload{Tech: "go"}},
			}); err != nil {
				t.Fatal(err)
			}
			results, err := idx.Search(ctx, []float32{1, 0, 0}, models.Filter{}, 3)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 1 || results[0].ID != "same" {
				t.Errorf("results = %+v, want only [same]", results)
			}
			// The full scan behind a filtered search drops them too.
			results, _ = idx.Search(ctx, []float32{0, 0, 1}, models.Filter{Tech: "go"}, 3)
			if len(results) != 0 {
				t.Errorf("unrelated query returned %+v", results)
			}
		})
	}
}
