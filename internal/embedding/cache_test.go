package embedding

import (
	"context"
	"errors"
	"testing"
)

type countingEmbedder struct {
	*HashEmbedder
	calls int
	fail  bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("model offline")
	}
	return c.HashEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

func TestCachedEmbedder_Embed(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
	c, err := NewCachedEmbedder(inner, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	a1, err := c.Embed(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	a2, _ := c.Embed(ctx, "a")
	if inner.calls != 1 {
		t.Errorf("second Embed should hit the cache, inner calls = %d", inner.calls)
	}
	if &a1[0] != &a2[0] {
		t.Error("cached embedding should be returned")
	}
	_, _ = c.Embed(ctx, "b")
	_, _ = c.Embed(ctx, "c") // evicts a
	_, _ = c.Embed(ctx, "a")
	if inner.calls != 4 {
		t.Errorf("expected a to be evicted and recomputed, inner calls = %d", inner.calls)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCachedEmbedder_EmbedBatchOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
	c, _ := NewCachedEmbedder(inner, 10)
	ctx := context.Background()
	_, _ = c.Embed(ctx, "cached")
	out, err := c.EmbedBatch(ctx, []string{"cached", "fresh"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0] == nil || out[1] == nil {
		t.Fatalf("unexpected batch output: %v", out)
	}
	if inner.calls != 2 {
		t.Errorf("only the miss should reach the inner embedder, calls = %d", inner.calls)
	}
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16), fail: true}
	c, _ := NewCachedEmbedder(inner, 10)
	if _, err := c.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if c.Len() != 0 {
		t.Error("failed embeddings should not be cached")
	}
}
