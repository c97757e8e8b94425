package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCorpus_Classify(t *testing.T) {
	c := NewCorpus("/docs", []string{"django", "react"}, nil)
	tests := []struct {
		rel       string
		tech      string
		component string
		ok        bool
	}{
		{"django/intro.md", "django", "", true},
		{"django/models/fields.md", "django", "models", true},
		{"react/hooks/state/useState.md", "react", "hooks", true},
		{"rails/intro.md", "", "", false},
		{"README.md", "", "", false},
	}
	for _, tt := range tests {
		tech, comp, ok := c.Classify(tt.rel)
		if tech != tt.tech || comp != tt.component || ok != tt.ok {
			t.Errorf("Classify(%q) = %q, %q, %v", tt.rel, tech, comp, ok)
		}
	}
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".md", []string{".txt", ".md"}, true},
		{".MD", []string{".md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
		{".rst", []string{"txt", "rst"}, true},
	}
	for _, tt := range tests {
		if got := extensionAllowed(tt.ext, tt.allowed); got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func TestCorpus_Walk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "django/intro.md", "# Intro")
	writeFile(t, root, "django/models/fields.md", "# Fields")
	writeFile(t, root, "django/models/.draft.md", "# Draft")
	writeFile(t, root, "django/.hidden/x.md", "# Hidden")
	writeFile(t, root, "django/logo.png", "png")
	writeFile(t, root, "react/hooks.md", "# Hooks")
	writeFile(t, root, "rails/intro.md", "# Rails")
	c := NewCorpus(root, []string{"django", "react", "redis"}, []string{".md"})

	all, err := c.Walk(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	var rels []string
	for _, f := range all {
		rels = append(rels, f.RelPath)
	}
	want := []string{"django/intro.md", "django/models/fields.md", "react/hooks.md"}
	if len(rels) != len(want) {
		t.Fatalf("Walk() = %v, want %v", rels, want)
	}
	for i := range want {
		if rels[i] != want[i] {
			t.Errorf("Walk()[%d] = %s, want %s", i, rels[i], want[i])
		}
	}
	if all[1].Component != "models" || all[1].Tech != "django" {
		t.Errorf("unexpected classification: %+v", all[1])
	}

	scoped, err := c.Walk(context.Background(), "react")
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 1 || scoped[0].Tech != "react" {
		t.Errorf("scoped walk = %+v", scoped)
	}
}

func TestCorpus_WalkCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "django/intro.md", "# Intro")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewCorpus(root, []string{"django"}, nil).Walk(ctx, ""); err == nil {
		t.Error("expected context error")
	}
}

func TestCorpus_Rel(t *testing.T) {
	root := t.TempDir()
	c := NewCorpus(root, []string{"django"}, nil)
	rel, err := c.Rel(filepath.Join(root, "django", "a.md"))
	if err != nil || rel != "django/a.md" {
		t.Errorf("Rel() = %q, %v", rel, err)
	}
	if _, err := c.Rel(filepath.Dir(root)); err == nil {
		t.Error("expected error for a path outside the root")
	}
}
