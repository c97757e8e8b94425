package indexer

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/docsearch/internal/models"
)

func TestChunker_HeadingBreadcrumbs(t *testing.T) {
	text := "# Models\n\nIntro to models.\n\n## Fields\n\nForeignKey relates two models.\n\n### Options\n\non_delete controls deletion.\n\n## Managers\n\nManagers run queries.\n"
	c := NewChunker(0, 500)
	drafts, err := c.Chunk(Document{SourcePath: "django/models/models.md", Title: "models", Text: text, Markdown: true})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"Models"},
		{"Models", "Fields"},
		{"Models", "Fields", "Options"},
		{"Models", "Managers"},
	}
	if len(drafts) != len(want) {
		t.Fatalf("expected %d drafts, got %d: %+v", len(want), len(drafts), drafts)
	}
	for i, d := range drafts {
		if !reflect.DeepEqual(d.Breadcrumb, want[i]) {
			t.Errorf("draft %d breadcrumb = %v, want %v", i, d.Breadcrumb, want[i])
		}
		if text[d.CharStart:d.CharEnd] != d.Text {
			t.Errorf("draft %d offsets do not match its text", i)
		}
	}
	if !strings.HasPrefix(drafts[1].Text, "## Fields") {
		t.Errorf("section text should start at its heading, got %q", drafts[1].Text)
	}
}

func TestChunker_PreambleUsesTitle(t *testing.T) {
	c := NewChunker(0, 500)
	drafts, err := c.Chunk(Document{Title: "intro", Text: "Preamble text.\n\n# First\n\nBody.", Markdown: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 2 || !reflect.DeepEqual(drafts[0].Breadcrumb, []string{"intro"}) {
		t.Fatalf("unexpected drafts: %+v", drafts)
	}
}

func TestChunker_IgnoresHeadingsInCodeFences(t *testing.T) {
	text := "# Shell\n\nRun this:\n\n```bash\n# not a heading\necho hi\n```\n"
	c := NewChunker(0, 500)
	drafts, err := c.Chunk(Document{Title: "shell", Text: text, Markdown: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(drafts))
	}
	if !strings.Contains(drafts[0].Text, "# not a heading") {
		t.Error("fenced comment should stay in the section body")
	}
}

func TestChunker_SkipsFrontMatterAndHeadingOnlySections(t *testing.T) {
	text := "---\ntitle: Hooks\n---\n# Hooks\n## useState\n\nState hook.\n"
	c := NewChunker(0, 500)
	drafts, err := c.Chunk(Document{Title: "hooks", Text: text, Markdown: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d: %+v", len(drafts), drafts)
	}
	if !reflect.DeepEqual(drafts[0].Breadcrumb, []string{"Hooks", "useState"}) {
		t.Errorf("breadcrumb = %v", drafts[0].Breadcrumb)
	}
	if strings.Contains(drafts[0].Text, "title:") {
		t.Error("front matter should not be chunked")
	}
}

func TestChunker_SplitsOversizedSection(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Big\n\n")
	for i := 0; i < 30; i++ {
		b.WriteString(strings.Repeat("word ", 20))
		b.WriteString("\n\n")
	}
	text := b.String()
	c := NewChunker(10, 100)
	drafts, err := c.Chunk(Document{Title: "big", Text: text, Markdown: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) < 2 {
		t.Fatalf("expected the section to be split, got %d drafts", len(drafts))
	}
	for i, d := range drafts {
		if d.TokenCount > 100 {
			t.Errorf("draft %d has %d tokens, budget is 100", i, d.TokenCount)
		}
		if !reflect.DeepEqual(d.Breadcrumb, []string{"Big"}) {
			t.Errorf("draft %d should inherit the full breadcrumb, got %v", i, d.Breadcrumb)
		}
		if i > 0 && d.CharStart < drafts[i-1].CharEnd {
			t.Errorf("draft %d overlaps the previous one", i)
		}
	}
}

func TestChunker_ForceSplitsLongLine(t *testing.T) {
	text := strings.Repeat("token ", 400)
	c := NewChunker(0, 50)
	drafts, err := c.Chunk(Document{Title: "long", Text: text})
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) < 10 {
		t.Fatalf("expected a long line to be split by words, got %d drafts", len(drafts))
	}
	for i, d := range drafts {
		if d.TokenCount > 50 {
			t.Errorf("draft %d has %d tokens", i, d.TokenCount)
		}
	}
}

func TestChunker_MergesSmallChildIntoParent(t *testing.T) {
	text := "# Cache\n\nCache backends.\n\n## Redis\n\nUse redis.\n"
	c := NewChunker(200, 500)
	drafts, err := c.Chunk(Document{Title: "cache", Text: text, Markdown: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected small child to merge, got %d drafts", len(drafts))
	}
	if !strings.Contains(drafts[0].Text, "Use redis.") || !reflect.DeepEqual(drafts[0].Breadcrumb, []string{"Cache"}) {
		t.Errorf("unexpected merged draft: %+v", drafts[0])
	}
}

func TestChunker_Deterministic(t *testing.T) {
	doc := Document{Title: "d", Text: "# A\n\none\n\n## B\n\ntwo\n", Markdown: true}
	c := NewChunker(0, 500)
	a, _ := c.Chunk(doc)
	b, _ := c.Chunk(doc)
	if !reflect.DeepEqual(a, b) {
		t.Error("chunking the same document twice should give identical drafts")
	}
}

func TestChunker_Empty(t *testing.T) {
	c := NewChunker(0, 500)
	drafts, err := c.Chunk(Document{Text: "   \n\t  ", Markdown: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 0 {
		t.Errorf("empty text should yield no drafts, got %v", drafts)
	}
}

func TestChunker_MalformedDocument(t *testing.T) {
	c := NewChunker(0, 500)
	for _, text := range []string{"bad \xff utf8", "nul\x00byte"} {
		_, err := c.Chunk(Document{SourcePath: "django/x.md", Text: text, Markdown: true})
		var pe *models.FileParseError
		if !errors.As(err, &pe) {
			t.Fatalf("expected FileParseError, got %v", err)
		}
		if pe.Path != "django/x.md" {
			t.Errorf("path = %s", pe.Path)
		}
	}
}

func TestParseHeading(t *testing.T) {
	tests := []struct {
		line  string
		level int
		title string
		ok    bool
	}{
		{"# Title", 1, "Title", true},
		{"### Sub ###", 3, "Sub", true},
		{"   ## Indented", 2, "Indented", true},
		{"    # code block", 0, "", false},
		{"#hashtag", 0, "", false},
		{"####### seven", 0, "", false},
		{"#", 0, "", false},
	}
	for _, tt := range tests {
		level, title, ok := parseHeading(tt.line)
		if level != tt.level || title != tt.title || ok != tt.ok {
			t.Errorf("parseHeading(%q) = %d, %q, %v", tt.line, level, title, ok)
		}
	}
}

func TestPreprocess(t *testing.T) {
	if Preprocess("  a  b\n\tc ") != "a b c" {
		t.Error("expected trimmed and collapsed spaces")
	}
}
