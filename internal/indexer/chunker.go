// Package indexer provides heading-aware chunking and the build pipeline that
// writes chunks into the keyword index, the vector index, and the metadata cache.
package indexer

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/docsearch/internal/models"
)

var (
	errInvalidUTF8 = errors.New("document is not valid UTF-8")
	errBinary      = errors.New("document contains NUL bytes")
)

// Document is one source file ready for chunking.
type Document struct {
	SourcePath string // slash-separated, relative to the corpus root
	Title      string
	Text       string
	Markdown   bool
}

// Draft is a chunk before it is identified and classified.
// CharStart and CharEnd are byte offsets into the document text.
type Draft struct {
	Text       string
	Breadcrumb []string
	CharStart  int
	CharEnd    int
	TokenCount int
}

// Chunker splits documents at heading boundaries and keeps chunks inside a
// soft token budget.
type Chunker struct {
	minTokens int
	maxTokens int
}

// NewChunker creates a chunker with the given token budget.
func NewChunker(minTokens, maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = 500
	}
	if minTokens < 0 || minTokens > maxTokens {
		minTokens = maxTokens / 2
	}
	return &Chunker{minTokens: minTokens, maxTokens: maxTokens}
}

type span struct {
	start, end int
}

type section struct {
	breadcrumb []string
	start      int
	bodyStart  int
	end        int
}

// Chunk splits doc into drafts. The result depends only on doc, so a build can
// re-chunk any file independently. A document that is not valid UTF-8 or holds
// NUL bytes yields a *models.FileParseError.
func (c *Chunker) Chunk(doc Document) ([]Draft, error) {
	if !utf8.ValidString(doc.Text) {
		return nil, &models.FileParseError{Path: doc.SourcePath, Err: errInvalidUTF8}
	}
	if strings.IndexByte(doc.Text, 0) >= 0 {
		return nil, &models.FileParseError{Path: doc.SourcePath, Err: errBinary}
	}

	text := doc.Text
	var drafts []Draft
	for _, sec := range parseSections(text, doc.Title, doc.Markdown) {
		if strings.TrimSpace(text[sec.bodyStart:sec.end]) == "" {
			// Heading-only sections live on in their descendants' breadcrumbs.
			continue
		}
		pieces := c.splitSection(text, span{sec.start, sec.end})
		if len(pieces) == 1 && len(drafts) > 0 {
			prev := &drafts[len(drafts)-1]
			tokens := estimateTokens(text[pieces[0].start:pieces[0].end])
			if tokens < c.minTokens && isPrefix(prev.Breadcrumb, sec.breadcrumb) &&
				prev.TokenCount+tokens <= c.maxTokens {
				prev.CharEnd = pieces[0].end
				prev.Text = text[prev.CharStart:prev.CharEnd]
				prev.TokenCount = estimateTokens(prev.Text)
				continue
			}
		}
		for _, p := range pieces {
			body := text[p.start:p.end]
			drafts = append(drafts, Draft{
				Text:       body,
				Breadcrumb: append([]string(nil), sec.breadcrumb...),
				CharStart:  p.start,
				CharEnd:    p.end,
				TokenCount: estimateTokens(body),
			})
		}
	}
	return drafts, nil
}

// splitSection returns trimmed spans covering s, each at most maxTokens where
// the text allows. Oversized sections are cut at paragraphs, then lines, then words.
func (c *Chunker) splitSection(text string, s span) []span {
	s = trimSpan(text, s)
	if s.start >= s.end {
		return nil
	}
	if estimateTokens(text[s.start:s.end]) <= c.maxTokens {
		return []span{s}
	}

	var units []span
	for _, para := range paragraphs(text, s) {
		if estimateTokens(text[para.start:para.end]) <= c.maxTokens {
			units = append(units, para)
			continue
		}
		for _, line := range lines(text, para) {
			if estimateTokens(text[line.start:line.end]) <= c.maxTokens {
				units = append(units, line)
				continue
			}
			units = append(units, c.splitWords(text, line)...)
		}
	}
	return c.pack(text, units)
}

// pack groups consecutive units into pieces of roughly equal size.
func (c *Chunker) pack(text string, units []span) []span {
	if len(units) == 0 {
		return nil
	}
	total := estimateTokens(text[units[0].start:units[len(units)-1].end])
	n := (total + c.maxTokens - 1) / c.maxTokens
	target := (total + n - 1) / n

	var pieces []span
	cur := span{-1, -1}
	curTokens := 0
	for _, u := range units {
		if cur.start >= 0 && (curTokens >= target || estimateTokens(text[cur.start:u.end]) > c.maxTokens) {
			pieces = append(pieces, cur)
			cur = span{-1, -1}
		}
		if cur.start < 0 {
			cur.start = u.start
		}
		cur.end = u.end
		curTokens = estimateTokens(text[cur.start:cur.end])
	}
	return append(pieces, cur)
}

func (c *Chunker) splitWords(text string, s span) []span {
	var out []span
	cur := span{-1, -1}
	maxBytes := c.maxTokens * 4
	for _, w := range words(text, s) {
		if cur.start >= 0 && w.end-cur.start > maxBytes {
			out = append(out, cur)
			cur = span{-1, -1}
		}
		if cur.start < 0 {
			cur.start = w.start
		}
		cur.end = w.end
	}
	if cur.start >= 0 {
		out = append(out, cur)
	}
	return out
}

type heading struct {
	level int
	title string
}

func parseSections(text, title string, markdown bool) []section {
	offset := skipFrontMatter(text)
	root := []string{title}
	if !markdown {
		return []section{{breadcrumb: root, start: offset, bodyStart: offset, end: len(text)}}
	}

	var sections []section
	var stack []heading
	cur := section{breadcrumb: root, start: offset, bodyStart: offset}
	fence := ""
	for pos := offset; pos < len(text); {
		lineEnd, next := lineBounds(text, pos)
		line := text[pos:lineEnd]
		if marker := fenceMarker(line); marker != "" {
			switch {
			case fence == "":
				fence = marker
			case marker == fence:
				fence = ""
			}
		} else if fence == "" {
			if level, name, ok := parseHeading(line); ok {
				cur.end = pos
				sections = append(sections, cur)
				stack = pushHeading(stack, level, name)
				cur = section{breadcrumb: headingTitles(stack), start: pos, bodyStart: next}
			}
		}
		pos = next
	}
	cur.end = len(text)
	return append(sections, cur)
}

func pushHeading(stack []heading, level int, title string) []heading {
	for len(stack) > 0 && stack[len(stack)-1].level >= level {
		stack = stack[:len(stack)-1]
	}
	return append(stack, heading{level: level, title: title})
}

func headingTitles(stack []heading) []string {
	out := make([]string, len(stack))
	for i, h := range stack {
		out[i] = h.title
	}
	return out
}

// parseHeading recognizes ATX headings ("## Title ##").
func parseHeading(line string) (level int, title string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return 0, "", false
	}
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	title = strings.TrimSpace(rest)
	title = strings.TrimSpace(strings.TrimRight(title, "#"))
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}

func fenceMarker(line string) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "```"):
		return "```"
	case strings.HasPrefix(trimmed, "~~~"):
		return "~~~"
	}
	return ""
}

// skipFrontMatter returns the offset just past a leading "---" YAML block, or 0.
func skipFrontMatter(text string) int {
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return 0
	}
	_, pos := lineBounds(text, 0)
	for pos < len(text) {
		lineEnd, next := lineBounds(text, pos)
		if strings.TrimSpace(text[pos:lineEnd]) == "---" {
			return next
		}
		pos = next
	}
	return 0
}

// lineBounds returns the end of the line starting at pos (without its newline)
// and the start of the following line.
func lineBounds(text string, pos int) (lineEnd, next int) {
	i := strings.IndexByte(text[pos:], '\n')
	if i < 0 {
		return len(text), len(text)
	}
	return pos + i, pos + i + 1
}

// paragraphs splits s at blank lines that are not inside a fenced code block.
func paragraphs(text string, s span) []span {
	var out []span
	cur := span{-1, -1}
	fence := ""
	for pos := s.start; pos < s.end; {
		lineEnd, next := lineBounds(text, pos)
		if lineEnd > s.end {
			lineEnd = s.end
		}
		line := text[pos:lineEnd]
		if marker := fenceMarker(line); marker != "" {
			switch {
			case fence == "":
				fence = marker
			case marker == fence:
				fence = ""
			}
		}
		if strings.TrimSpace(line) == "" && fence == "" {
			if cur.start >= 0 {
				out = append(out, cur)
				cur = span{-1, -1}
			}
		} else {
			if cur.start < 0 {
				cur.start = pos
			}
			cur.end = lineEnd
		}
		pos = next
	}
	if cur.start >= 0 {
		out = append(out, cur)
	}
	return out
}

func lines(text string, s span) []span {
	var out []span
	for pos := s.start; pos < s.end; {
		lineEnd, next := lineBounds(text, pos)
		if lineEnd > s.end {
			lineEnd = s.end
		}
		if l := trimSpan(text, span{pos, lineEnd}); l.start < l.end {
			out = append(out, l)
		}
		pos = next
	}
	return out
}

func words(text string, s span) []span {
	var out []span
	start := -1
	for i, r := range text[s.start:s.end] {
		pos := s.start + i
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, span{start, pos})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = pos
		}
	}
	if start >= 0 {
		out = append(out, span{start, s.end})
	}
	return out
}

func trimSpan(text string, s span) span {
	for s.start < s.end {
		r, size := utf8.DecodeRuneInString(text[s.start:s.end])
		if !unicode.IsSpace(r) {
			break
		}
		s.start += size
	}
	for s.end > s.start {
		r, size := utf8.DecodeLastRuneInString(text[s.start:s.end])
		if !unicode.IsSpace(r) {
			break
		}
		s.end -= size
	}
	return s
}

func isPrefix(prefix, full []string) bool {
	if len(prefix) > len(full) {
		return false
	}
	for i := range prefix {
		if prefix[i] != full[i] {
			return false
		}
	}
	return true
}

// estimateTokens approximates the token count at four bytes per token.
func estimateTokens(s string) int {
	return (len(strings.TrimSpace(s)) + 3) / 4
}
