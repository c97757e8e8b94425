package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes chunk text before hashing (trim, collapse whitespace),
// so formatting-only edits do not change a chunk's content hash.
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}
