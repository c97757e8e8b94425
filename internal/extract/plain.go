package extract

import (
	"bytes"
	"errors"
	"unicode/utf8"
)

var (
	errInvalidUTF8 = errors.New("text is not valid UTF-8")
	errNULByte     = errors.New("text contains NUL bytes")
)

// extractPlain returns content as string. Content that is not valid UTF-8 or
// holds NUL bytes is most likely binary and is rejected.
func extractPlain(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", errInvalidUTF8
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return "", errNULByte
	}
	// Strip a UTF-8 byte order mark.
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	return string(content), nil
}
