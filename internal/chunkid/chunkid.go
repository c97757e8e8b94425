// Package chunkid derives content-addressed chunk identifiers.
package chunkid

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strconv"
)

const prefix = "chunk:"

// ContentHash returns the hex sha256 of already-normalized chunk text.
func ContentHash(normalized string) string {
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:])
}

// ChunkID returns a stable id for the chunk at ordinal within sourcePath carrying contentHash.
// sourcePath is slash-separated and relative to the corpus root, so the id does not
// depend on where the corpus is checked out. Same inputs always yield the same id.
func ChunkID(sourcePath string, ordinal int, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(path.Clean(sourcePath)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(ordinal)))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	return prefix + hex.EncodeToString(h.Sum(nil))[:32]
}

// Valid reports whether id has the shape produced by ChunkID.
func Valid(id string) bool {
	if len(id) != len(prefix)+32 || id[:len(prefix)] != prefix {
		return false
	}
	_, err := hex.DecodeString(id[len(prefix):])
	return err == nil
}
