package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad caller input. It never reaches the backends.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned when a chunk id is not in the cache.
	ErrNotFound = errors.New("not found")
	// ErrBackendUnavailable marks an unreachable keyword or vector backend.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrServiceUnavailable is returned by search when both branches fail.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrEmbedding marks a failed embedding call.
	ErrEmbedding = errors.New("embedding failed")
	// ErrFileParse marks a document that could not be read or chunked.
	ErrFileParse = errors.New("file parse failed")
	// ErrBuildInProgress is returned when another process holds the build lock.
	ErrBuildInProgress = errors.New("build in progress")
)

// ValidationError describes which caller input was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// FileParseError is a recoverable failure to read or chunk one source file.
type FileParseError struct {
	Path string
	Err  error
}

func (e *FileParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *FileParseError) Unwrap() []error { return []error{ErrFileParse, e.Err} }

// EmbeddingError is a recoverable failure to embed one chunk or query.
type EmbeddingError struct {
	ChunkID string
	Err     error
}

func (e *EmbeddingError) Error() string {
	if e.ChunkID == "" {
		return fmt.Sprintf("embed: %v", e.Err)
	}
	return fmt.Sprintf("embed chunk %s: %v", e.ChunkID, e.Err)
}

func (e *EmbeddingError) Unwrap() []error { return []error{ErrEmbedding, e.Err} }

// BackendUnavailableError reports which backend could not be reached.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s backend unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() []error { return []error{ErrBackendUnavailable, e.Err} }
