// Package embedding provides text embedding via ONNX or feature hashing, plus an LRU-cached wrapper.
package embedding

import (
	"context"
	"os"

	"github.com/hyperjump/docsearch/internal/config"
	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text. Implementations must be
// deterministic for a fixed ModelVersion.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelVersion() string
	Close() error
}

// New returns the ONNX embedder when cfg.ModelPath points at a model file and
// the binary was built with CGO, and the hashing embedder otherwise.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ModelPath != "" {
		if _, err := os.Stat(cfg.ModelPath); err == nil {
			e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
			if err == nil {
				logger.Info("using ONNX embedder", zap.String("model", cfg.ModelPath), zap.Int("dimensions", cfg.Dimensions))
				return e, nil
			}
			logger.Warn("ONNX embedder unavailable, falling back to hashing embedder", zap.Error(err))
		} else {
			logger.Warn("embedding model not found, using hashing embedder", zap.String("model", cfg.ModelPath))
		}
	}
	return NewHashEmbedder(cfg.Dimensions), nil
}
