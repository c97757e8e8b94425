package config

import "time"

// Vector index types.
const (
	VectorIndexMemory = "memory"
	VectorIndexHNSW   = "hnsw"
)

// Default fusion weights.
const (
	DefaultKeywordWeight  = 0.4
	DefaultSemanticWeight = 0.6
)

// DefaultTechnologies is the indexed technology set used when none is configured.
var DefaultTechnologies = []string{"django", "fastapi", "flask", "react", "postgres", "redis", "docker", "kubernetes"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Corpus.Root == "" {
		cfg.Corpus.Root = "./docs"
	}
	if cfg.Corpus.Technologies == nil {
		cfg.Corpus.Technologies = append([]string(nil), DefaultTechnologies...)
	}
	if cfg.Corpus.Extensions == nil {
		cfg.Corpus.Extensions = []string{".md", ".markdown", ".txt", ".rst", ".pdf", ".docx", ".odt", ".rtf", ".xlsx"}
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = VectorIndexMemory
	}
	if cfg.Vector.M == 0 {
		cfg.Vector.M = 16
	}
	if cfg.Vector.EfSearch == 0 {
		cfg.Vector.EfSearch = 64
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 10
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.FanOutMultiplier == 0 {
		cfg.Search.FanOutMultiplier = 3
	}
	if cfg.Search.BranchTimeout == 0 {
		cfg.Search.BranchTimeout = 2 * time.Second
	}
	if cfg.Build.Workers == 0 {
		cfg.Build.Workers = 4
	}
	if cfg.Build.MinChunkTokens == 0 {
		cfg.Build.MinChunkTokens = 200
	}
	if cfg.Build.MaxChunkTokens == 0 {
		cfg.Build.MaxChunkTokens = 500
	}
	if cfg.Build.LockTimeout == 0 {
		cfg.Build.LockTimeout = 30 * time.Second
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
}
