// Package config provides configuration loading and structs for the docsearch service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Search    SearchConfig    `yaml:"search"`
	Build     BuildConfig     `yaml:"build"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CorpusConfig describes the documentation tree. The first directory under
// Root names the technology, the second (when present) the component.
type CorpusConfig struct {
	Root         string   `yaml:"root"`
	Technologies []string `yaml:"technologies"`
	Extensions   []string `yaml:"extensions"`
}

// StorageConfig holds paths for the metadata cache and the indices.
// Empty paths are derived from DataDir.
type StorageConfig struct {
	DataDir         string `yaml:"data_dir"`
	CachePath       string `yaml:"cache_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
}

// CacheFile returns the SQLite path of the metadata cache.
func (s StorageConfig) CacheFile() string {
	if s.CachePath != "" {
		return s.CachePath
	}
	return filepath.Join(s.DataDir, "cache.db")
}

// BleveDir returns the directory of the keyword index.
func (s StorageConfig) BleveDir() string {
	if s.BleveIndexPath != "" {
		return s.BleveIndexPath
	}
	return filepath.Join(s.DataDir, "keyword.bleve")
}

// VectorFile returns the file the vector index is saved to.
func (s StorageConfig) VectorFile() string {
	if s.VectorIndexPath != "" {
		return s.VectorIndexPath
	}
	return filepath.Join(s.DataDir, "vectors.idx")
}

// LockFile returns the cross-process build lock path.
func (s StorageConfig) LockFile() string {
	return filepath.Join(s.DataDir, "build.lock")
}

// EmbeddingConfig holds embedder settings. An empty or missing ModelPath
// selects the pure Go hashing embedder.
type EmbeddingConfig struct {
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
	BatchSize  int    `yaml:"batch_size"`
}

// VectorConfig selects and tunes the vector index.
type VectorConfig struct {
	IndexType string `yaml:"index_type"`
	M         int    `yaml:"m"`
	EfSearch  int    `yaml:"ef_search"`
}

// SearchConfig holds query-time settings.
type SearchConfig struct {
	DefaultTopK      int           `yaml:"default_top_k"`
	MaxTopK          int           `yaml:"max_top_k"`
	FanOutMultiplier int           `yaml:"fan_out_multiplier"`
	KeywordWeight    *float64      `yaml:"keyword_weight"`
	SemanticWeight   *float64      `yaml:"semantic_weight"`
	BranchTimeout    time.Duration `yaml:"branch_timeout"`
}

// Weights returns the keyword and semantic fusion weights.
func (s SearchConfig) Weights() (keyword, semantic float64) {
	keyword, semantic = DefaultKeywordWeight, DefaultSemanticWeight
	if s.KeywordWeight != nil {
		keyword = *s.KeywordWeight
	}
	if s.SemanticWeight != nil {
		semantic = *s.SemanticWeight
	}
	return keyword, semantic
}

// BuildConfig holds indexing settings.
type BuildConfig struct {
	Workers        int           `yaml:"workers"`
	MinChunkTokens int           `yaml:"min_chunk_tokens"`
	MaxChunkTokens int           `yaml:"max_chunk_tokens"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
}

// WatchConfig holds corpus watch settings.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Corpus.Root = expandPath(cfg.Corpus.Root, configDir)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	for _, p := range []*string{&cfg.Storage.CachePath, &cfg.Storage.BleveIndexPath, &cfg.Storage.VectorIndexPath, &cfg.Embedding.ModelPath} {
		if *p != "" {
			*p = expandPath(*p, configDir)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied, for running without a config file.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Corpus.Technologies) == 0 {
		errs = append(errs, errors.New("corpus.technologies must not be empty"))
	}
	kw, sem := c.Search.Weights()
	if kw < 0 || sem < 0 {
		errs = append(errs, fmt.Errorf("search weights must be non-negative, got %v/%v", kw, sem))
	}
	if kw+sem <= 0 {
		errs = append(errs, errors.New("search weights must not both be zero"))
	}
	if c.Search.DefaultTopK > c.Search.MaxTopK {
		errs = append(errs, fmt.Errorf("search.default_top_k %d exceeds max_top_k %d", c.Search.DefaultTopK, c.Search.MaxTopK))
	}
	if c.Build.MinChunkTokens > c.Build.MaxChunkTokens {
		errs = append(errs, fmt.Errorf("build.min_chunk_tokens %d exceeds max_chunk_tokens %d", c.Build.MinChunkTokens, c.Build.MaxChunkTokens))
	}
	switch c.Vector.IndexType {
	case VectorIndexMemory, VectorIndexHNSW:
	default:
		errs = append(errs, fmt.Errorf("vector.index_type %q is not one of %s, %s", c.Vector.IndexType, VectorIndexMemory, VectorIndexHNSW))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
