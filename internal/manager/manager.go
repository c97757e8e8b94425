// Package manager wires the chunk cache, the keyword index, the vector index
// and the embedder into one value that builds and searches the corpus.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/docsearch/internal/config"
	"github.com/hyperjump/docsearch/internal/embedding"
	"github.com/hyperjump/docsearch/internal/indexer"
	"github.com/hyperjump/docsearch/internal/keyword"
	"github.com/hyperjump/docsearch/internal/models"
	"github.com/hyperjump/docsearch/internal/search"
	"github.com/hyperjump/docsearch/internal/storage"
	"github.com/hyperjump/docsearch/internal/vector"
	"github.com/hyperjump/docsearch/pkg/utils"
)

// Components are the collaborators a Manager drives. Open builds them from a
// config; tests may pass their own.
type Components struct {
	Corpus   *indexer.Corpus
	Cache    storage.Cache
	Keyword  keyword.KeywordIndex
	Vector   vector.VectorIndex
	Embedder embedding.Embedder
	// QueryEmbedder embeds queries and defaults to Embedder. When it is a
	// different value it wraps Embedder, and closing it closes both.
	QueryEmbedder embedding.Embedder
	Lease         *indexer.Lease
}

// Manager is the entry point for builds and queries.
type Manager struct {
	cfg        *config.Config
	comp       Components
	builder    *indexer.Builder
	engine     *search.Engine
	vectorPath string
	diskPaths  []string
	saveMu     sync.Mutex
	closeOnce  sync.Once
	logger     *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger passed to every component.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = utils.OrNop(l) }
}

// WithVectorPath sets where the vector index is saved after builds and on Close.
func WithVectorPath(path string) Option {
	return func(m *Manager) { m.vectorPath = path }
}

// Open creates every component from cfg, loading persisted state from the
// data directory.
func Open(cfg *config.Config, opts ...Option) (*Manager, error) {
	m := newManager(cfg, append([]Option{WithVectorPath(cfg.Storage.VectorFile())}, opts...))
	logger := m.logger

	cache, err := storage.NewSQLiteCache(cfg.Storage.CacheFile())
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveDir())
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("open keyword index: %w", err)
	}
	emb, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		kw.Close()
		cache.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	queryEmb, err := embedding.NewCachedEmbedder(emb, cfg.Embedding.CacheSize)
	if err != nil {
		emb.Close()
		kw.Close()
		cache.Close()
		return nil, fmt.Errorf("create query embedder: %w", err)
	}
	vec, err := vector.NewVectorIndex(cfg.Vector, emb.Dimensions())
	if err != nil {
		emb.Close()
		kw.Close()
		cache.Close()
		return nil, fmt.Errorf("create vector index: %w", err)
	}
	if err := vec.Load(m.vectorPath); err != nil {
		vec.Close()
		emb.Close()
		kw.Close()
		cache.Close()
		return nil, fmt.Errorf("load vector index: %w", err)
	}
	logger.Info("index opened",
		zap.Int("cached_chunks", cache.Snapshot().Len()),
		zap.Int("vectors", vec.Size()),
		zap.String("embedder", emb.ModelVersion()))

	comp := Components{
		Corpus:        indexer.NewCorpus(cfg.Corpus.Root, cfg.Corpus.Technologies, cfg.Corpus.Extensions),
		Cache:         cache,
		Keyword:       kw,
		Vector:        vec,
		Embedder:      emb,
		QueryEmbedder: queryEmb,
		Lease:         indexer.NewLease(cfg.Storage.LockFile(), cfg.Build.LockTimeout),
	}
	if err := m.wire(comp); err != nil {
		_ = closeAll(comp)
		return nil, err
	}
	m.diskPaths = []string{cfg.Storage.CacheFile(), cfg.Storage.BleveDir(), m.vectorPath, m.vectorPath + ".meta"}
	return m, nil
}

// New creates a manager over existing components.
func New(cfg *config.Config, comp Components, opts ...Option) (*Manager, error) {
	m := newManager(cfg, opts)
	if err := m.wire(comp); err != nil {
		return nil, err
	}
	return m, nil
}

func newManager(cfg *config.Config, opts []Option) *Manager {
	m := &Manager{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) wire(comp Components) error {
	if comp.Corpus == nil || comp.Cache == nil || comp.Keyword == nil || comp.Vector == nil || comp.Embedder == nil {
		return errors.New("manager: missing component")
	}
	if comp.QueryEmbedder == nil {
		comp.QueryEmbedder = comp.Embedder
	}
	m.comp = comp
	cfg := m.cfg

	builderOpts := []indexer.BuilderOption{
		indexer.WithLogger(m.logger.Named("build")),
		indexer.WithBatchSize(cfg.Embedding.BatchSize),
	}
	if comp.Lease != nil {
		builderOpts = append(builderOpts, indexer.WithLease(comp.Lease))
	}
	m.builder = indexer.NewBuilder(comp.Corpus, comp.Cache, comp.Embedder, comp.Vector, comp.Keyword, cfg.Build, builderOpts...)

	engine, err := search.NewEngine(comp.Cache, comp.QueryEmbedder, comp.Vector, comp.Keyword,
		cfg.Search, comp.Corpus.Technologies(), m.logger.Named("search"))
	if err != nil {
		return fmt.Errorf("create search engine: %w", err)
	}
	m.engine = engine
	return nil
}

// Config returns the configuration the manager was created with.
func (m *Manager) Config() *config.Config { return m.cfg }

// Corpus returns the corpus being indexed.
func (m *Manager) Corpus() *indexer.Corpus { return m.comp.Corpus }

// Build indexes the corpus, or one technology of it, and saves the vector index.
func (m *Manager) Build(ctx context.Context, req models.BuildRequest) (*models.JobReport, error) {
	report, err := m.builder.Build(ctx, req)
	if report != nil {
		if saveErr := m.saveVectors(); saveErr != nil {
			m.logger.Error("failed to save vector index", zap.Error(saveErr))
		}
	}
	return report, err
}

// Search runs a hybrid query.
func (m *Manager) Search(ctx context.Context, query models.SearchQuery) (*models.SearchResponse, error) {
	return m.engine.Search(ctx, query)
}

// GetChunk returns one cached chunk or an error wrapping models.ErrNotFound.
func (m *Manager) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	return m.comp.Cache.Get(ctx, id)
}

// ListTechnologies returns the sorted technologies with at least one chunk.
func (m *Manager) ListTechnologies(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.comp.Cache.Snapshot().Technologies(), nil
}

// Stats summarizes the index.
func (m *Manager) Stats(ctx context.Context) (*models.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := m.comp.Cache.Snapshot()
	docCount, err := m.comp.Keyword.DocCount()
	if err != nil {
		return nil, &models.BackendUnavailableError{Backend: indexer.BackendKeyword, Err: err}
	}
	disk, err := storage.DiskUsageBytes(m.diskPaths...)
	if err != nil {
		m.logger.Warn("disk usage unavailable", zap.Error(err))
	}
	return &models.Stats{
		TotalChunks:     snap.Len(),
		PerTech:         snap.PerTech(),
		VectorIndexSize: m.comp.Vector.Size(),
		KeywordDocCount: docCount,
		DiskUsageBytes:  disk,
	}, nil
}

func (m *Manager) saveVectors() error {
	if m.vectorPath == "" {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	return m.comp.Vector.Save(m.vectorPath)
}

// Close saves the vector index and closes every component.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = errors.Join(m.saveVectors(), closeAll(m.comp))
	})
	return err
}

func closeAll(c Components) error {
	var errs []error
	if c.QueryEmbedder != nil && c.QueryEmbedder != c.Embedder {
		errs = append(errs, c.QueryEmbedder.Close())
	} else if c.Embedder != nil {
		errs = append(errs, c.Embedder.Close())
	}
	if c.Vector != nil {
		errs = append(errs, c.Vector.Close())
	}
	if c.Keyword != nil {
		errs = append(errs, c.Keyword.Close())
	}
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	return errors.Join(errs...)
}
