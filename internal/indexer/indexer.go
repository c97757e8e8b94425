package indexer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/docsearch/internal/chunkid"
	"github.com/hyperjump/docsearch/internal/config"
	"github.com/hyperjump/docsearch/internal/embedding"
	"github.com/hyperjump/docsearch/internal/extract"
	"github.com/hyperjump/docsearch/internal/keyword"
	"github.com/hyperjump/docsearch/internal/models"
	"github.com/hyperjump/docsearch/internal/storage"
	"github.com/hyperjump/docsearch/internal/vector"
	"github.com/hyperjump/docsearch/pkg/utils"
)

// Backend names used in BackendUnavailableError.
const (
	BackendKeyword = "keyword"
	BackendVector  = "vector"
)

// Builder turns corpus files into chunks and writes them to the vector index,
// the keyword index and the metadata cache, in that order.
type Builder struct {
	corpus       *Corpus
	cache        storage.Cache
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	keywordIndex keyword.KeywordIndex
	chunker      *Chunker
	extractor    *extract.Extractor
	lease        *Lease
	workers      int
	batchSize    int
	logger       *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger for build events.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) { b.logger = utils.OrNop(l) }
}

// WithLease shares a lease between builders, or adds cross-process locking.
func WithLease(l *Lease) BuilderOption {
	return func(b *Builder) { b.lease = l }
}

// WithBatchSize sets how many chunks are embedded per call.
func WithBatchSize(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// NewBuilder creates a builder with the given dependencies.
func NewBuilder(
	corpus *Corpus,
	cache storage.Cache,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	keywordIndex keyword.KeywordIndex,
	cfg config.BuildConfig,
	opts ...BuilderOption,
) *Builder {
	b := &Builder{
		corpus:       corpus,
		cache:        cache,
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		chunker:      NewChunker(cfg.MinChunkTokens, cfg.MaxChunkTokens),
		extractor:    extract.NewExtractor(),
		workers:      cfg.Workers,
		batchSize:    32,
		logger:       zap.NewNop(),
	}
	if b.workers <= 0 {
		b.workers = 1
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.lease == nil {
		b.lease = NewLease("", 0)
	}
	return b
}

// Build indexes the files of req.TechFilter (every technology when empty).
// Per-file and per-chunk failures are recorded in the report; only invalid
// input, lease, context and backend availability errors are returned.
func (b *Builder) Build(ctx context.Context, req models.BuildRequest) (*models.JobReport, error) {
	tech := strings.TrimSpace(req.TechFilter)
	if tech != "" && !b.corpus.KnownTech(tech) {
		return nil, models.NewValidationError("tech_filter", "unknown technology %q", tech)
	}

	release, err := b.lease.Acquire(ctx, tech)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := b.keywordIndex.Ping(ctx); err != nil {
		return nil, &models.BackendUnavailableError{Backend: BackendKeyword, Err: err}
	}
	if err := b.vectorIndex.Ping(ctx); err != nil {
		return nil, &models.BackendUnavailableError{Backend: BackendVector, Err: err}
	}

	report := &models.JobReport{
		JobID:      uuid.New().String(),
		TechFilter: tech,
		Clear:      req.Clear,
		StartedAt:  time.Now().UTC(),
		CreatedIDs: []string{},
		UpdatedIDs: []string{},
		Errors:     []models.ItemError{},
	}
	log := b.logger.With(zap.String("job_id", report.JobID), zap.String("tech", tech))
	log.Info("build started", zap.Bool("clear", req.Clear))

	if req.Clear {
		n, err := b.clear(ctx, tech)
		if err != nil {
			return nil, err
		}
		report.Deleted += n
	}

	files, err := b.corpus.Walk(ctx, tech)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("walk corpus: %w", err)
	}
	report.FilesScanned = len(files)

	flush := b.cache.Batch()
	defer flush()
	if err := b.processFiles(ctx, files, req.Clear, report); err != nil {
		return b.finish(log, report), err
	}
	b.prune(ctx, tech, files, report)
	return b.finish(log, report), ctx.Err()
}

func (b *Builder) finish(log *zap.Logger, report *models.JobReport) *models.JobReport {
	sort.Strings(report.CreatedIDs)
	sort.Strings(report.UpdatedIDs)
	sort.SliceStable(report.Errors, func(i, j int) bool {
		if report.Errors[i].SourcePath != report.Errors[j].SourcePath {
			return report.Errors[i].SourcePath < report.Errors[j].SourcePath
		}
		return report.Errors[i].ChunkID < report.Errors[j].ChunkID
	})
	report.FinishedAt = time.Now().UTC()
	log.Info("build finished",
		zap.Int("files", report.FilesScanned),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("deleted", report.Deleted),
		zap.Duration("duration", report.Duration()))
	return report
}

// clear removes the scope from the cache first, then from both backends.
func (b *Builder) clear(ctx context.Context, tech string) (int, error) {
	ids, err := b.cache.DeleteByTech(ctx, tech)
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	if err := b.keywordIndex.Clear(ctx, tech); err != nil {
		return 0, &models.BackendUnavailableError{Backend: BackendKeyword, Err: err}
	}
	if err := b.vectorIndex.Clear(ctx, tech); err != nil {
		return 0, &models.BackendUnavailableError{Backend: BackendVector, Err: err}
	}
	return len(ids), nil
}

// processFiles runs processFile for every file on the worker pool and merges
// the results into report.
func (b *Builder) processFiles(ctx context.Context, files []SourceFile, clear bool, report *models.JobReport) error {
	pool, err := ants.NewPool(b.workers)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			res := b.processFile(ctx, f, clear)
			mu.Lock()
			res.mergeInto(report)
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			report.FilesFailed++
			report.Errors = append(report.Errors, models.ItemError{
				SourcePath: f.RelPath, Kind: models.ErrKindFileParse, Message: submitErr.Error(),
			})
			mu.Unlock()
		}
	}
	wg.Wait()
	return ctx.Err()
}

// fileResult is the outcome of one file, merged into the job report.
type fileResult struct {
	fileFailed bool
	skipped    int
	failed     int
	deleted    int
	created    []string
	updated    []string
	errors     []models.ItemError
}

func (r *fileResult) mergeInto(report *models.JobReport) {
	if r.fileFailed {
		report.FilesFailed++
	}
	report.Skipped += r.skipped
	report.Failed += r.failed
	report.Deleted += r.deleted
	report.Created += len(r.created)
	report.Updated += len(r.updated)
	report.CreatedIDs = append(report.CreatedIDs, r.created...)
	report.UpdatedIDs = append(report.UpdatedIDs, r.updated...)
	report.Errors = append(report.Errors, r.errors...)
}

func (r *fileResult) fail(path, chunkID, kind string, err error) {
	r.errors = append(r.errors, models.ItemError{SourcePath: path, ChunkID: chunkID, Kind: kind, Message: err.Error()})
}

// pending is a chunk on its way to the backends.
type pending struct {
	chunk   *models.Chunk
	update  bool
	failed  bool
	written bool
}

func (b *Builder) processFile(ctx context.Context, f SourceFile, clear bool) *fileResult {
	res := &fileResult{}
	log := b.logger.With(zap.String("path", f.RelPath))

	text, err := b.extractor.Extract(f.AbsPath)
	if err != nil {
		log.Warn("extract failed", zap.Error(err))
		res.fileFailed = true
		res.fail(f.RelPath, "", models.ErrKindFileParse, &models.FileParseError{Path: f.RelPath, Err: err})
		return res
	}
	drafts, err := b.chunker.Chunk(Document{
		SourcePath: f.RelPath,
		Title:      docTitle(f.RelPath),
		Text:       text,
		Markdown:   isMarkdown(f.RelPath),
	})
	if err != nil {
		log.Warn("chunking failed", zap.Error(err))
		res.fileFailed = true
		res.fail(f.RelPath, "", models.ErrKindFileParse, err)
		return res
	}

	existing, err := b.cache.ListBySource(ctx, f.RelPath)
	if err != nil {
		res.fileFailed = true
		res.fail(f.RelPath, "", models.ErrKindCache, err)
		return res
	}
	byID := make(map[string]*models.Chunk, len(existing))
	bySlot := make(map[int]string, len(existing))
	for _, c := range existing {
		byID[c.ID] = c
		bySlot[c.Ordinal] = c.ID
	}

	now := time.Now().UTC()
	keep := make(map[string]bool, len(drafts))
	var work []*pending
	var moved []*models.Chunk
	for i, d := range drafts {
		hash := chunkid.ContentHash(Preprocess(d.Text))
		id := chunkid.ChunkID(f.RelPath, i, hash)
		keep[id] = true
		old, cached := byID[id]
		if !clear && cached && old.ContentHash == hash && old.VectorIndexed {
			res.skipped++
			// Whitespace edits keep the hash but shift the stored text and offsets.
			if old.Text != d.Text || old.CharStart != d.CharStart || old.CharEnd != d.CharEnd {
				c := old.Clone()
				c.Text, c.CharStart, c.CharEnd, c.TokenCount = d.Text, d.CharStart, d.CharEnd, d.TokenCount
				moved = append(moved, c)
			}
			continue
		}
		slotID, slotTaken := bySlot[i]
		work = append(work, &pending{
			update: cached || (slotTaken && slotID != id),
			chunk: &models.Chunk{
				ID:          id,
				Text:        d.Text,
				Tech:        f.Tech,
				Component:   f.Component,
				Breadcrumb:  d.Breadcrumb,
				SourcePath:  f.RelPath,
				Ordinal:     i,
				CharStart:   d.CharStart,
				CharEnd:     d.CharEnd,
				TokenCount:  d.TokenCount,
				ContentHash: hash,
				IndexedAt:   now,
			},
		})
	}

	if len(work) > 0 {
		if err := b.write(ctx, f, work, res); err != nil {
			return res
		}
	}
	for _, p := range work {
		switch {
		case !p.written:
		case p.failed:
			res.failed++
		case p.update:
			res.updated = append(res.updated, p.chunk.ID)
		default:
			res.created = append(res.created, p.chunk.ID)
		}
	}

	if len(moved) > 0 {
		if err := b.cache.Put(ctx, moved); err != nil {
			log.Warn("refreshing chunk offsets failed", zap.Error(err))
			res.fail(f.RelPath, "", models.ErrKindCache, err)
		}
	}

	var stale []string
	for _, c := range existing {
		if !keep[c.ID] {
			stale = append(stale, c.ID)
		}
	}
	if len(stale) > 0 {
		res.deleted += b.remove(ctx, f.RelPath, stale, res)
	}
	log.Debug("file indexed",
		zap.Int("chunks", len(drafts)), zap.Int("written", len(work)), zap.Int("stale", len(stale)))
	return res
}

// write embeds the pending chunks and upserts them into the vector index, the
// keyword index and the cache. A chunk whose embedding or vector upsert fails
// still reaches the keyword index and the cache with VectorIndexed false.
func (b *Builder) write(ctx context.Context, f SourceFile, work []*pending, res *fileResult) error {
	if err := b.embed(ctx, f, work, res); err != nil {
		return err
	}

	var points []vector.Point
	for _, p := range work {
		if p.chunk.Embedding != nil {
			points = append(points, vector.Point{
				ID:      p.chunk.ID,
				Vector:  p.chunk.Embedding,
				Payload: vector.Payload{Tech: p.chunk.Tech, Component: p.chunk.Component},
			})
		}
	}
	if len(points) > 0 {
		if err := b.vectorIndex.Upsert(ctx, points); err != nil {
			b.logger.Warn("vector upsert failed", zap.String("path", f.RelPath), zap.Error(err))
			for _, p := range work {
				if p.chunk.Embedding != nil {
					p.failed = true
					p.chunk.Embedding = nil
					res.fail(f.RelPath, p.chunk.ID, models.ErrKindVector, err)
				}
			}
		}
	}

	chunks := make([]*models.Chunk, len(work))
	for i, p := range work {
		p.chunk.VectorIndexed = p.chunk.Embedding != nil
		chunks[i] = p.chunk
	}
	if err := b.keywordIndex.Upsert(ctx, chunks); err != nil {
		b.logger.Warn("keyword upsert failed", zap.String("path", f.RelPath), zap.Error(err))
		for _, p := range work {
			res.failed++
			res.fail(f.RelPath, p.chunk.ID, models.ErrKindKeyword, err)
		}
		return err
	}
	if err := b.cache.Put(ctx, chunks); err != nil {
		b.logger.Warn("cache put failed", zap.String("path", f.RelPath), zap.Error(err))
		for _, p := range work {
			res.failed++
			res.fail(f.RelPath, p.chunk.ID, models.ErrKindCache, err)
		}
		return err
	}
	for _, p := range work {
		p.written = true
	}
	return nil
}

// embed fills chunk embeddings batch by batch. A failed batch is retried one
// chunk at a time so that a single bad chunk does not fail its neighbours.
func (b *Builder) embed(ctx context.Context, f SourceFile, work []*pending, res *fileResult) error {
	for start := 0; start < len(work); start += b.batchSize {
		end := min(start+b.batchSize, len(work))
		batch := work[start:end]
		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = embedText(p.chunk)
		}
		vecs, err := b.embedder.EmbedBatch(ctx, texts)
		if err == nil && len(vecs) == len(batch) {
			for i, p := range batch {
				p.chunk.Embedding = vecs[i]
			}
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		for i, p := range batch {
			vec, err := b.embedder.Embed(ctx, texts[i])
			if err != nil {
				p.failed = true
				embErr := &models.EmbeddingError{ChunkID: p.chunk.ID, Err: err}
				b.logger.Warn("embedding failed", zap.String("path", f.RelPath), zap.Error(embErr))
				res.fail(f.RelPath, p.chunk.ID, models.ErrKindEmbedding, embErr)
				continue
			}
			p.chunk.Embedding = vec
		}
	}
	return nil
}

// embedText prefixes the chunk with its heading path so the embedding carries
// the section context.
func embedText(c *models.Chunk) string {
	if len(c.Breadcrumb) == 0 {
		return c.Text
	}
	return strings.Join(c.Breadcrumb, " > ") + "\n\n" + c.Text
}

// remove deletes ids from the cache, then from both backends, and returns how
// many were removed from the cache.
func (b *Builder) remove(ctx context.Context, path string, ids []string, res *fileResult) int {
	if err := b.cache.Delete(ctx, ids); err != nil {
		res.fail(path, "", models.ErrKindCache, err)
		return 0
	}
	if err := b.keywordIndex.Delete(ctx, ids); err != nil {
		res.fail(path, "", models.ErrKindKeyword, err)
	}
	if err := b.vectorIndex.Delete(ctx, ids); err != nil {
		res.fail(path, "", models.ErrKindVector, err)
	}
	return len(ids)
}

// prune removes cached chunks of the scope whose source file no longer exists.
func (b *Builder) prune(ctx context.Context, tech string, files []SourceFile, report *models.JobReport) {
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.RelPath] = true
	}
	cached, err := b.cache.ListByTech(ctx, tech)
	if err != nil {
		report.Errors = append(report.Errors, models.ItemError{Kind: models.ErrKindCache, Message: err.Error()})
		return
	}
	bySource := make(map[string][]string)
	for _, c := range cached {
		if !seen[c.SourcePath] {
			bySource[c.SourcePath] = append(bySource[c.SourcePath], c.ID)
		}
	}
	for path, ids := range bySource {
		res := &fileResult{}
		res.deleted = b.remove(ctx, path, ids, res)
		res.mergeInto(report)
		b.logger.Debug("pruned vanished file", zap.String("path", path), zap.Int("chunks", res.deleted))
	}
}
