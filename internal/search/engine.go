package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/docsearch/internal/config"
	"github.com/hyperjump/docsearch/internal/embedding"
	"github.com/hyperjump/docsearch/internal/keyword"
	"github.com/hyperjump/docsearch/internal/models"
	"github.com/hyperjump/docsearch/internal/storage"
	"github.com/hyperjump/docsearch/internal/vector"
	"github.com/hyperjump/docsearch/pkg/utils"
)

// Branch names reported in SearchResponse.DegradedBranches.
const (
	BranchKeyword = "keyword"
	BranchVector  = "vector"
)

// Engine runs hybrid (keyword + semantic) search over chunks.
type Engine struct {
	cache        storage.Cache
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	keywordIndex keyword.KeywordIndex
	scoring      ScoringConfig
	config       config.SearchConfig
	techs        []string
	logger       *zap.Logger
}

// NewEngine creates a search engine with the given dependencies. techs lists
// the technologies a query may filter on.
func NewEngine(
	cache storage.Cache,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	keywordIndex keyword.KeywordIndex,
	cfg config.SearchConfig,
	techs []string,
	logger *zap.Logger,
) (*Engine, error) {
	scoring, err := NewScoringConfig(cfg.Weights())
	if err != nil {
		return nil, err
	}
	if cfg.FanOutMultiplier < 1 {
		cfg.FanOutMultiplier = 1
	}
	return &Engine{
		cache:        cache,
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		scoring:      scoring,
		config:       cfg,
		techs:        append([]string(nil), techs...),
		logger:       utils.OrNop(logger),
	}, nil
}

// Scoring returns the fusion weights in use.
func (e *Engine) Scoring() ScoringConfig { return e.scoring }

// Search runs both retrieval branches concurrently and fuses their results.
// One failed branch degrades the response; both failing is ErrServiceUnavailable.
func (e *Engine) Search(ctx context.Context, query models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := query.Validate(e.techs, e.config.DefaultTopK, e.config.MaxTopK); err != nil {
		return nil, err
	}
	response := &models.SearchResponse{Query: query.Query, Results: []*models.RankedChunk{}}
	if query.Empty() {
		response.QueryTime = time.Since(startTime).Milliseconds()
		return response, nil
	}

	var (
		keywordResults  []*keyword.KeywordResult
		semanticResults []*vector.VectorResult
		keywordErr      error
		vectorErr       error
		filter          = query.Filter()
		size            = query.TopK * e.config.FanOutMultiplier
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keywordResults, keywordErr = runBranch(gctx, e.config.BranchTimeout, func(bctx context.Context) ([]*keyword.KeywordResult, error) {
			return e.keywordIndex.Search(bctx, query.Query, filter, size)
		})
		return ctx.Err()
	})
	g.Go(func() error {
		semanticResults, vectorErr = runBranch(gctx, e.config.BranchTimeout, func(bctx context.Context) ([]*vector.VectorResult, error) {
			return e.searchVector(bctx, query.Query, filter, size)
		})
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if keywordErr != nil && vectorErr != nil {
		e.logger.Error("both search branches failed",
			zap.String("query", query.Query), zap.NamedError("keyword", keywordErr), zap.NamedError("vector", vectorErr))
		return nil, fmt.Errorf("%w: %w", models.ErrServiceUnavailable, errors.Join(keywordErr, vectorErr))
	}
	if keywordErr != nil {
		keywordResults = nil
		response.Degraded = true
		response.DegradedBranches = append(response.DegradedBranches, BranchKeyword)
		e.logger.Warn("keyword branch failed, using vector results only", zap.Error(keywordErr))
	}
	if vectorErr != nil {
		semanticResults = nil
		response.Degraded = true
		response.DegradedBranches = append(response.DegradedBranches, BranchVector)
		e.logger.Warn("vector branch failed, using keyword results only", zap.Error(vectorErr))
	}

	keywordScores := NormalizeKeywordScores(keywordResults)
	semanticScores := NormalizeSemanticScores(semanticResults, e.vectorIndex.BoundedScores())
	fused := Fuse(keywordScores, semanticScores, e.scoring)

	snapshot := e.cache.Snapshot()
	for _, r := range fused {
		if len(response.Results) == query.TopK {
			break
		}
		chunk, ok := snapshot.Get(r.ChunkID)
		if !ok {
			continue
		}
		response.Results = append(response.Results, &models.RankedChunk{
			Chunk:         chunk,
			Rank:          len(response.Results) + 1,
			BM25Score:     r.KeywordScore,
			SemanticScore: r.SemanticScore,
			HybridScore:   r.Score,
		})
	}
	response.QueryTime = time.Since(startTime).Milliseconds()
	e.logger.Debug("search complete",
		zap.String("query", query.Query),
		zap.Int("keyword_hits", len(keywordResults)),
		zap.Int("vector_hits", len(semanticResults)),
		zap.Int("results", len(response.Results)),
		zap.Bool("degraded", response.Degraded))
	return response, nil
}

func (e *Engine) searchVector(ctx context.Context, text string, filter models.Filter, size int) ([]*vector.VectorResult, error) {
	queryEmbedding, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", models.ErrEmbedding, err)
	}
	return e.vectorIndex.Search(ctx, queryEmbedding, filter, size)
}

type branchResult[T any] struct {
	hits []T
	err  error
}

// runBranch calls search and returns when it finishes or when timeout elapses,
// whichever comes first. A search still running at the deadline is abandoned
// and reported as context.DeadlineExceeded, even if it later succeeds.
func runBranch[T any](ctx context.Context, timeout time.Duration, search func(context.Context) ([]T, error)) ([]T, error) {
	var (
		bctx   context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		bctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		bctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan branchResult[T], 1)
	go func() {
		hits, err := search(bctx)
		done <- branchResult[T]{hits: hits, err: err}
	}()
	select {
	case r := <-done:
		return r.hits, r.err
	case <-bctx.Done():
		return nil, bctx.Err()
	}
}
