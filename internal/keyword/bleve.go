package keyword

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/docsearch/internal/models"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("keyword index is closed")

const (
	fieldText       = "text"
	fieldBreadcrumb = "breadcrumb"
	fieldTech       = "tech"
	fieldComponent  = "component"
	fieldSourcePath = "source_path"

	breadcrumbBoost = 0.5
)

// keywordDoc is the stored form of a chunk. The embedding never reaches this index.
type keywordDoc struct {
	Text       string `json:"text"`
	Breadcrumb string `json:"breadcrumb"`
	Tech       string `json:"tech"`
	Component  string `json:"component"`
	SourcePath string `json:"source_path"`
}

// BleveIndex implements KeywordIndex using Bleve with BM25 scoring.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

func newIndexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	im.ScoringModel = "bm25"

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so identifiers such as
	// "ForeignKey" or "on_delete" match exactly.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldText, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldBreadcrumb, textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt(fieldTech, keywordFieldMapping)
	docMapping.AddFieldMappingsAt(fieldComponent, keywordFieldMapping)
	docMapping.AddFieldMappingsAt(fieldSourcePath, keywordFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates
// an in-memory index. If you change the index mapping in code, remove the index
// directory to force a full rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := newIndexMapping()
	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Upsert indexes chunks in one batch, replacing existing documents with the same id.
func (b *BleveIndex) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := keywordDoc{
			Text:       c.Text,
			Breadcrumb: strings.Join(c.Breadcrumb, " "),
			Tech:       c.Tech,
			Component:  c.Component,
			SourcePath: c.SourcePath,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search runs a match query over chunk text and breadcrumbs, restricted by filter.
func (b *BleveIndex) Search(ctx context.Context, query string, filter models.Filter, size int) ([]*KeywordResult, error) {
	if strings.TrimSpace(query) == "" || size <= 0 {
		return []*KeywordResult{}, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}

	text := bleve.NewMatchQuery(query)
	text.SetField(fieldText)
	crumbs := bleve.NewMatchQuery(query)
	crumbs.SetField(fieldBreadcrumb)
	crumbs.SetBoost(breadcrumbBoost)
	var q blevequery.Query = bleve.NewDisjunctionQuery(text, crumbs)
	q = withFilter(q, filter)

	req := bleve.NewSearchRequest(q)
	req.Size = size
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// withFilter conjoins q with exact term queries for the non-empty filter fields.
func withFilter(q blevequery.Query, filter models.Filter) blevequery.Query {
	conjuncts := []blevequery.Query{q}
	if filter.Tech != "" {
		t := bleve.NewTermQuery(filter.Tech)
		t.SetField(fieldTech)
		conjuncts = append(conjuncts, t)
	}
	if filter.Component != "" {
		t := bleve.NewTermQuery(filter.Component)
		t.SetField(fieldComponent)
		conjuncts = append(conjuncts, t)
	}
	if len(conjuncts) == 1 {
		return q
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}

// Delete removes chunks by id.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Clear removes every chunk of tech, or all chunks when tech is empty.
func (b *BleveIndex) Clear(ctx context.Context, tech string) error {
	ids, err := b.IDs(ctx, tech)
	if err != nil {
		return err
	}
	return b.Delete(ctx, ids)
}

// IDs returns the sorted ids of every chunk of tech, or of all chunks when tech is empty.
// Used for consistency checking between stores.
func (b *BleveIndex) IDs(ctx context.Context, tech string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	count, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("doc count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	var q blevequery.Query = bleve.NewMatchAllQuery()
	if tech != "" {
		t := bleve.NewTermQuery(tech)
		t.SetField(fieldTech)
		q = t
	}
	req := bleve.NewSearchRequest(q)
	req.Size = int(count)
	req.Fields = []string{}
	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for ids: %w", err)
	}
	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping checks that the index is open and readable.
func (b *BleveIndex) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.DocCount()
	return err
}

// DocCount returns the total number of chunks in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrClosed
	}
	return b.index.DocCount()
}

// Close closes the underlying index. Further calls return ErrClosed.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
