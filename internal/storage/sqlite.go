package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/docsearch/internal/models"
)

// SQLiteCache implements Cache on SQLite. Writes go to the database first and
// then publish a new snapshot; they are serialized by mu. While a batch is open,
// puts are staged and published together.
type SQLiteCache struct {
	db       *sql.DB
	mu       sync.Mutex
	snapshot atomic.Pointer[Snapshot]
	batches  int
	staged   map[string]*models.Chunk
}

// NewSQLiteCache opens or creates a SQLite database at dbPath, initializes the
// schema and loads the snapshot. Parent directories are created if they do not exist.
func NewSQLiteCache(dbPath string) (*SQLiteCache, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	c := &SQLiteCache{db: db}
	if err := c.reload(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return c, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		tech TEXT NOT NULL,
		component TEXT NOT NULL DEFAULT '',
		breadcrumb TEXT NOT NULL,
		source_path TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		char_start INTEGER NOT NULL,
		char_end INTEGER NOT NULL,
		token_count INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		vector_indexed INTEGER NOT NULL,
		indexed_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_tech ON chunks(tech);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_path, ordinal);
	`
	_, err := db.Exec(schema)
	return err
}

const chunkColumns = `id, text, tech, component, breadcrumb, source_path, ordinal,
	char_start, char_end, token_count, content_hash, vector_indexed, indexed_at`

func (c *SQLiteCache) reload(ctx context.Context) error {
	chunks, err := c.query(ctx, `SELECT `+chunkColumns+` FROM chunks`)
	if err != nil {
		return err
	}
	m := make(map[string]*models.Chunk, len(chunks))
	for _, ch := range chunks {
		m[ch.ID] = ch
	}
	c.snapshot.Store(newSnapshot(m))
	return nil
}

// Put inserts or replaces chunks in one transaction.
func (c *SQLiteCache) Put(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (`+chunkColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	stored := make([]*models.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		ch = ch.Clone()
		if ch.IndexedAt.IsZero() {
			ch.IndexedAt = time.Now().UTC()
		}
		breadcrumb, err := json.Marshal(ch.Breadcrumb)
		if err != nil {
			return fmt.Errorf("failed to marshal breadcrumb: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.Text, ch.Tech, ch.Component, string(breadcrumb), ch.SourcePath, ch.Ordinal,
			ch.CharStart, ch.CharEnd, ch.TokenCount, ch.ContentHash, ch.VectorIndexed, ch.IndexedAt,
		); err != nil {
			return err
		}
		stored = append(stored, ch)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if c.batches > 0 {
		if c.staged == nil {
			c.staged = make(map[string]*models.Chunk)
		}
		for _, ch := range stored {
			c.staged[ch.ID] = ch
		}
		return nil
	}
	c.publish(func(m map[string]*models.Chunk) {
		for _, ch := range stored {
			m[ch.ID] = ch
		}
	})
	return nil
}

// Batch defers publishing puts until the returned flush is called. Batches
// nest; the snapshot is published when the last one is flushed. Deletes
// always publish at once, together with anything staged.
func (c *SQLiteCache) Batch() (flush func()) {
	c.mu.Lock()
	c.batches++
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.batches--
			if c.batches == 0 && len(c.staged) > 0 {
				c.publish(nil)
			}
		})
	}
}

// publish copies the current snapshot, applies staged puts and then edit, and
// stores the result. Callers hold mu.
func (c *SQLiteCache) publish(edit func(map[string]*models.Chunk)) {
	cur := c.snapshot.Load()
	next := make(map[string]*models.Chunk, len(cur.chunks)+len(c.staged))
	for id, ch := range cur.chunks {
		next[id] = ch
	}
	for id, ch := range c.staged {
		next[id] = ch
	}
	c.staged = nil
	if edit != nil {
		edit(next)
	}
	c.snapshot.Store(newSnapshot(next))
}

// Get returns a chunk from the snapshot.
func (c *SQLiteCache) Get(ctx context.Context, id string) (*models.Chunk, error) {
	if ch, ok := c.Snapshot().Get(id); ok {
		return ch, nil
	}
	return nil, fmt.Errorf("chunk %s: %w", id, models.ErrNotFound)
}

// ListByTech returns the chunks of tech ordered by source path and ordinal.
func (c *SQLiteCache) ListByTech(ctx context.Context, tech string) ([]*models.Chunk, error) {
	if tech == "" {
		return c.query(ctx, `SELECT `+chunkColumns+` FROM chunks ORDER BY source_path, ordinal`)
	}
	return c.query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE tech = ? ORDER BY source_path, ordinal`, tech)
}

// ListBySource returns the chunks of a source file ordered by ordinal.
func (c *SQLiteCache) ListBySource(ctx context.Context, sourcePath string) ([]*models.Chunk, error) {
	return c.query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE source_path = ? ORDER BY ordinal`, sourcePath)
}

// Delete removes chunks by id. Unknown ids are ignored.
func (c *SQLiteCache) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM chunks WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	c.publish(func(m map[string]*models.Chunk) {
		for _, id := range ids {
			delete(m, id)
		}
	})
	return nil
}

// DeleteByTech removes every chunk of tech, or every chunk when tech is empty.
func (c *SQLiteCache) DeleteByTech(ctx context.Context, tech string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.snapshot.Load().IDs(tech)
	var err error
	if tech == "" {
		_, err = c.db.ExecContext(ctx, `DELETE FROM chunks`)
	} else {
		_, err = c.db.ExecContext(ctx, `DELETE FROM chunks WHERE tech = ?`, tech)
	}
	if err != nil {
		return nil, err
	}

	c.publish(func(m map[string]*models.Chunk) {
		for _, id := range ids {
			delete(m, id)
		}
	})
	return ids, nil
}

// Stats counts chunks per technology.
func (c *SQLiteCache) Stats(ctx context.Context) (CacheStats, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT tech, COUNT(*) FROM chunks GROUP BY tech`)
	if err != nil {
		return CacheStats{}, err
	}
	defer rows.Close()

	stats := CacheStats{PerTech: make(map[string]int)}
	for rows.Next() {
		var tech string
		var n int
		if err := rows.Scan(&tech, &n); err != nil {
			return CacheStats{}, err
		}
		stats.PerTech[tech] = n
		stats.Total += n
	}
	return stats, rows.Err()
}

// Snapshot returns the current immutable view.
func (c *SQLiteCache) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

func (c *SQLiteCache) query(ctx context.Context, q string, args ...any) ([]*models.Chunk, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var ch models.Chunk
		var breadcrumb string
		if err := rows.Scan(&ch.ID, &ch.Text, &ch.Tech, &ch.Component, &breadcrumb, &ch.SourcePath, &ch.Ordinal,
			&ch.CharStart, &ch.CharEnd, &ch.TokenCount, &ch.ContentHash, &ch.VectorIndexed, &ch.IndexedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(breadcrumb), &ch.Breadcrumb); err != nil {
			return nil, fmt.Errorf("failed to unmarshal breadcrumb of %s: %w", ch.ID, err)
		}
		chunks = append(chunks, &ch)
	}
	return chunks, rows.Err()
}

// Close closes the database connection.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

var _ Cache = (*SQLiteCache)(nil)
