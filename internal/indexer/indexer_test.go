package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/docsearch/internal/config"
	"github.com/hyperjump/docsearch/internal/embedding"
	"github.com/hyperjump/docsearch/internal/keyword"
	"github.com/hyperjump/docsearch/internal/models"
	"github.com/hyperjump/docsearch/internal/storage"
	"github.com/hyperjump/docsearch/internal/vector"
)

const (
	schedDoc = "# Scheduler\n\nThe scheduler multiplexes goroutines onto threads.\n\n" +
		"## Preemption\n\nGoroutines are preempted asynchronously at safe points.\n"
	httpDoc = "# HTTP\n\nHandlers serve requests over the network.\n"
	ownDoc  = "# Ownership\n\nEach value has a single owner in Rust.\n"
)

// poisonEmbedder fails for any text containing word.
type poisonEmbedder struct {
	embedding.Embedder
	word string
}

func (p poisonEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, p.word) {
		return nil, errors.New("model rejected input")
	}
	return p.Embedder.Embed(ctx, text)
}

func (p poisonEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type env struct {
	root  string
	cache *storage.SQLiteCache
	kw    keyword.KeywordIndex
	vec   vector.VectorIndex
	emb   embedding.Embedder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "go/runtime/sched.md", schedDoc)
	writeFile(t, root, "go/net/http.md", httpDoc)
	writeFile(t, root, "rust/own.md", ownDoc)

	cache, err := storage.NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kw.Close() })
	vec, _ := vector.NewMemoryIndex(64)
	return &env{root: root, cache: cache, kw: kw, vec: vec, emb: embedding.NewHashEmbedder(64)}
}

func (e *env) builder() *Builder {
	corpus := NewCorpus(e.root, []string{"go", "rust"}, []string{".md"})
	cfg := config.BuildConfig{Workers: 2, MinChunkTokens: 5, MaxChunkTokens: 100}
	return NewBuilder(corpus, e.cache, e.emb, e.vec, e.kw, cfg, WithBatchSize(2))
}

func (e *env) build(t *testing.T, req models.BuildRequest) *models.JobReport {
	t.Helper()
	report, err := e.builder().Build(context.Background(), req)
	if err != nil {
		t.Fatalf("Build(%+v): %v", req, err)
	}
	return report
}

// assertConsistent checks that every cached chunk is in the keyword index and,
// when vector indexed, in the vector index.
func (e *env) assertConsistent(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	snap := e.cache.Snapshot()
	kwIDs, _ := e.kw.IDs(ctx, "")
	vecIDs, _ := e.vec.IDs(ctx, "")
	if cached := snap.IDs(""); len(kwIDs) != len(cached) || (len(cached) > 0 && !reflect.DeepEqual(kwIDs, cached)) {
		t.Errorf("keyword ids %v != cache ids %v", kwIDs, snap.IDs(""))
	}
	inVec := make(map[string]bool)
	for _, id := range vecIDs {
		inVec[id] = true
	}
	for _, id := range snap.IDs("") {
		c, _ := snap.Get(id)
		if c.VectorIndexed != inVec[id] {
			t.Errorf("chunk %s: vector_indexed=%v, in vector index=%v", id, c.VectorIndexed, inVec[id])
		}
	}
}

func TestBuilder_InitialBuild(t *testing.T) {
	e := newEnv(t)
	report := e.build(t, models.BuildRequest{})

	if report.FilesScanned != 3 || report.Created != 4 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.CreatedIDs) != 4 || report.JobID == "" || !report.Clean() {
		t.Errorf("report ids/job = %+v", report)
	}
	e.assertConsistent(t)

	chunks, _ := e.cache.ListBySource(context.Background(), "go/runtime/sched.md")
	if len(chunks) != 2 {
		t.Fatalf("sched.md chunks = %d, want 2", len(chunks))
	}
	if got := chunks[1].Breadcrumb; !reflect.DeepEqual(got, []string{"Scheduler", "Preemption"}) {
		t.Errorf("breadcrumb = %v", got)
	}
	if chunks[0].Tech != "go" || chunks[0].Component != "runtime" {
		t.Errorf("classification = %s/%s", chunks[0].Tech, chunks[0].Component)
	}
}

func TestBuilder_RebuildSkipsUnchanged(t *testing.T) {
	e := newEnv(t)
	first := e.build(t, models.BuildRequest{})
	second := e.build(t, models.BuildRequest{})

	if second.Skipped != first.Created || second.Created != 0 || second.Updated != 0 || second.Deleted != 0 {
		t.Errorf("rebuild report = %+v", second)
	}
	e.assertConsistent(t)
}

func TestBuilder_ChangedSectionReplacesSlot(t *testing.T) {
	e := newEnv(t)
	e.build(t, models.BuildRequest{})
	before, _ := e.cache.ListBySource(context.Background(), "go/runtime/sched.md")

	writeFile(t, e.root, "go/runtime/sched.md",
		strings.Replace(schedDoc, "asynchronously at safe points", "cooperatively at function calls", 1))
	report := e.build(t, models.BuildRequest{})

	if report.Updated != 1 || report.Created != 0 || report.Deleted != 1 || report.Skipped != 3 {
		t.Fatalf("report = %+v", report)
	}
	if e.cache.Snapshot().Has(before[1].ID) {
		t.Error("stale chunk still cached")
	}
	e.assertConsistent(t)
}

func TestBuilder_WhitespaceEditRefreshesOffsets(t *testing.T) {
	e := newEnv(t)
	e.build(t, models.BuildRequest{})
	ctx := context.Background()
	before, _ := e.cache.ListBySource(ctx, "go/runtime/sched.md")

	edited := strings.Replace(schedDoc, "goroutines onto", "goroutines  onto", 1)
	edited = strings.Replace(edited, "threads.\n\n", "threads.\n\n\n", 1)
	writeFile(t, e.root, "go/runtime/sched.md", edited)
	report := e.build(t, models.BuildRequest{})
	if report.Skipped != 4 || report.Created != 0 || report.Updated != 0 {
		t.Fatalf("report = %+v", report)
	}

	after, _ := e.cache.ListBySource(ctx, "go/runtime/sched.md")
	if len(after) != len(before) {
		t.Fatalf("chunks = %d, want %d", len(after), len(before))
	}
	for i := range after {
		if after[i].ID != before[i].ID {
			t.Errorf("chunk %d id changed: %s -> %s", i, before[i].ID, after[i].ID)
		}
	}
	if !strings.Contains(after[0].Text, "goroutines  onto") {
		t.Errorf("text not refreshed: %q", after[0].Text)
	}
	if after[1].CharStart <= before[1].CharStart {
		t.Errorf("CharStart = %d, want > %d", after[1].CharStart, before[1].CharStart)
	}
	if got := edited[after[1].CharStart:after[1].CharEnd]; !strings.Contains(got, "Preemption") {
		t.Errorf("offsets point at %q", got)
	}
	e.assertConsistent(t)
}

func TestBuilder_ClearRebuilds(t *testing.T) {
	e := newEnv(t)
	e.build(t, models.BuildRequest{})
	report := e.build(t, models.BuildRequest{Clear: true})

	if report.Deleted != 4 || report.Created != 4 || report.Skipped != 0 {
		t.Errorf("clear report = %+v", report)
	}
	e.assertConsistent(t)
}

func TestBuilder_ScopedBuild(t *testing.T) {
	e := newEnv(t)
	e.build(t, models.BuildRequest{})
	report := e.build(t, models.BuildRequest{TechFilter: "rust", Clear: true})

	if report.FilesScanned != 1 || report.Deleted != 1 || report.Created != 1 {
		t.Errorf("scoped report = %+v", report)
	}
	if n := e.cache.Snapshot().PerTech()["go"]; n != 3 {
		t.Errorf("go chunks after rust rebuild = %d, want 3", n)
	}
	e.assertConsistent(t)
}

func TestBuilder_EmbeddingFailureIsRecoverable(t *testing.T) {
	e := newEnv(t)
	healthy := e.emb
	e.emb = poisonEmbedder{Embedder: healthy, word: "preempted"}

	report := e.build(t, models.BuildRequest{})
	if report.Failed != 1 || report.Created != 3 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Errors) != 1 || report.Errors[0].Kind != models.ErrKindEmbedding {
		t.Fatalf("errors = %+v", report.Errors)
	}
	failedID := report.Errors[0].ChunkID
	c, err := e.cache.Get(context.Background(), failedID)
	if err != nil {
		t.Fatal(err)
	}
	if c.VectorIndexed {
		t.Error("failed chunk marked vector indexed")
	}
	e.assertConsistent(t)

	e.emb = healthy
	retry := e.build(t, models.BuildRequest{})
	if retry.Updated != 1 || retry.UpdatedIDs[0] != failedID || retry.Skipped != 3 {
		t.Errorf("retry report = %+v", retry)
	}
	e.assertConsistent(t)
}

func TestBuilder_PrunesVanishedFiles(t *testing.T) {
	e := newEnv(t)
	e.build(t, models.BuildRequest{})
	if err := os.Remove(filepath.Join(e.root, "go", "net", "http.md")); err != nil {
		t.Fatal(err)
	}
	report := e.build(t, models.BuildRequest{})
	if report.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", report.Deleted)
	}
	if chunks, _ := e.cache.ListBySource(context.Background(), "go/net/http.md"); len(chunks) != 0 {
		t.Error("chunks of removed file still cached")
	}
	e.assertConsistent(t)
}

func TestBuilder_ParseFailureContinues(t *testing.T) {
	e := newEnv(t)
	writeFile(t, e.root, "go/broken.md", "bad \xff\xfe bytes")
	report := e.build(t, models.BuildRequest{})

	if report.FilesFailed != 1 || report.Created != 4 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Errors) != 1 || report.Errors[0].Kind != models.ErrKindFileParse || report.Errors[0].SourcePath != "go/broken.md" {
		t.Errorf("errors = %+v", report.Errors)
	}
}

func TestBuilder_UnknownTech(t *testing.T) {
	e := newEnv(t)
	_, err := e.builder().Build(context.Background(), models.BuildRequest{TechFilter: "cobol"})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestBuilder_BackendUnavailable(t *testing.T) {
	e := newEnv(t)
	e.vec.Close()
	_, err := e.builder().Build(context.Background(), models.BuildRequest{})
	if !errors.Is(err, models.ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
	var bu *models.BackendUnavailableError
	if !errors.As(err, &bu) || bu.Backend != BackendVector {
		t.Errorf("backend = %+v", bu)
	}
	if e.cache.Snapshot().Len() != 0 {
		t.Error("cache written although a backend was down")
	}
}

func TestBuilder_Cancelled(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.builder().Build(ctx, models.BuildRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
