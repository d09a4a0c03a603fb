package rcp

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/rcpretrieval/internal/collection"
	"github.com/Aman-CERP/rcpretrieval/internal/config"
	"github.com/Aman-CERP/rcpretrieval/internal/embed"
	"github.com/Aman-CERP/rcpretrieval/internal/extract"
	"github.com/Aman-CERP/rcpretrieval/internal/job"
	"github.com/Aman-CERP/rcpretrieval/internal/objectstore"
	"github.com/Aman-CERP/rcpretrieval/internal/pipeline"
	"github.com/Aman-CERP/rcpretrieval/internal/rerank"
	"github.com/Aman-CERP/rcpretrieval/internal/retrieval"
	"github.com/Aman-CERP/rcpretrieval/internal/telemetry"
	"github.com/Aman-CERP/rcpretrieval/internal/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }
func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (fakeEmbedder) ModelName() string { return "fake" }
func (fakeEmbedder) Dimensions() int   { return 2 }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dataDir := t.TempDir()

	registry, err := collection.Open(filepath.Join(t.TempDir(), "collections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	sources, err := pipeline.OpenSourceTracker(filepath.Join(t.TempDir(), "sources.db"))
	require.NoError(t, err)

	jobs, err := job.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)

	engine := New(Deps{
		Config:      config.Config{DataDir: dataDir, BM25K1: 1.5, BM25B: 0.75, ChunkSize: 1000, MaxConcurrent: 4, BatchSize: 500},
		Collections: registry,
		Objects:     objectstore.NewMemory(),
		Extract:     extract.Identity,
		Vectors:     vectorstore.NewEmbedded(dataDir),
		Jobs:        jobs,
		Sources:     sources,
		EmbedderFactory: func(modelID string) (embed.Embedder, error) {
			return fakeEmbedder{}, nil
		},
		RerankerFactory: func(modelID string) (rerank.Reranker, error) {
			return rerank.NoOp{}, nil
		},
		Metrics: telemetry.New(),
	})
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func sectionedDoc(id string) string {
	var b strings.Builder
	b.WriteString("1 INTRODUCTION\n")
	b.WriteString(strings.Repeat("lorem ipsum dolor sit amet "+id+". ", 30))
	b.WriteString("\n2 DOSAGE\n")
	b.WriteString(strings.Repeat("take one tablet twice daily for "+id+". ", 30))
	return b.String()
}

func TestEngine_StartIndexingThenRetrieve(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateCollection(ctx, collection.Collection{
		Name: "rcp", EmbeddingModelID: "fake-embed", RerankerModelID: "fake-rerank", ChunkBySection: true,
	}))

	objs := e.objects.(*objectstore.Memory)
	objs.Put("f1", []byte(sectionedDoc("f1")))
	objs.Put("f2", []byte(sectionedDoc("f2")))

	jobID, err := e.StartIndexing(ctx, "rcp", pipeline.Params{ChunkBySection: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := e.GetJob(jobID)
		return err == nil && rec.Status == job.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	resp, err := e.Retrieve(ctx, retrieval.Request{Query: "dosage", Collection: "rcp"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
}

func TestEngine_StartIndexingDedupsSameCollection(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateCollection(ctx, collection.Collection{
		Name: "rcp", EmbeddingModelID: "fake-embed", RerankerModelID: "fake-rerank", ChunkBySection: true,
	}))
	e.objects.(*objectstore.Memory).Put("f1", []byte(sectionedDoc("f1")))

	id1, err := e.StartIndexing(ctx, "rcp", pipeline.Params{ChunkBySection: true})
	require.NoError(t, err)
	id2, err := e.StartIndexing(ctx, "rcp", pipeline.Params{ChunkBySection: true})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestEngine_IndexSourceSynchronous(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateCollection(ctx, collection.Collection{
		Name: "rcp", EmbeddingModelID: "fake-embed", RerankerModelID: "fake-rerank", ChunkBySection: true,
	}))

	report, err := e.IndexSource(ctx, "rcp", "f1", []byte(sectionedDoc("f1")), pipeline.Params{ChunkBySection: true})
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Positive(t, report.ChunksIndexed)
}

func TestEngine_CancelJob_UnknownIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CancelJob("does-not-exist")
	assert.Error(t, err)
}

func TestEngine_DeleteCollection_ForgetsCachedIndex(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.CreateCollection(ctx, collection.Collection{
		Name: "rcp", EmbeddingModelID: "fake-embed", RerankerModelID: "fake-rerank", ChunkBySection: true,
	}))
	_, err := e.IndexSource(ctx, "rcp", "f1", []byte(sectionedDoc("f1")), pipeline.Params{ChunkBySection: true})
	require.NoError(t, err)

	require.NoError(t, e.DeleteCollection(ctx, "rcp"))

	_, ok := e.bm25.indices["rcp"]
	assert.False(t, ok)
}
