package retrieval

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/rcpretrieval/internal/bm25store"
	"github.com/Aman-CERP/rcpretrieval/internal/collection"
	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
	"github.com/Aman-CERP/rcpretrieval/internal/rerank"
	"github.com/Aman-CERP/rcpretrieval/internal/vectorstore"
)

// slowEmbedder blocks until ctx is done, simulating an embedder call that
// never returns in time, so Retrieve's deadline is what ends the call.
type slowEmbedder struct{}

func (slowEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (slowEmbedder) EmbedBatch(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (slowEmbedder) ModelName() string { return "slow" }
func (slowEmbedder) Dimensions() int   { return 2 }

// fakeEmbedder returns a fixed vector regardless of input text, so tests can
// pin dense similarity ordering by construction.
type fakeEmbedder struct {
	vector []float32
}

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error)              { return f.vector, nil }
func (f fakeEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error)     { return nil, nil }
func (f fakeEmbedder) ModelName() string                                              { return "fake" }
func (f fakeEmbedder) Dimensions() int                                                { return len(f.vector) }

// fakeReranker hands back caller-supplied scores so low-confidence and
// trimming behavior can be tested independently of the cross-encoder.
type fakeReranker struct {
	scores []float64
}

// Rerank mirrors the real Reranker contract: results sorted by score
// descending, matching NoOp and CrossEncoder's documented ordering.
func (f fakeReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]rerank.Result, error) {
	out := make([]rerank.Result, len(documents))
	for i, doc := range documents {
		score := 0.0
		if i < len(f.scores) {
			score = f.scores[i]
		}
		out[i] = rerank.Result{Index: i, Score: score, Document: doc}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

func (f fakeReranker) Available(context.Context) bool { return true }
func (f fakeReranker) Close() error                    { return nil }

type fakeResolver struct {
	deps Dependencies
	err  error
	// boundModel, if set, is the collection's bound embedding model id;
	// Resolve rejects a mismatching requestedEmbeddingModel the same way
	// collectionResolver does via collection.CheckModelBinding.
	boundModel string
}

func (f fakeResolver) Resolve(_ context.Context, _, requestedEmbeddingModel string) (Dependencies, error) {
	if f.err != nil {
		return Dependencies{}, f.err
	}
	if requestedEmbeddingModel != "" && f.boundModel != "" && requestedEmbeddingModel != f.boundModel {
		return Dependencies{}, rerr.ConfigError("query embedding model does not match the collection's bound model", nil)
	}
	return f.deps, nil
}

// newFusionFixture builds the exact hybrid-fusion scenario: dense similarity
// order x1 > x2 > x3 > x4, BM25 order x3 > x4 > x1 (x2 has no "foo"
// occurrence and drops out of the sparse list entirely).
func newFusionFixture(t *testing.T) Dependencies {
	t.Helper()
	ctx := context.Background()

	vectors := vectorstore.NewEmbedded(t.TempDir())
	require.NoError(t, vectors.Upsert(ctx, "rcp", []vectorstore.Candidate{
		{ID: "x1", Vector: []float32{1, 0}, Text: "chunk x1"},
		{ID: "x2", Vector: []float32{0.8, 0.6}, Text: "chunk x2"},
		{ID: "x3", Vector: []float32{0.6, 0.8}, Text: "chunk x3"},
		{ID: "x4", Vector: []float32{0, 1}, Text: "chunk x4"},
	}))

	bm25 := bm25store.New(1.5, 0.75)
	bm25.AddDocuments([]struct {
		ChunkID string
		Text    string
	}{
		{ChunkID: "x1", Text: "foo"},
		{ChunkID: "x2", Text: "bar"},
		{ChunkID: "x3", Text: "foo foo foo foo"},
		{ChunkID: "x4", Text: "foo foo"},
	})

	return Dependencies{
		Collection:    "rcp",
		BM25:          bm25,
		Vectors:       vectors,
		Embedder:      fakeEmbedder{vector: []float32{1, 0}},
		Reranker:      rerank.NoOp{},
		LowConfidence: collection.DefaultLowConfidence(),
	}
}

func TestRetrieve_HybridFusion_MatchesRRFScenario(t *testing.T) {
	deps := newFusionFixture(t)
	r := New(fakeResolver{deps: deps})

	noRerank := false
	resp, err := r.Retrieve(context.Background(), Request{
		Query:         "foo",
		Collection:    "rcp",
		Strategy:      StrategyHybrid,
		RetrievalTopK: 3,
		RerankerTopK:  4,
		Rerank:        &noRerank,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 4)

	const k = 60.0
	x1Score := 1.0/(k+1) + 1.0/(k+3)
	x3Score := 1.0/(k+3) + 1.0/(k+1)
	x2Score := 1.0 / (k + 2)
	x4Score := 1.0 / (k + 2)

	byID := make(map[string]float64, 4)
	for _, res := range resp.Results {
		byID[res.ChunkID] = res.RelevanceScore
	}
	assert.InDelta(t, x1Score, byID["x1"], 1e-9)
	assert.InDelta(t, x3Score, byID["x3"], 1e-9)
	assert.InDelta(t, x2Score, byID["x2"], 1e-9)
	assert.InDelta(t, x4Score, byID["x4"], 1e-9)

	// {x1, x3} tie, broken by ascending chunk_id, then {x2, x4} tie likewise.
	order := []string{resp.Results[0].ChunkID, resp.Results[1].ChunkID, resp.Results[2].ChunkID, resp.Results[3].ChunkID}
	assert.Equal(t, []string{"x1", "x3", "x2", "x4"}, order)
}

func TestRetrieve_DenseOnly_OrdersBySimilarity(t *testing.T) {
	deps := newFusionFixture(t)
	r := New(fakeResolver{deps: deps})

	noRerank := false
	resp, err := r.Retrieve(context.Background(), Request{
		Query:         "foo",
		Collection:    "rcp",
		Strategy:      StrategyDense,
		RetrievalTopK: 3,
		RerankerTopK:  3,
		Rerank:        &noRerank,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, []string{"x1", "x2", "x3"}, []string{
		resp.Results[0].ChunkID, resp.Results[1].ChunkID, resp.Results[2].ChunkID,
	})
	assert.False(t, resp.LowConfidence)
}

func TestRetrieve_SparseOnly_ResolvesTextFromVectorStore(t *testing.T) {
	deps := newFusionFixture(t)
	r := New(fakeResolver{deps: deps})

	noRerank := false
	resp, err := r.Retrieve(context.Background(), Request{
		Query:         "foo",
		Collection:    "rcp",
		Strategy:      StrategySparse,
		RetrievalTopK: 3,
		RerankerTopK:  3,
		Rerank:        &noRerank,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, []string{"x3", "x4", "x1"}, []string{
		resp.Results[0].ChunkID, resp.Results[1].ChunkID, resp.Results[2].ChunkID,
	})
	// sparse candidates carry no text of their own; it must come from the
	// vector store (spec §4.8, §9 Open Question 1).
	assert.Equal(t, "chunk x3", resp.Results[0].Text)
}

func TestRetrieve_EmptyQuery_IsLowConfidenceEmptyResult(t *testing.T) {
	deps := newFusionFixture(t)
	r := New(fakeResolver{deps: deps})

	resp, err := r.Retrieve(context.Background(), Request{Query: "", Collection: "rcp"})
	require.NoError(t, err)
	assert.True(t, resp.LowConfidence)
	assert.Empty(t, resp.Results)
}

func TestRetrieve_NoCandidates_IsLowConfidenceEmptyResult(t *testing.T) {
	deps := newFusionFixture(t)
	r := New(fakeResolver{deps: deps})

	resp, err := r.Retrieve(context.Background(), Request{
		Query:      "nonexistentterm",
		Collection: "rcp",
		Strategy:   StrategySparse,
	})
	require.NoError(t, err)
	assert.True(t, resp.LowConfidence)
	assert.Empty(t, resp.Results)
}

func TestRetrieve_LowConfidence_BelowDenseSimilarityFloor(t *testing.T) {
	deps := newFusionFixture(t)
	// every stored vector lies in the first quadrant; this query points the
	// opposite way, so even its best match has cosine similarity 0.
	deps.Embedder = fakeEmbedder{vector: []float32{-1, 0}}
	r := New(fakeResolver{deps: deps})

	noRerank := false
	resp, err := r.Retrieve(context.Background(), Request{
		Query:         "foo",
		Collection:    "rcp",
		Strategy:      StrategyDense,
		RetrievalTopK: 3,
		Rerank:        &noRerank,
	})
	require.NoError(t, err)
	assert.True(t, resp.LowConfidence)
	assert.NotEmpty(t, resp.Results)
}

func TestRetrieve_LowConfidence_BelowRerankScoreFloor(t *testing.T) {
	deps := newFusionFixture(t)
	deps.LowConfidence.RerankScoreFloor = 0.5
	deps.Reranker = fakeReranker{scores: []float64{0.1, 0.2, 0.3}}
	r := New(fakeResolver{deps: deps})

	resp, err := r.Retrieve(context.Background(), Request{
		Query:         "foo",
		Collection:    "rcp",
		Strategy:      StrategyDense,
		RetrievalTopK: 3,
	})
	require.NoError(t, err)
	assert.True(t, resp.LowConfidence)
}

func TestRetrieve_RerankTrimsToRerankerTopK(t *testing.T) {
	deps := newFusionFixture(t)
	deps.Reranker = fakeReranker{scores: []float64{0.4, 0.9, 0.1, 0.5}}
	r := New(fakeResolver{deps: deps})

	resp, err := r.Retrieve(context.Background(), Request{
		Query:         "foo",
		Collection:    "rcp",
		Strategy:      StrategyHybrid,
		RetrievalTopK: 4,
		RerankerTopK:  2,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	// highest fakeReranker score first, regardless of RRF ordering.
	assert.True(t, resp.Results[0].RelevanceScore >= resp.Results[1].RelevanceScore)
}

func TestRetrieve_UnknownStrategy_IsConfigError(t *testing.T) {
	deps := newFusionFixture(t)
	r := New(fakeResolver{deps: deps})

	_, err := r.Retrieve(context.Background(), Request{Query: "foo", Collection: "rcp", Strategy: "bogus"})
	assert.True(t, rerr.IsKind(err, rerr.KindConfigError))
}

func TestRetrieve_MismatchedEmbeddingModel_IsConfigError(t *testing.T) {
	deps := newFusionFixture(t)
	r := New(fakeResolver{deps: deps, boundModel: "bi-encoder-a"})

	_, err := r.Retrieve(context.Background(), Request{
		Query:          "foo",
		Collection:     "rcp",
		EmbeddingModel: "bi-encoder-b",
	})
	assert.True(t, rerr.IsKind(err, rerr.KindConfigError))
}

func TestRetrieve_MatchingEmbeddingModel_Succeeds(t *testing.T) {
	deps := newFusionFixture(t)
	r := New(fakeResolver{deps: deps, boundModel: "bi-encoder-a"})

	noRerank := false
	_, err := r.Retrieve(context.Background(), Request{
		Query:          "foo",
		Collection:     "rcp",
		Strategy:       StrategyDense,
		EmbeddingModel: "bi-encoder-a",
		Rerank:         &noRerank,
	})
	require.NoError(t, err)
}

func TestRetrieve_ResolverError_Propagates(t *testing.T) {
	r := New(fakeResolver{err: rerr.NotFound("collection not found", nil)})

	_, err := r.Retrieve(context.Background(), Request{Query: "foo", Collection: "missing"})
	assert.True(t, rerr.IsKind(err, rerr.KindNotFound))
}

func TestRetrieve_DeadlineExceeded_ReturnsTimeoutNeverPartialResults(t *testing.T) {
	deps := newFusionFixture(t)
	deps.Embedder = slowEmbedder{}
	r := New(fakeResolver{deps: deps})

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	resp, err := r.Retrieve(ctx, Request{Query: "foo", Collection: "rcp", Strategy: StrategyDense})
	assert.True(t, rerr.IsKind(err, rerr.KindTimeout))
	assert.Empty(t, resp.Results)
}

func TestApplyDefaults(t *testing.T) {
	req := applyDefaults(Request{Query: "foo"})
	assert.Equal(t, StrategyHybrid, req.Strategy)
	assert.Equal(t, DefaultRetrievalTopK, req.RetrievalTopK)
	assert.Equal(t, DefaultRerankerTopK, req.RerankerTopK)
	require.NotNil(t, req.Rerank)
	assert.True(t, *req.Rerank)
}
