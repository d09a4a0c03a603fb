// Package retrieval implements the hybrid retriever (spec §4.8, C8):
// strategy dispatch over dense/sparse/hybrid, Reciprocal Rank Fusion, and
// an optional cross-encoder rerank pass. Grounded on the teacher's
// internal/search/engine.go (dependency injection, parallelSearch via
// errgroup, rerank-after-fusion pipeline) and fusion.go (RRF structure),
// adapted to spec §4.8's fusion rule: a candidate absent from one ranked
// list contributes nothing from that list, unlike the teacher's
// missing-rank penalty.
package retrieval

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/rcpretrieval/internal/bm25store"
	"github.com/Aman-CERP/rcpretrieval/internal/collection"
	"github.com/Aman-CERP/rcpretrieval/internal/embed"
	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
	"github.com/Aman-CERP/rcpretrieval/internal/rerank"
	"github.com/Aman-CERP/rcpretrieval/internal/vectorstore"
)

// Strategy selects which sub-retrievals feed the result.
type Strategy string

const (
	StrategyDense  Strategy = "dense"
	StrategySparse Strategy = "sparse"
	StrategyHybrid Strategy = "hybrid"
)

// DefaultRRFConstant is the spec-pinned RRF smoothing constant (spec
// §4.8).
const DefaultRRFConstant = 60

// Defaults for the public Request fields, per spec §6.
const (
	DefaultRetrievalTopK = 20
	DefaultRerankerTopK  = 5
)

// DefaultQueryTimeout bounds one Retrieve call's wall-clock time (spec
// §5): past it, Retrieve returns a Timeout error, never partial results.
const DefaultQueryTimeout = 30 * time.Second

// RetrievedChunk is one result of a retrieve() call (spec §4.8).
type RetrievedChunk struct {
	ChunkID        string
	Text           string
	Metadata       map[string]string
	RelevanceScore float64
}

// Request is the public retrieval API input (spec §6).
type Request struct {
	Query          string
	Collection     string
	Strategy       Strategy
	RetrievalTopK  int
	RerankerTopK   int
	// Rerank defaults to true (spec §6) when nil; set explicitly to
	// false to skip the C7 pass.
	Rerank *bool
	// EmbeddingModel, if set, must match the collection's bound embedding
	// model (spec §4.6); a mismatch is rejected as ConfigError rather than
	// silently querying with the wrong vector space.
	EmbeddingModel string
}

// Response is the public retrieval API output (spec §6).
type Response struct {
	Results       []RetrievedChunk
	Strategy      Strategy
	LowConfidence bool
}

// Dependencies bundles the resolved, collection-bound backends a single
// retrieve() call needs: the collection's BM25 index, its vector-store
// collection name, its bound embedder and reranker, and its tunable
// low-confidence thresholds (spec §9 Open Question 2).
type Dependencies struct {
	Collection    string
	BM25          *bm25store.Index
	Vectors       vectorstore.Store
	Embedder      embed.Embedder
	Reranker      rerank.Reranker
	LowConfidence collection.LowConfidence
}

// Resolver binds a collection name to its backends, kept separate from
// Retriever so the registry/model-cache wiring stays outside this
// package, mirroring the teacher's dependency-injected Engine.
// requestedEmbeddingModel, when non-empty, must be checked against the
// collection's bound model (spec §4.6) and rejected with ConfigError on
// mismatch before any backend is queried.
type Resolver interface {
	Resolve(ctx context.Context, collectionName, requestedEmbeddingModel string) (Dependencies, error)
}

// Retriever executes spec §4.8's retrieve() operation.
type Retriever struct {
	resolver Resolver
}

// New builds a Retriever backed by resolver.
func New(resolver Resolver) *Retriever {
	return &Retriever{resolver: resolver}
}

func applyDefaults(req Request) Request {
	if req.Strategy == "" {
		req.Strategy = StrategyHybrid
	}
	if req.RetrievalTopK <= 0 {
		req.RetrievalTopK = DefaultRetrievalTopK
	}
	if req.RerankerTopK <= 0 {
		req.RerankerTopK = DefaultRerankerTopK
	}
	if req.Rerank == nil {
		rerankDefault := true
		req.Rerank = &rerankDefault
	}
	return req
}

// candidate is one fused candidate before rerank/text resolution.
type candidate struct {
	chunkID string
	// rrf is the reciprocal-rank-fusion accumulator: used only to rank and
	// fuse candidates, never reported back to the caller directly except
	// for the hybrid strategy, where it IS the relevance metric.
	rrf float64
	// score is the strategy-native relevance signal (dense cosine
	// similarity, or BM25 score) reported to the caller when the request
	// isn't hybrid and wasn't reranked.
	score    float64
	text     string
	metadata map[string]string
}

// Retrieve executes the strategy named by req against the collection it
// names, fusing and (optionally) reranking candidates before returning at
// most req.RerankerTopK results (spec §4.8).
func (r *Retriever) Retrieve(ctx context.Context, req Request) (Response, error) {
	req = applyDefaults(req)
	if req.Query == "" {
		return Response{Strategy: req.Strategy, LowConfidence: true, Results: []RetrievedChunk{}}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	resp, err := r.retrieve(ctx, req)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return Response{}, rerr.Timeout("query exceeded its deadline", err)
	}
	return resp, err
}

// retrieve is Retrieve's body, split out so the deadline set by Retrieve
// wraps every sub-retrieval, fusion, and rerank call below it (spec §5:
// "returns a timeout error, never partial results").
func (r *Retriever) retrieve(ctx context.Context, req Request) (Response, error) {
	deps, err := r.resolver.Resolve(ctx, req.Collection, req.EmbeddingModel)
	if err != nil {
		return Response{}, err
	}

	var candidates []candidate
	switch req.Strategy {
	case StrategyDense:
		candidates, err = r.denseCandidates(ctx, deps, req.Query, req.RetrievalTopK)
	case StrategySparse:
		candidates, err = r.sparseCandidates(ctx, deps, req.Query, req.RetrievalTopK)
	case StrategyHybrid:
		candidates, err = r.hybridCandidates(ctx, deps, req.Query, req.RetrievalTopK)
	default:
		return Response{}, rerr.ConfigError("unknown retrieval strategy", nil).WithDetail("strategy", string(req.Strategy))
	}
	if err != nil {
		return Response{}, err
	}

	if len(candidates) == 0 {
		return Response{Strategy: req.Strategy, LowConfidence: true, Results: []RetrievedChunk{}}, nil
	}

	results, topScore, err := r.finalize(ctx, deps, req, candidates)
	if err != nil {
		return Response{}, err
	}

	lowConfidence := len(results) == 0 ||
		(*req.Rerank && topScore < deps.LowConfidence.RerankScoreFloor) ||
		(!*req.Rerank && topScore < deps.LowConfidence.DenseSimilarityFloor && req.Strategy != StrategySparse)

	return Response{Results: results, Strategy: req.Strategy, LowConfidence: lowConfidence}, nil
}

// denseCandidates embeds the query and queries the vector store directly.
func (r *Retriever) denseCandidates(ctx context.Context, deps Dependencies, query string, topK int) ([]candidate, error) {
	vec, err := deps.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := deps.Vectors.Query(ctx, deps.Collection, vec, topK)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, len(matches))
	for i, m := range matches {
		out[i] = candidate{
			chunkID:  m.ID,
			rrf:      1.0 / float64(DefaultRRFConstant+i+1),
			score:    float64(m.Score),
			text:     m.Text,
			metadata: m.Metadata,
		}
	}
	return out, nil
}

// sparseCandidates tokenizes (internally, via bm25store.Index.Query) and
// scores the query against the BM25 index.
func (r *Retriever) sparseCandidates(ctx context.Context, deps Dependencies, query string, topK int) ([]candidate, error) {
	results := deps.BM25.Query(query, topK)
	out := make([]candidate, len(results))
	for i, res := range results {
		out[i] = candidate{chunkID: res.ChunkID, rrf: 1.0 / float64(DefaultRRFConstant+i+1), score: res.Score}
	}
	return out, r.resolveText(ctx, deps, out)
}

// hybridCandidates runs dense and sparse sub-retrievals in parallel and
// fuses them by Reciprocal Rank Fusion (spec §4.8): a candidate absent
// from one list contributes nothing from that list — there is no
// missing-rank penalty.
func (r *Retriever) hybridCandidates(ctx context.Context, deps Dependencies, query string, topK int) ([]candidate, error) {
	var dense, sparse []candidate
	var denseErr, sparseErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dense, denseErr = r.denseCandidates(gctx, deps, query, topK)
		return nil
	})
	g.Go(func() error {
		sparse, sparseErr = r.sparseCandidates(gctx, deps, query, topK)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if denseErr != nil && sparseErr != nil {
		return nil, denseErr
	}
	if denseErr != nil {
		return sparse, nil
	}
	if sparseErr != nil {
		return dense, nil
	}

	fused := make(map[string]*candidate, len(dense)+len(sparse))
	for _, c := range dense {
		cc := c
		fused[c.chunkID] = &cc
	}
	for _, c := range sparse {
		if existing, ok := fused[c.chunkID]; ok {
			existing.rrf += c.rrf
			continue
		}
		cc := c
		fused[c.chunkID] = &cc
	}

	out := make([]candidate, 0, len(fused))
	for _, c := range fused {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rrf != out[j].rrf {
			return out[i].rrf > out[j].rrf
		}
		return out[i].chunkID < out[j].chunkID
	})
	return out, nil
}

// resolveText fills in text/metadata for candidates missing it (sparse
// hits), looking them up in the vector index, which is authoritative for
// chunk text (spec §9 Open Question 1).
func (r *Retriever) resolveText(ctx context.Context, deps Dependencies, candidates []candidate) error {
	for i := range candidates {
		if candidates[i].text != "" {
			continue
		}
		match, ok, err := deps.Vectors.Get(ctx, deps.Collection, candidates[i].chunkID)
		if err != nil {
			return err
		}
		if ok {
			candidates[i].text = match.Text
			candidates[i].metadata = match.Metadata
		}
	}
	return nil
}

// finalize resolves missing text, optionally reranks, and trims to
// req.RerankerTopK, returning the top result's RelevanceScore (the rerank
// score when reranked, the RRF score for unreranked hybrid, otherwise the
// dense or BM25 score) for low-confidence detection.
func (r *Retriever) finalize(ctx context.Context, deps Dependencies, req Request, candidates []candidate) ([]RetrievedChunk, float64, error) {
	if err := r.resolveText(ctx, deps, candidates); err != nil {
		return nil, 0, err
	}

	reranked := false
	if *req.Rerank && deps.Reranker != nil && len(candidates) > 1 {
		docs := make([]string, len(candidates))
		for i, c := range candidates {
			docs[i] = c.text
		}
		scored, err := deps.Reranker.Rerank(ctx, req.Query, docs, 0)
		if err == nil {
			reordered := make([]candidate, 0, len(scored))
			for _, s := range scored {
				if s.Index < 0 || s.Index >= len(candidates) {
					continue
				}
				c := candidates[s.Index]
				c.score = s.Score
				reordered = append(reordered, c)
			}
			if len(reordered) > 0 {
				candidates = reordered
				reranked = true
			}
		}
	}

	if len(candidates) > req.RerankerTopK {
		candidates = candidates[:req.RerankerTopK]
	}

	results := make([]RetrievedChunk, len(candidates))
	for i, c := range candidates {
		relevance := c.score
		if !reranked && req.Strategy == StrategyHybrid {
			relevance = c.rrf
		}
		results[i] = RetrievedChunk{ChunkID: c.chunkID, Text: c.text, Metadata: c.metadata, RelevanceScore: relevance}
	}

	var top float64
	if len(results) > 0 {
		top = results[0].RelevanceScore
	}
	return results, top, nil
}
