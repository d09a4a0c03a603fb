package rcp

import (
	"context"

	"github.com/Aman-CERP/rcpretrieval/internal/collection"
	"github.com/Aman-CERP/rcpretrieval/internal/embed"
	"github.com/Aman-CERP/rcpretrieval/internal/rerank"
	"github.com/Aman-CERP/rcpretrieval/internal/retrieval"
	"github.com/Aman-CERP/rcpretrieval/internal/vectorstore"
)

// collectionResolver implements retrieval.Resolver by binding a
// collection's registry row to its live BM25 index, the shared vector
// store, and its bound embedder/reranker from the process-wide model
// caches (spec §9 Open Question 2's per-collection model binding).
type collectionResolver struct {
	collections *collection.Registry
	bm25        *bm25Cache
	vectors     vectorstore.Store
	embedders   *embed.ModelCache
	rerankers   *rerank.ModelCache
}

func (r *collectionResolver) Resolve(ctx context.Context, name, requestedEmbeddingModel string) (retrieval.Dependencies, error) {
	col, err := r.collections.Get(ctx, name)
	if err != nil {
		return retrieval.Dependencies{}, err
	}
	if err := col.CheckModelBinding(requestedEmbeddingModel); err != nil {
		return retrieval.Dependencies{}, err
	}

	idx, err := r.bm25.get(name)
	if err != nil {
		return retrieval.Dependencies{}, err
	}

	embedder, err := r.embedders.Get(col.EmbeddingModelID)
	if err != nil {
		return retrieval.Dependencies{}, err
	}

	reranker, err := r.rerankers.Get(col.RerankerModelID)
	if err != nil {
		return retrieval.Dependencies{}, err
	}

	return retrieval.Dependencies{
		Collection:    name,
		BM25:          idx,
		Vectors:       r.vectors,
		Embedder:      embedder,
		Reranker:      reranker,
		LowConfidence: col.LowConfidence,
	}, nil
}
