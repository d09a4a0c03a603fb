package rcp

import (
	"context"
	"time"

	"github.com/Aman-CERP/rcpretrieval/internal/collection"
	"github.com/Aman-CERP/rcpretrieval/internal/config"
	"github.com/Aman-CERP/rcpretrieval/internal/embed"
	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
	"github.com/Aman-CERP/rcpretrieval/internal/extract"
	"github.com/Aman-CERP/rcpretrieval/internal/job"
	"github.com/Aman-CERP/rcpretrieval/internal/objectstore"
	"github.com/Aman-CERP/rcpretrieval/internal/pipeline"
	"github.com/Aman-CERP/rcpretrieval/internal/rerank"
	"github.com/Aman-CERP/rcpretrieval/internal/retrieval"
	"github.com/Aman-CERP/rcpretrieval/internal/telemetry"
	"github.com/Aman-CERP/rcpretrieval/internal/vectorstore"
)

var timeNow = time.Now

// Deps bundles every external collaborator an Engine needs. Metrics is
// optional; a nil value disables telemetry recording entirely.
type Deps struct {
	Config          config.Config
	Collections     *collection.Registry
	Objects         objectstore.Store
	Extract         extract.Func
	Vectors         vectorstore.Store
	Jobs            *job.Manager
	Sources         *pipeline.SourceTracker
	EmbedderFactory func(modelID string) (embed.Embedder, error)
	RerankerFactory func(modelID string) (rerank.Reranker, error)
	Metrics         *telemetry.Metrics
}

// Engine is the process-wide entry point wiring C1-C10 together.
type Engine struct {
	cfg     config.Config
	collections *collection.Registry
	objects objectstore.Store
	extract extract.Func
	vectors vectorstore.Store
	sources *pipeline.SourceTracker
	jobs    *job.Manager
	bm25    *bm25Cache

	embedders *embed.ModelCache
	rerankers *rerank.ModelCache

	retriever *retrieval.Retriever
	metrics   *telemetry.Metrics
}

// New builds an Engine over deps.
func New(deps Deps) *Engine {
	bm25 := newBM25Cache(deps.Config.DataDir, deps.Config.BM25K1, deps.Config.BM25B)
	embedders := embed.NewModelCache(deps.EmbedderFactory)
	rerankers := rerank.NewModelCache(deps.RerankerFactory)

	resolver := &collectionResolver{
		collections: deps.Collections,
		bm25:        bm25,
		vectors:     deps.Vectors,
		embedders:   embedders,
		rerankers:   rerankers,
	}

	return &Engine{
		cfg:         deps.Config,
		collections: deps.Collections,
		objects:     deps.Objects,
		extract:     deps.Extract,
		vectors:     deps.Vectors,
		sources:     deps.Sources,
		jobs:        deps.Jobs,
		bm25:        bm25,
		embedders:   embedders,
		rerankers:   rerankers,
		retriever:   retrieval.New(resolver),
		metrics:     deps.Metrics,
	}
}

// Retrieve runs C8's hybrid retriever over req (spec §4.8/§6).
func (e *Engine) Retrieve(ctx context.Context, req retrieval.Request) (retrieval.Response, error) {
	start := timeNow()
	resp, err := e.retriever.Retrieve(ctx, req)
	if e.metrics != nil && err == nil {
		e.metrics.RecordQuery(string(resp.Strategy), len(resp.Results), resp.LowConfidence, timeNow().Sub(start))
	}
	return resp, err
}

// CreateCollection registers a new named collection (spec §6).
func (e *Engine) CreateCollection(ctx context.Context, c collection.Collection) error {
	return e.collections.Create(ctx, c)
}

// ListCollections implements spec §6's list_collections.
func (e *Engine) ListCollections(ctx context.Context) ([]string, error) {
	return e.collections.List(ctx)
}

// DeleteCollection implements spec §6's delete_collection: drops the
// registry row, the cached BM25 index, and the vector store's
// collection.
func (e *Engine) DeleteCollection(ctx context.Context, name string) error {
	if err := e.collections.Delete(ctx, name); err != nil {
		return err
	}
	e.bm25.forget(name)
	return e.vectors.DeleteCollection(ctx, name)
}

// pipelineFor builds a Pipeline bound to collection's embedding model and
// BM25 index, sharing every other collaborator across collections.
func (e *Engine) pipelineFor(ctx context.Context, name string) (*pipeline.Pipeline, error) {
	col, err := e.collections.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	idx, err := e.bm25.get(name)
	if err != nil {
		return nil, err
	}
	embedder, err := e.embedders.Get(col.EmbeddingModelID)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Dependencies{
		Objects:  e.objects,
		Extract:  e.extract,
		Vectors:  e.vectors,
		BM25:     idx,
		Embedder: embedder,
		Sources:  e.sources,
		DataDir:  e.cfg.DataDir,
	}), nil
}

// indexParams fills zero fields of p with the engine's configured
// defaults (spec §6).
func (e *Engine) indexParams(p pipeline.Params) pipeline.Params {
	if p.ChunkSize <= 0 {
		p.ChunkSize = e.cfg.ChunkSize
	}
	if p.Overlap <= 0 {
		p.Overlap = e.cfg.ChunkOverlap
	}
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = e.cfg.MaxConcurrent
	}
	if p.BatchSize <= 0 {
		p.BatchSize = e.cfg.BatchSize
	}
	return p
}

// StartIndexing kicks off a process_bucket run for collection as a
// background job and returns its job_id immediately (spec §4.9/§4.10).
// A second call while a job for the same collection is already running
// returns that job's id instead of starting a duplicate (spec §4.10's
// at-most-one-per-tuple rule).
func (e *Engine) StartIndexing(ctx context.Context, collectionName string, params pipeline.Params) (string, error) {
	if _, err := e.collections.Get(ctx, collectionName); err != nil {
		return "", err
	}
	params = e.indexParams(params)

	work := func(workCtx context.Context, h *job.Handle) error {
		startedAt := timeNow()
		if e.metrics != nil {
			e.metrics.JobStarted("index")
		}

		p, err := e.pipelineFor(workCtx, collectionName)
		var report pipeline.Report
		if err == nil {
			report, err = p.ProcessBucket(workCtx, collectionName, params, h)
		}

		if e.metrics != nil {
			status := "completed"
			switch {
			case rerr.IsKind(err, rerr.KindCancelled):
				status = "cancelled"
			case err != nil:
				status = "failed"
			}
			e.metrics.JobFinished("index", status, timeNow().Sub(startedAt))
			e.metrics.RecordIndexing(collectionName, report.ChunksIndexed, len(report.Failed), report.Skipped)
		}
		return err
	}

	return e.jobs.Start(ctx, "index", collectionName, 0, work)
}

// IndexSource runs process_single synchronously for one already-fetched
// document (spec §4.9).
func (e *Engine) IndexSource(ctx context.Context, collectionName, sourceID string, data []byte, params pipeline.Params) (pipeline.PerFileReport, error) {
	params = e.indexParams(params)
	p, err := e.pipelineFor(ctx, collectionName)
	if err != nil {
		return pipeline.PerFileReport{}, err
	}
	return p.ProcessSingle(ctx, collectionName, sourceID, data, params)
}

// GetJob implements spec §6's get_job.
func (e *Engine) GetJob(jobID string) (job.Record, error) {
	return e.jobs.Status(jobID)
}

// CancelJob implements spec §6's cancel_job.
func (e *Engine) CancelJob(jobID string) (bool, error) {
	return e.jobs.Cancel(jobID)
}

// Close releases every collaborator the Engine owns.
func (e *Engine) Close() error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	record(e.collections.Close())
	record(e.sources.Close())
	record(e.jobs.Close())
	record(e.vectors.Close())
	record(e.rerankers.Close())
	return first
}
