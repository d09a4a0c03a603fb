// Package rcp is the public Go API for the RCP retrieval core: query a
// collection (Retrieve), index a bucket or a single document
// (StartIndexing/IndexSource), and manage collections and background
// jobs. It wires together every internal component (C1-C10) behind the
// shape spec §6 describes as the module's external interface, following
// the teacher's pkg/indexer and pkg/searcher convention of a small,
// interface-first public surface over an internal implementation.
//
// # Usage
//
// Build an Engine once per process from its Deps (model factories,
// object store, data directory), then call Retrieve for queries and
// StartIndexing/GetJob/CancelJob for indexing:
//
//	engine := rcp.New(rcp.Deps{...})
//	defer engine.Close()
//
//	resp, err := engine.Retrieve(ctx, retrieval.Request{Query: "...", Collection: "rcp"})
//
//	jobID, err := engine.StartIndexing(ctx, "rcp", pipeline.Params{})
//	rec, err := engine.GetJob(jobID)
//
// # Thread Safety
//
// Engine is safe for concurrent use; every method may be called from
// multiple goroutines.
package rcp
