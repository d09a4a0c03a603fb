// Package vectorstore implements the vector store collaborator (spec §6,
// C5): a pluggable ANN index behind one interface, with an embedded
// backend (coder/hnsw, grounded on the teacher's internal/store/hnsw.go)
// and an external backend (Qdrant, grounded on Guru2308-rag-code's
// internal/vectorstore/qdrant.go).
package vectorstore

import (
	"context"
	"strconv"
)

// Candidate is one vector to upsert, paired with its chunk metadata.
type Candidate struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
	Text     string
}

// Match is one result of a Query call.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]string
	Text     string
}

// Store is the external vector store interface the retrieval core
// consumes: spec §6's upsert/query/exists/list_collections/delete_collection,
// plus Get, ChunkIDs and Close.
type Store interface {
	Upsert(ctx context.Context, collection string, candidates []Candidate) error
	Query(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error)
	Get(ctx context.Context, collection, id string) (Match, bool, error)
	Exists(ctx context.Context, collection, id string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, collection string) error
	ChunkIDs(ctx context.Context, collection string) ([]string, error)
	Close() error
}

// ErrDimensionMismatch reports a vector whose length disagrees with the
// collection's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return "vectorstore: dimension mismatch: expected " +
		strconv.Itoa(e.Expected) + ", got " + strconv.Itoa(e.Got)
}
