// Package collection implements the named Collection registry (spec §9/§6
// list_collections/delete_collection), binding each collection's BM25 and
// vector-store backends to a fixed embedding/reranker model pair and a
// tunable low-confidence threshold. Grounded on the teacher's
// internal/store/types.go MetadataStore shape (sqlite-backed key fields,
// Close lifecycle), adapted from per-file/chunk metadata to per-collection
// registry rows.
package collection

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

// LowConfidence holds the collection-tunable thresholds below which a
// retrieval result is flagged low_confidence (spec §9 Open Question 2).
type LowConfidence struct {
	// DenseSimilarityFloor is the minimum cosine similarity the top dense
	// hit must clear; defaults to 0.25 (spec §8 scenario 6).
	DenseSimilarityFloor float64
	// RerankScoreFloor is the minimum cross-encoder score the top reranked
	// hit must clear; defaults to 0 (non-positive logit-shaped scores are
	// treated as low confidence).
	RerankScoreFloor float64
}

// DefaultLowConfidence returns the spec's documented defaults.
func DefaultLowConfidence() LowConfidence {
	return LowConfidence{DenseSimilarityFloor: 0.25, RerankScoreFloor: 0}
}

// Collection is one named corpus: its bound models and chunking
// configuration, persisted so retrieval can reject a query against a
// collection built with an incompatible model (spec §4.6).
type Collection struct {
	Name              string
	EmbeddingModelID  string
	RerankerModelID   string
	ChunkBySection    bool
	LowConfidence     LowConfidence
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Registry persists the collection list in sqlite, mirroring the
// teacher's MetadataStore: one small schema, prepared at Open, closed
// explicitly by the caller.
type Registry struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name               TEXT PRIMARY KEY,
	embedding_model_id TEXT NOT NULL,
	reranker_model_id  TEXT NOT NULL,
	chunk_by_section   INTEGER NOT NULL DEFAULT 1,
	dense_sim_floor    REAL NOT NULL DEFAULT 0.25,
	rerank_score_floor REAL NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);
`

// Open opens (creating if absent) the sqlite database at path.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, rerr.ExternalUnavailable("failed to open collection registry", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, rerr.Internal("failed to migrate collection registry schema", err)
	}
	return &Registry{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Create inserts a new collection, rejecting a duplicate name as
// ConfigError.
func (r *Registry) Create(ctx context.Context, c Collection) error {
	if c.LowConfidence == (LowConfidence{}) {
		c.LowConfidence = DefaultLowConfidence()
	}
	now := c.CreatedAt
	if now.IsZero() {
		now = timeNow()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO collections
			(name, embedding_model_id, reranker_model_id, chunk_by_section, dense_sim_floor, rerank_score_floor, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.EmbeddingModelID, c.RerankerModelID, boolToInt(c.ChunkBySection),
		c.LowConfidence.DenseSimilarityFloor, c.LowConfidence.RerankScoreFloor,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return rerr.ConfigError("collection already exists or is invalid", err)
	}
	return nil
}

// Get looks up a collection by name.
func (r *Registry) Get(ctx context.Context, name string) (*Collection, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT name, embedding_model_id, reranker_model_id, chunk_by_section, dense_sim_floor, rerank_score_floor, created_at, updated_at
		FROM collections WHERE name = ?`, name)

	var c Collection
	var chunkBySection int
	var createdAt, updatedAt string
	if err := row.Scan(&c.Name, &c.EmbeddingModelID, &c.RerankerModelID, &chunkBySection,
		&c.LowConfidence.DenseSimilarityFloor, &c.LowConfidence.RerankScoreFloor, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, rerr.NotFound("collection not found", err)
		}
		return nil, rerr.Internal("failed to read collection", err)
	}
	c.ChunkBySection = chunkBySection != 0
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &c, nil
}

// List implements spec §6's list_collections.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, rerr.Internal("failed to list collections", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, rerr.Internal("failed to scan collection row", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete implements spec §6's delete_collection. Callers are responsible
// for also dropping the collection's BM25 file and vector-store
// collection; Registry only tracks the binding row.
func (r *Registry) Delete(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return rerr.Internal("failed to delete collection", err)
	}
	return nil
}

// CheckModelBinding rejects a query against a collection built with an
// incompatible embedding model (spec §4.6).
func (c *Collection) CheckModelBinding(embeddingModelID string) error {
	if embeddingModelID != "" && embeddingModelID != c.EmbeddingModelID {
		return rerr.ConfigError("query embedding model does not match the collection's bound model", nil).
			WithDetail("collection", c.Name).
			WithDetail("bound_model", c.EmbeddingModelID).
			WithDetail("requested_model", embeddingModelID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeNow is a seam so tests can stamp deterministic timestamps without
// reaching for a live clock inside Create.
var timeNow = time.Now
