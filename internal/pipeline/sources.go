// Package pipeline implements the indexing pipeline (spec §4.9, C9):
// bucket scan -> extract -> section -> chunk -> embed -> index, with
// resumability, bounded concurrency, and batched flushing. Grounded on
// the teacher's internal/index/runner.go (dependency-injected runner
// shape) and internal/scanner (streaming discovery).
package pipeline

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

// SourceTracker records which (collection, source_id) pairs have already
// been indexed, so a resumed run can skip them (spec §4.9's resume-safety
// rule). Deliberately kept separate from the vector store's chunk-id
// namespace: the spec's literal wording checks "the vector index's key
// presence", but chunk ids are content-addressed hashes with no
// recoverable relationship to source_id (internal/chunk.chunkID), and a
// sentinel entry keyed by source_id would appear in the vector store's
// ChunkIDs() with no BM25 counterpart, violating spec §8's invariant that
// the two chunk_id sets are always equal. Grounded on the teacher's
// internal/store/types.go, which already keeps File{ID, IndexedAt}
// separate from Chunk{ID, ...} for exactly this reason.
type SourceTracker struct {
	db *sql.DB
}

const sourceSchema = `
CREATE TABLE IF NOT EXISTS processed_sources (
	collection  TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	indexed_at  TEXT NOT NULL,
	PRIMARY KEY (collection, source_id)
);
`

// OpenSourceTracker opens (creating if absent) the sqlite database at path.
func OpenSourceTracker(path string) (*SourceTracker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, rerr.ExternalUnavailable("failed to open source tracker", err)
	}
	if _, err := db.Exec(sourceSchema); err != nil {
		db.Close()
		return nil, rerr.Internal("failed to migrate source tracker schema", err)
	}
	return &SourceTracker{db: db}, nil
}

// IsProcessed reports whether sourceID has already been indexed into
// collection.
func (s *SourceTracker) IsProcessed(ctx context.Context, collection, sourceID string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_sources WHERE collection = ? AND source_id = ?`,
		collection, sourceID)
	var dummy int
	switch err := row.Scan(&dummy); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, rerr.Internal("failed to query source tracker", err)
	}
}

// MarkProcessed records sourceID as indexed into collection. Safe to call
// more than once for the same pair.
func (s *SourceTracker) MarkProcessed(ctx context.Context, collection, sourceID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_sources (collection, source_id, indexed_at) VALUES (?, ?, ?)
		 ON CONFLICT (collection, source_id) DO UPDATE SET indexed_at = excluded.indexed_at`,
		collection, sourceID, timeNow().Format(sqliteTimeLayout))
	if err != nil {
		return rerr.Internal("failed to mark source processed", err)
	}
	return nil
}

// Unmark removes sourceID's processed record, used to retry a source
// whose flush failed partway (spec §4.9: a file only counts as processed
// once both C4 and C5 writes for it have succeeded).
func (s *SourceTracker) Unmark(ctx context.Context, collection, sourceID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_sources WHERE collection = ? AND source_id = ?`, collection, sourceID)
	if err != nil {
		return rerr.Internal("failed to unmark source", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SourceTracker) Close() error {
	return s.db.Close()
}

const sqliteTimeLayout = "2006-01-02T15:04:05.999999999Z07:00"
