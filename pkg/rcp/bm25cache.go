package rcp

import (
	"sync"

	"github.com/Aman-CERP/rcpretrieval/internal/bm25store"
	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

// bm25Cache holds the one *bm25store.Index per collection that every
// retrieve()/index call shares within a process, loading it from
// dataDir on first use and creating an empty index if none is
// persisted yet.
type bm25Cache struct {
	mu      sync.Mutex
	dataDir string
	k1, b   float64
	indices map[string]*bm25store.Index
}

func newBM25Cache(dataDir string, k1, b float64) *bm25Cache {
	return &bm25Cache{dataDir: dataDir, k1: k1, b: b, indices: make(map[string]*bm25store.Index)}
}

// get returns the cached index for collection, loading it from disk (or
// creating an empty one) on first access. A corrupt on-disk index is
// treated the same as a missing one: Load already reports IndexCorrupt
// as a signal to rebuild, so the supplemented recovery behavior here is
// simply to start over with an empty index rather than fail the call.
func (c *bm25Cache) get(collection string) (*bm25store.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.indices[collection]; ok {
		return idx, nil
	}

	idx, err := bm25store.Load(c.dataDir, collection)
	switch {
	case err == nil:
		c.indices[collection] = idx
		return idx, nil
	case rerr.IsKind(err, rerr.KindNotFound), rerr.IsKind(err, rerr.KindIndexCorrupt):
		idx = bm25store.New(c.k1, c.b)
		c.indices[collection] = idx
		return idx, nil
	default:
		return nil, err
	}
}

// forget drops collection's cached index, used when a collection is
// deleted so a later recreate doesn't see its predecessor's documents.
func (c *bm25Cache) forget(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.indices, collection)
}
