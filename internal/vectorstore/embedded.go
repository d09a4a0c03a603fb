package vectorstore

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

// EmbeddedConfig configures a per-collection HNSW graph.
type EmbeddedConfig struct {
	Dimensions int
	M          int
	EfSearch   int
}

type embeddedCollection struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[uint64]
	config   EmbeddedConfig
	idMap    map[string]uint64
	keyMap   map[uint64]string
	meta     map[string]map[string]string
	text     map[string]string
	nextKey  uint64
}

type embeddedMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  EmbeddedConfig
	Meta    map[string]map[string]string
	Text    map[string]string
}

// Embedded is an in-process vector store backed by github.com/coder/hnsw,
// one graph per collection, grounded on the teacher's HNSWStore (lazy
// deletion, cosine normalization, gob-encoded metadata sidecar, atomic
// temp-then-rename persistence).
type Embedded struct {
	dataDir string

	mu          sync.RWMutex
	collections map[string]*embeddedCollection
}

// NewEmbedded opens (or lazily creates) a directory of per-collection HNSW
// graphs under dataDir.
func NewEmbedded(dataDir string) *Embedded {
	return &Embedded{dataDir: dataDir, collections: make(map[string]*embeddedCollection)}
}

func (e *Embedded) collectionFor(name string, dimensions int) *embeddedCollection {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.collections[name]; ok {
		return c
	}

	c := newEmbeddedCollection(EmbeddedConfig{Dimensions: dimensions, M: 16, EfSearch: 20})
	// A missing or unreadable snapshot just means a fresh collection.
	_ = e.loadCollection(name, c)
	e.collections[name] = c
	return c
}

func newEmbeddedCollection(cfg EmbeddedConfig) *embeddedCollection {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &embeddedCollection{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		meta:   make(map[string]map[string]string),
		text:   make(map[string]string),
	}
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(1 / math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * norm
	}
	return out
}

// Upsert implements Store.
func (e *Embedded) Upsert(ctx context.Context, collection string, candidates []Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	dims := len(candidates[0].Vector)
	c := e.collectionFor(collection, dims)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cand := range candidates {
		if len(cand.Vector) != c.config.Dimensions {
			return ErrDimensionMismatch{Expected: c.config.Dimensions, Got: len(cand.Vector)}
		}
		if existingKey, exists := c.idMap[cand.ID]; exists {
			delete(c.keyMap, existingKey)
			delete(c.idMap, cand.ID)
		}
		key := c.nextKey
		c.nextKey++
		vec := normalize(cand.Vector)
		c.graph.Add(hnsw.MakeNode(key, vec))
		c.idMap[cand.ID] = key
		c.keyMap[key] = cand.ID
		c.meta[cand.ID] = cand.Metadata
		c.text[cand.ID] = cand.Text
	}
	return nil
}

// Query implements Store.
func (e *Embedded) Query(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error) {
	c := e.collectionFor(collection, len(vector))

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(vector) != c.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: c.config.Dimensions, Got: len(vector)}
	}
	if c.graph.Len() == 0 {
		return nil, nil
	}

	q := normalize(vector)
	nodes := c.graph.Search(q, topK)

	out := make([]Match, 0, len(nodes))
	for _, node := range nodes {
		id, ok := c.keyMap[node.Key]
		if !ok {
			continue
		}
		distance := c.graph.Distance(q, node.Value)
		out = append(out, Match{
			ID:       id,
			Score:    1 - distance, // cosine distance -> similarity
			Metadata: c.meta[id],
			Text:     c.text[id],
		})
	}
	return out, nil
}

// Get implements Store, fetching a single chunk's text and metadata by id
// without an ANN search, used to resolve sparse-only candidates against
// the vector index's authoritative chunk text (spec §4.8).
func (e *Embedded) Get(ctx context.Context, collection, id string) (Match, bool, error) {
	c := e.collectionFor(collection, 0)
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.idMap[id]; !ok {
		return Match{}, false, nil
	}
	return Match{ID: id, Metadata: c.meta[id], Text: c.text[id]}, true, nil
}

// Exists implements Store.
func (e *Embedded) Exists(ctx context.Context, collection, id string) (bool, error) {
	c := e.collectionFor(collection, 0)
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.idMap[id]
	return ok, nil
}

// ListCollections implements Store.
func (e *Embedded) ListCollections(ctx context.Context) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.collections))
	for name := range e.collections {
		out = append(out, name)
	}
	return out, nil
}

// DeleteCollection implements Store.
func (e *Embedded) DeleteCollection(ctx context.Context, collection string) error {
	e.mu.Lock()
	delete(e.collections, collection)
	e.mu.Unlock()

	if e.dataDir == "" {
		return nil
	}
	path := e.collectionPath(collection)
	_ = os.Remove(path)
	_ = os.Remove(path + ".meta")
	return nil
}

// ChunkIDs implements Store.
func (e *Embedded) ChunkIDs(ctx context.Context, collection string) ([]string, error) {
	c := e.collectionFor(collection, 0)
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.idMap))
	for id := range c.idMap {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close persists every open collection before releasing resources.
func (e *Embedded) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataDir == "" {
		return nil
	}
	for name, c := range e.collections {
		if err := e.saveCollection(name, c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Embedded) collectionPath(name string) string {
	return filepath.Join(e.dataDir, "vector_index_"+name+".hnsw")
}

// saveCollection persists a collection's graph and metadata with the
// teacher's temp-then-rename scheme.
func (e *Embedded) saveCollection(name string, c *embeddedCollection) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(e.dataDir, 0o755); err != nil {
		return rerr.ExternalUnavailable("failed to create vector data directory", err)
	}

	path := e.collectionPath(name)
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return rerr.ExternalUnavailable("failed to create hnsw temp file", err)
	}
	if err := c.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return rerr.Internal("failed to export hnsw graph", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return rerr.ExternalUnavailable("failed to close hnsw temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return rerr.ExternalUnavailable("failed to rename hnsw index file", err)
	}

	return e.saveMetadata(path+".meta", c)
}

func (e *Embedded) saveMetadata(path string, c *embeddedCollection) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return rerr.ExternalUnavailable("failed to create hnsw metadata temp file", err)
	}

	meta := embeddedMetadata{
		IDMap:   c.idMap,
		NextKey: c.nextKey,
		Config:  c.config,
		Meta:    c.meta,
		Text:    c.text,
	}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return rerr.Internal("failed to encode hnsw metadata", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return rerr.ExternalUnavailable("failed to close hnsw metadata temp file", err)
	}
	return os.Rename(tmpPath, path)
}

func (e *Embedded) loadCollection(name string, c *embeddedCollection) error {
	path := e.collectionPath(name)
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return err
	}
	defer metaFile.Close()

	var meta embeddedMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := c.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import hnsw graph: %w", err)
	}

	c.idMap = meta.IDMap
	c.nextKey = meta.NextKey
	c.config = meta.Config
	c.meta = meta.Meta
	c.text = meta.Text
	c.keyMap = make(map[uint64]string, len(c.idMap))
	for id, key := range c.idMap {
		c.keyMap[key] = id
	}
	return nil
}

var _ Store = (*Embedded)(nil)
