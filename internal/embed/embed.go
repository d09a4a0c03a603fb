// Package embed implements the bi-encoder embedding service (spec §4.6,
// C6): an HTTP-backed embedder with a process-wide model cache keyed by
// model id, an LRU query-result cache, and an optional cross-process Redis
// tier. Grounded on the teacher's internal/embed package: ollama.go's
// HTTP-client shape (pooled transport, per-request context timeout),
// cached.go's LRU wrapper, and factory.go's cache-by-model-id pattern.
package embed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

// Embedder produces dense vectors for text. Vectors are returned as the
// model produces them; no implementation here normalizes them to unit
// length.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
	Dimensions() int
}

// Config configures an HTTP bi-encoder client.
type Config struct {
	Host       string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
}

const defaultBatchTokenBudget = 8000

// HTTPEmbedder calls an external embedding endpoint (e.g. an Ollama/vLLM
// style server) over HTTP, batching requests under a token budget computed
// with tiktoken-go so a single call never exceeds the server's context
// window.
type HTTPEmbedder struct {
	client *http.Client
	cfg    Config
	enc    *tiktoken.Tiktoken
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder builds an embedder against cfg.Host. A pooled transport
// is reused across requests the way the teacher's OllamaEmbedder does.
func NewHTTPEmbedder(cfg Config) (*HTTPEmbedder, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, rerr.Internal("failed to load tokenizer for batch sizing", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     10 * time.Second,
	}
	return &HTTPEmbedder{
		client: &http.Client{Transport: transport},
		cfg:    cfg,
		enc:    enc,
	}, nil
}

func (e *HTTPEmbedder) ModelName() string { return e.cfg.Model }
func (e *HTTPEmbedder) Dimensions() int   { return e.cfg.Dimensions }

// Embed embeds a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts, splitting into sub-batches so no request exceeds
// cfg.BatchSize items or the token budget, whichever binds first.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for _, batch := range e.splitBatches(texts) {
		vecs, err := e.embedRequest(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *HTTPEmbedder) splitBatches(texts []string) [][]string {
	var batches [][]string
	var current []string
	tokenCount := 0

	for _, t := range texts {
		tc := len(e.enc.Encode(t, nil, nil))
		if len(current) >= e.cfg.BatchSize || (tokenCount+tc > defaultBatchTokenBudget && len(current) > 0) {
			batches = append(batches, current)
			current = nil
			tokenCount = 0
		}
		current = append(current, t)
		tokenCount += tc
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

type embedRequestBody struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponseBody struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *HTTPEmbedder) embedRequest(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(embedRequestBody{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, rerr.Internal("failed to encode embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, rerr.Internal("failed to build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rerr.Timeout("embedding request timed out", err)
		}
		return nil, rerr.ExternalUnavailable("embedding service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, rerr.ExternalUnavailable(fmt.Sprintf("embedding service returned %d: %s", resp.StatusCode, data), nil)
	}

	var parsed embedResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, rerr.ExternalUnavailable("failed to decode embedding response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, rerr.Internal("embedding service returned mismatched batch size", nil)
	}
	return parsed.Embeddings, nil
}

// CachedEmbedder wraps an Embedder with an in-process LRU cache keyed by a
// SHA-256 of (text, model), identical in shape to the teacher's
// CachedEmbedder.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

const defaultCacheSize = 1000

// NewCachedEmbedder wraps inner with an LRU cache of cacheSize entries.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }
func (c *CachedEmbedder) Dimensions() int   { return c.inner.Dimensions() }

// Embed returns the cached embedding if present, else computes and caches.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch checks the cache per-text, embedding only the misses.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = vecs[j]
		c.cache.Add(c.cacheKey(texts[idx]), vecs[j])
	}
	return results, nil
}

var _ Embedder = (*CachedEmbedder)(nil)

// ModelCache is the process-wide singleton registry of loaded embedders,
// keyed by model id, per spec §5/§9: lazy init, no eviction, teardown only
// at process shutdown.
type ModelCache struct {
	mu       sync.Mutex
	embedders map[string]Embedder
	factory  func(modelID string) (Embedder, error)
}

// NewModelCache creates an empty cache that builds embedders with factory
// on first use.
func NewModelCache(factory func(modelID string) (Embedder, error)) *ModelCache {
	return &ModelCache{embedders: make(map[string]Embedder), factory: factory}
}

// Get returns the cached embedder for modelID, constructing and wrapping
// it with an LRU cache on first use.
func (c *ModelCache) Get(modelID string) (Embedder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.embedders[modelID]; ok {
		return e, nil
	}
	e, err := c.factory(modelID)
	if err != nil {
		return nil, err
	}
	cached := NewCachedEmbedder(e, defaultCacheSize)
	c.embedders[modelID] = cached
	return cached, nil
}
