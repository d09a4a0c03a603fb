// Package rerank implements the cross-encoder reranking stage (spec §4.7,
// C7): a cached model loader and an HTTP cross-encoder client that batches
// query/document pairs under a token budget, grounded on the teacher's
// internal/search package (Reranker interface + NoOpReranker in
// reranker.go, MLXReranker's HTTP client shape and batching concerns in
// mlx_reranker.go).
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

// Result is a single scored document, index-tagged to the caller's
// original ordering so results can be reordered after a batched call.
type Result struct {
	Index    int
	Score    float64
	Document string
}

// Reranker scores query/document pairs with a cross-encoder and returns
// results sorted by score descending.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error)
	Available(ctx context.Context) bool
	Close() error
}

// NoOp returns documents in their original order with decreasing scores,
// used when reranking is disabled or the cross-encoder is unavailable.
type NoOp struct{}

func (NoOp) Rerank(_ context.Context, _ string, documents []string, topK int) ([]Result, error) {
	out := make([]Result, len(documents))
	for i, doc := range documents {
		out[i] = Result{Index: i, Score: 1.0 - float64(i)*0.01, Document: doc}
	}
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

func (NoOp) Available(context.Context) bool { return true }
func (NoOp) Close() error                    { return nil }

var _ Reranker = NoOp{}

// Config configures an HTTP cross-encoder client.
type Config struct {
	Endpoint  string
	Model     string
	Timeout   time.Duration
	BatchSize int
}

const (
	defaultTimeout          = 30 * time.Second
	defaultBatchSize        = 50
	defaultRerankTokenBudget = 4000
)

// CrossEncoder calls an external cross-encoder reranking endpoint over
// HTTP, splitting documents into sub-batches so no request's query+document
// pairs exceed the configured token budget (tiktoken-go, cl100k_base),
// mirroring the teacher's MLXReranker request/response shape.
type CrossEncoder struct {
	client *http.Client
	cfg    Config
	enc    *tiktoken.Tiktoken

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*CrossEncoder)(nil)

// NewCrossEncoder builds a cross-encoder client against cfg.Endpoint.
func NewCrossEncoder(cfg Config) (*CrossEncoder, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, rerr.Internal("failed to load tokenizer for rerank batch sizing", err)
	}

	return &CrossEncoder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		cfg: cfg,
		enc: enc,
	}, nil
}

type rerankRequestBody struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponseBody struct {
	Results []struct {
		Index    int     `json:"index"`
		Score    float64 `json:"score"`
		Document string  `json:"document"`
	} `json:"results"`
}

// Rerank scores documents against query, batching under the token budget
// and merging sub-batch results back into original-index order, then
// sorting the merged set by score descending.
func (c *CrossEncoder) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, rerr.Internal("reranker is closed", nil)
	}
	c.mu.RUnlock()

	if len(documents) == 0 {
		return []Result{}, nil
	}

	queryTokens := len(c.enc.Encode(query, nil, nil))
	var all []Result

	for _, batch := range c.splitBatches(documents, queryTokens) {
		scored, err := c.rerankRequest(ctx, query, batch.docs)
		if err != nil {
			return nil, err
		}
		for _, r := range scored {
			all = append(all, Result{
				Index:    batch.offset + r.Index,
				Score:    r.Score,
				Document: r.Document,
			})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if topK > 0 && topK < len(all) {
		all = all[:topK]
	}
	return all, nil
}

type docBatch struct {
	docs   []string
	offset int
}

func (c *CrossEncoder) splitBatches(documents []string, queryTokens int) []docBatch {
	var batches []docBatch
	var current []string
	start := 0
	tokenCount := queryTokens

	for i, d := range documents {
		tc := len(c.enc.Encode(d, nil, nil))
		if len(current) >= c.cfg.BatchSize || (tokenCount+tc > defaultRerankTokenBudget && len(current) > 0) {
			batches = append(batches, docBatch{docs: current, offset: start})
			start = i
			current = nil
			tokenCount = queryTokens
		}
		current = append(current, d)
		tokenCount += tc
	}
	if len(current) > 0 {
		batches = append(batches, docBatch{docs: current, offset: start})
	}
	return batches
}

func (c *CrossEncoder) rerankRequest(ctx context.Context, query string, documents []string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(rerankRequestBody{Query: query, Documents: documents, Model: c.cfg.Model})
	if err != nil {
		return nil, rerr.Internal("failed to encode rerank request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, rerr.Internal("failed to build rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rerr.Timeout("rerank request timed out", err)
		}
		return nil, rerr.ExternalUnavailable("reranker service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, rerr.ExternalUnavailable(fmt.Sprintf("reranker returned %d: %s", resp.StatusCode, data), nil)
	}

	var parsed rerankResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, rerr.ExternalUnavailable("failed to decode rerank response", err)
	}

	out := make([]Result, len(parsed.Results))
	for i, r := range parsed.Results {
		out[i] = Result{Index: r.Index, Score: r.Score, Document: r.Document}
	}
	return out, nil
}

// Available probes the cross-encoder's health endpoint.
func (c *CrossEncoder) Available(ctx context.Context) bool {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases the client's pooled connections.
func (c *CrossEncoder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if transport, ok := c.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

// ModelCache is the process-wide singleton registry of loaded rerankers,
// keyed by model id, mirroring embed.ModelCache's lazy-init/no-eviction
// contract for the cross-encoder's heavier load cost.
type ModelCache struct {
	mu        sync.Mutex
	rerankers map[string]Reranker
	factory   func(modelID string) (Reranker, error)
}

// NewModelCache creates an empty cache that builds rerankers with factory
// on first use.
func NewModelCache(factory func(modelID string) (Reranker, error)) *ModelCache {
	return &ModelCache{rerankers: make(map[string]Reranker), factory: factory}
}

// Get returns the cached reranker for modelID, constructing it on first
// use.
func (c *ModelCache) Get(modelID string) (Reranker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.rerankers[modelID]; ok {
		return r, nil
	}
	r, err := c.factory(modelID)
	if err != nil {
		return nil, err
	}
	c.rerankers[modelID] = r
	return r, nil
}

// Close tears down every cached reranker, for use at process shutdown.
func (c *ModelCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.rerankers {
		if err := r.Close(); err != nil {
			return err
		}
	}
	return nil
}
