package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCachedEmbedder wraps inner with a cross-process embedding cache,
// for when multiple rcpindex/rcp processes share the same model and want
// to avoid re-embedding identical text. Grounded on
// semaj90-mau5law's pkg/cache.RedisCache (Get/Set/Close over a
// *redis.Client, key = sha256(text, model)); unlike the in-process
// CachedEmbedder's LRU, entries expire by ttl rather than eviction since
// there's no per-process memory bound to enforce.
type RedisCachedEmbedder struct {
	inner  Embedder
	client *redis.Client
	ttl    time.Duration
}

const defaultRedisCacheTTL = 24 * time.Hour

// NewRedisCachedEmbedder connects to addr (a redis "host:port" or a full
// redis:// URL accepted by redis.ParseURL) and wraps inner. ttl <= 0 uses
// defaultRedisCacheTTL.
func NewRedisCachedEmbedder(inner Embedder, addr string, ttl time.Duration) (*RedisCachedEmbedder, error) {
	if ttl <= 0 {
		ttl = defaultRedisCacheTTL
	}
	opt, err := redis.ParseURL(addr)
	if err != nil {
		opt = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCachedEmbedder{inner: inner, client: client, ttl: ttl}, nil
}

func (c *RedisCachedEmbedder) ModelName() string { return c.inner.ModelName() }
func (c *RedisCachedEmbedder) Dimensions() int   { return c.inner.Dimensions() }

func (c *RedisCachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.ModelName()))
	return "rcpretrieval:embed:" + hex.EncodeToString(sum[:])
}

func (c *RedisCachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		return decodeVector(raw), nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = c.client.Set(ctx, key, encodeVector(vec), c.ttl).Err()
	return vec, nil
}

func (c *RedisCachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		raw, err := c.client.Get(ctx, c.cacheKey(text)).Bytes()
		if err != nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
			continue
		}
		results[i] = decodeVector(raw)
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
		_ = c.client.Set(ctx, c.cacheKey(texts[idx]), encodeVector(vecs[j]), c.ttl).Err()
	}
	return results, nil
}

// Close releases the underlying redis client.
func (c *RedisCachedEmbedder) Close() error {
	return c.client.Close()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

var _ Embedder = (*RedisCachedEmbedder)(nil)
