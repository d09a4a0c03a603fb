package embed

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCachedEmbedder(t *testing.T, inner Embedder) (*RedisCachedEmbedder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCachedEmbedder(inner, "redis://"+mr.Addr(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCachedEmbedder_CachesAcrossInstances(t *testing.T) {
	inner := &fakeEmbedder{model: "m1"}
	c, mr := setupRedisCachedEmbedder(t, inner)

	_, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	// A second embedder sharing the same redis instance (and model) must
	// hit the cache rather than the wrapped inner embedder.
	other := &fakeEmbedder{model: "m1"}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c2 := &RedisCachedEmbedder{inner: other, client: client, ttl: defaultRedisCacheTTL}

	_, err = c2.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 0, other.calls)
}

func TestRedisCachedEmbedder_DifferentModelsDoNotShareCache(t *testing.T) {
	inner := &fakeEmbedder{model: "m1"}
	c, mr := setupRedisCachedEmbedder(t, inner)

	_, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)

	other := &fakeEmbedder{model: "m2"}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c2 := &RedisCachedEmbedder{inner: other, client: client, ttl: defaultRedisCacheTTL}

	_, err = c2.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, other.calls)
}

func TestRedisCachedEmbedder_EmbedBatchOnlyEmbedsMisses(t *testing.T) {
	inner := &fakeEmbedder{model: "m1"}
	c, _ := setupRedisCachedEmbedder(t, inner)

	_, err := c.Embed(context.Background(), "a")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, 2, inner.calls)
}

func TestRedisCachedEmbedder_NewFailsWhenUnreachable(t *testing.T) {
	_, err := NewRedisCachedEmbedder(&fakeEmbedder{}, "redis://127.0.0.1:1", 0)
	assert.Error(t, err)
}

func TestEncodeDecodeVector_RoundTrips(t *testing.T) {
	vec := []float32{1.5, -2.25, 0, 3.125}
	assert.Equal(t, vec, decodeVector(encodeVector(vec)))
}
