package collection

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collections.db")
	r, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistry_CreateGet(t *testing.T) {
	ctx := context.Background()
	r := openTestRegistry(t)

	err := r.Create(ctx, Collection{Name: "rcp-ro", EmbeddingModelID: "bi-encoder-v1", RerankerModelID: "cross-encoder-v1"})
	require.NoError(t, err)

	got, err := r.Get(ctx, "rcp-ro")
	require.NoError(t, err)
	assert.Equal(t, "bi-encoder-v1", got.EmbeddingModelID)
	assert.Equal(t, DefaultLowConfidence(), got.LowConfidence)
}

func TestRegistry_CreateDuplicateFails(t *testing.T) {
	ctx := context.Background()
	r := openTestRegistry(t)

	require.NoError(t, r.Create(ctx, Collection{Name: "dup", EmbeddingModelID: "m1", RerankerModelID: "r1"}))
	err := r.Create(ctx, Collection{Name: "dup", EmbeddingModelID: "m1", RerankerModelID: "r1"})
	assert.True(t, rerr.IsKind(err, rerr.KindConfigError))
}

func TestRegistry_GetMissingReturnsNotFound(t *testing.T) {
	r := openTestRegistry(t)
	_, err := r.Get(context.Background(), "missing")
	assert.True(t, rerr.IsKind(err, rerr.KindNotFound))
}

func TestRegistry_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	r := openTestRegistry(t)

	require.NoError(t, r.Create(ctx, Collection{Name: "b", EmbeddingModelID: "m1", RerankerModelID: "r1"}))
	require.NoError(t, r.Create(ctx, Collection{Name: "a", EmbeddingModelID: "m1", RerankerModelID: "r1"}))

	names, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, r.Delete(ctx, "a"))
	names, err = r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}

func TestCollection_CheckModelBinding(t *testing.T) {
	c := Collection{Name: "rcp", EmbeddingModelID: "bi-encoder-v1"}

	assert.NoError(t, c.CheckModelBinding("bi-encoder-v1"))
	assert.NoError(t, c.CheckModelBinding(""))

	err := c.CheckModelBinding("bi-encoder-v2")
	assert.True(t, rerr.IsKind(err, rerr.KindConfigError))
}
