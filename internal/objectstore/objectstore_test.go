package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

func TestMemory_PutListGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Put("source-b", []byte("beta"))
	m.Put("source-a", []byte("alpha"))

	ids, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"source-a", "source-b"}, ids)

	data, err := m.Get(ctx, "source-a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))
}

func TestMemory_GetMissingReturnsNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, rerr.IsKind(err, rerr.KindNotFound))
}

func TestMemory_PutOverwritesAndIsolatesCaller(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("v1")
	m.Put("source-a", buf)
	buf[0] = 'X'

	data, err := m.Get(ctx, "source-a")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	m.Put("source-a", []byte("v2"))
	data, err = m.Get(ctx, "source-a")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}
