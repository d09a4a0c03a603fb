package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceTracker_MarkAndCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.db")
	tr, err := OpenSourceTracker(path)
	require.NoError(t, err)
	defer tr.Close()

	ctx := context.Background()
	ok, err := tr.IsProcessed(ctx, "rcp", "f1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tr.MarkProcessed(ctx, "rcp", "f1"))

	ok, err = tr.IsProcessed(ctx, "rcp", "f1")
	require.NoError(t, err)
	assert.True(t, ok)

	// a different collection sees the same source_id as unprocessed.
	ok, err = tr.IsProcessed(ctx, "other", "f1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSourceTracker_Unmark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.db")
	tr, err := OpenSourceTracker(path)
	require.NoError(t, err)
	defer tr.Close()

	ctx := context.Background()
	require.NoError(t, tr.MarkProcessed(ctx, "rcp", "f1"))
	require.NoError(t, tr.Unmark(ctx, "rcp", "f1"))

	ok, err := tr.IsProcessed(ctx, "rcp", "f1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSourceTracker_MarkProcessedIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.db")
	tr, err := OpenSourceTracker(path)
	require.NoError(t, err)
	defer tr.Close()

	ctx := context.Background()
	require.NoError(t, tr.MarkProcessed(ctx, "rcp", "f1"))
	require.NoError(t, tr.MarkProcessed(ctx, "rcp", "f1"))

	ok, err := tr.IsProcessed(ctx, "rcp", "f1")
	require.NoError(t, err)
	assert.True(t, ok)
}
