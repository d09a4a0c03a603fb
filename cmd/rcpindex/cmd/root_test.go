package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

func TestExitCodeFor_MapsErrorKindsToSpecCodes(t *testing.T) {
	// Given: one structured error per documented exit code
	cases := []struct {
		err  error
		want int
	}{
		{rerr.ConfigError("bad", nil), exitConfigError},
		{rerr.ExternalUnavailable("down", nil), exitIOError},
		{rerr.IndexCorrupt("bad crc", nil), exitIOError},
		{rerr.NotFound("missing", nil), exitIOError},
		{rerr.Cancelled("interrupted", nil), exitCancelled},
		{rerr.Internal("bug", nil), exitInternal},
		{assert.AnError, exitInternal},
	}

	// When/Then: exitCodeFor maps each to spec §6's exit code
	for _, c := range cases {
		assert.Equal(t, c.want, exitCodeFor(c.err))
	}
}

func TestCollectionLifecycle_CreateListDelete(t *testing.T) {
	// Given: an isolated data directory wired via DATA_DIR
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("OBJECT_STORE_ENDPOINT", "")
	t.Setenv("VECTOR_STORE_URL", "")

	createOut := &bytes.Buffer{}
	create := NewRootCmd()
	create.SetOut(createOut)
	create.SetArgs([]string{"collection", "create", "rcp-leaflets", "--embedding-model", "fake-embed", "--reranker-model", "fake-rerank"})

	// When: creating a collection
	require.NoError(t, create.Execute())

	// Then: it appears in the list
	listOut := &bytes.Buffer{}
	list := NewRootCmd()
	list.SetOut(listOut)
	list.SetArgs([]string{"collection", "list"})
	require.NoError(t, list.Execute())
	assert.Contains(t, strings.TrimSpace(listOut.String()), "rcp-leaflets")

	// When: deleting it
	del := NewRootCmd()
	del.SetOut(&bytes.Buffer{})
	del.SetArgs([]string{"collection", "delete", "rcp-leaflets"})
	require.NoError(t, del.Execute())

	// Then: it no longer appears in the list
	listOut2 := &bytes.Buffer{}
	list2 := NewRootCmd()
	list2.SetOut(listOut2)
	list2.SetArgs([]string{"collection", "list"})
	require.NoError(t, list2.Execute())
	assert.NotContains(t, listOut2.String(), "rcp-leaflets")
}

func TestJobStatus_UnknownJobIDIsNotFound(t *testing.T) {
	// Given: a fresh data directory with no jobs ever started
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("OBJECT_STORE_ENDPOINT", "")
	t.Setenv("VECTOR_STORE_URL", "")

	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"job", "status", "does-not-exist"})

	// When: querying an unknown job id
	err := root.Execute()

	// Then: it surfaces as NotFound, mapping to the I/O-error exit code
	require.Error(t, err)
	assert.Equal(t, exitIOError, exitCodeFor(err))
}

func TestQueryCmd_RequiresCollectionFlag(t *testing.T) {
	// Given: a query invocation missing --collection
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"query", "dosage"})

	// When/Then: cobra rejects it before any engine is built
	assert.Error(t, root.Execute())
}
