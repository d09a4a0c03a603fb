package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, StrategyHybrid, cfg.RetrievalStrategy)
	assert.Equal(t, 512, cfg.ChunkSize)
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.Equal(t, 1.5, cfg.BM25K1)
	assert.Equal(t, 0.75, cfg.BM25B)
	assert.Equal(t, 20, cfg.RetrievalTopK)
	assert.Equal(t, 5, cfg.RerankerTopK)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "256")
	t.Setenv("RETRIEVAL_STRATEGY", "sparse")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.ChunkSize)
	assert.Equal(t, Strategy("sparse"), cfg.RetrievalStrategy)
}

func TestValidate_RejectsBadOverlap(t *testing.T) {
	cfg := Defaults()
	cfg.ChunkOverlap = cfg.ChunkSize
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, rerr.IsKind(err, rerr.KindConfigError))
}

func TestValidate_RejectsBadStrategy(t *testing.T) {
	cfg := Defaults()
	cfg.RetrievalStrategy = "quantum"
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, rerr.IsKind(err, rerr.KindConfigError))
}

func TestValidate_FillsZeroConcurrencyDefaults(t *testing.T) {
	cfg := Defaults()
	cfg.MaxConcurrent = 0
	cfg.BatchSize = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Defaults().MaxConcurrent, cfg.MaxConcurrent)
	assert.Equal(t, Defaults().BatchSize, cfg.BatchSize)
}
