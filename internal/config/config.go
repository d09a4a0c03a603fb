// Package config loads the configuration surface from spec §6: env vars,
// an optional YAML file, and defaults, layered with github.com/spf13/viper
// the way the HSn0918-rag example wires it (mapstructure tags, a Validate
// pass that fills defaults and rejects invalid combinations).
package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

// Strategy is the retrieval strategy selector (spec §4.8/§6).
type Strategy string

const (
	StrategyDense  Strategy = "dense"
	StrategySparse Strategy = "sparse"
	StrategyHybrid Strategy = "hybrid"
)

// Config is the full configuration surface for a process.
type Config struct {
	EmbeddingModel   string   `mapstructure:"embedding_model"`
	RerankerModel    string   `mapstructure:"reranker_model"`
	RetrievalStrategy Strategy `mapstructure:"retrieval_strategy"`

	BM25K1 float64 `mapstructure:"bm25_k1"`
	BM25B  float64 `mapstructure:"bm25_b"`

	// HybridAlpha is accepted for compatibility but ignored under RRF fusion
	// (spec §4.8/§9) — ALWAYS check FusionMode before using it.
	HybridAlpha float64 `mapstructure:"hybrid_alpha"`
	FusionMode  string  `mapstructure:"fusion_mode"`

	RetrievalTopK int `mapstructure:"retrieval_top_k"`
	RerankerTopK  int `mapstructure:"reranker_top_k"`

	ChunkBySection bool `mapstructure:"chunk_by_section"`
	ChunkSize      int  `mapstructure:"chunk_size"`
	ChunkOverlap   int  `mapstructure:"chunk_overlap"`

	MaxConcurrent int `mapstructure:"max_concurrent"`
	BatchSize     int `mapstructure:"batch_size"`

	DataDir string `mapstructure:"data_dir"`
}

// RRFConstant is the fixed k_rrf from spec §4.8; not configurable because
// the spec pins it.
const RRFConstant = 60

// Defaults returns the configuration defaults named throughout spec §4.
func Defaults() Config {
	return Config{
		RetrievalStrategy: StrategyHybrid,
		BM25K1:            1.5,
		BM25B:             0.75,
		HybridAlpha:       0.5,
		FusionMode:        "rrf",
		RetrievalTopK:     20,
		RerankerTopK:      5,
		ChunkBySection:    true,
		ChunkSize:         512,
		ChunkOverlap:      100,
		MaxConcurrent:     20,
		BatchSize:         500,
		DataDir:           "data",
	}
}

// Load builds a Config from, in increasing precedence: defaults, an
// optional YAML file at path (ignored if empty or missing), and
// environment variables prefixed nothing (spec §6 names them bare, e.g.
// EMBEDDING_MODEL).
func Load(path string) (*Config, error) {
	v := viper.New()

	d := Defaults()
	v.SetDefault("embedding_model", d.EmbeddingModel)
	v.SetDefault("reranker_model", d.RerankerModel)
	v.SetDefault("retrieval_strategy", string(d.RetrievalStrategy))
	v.SetDefault("bm25_k1", d.BM25K1)
	v.SetDefault("bm25_b", d.BM25B)
	v.SetDefault("hybrid_alpha", d.HybridAlpha)
	v.SetDefault("fusion_mode", d.FusionMode)
	v.SetDefault("retrieval_top_k", d.RetrievalTopK)
	v.SetDefault("reranker_top_k", d.RerankerTopK)
	v.SetDefault("chunk_by_section", d.ChunkBySection)
	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("chunk_overlap", d.ChunkOverlap)
	v.SetDefault("max_concurrent", d.MaxConcurrent)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("data_dir", d.DataDir)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, rerr.ConfigError("failed to read config file", err)
			}
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// spec §6 names env vars without a prefix (EMBEDDING_MODEL, not
	// RCP_EMBEDDING_MODEL); bind each key explicitly so viper's automatic
	// env lookup matches the bare names.
	for _, key := range []string{
		"embedding_model", "reranker_model", "retrieval_strategy",
		"bm25_k1", "bm25_b", "hybrid_alpha", "retrieval_top_k",
		"reranker_top_k", "chunk_by_section", "chunk_size", "chunk_overlap",
	} {
		_ = v.BindEnv(key, strings.ToUpper(key))
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, rerr.ConfigError("failed to decode configuration", err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects configuration combinations that cannot produce a
// working collection, per spec §7's ConfigError kind.
func (c *Config) Validate() error {
	switch c.RetrievalStrategy {
	case StrategyDense, StrategySparse, StrategyHybrid:
	default:
		return rerr.ConfigError("retrieval_strategy must be one of dense, sparse, hybrid", nil)
	}
	if c.ChunkSize <= 0 {
		return rerr.ConfigError("chunk_size must be positive", nil)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return rerr.ConfigError("chunk_overlap must be non-negative and smaller than chunk_size", nil)
	}
	if c.BM25K1 < 0 || c.BM25B < 0 || c.BM25B > 1 {
		return rerr.ConfigError("bm25_k1 must be >= 0 and bm25_b must be within [0,1]", nil)
	}
	if c.RetrievalTopK <= 0 || c.RerankerTopK <= 0 {
		return rerr.ConfigError("retrieval_top_k and reranker_top_k must be positive", nil)
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = Defaults().MaxConcurrent
	}
	if c.BatchSize <= 0 {
		c.BatchSize = Defaults().BatchSize
	}
	return nil
}
