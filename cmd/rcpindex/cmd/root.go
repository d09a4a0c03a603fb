// Package cmd provides the CLI commands for rcpindex.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/rcpretrieval/internal/collection"
	"github.com/Aman-CERP/rcpretrieval/internal/config"
	"github.com/Aman-CERP/rcpretrieval/internal/embed"
	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
	"github.com/Aman-CERP/rcpretrieval/internal/extract"
	"github.com/Aman-CERP/rcpretrieval/internal/job"
	"github.com/Aman-CERP/rcpretrieval/internal/logging"
	"github.com/Aman-CERP/rcpretrieval/internal/objectstore"
	"github.com/Aman-CERP/rcpretrieval/internal/pipeline"
	"github.com/Aman-CERP/rcpretrieval/internal/rerank"
	"github.com/Aman-CERP/rcpretrieval/internal/telemetry"
	"github.com/Aman-CERP/rcpretrieval/internal/vectorstore"
	"github.com/Aman-CERP/rcpretrieval/pkg/rcp"
)

var (
	cfgFile string
	noTTY   bool
)

// Exit codes per spec §6.
const (
	exitOK          = 0
	exitConfigError = 2
	exitIOError     = 3
	exitCancelled   = 4
	exitInternal    = 5
)

// NewRootCmd builds the rcpindex root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rcpindex",
		Short:         "Index and query drug package leaflets with hybrid BM25 + vector retrieval",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVar(&noTTY, "no-progress", false, "disable progress output (auto-detected when not a TTY)")

	root.AddCommand(newCollectionCmd())
	root.AddCommand(newIndexCmd())
	root.AddCommand(newQueryCmd())
	root.AddCommand(newJobCmd())

	return root
}

// Execute runs the root command and returns a process exit code, mapping
// structured errors to spec §6's exit codes rather than always exiting 1.
func Execute() int {
	logging.Setup(logging.DefaultConfig())

	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCodeFor(err)
	}
	return exitOK
}

func exitCodeFor(err error) int {
	switch {
	case rerr.IsKind(err, rerr.KindConfigError):
		return exitConfigError
	case rerr.IsKind(err, rerr.KindExternalUnavailable), rerr.IsKind(err, rerr.KindIndexCorrupt), rerr.IsKind(err, rerr.KindNotFound):
		return exitIOError
	case rerr.IsKind(err, rerr.KindCancelled):
		return exitCancelled
	default:
		return exitInternal
	}
}

// progressEnabled reports whether stdout is a TTY and --no-progress wasn't
// passed, the same detection the teacher's ui package performs.
func progressEnabled() bool {
	return !noTTY && isatty.IsTerminal(os.Stdout.Fd())
}

// buildEngine wires an *rcp.Engine from config and the environment-provided
// external collaborator endpoints (spec §6's object/vector store are
// deployment details, not part of the documented configuration surface, so
// they're read directly from the environment here rather than modeled in
// internal/config).
func buildEngine(cfg *config.Config) (*rcp.Engine, error) {
	dataDir := cfg.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, rerr.ConfigError("failed to create data directory", err)
	}

	collections, err := collection.Open(filepath.Join(dataDir, "collections.db"))
	if err != nil {
		return nil, rerr.Wrap(rerr.KindExternalUnavailable, err)
	}

	sources, err := pipeline.OpenSourceTracker(filepath.Join(dataDir, "sources.db"))
	if err != nil {
		return nil, rerr.Wrap(rerr.KindExternalUnavailable, err)
	}

	jobs, err := job.Open(filepath.Join(dataDir, "jobs.db"))
	if err != nil {
		return nil, rerr.Wrap(rerr.KindExternalUnavailable, err)
	}
	if redisURL := os.Getenv("REDIS_JOB_CHANNEL_URL"); redisURL != "" {
		if pub, err := job.NewPublisher(redisURL, ""); err != nil {
			slog.Warn("job event publisher unavailable, continuing without it", slog.String("error", err.Error()))
		} else {
			jobs.SetPublisher(pub)
		}
	}

	objects, err := buildObjectStore()
	if err != nil {
		return nil, err
	}

	vectors, err := buildVectorStore()
	if err != nil {
		return nil, err
	}

	extractFn := extract.Identity
	if os.Getenv("RCP_EXTRACT") == "unavailable" {
		extractFn = extract.Unavailable
	}

	engine := rcp.New(rcp.Deps{
		Config:          *cfg,
		Collections:     collections,
		Objects:         objects,
		Extract:         extractFn,
		Vectors:         vectors,
		Jobs:            jobs,
		Sources:         sources,
		EmbedderFactory: embedderFactory,
		RerankerFactory: rerankerFactory,
		Metrics:         telemetry.New(),
	})
	return engine, nil
}

func buildObjectStore() (objectstore.Store, error) {
	endpoint := os.Getenv("OBJECT_STORE_ENDPOINT")
	if endpoint == "" {
		slog.Debug("OBJECT_STORE_ENDPOINT unset, using an in-memory object store")
		return objectstore.NewMemory(), nil
	}
	useSSL, _ := strconv.ParseBool(os.Getenv("OBJECT_STORE_USE_SSL"))
	store, err := objectstore.NewMinIO(context.Background(), objectstore.Config{
		Endpoint:        endpoint,
		AccessKeyID:     os.Getenv("OBJECT_STORE_ACCESS_KEY"),
		SecretAccessKey: os.Getenv("OBJECT_STORE_SECRET_KEY"),
		Bucket:          os.Getenv("OBJECT_STORE_BUCKET"),
		UseSSL:          useSSL,
	})
	if err != nil {
		return nil, rerr.Wrap(rerr.KindExternalUnavailable, err)
	}
	return store, nil
}

func buildVectorStore() (vectorstore.Store, error) {
	url := os.Getenv("VECTOR_STORE_URL")
	if url == "" {
		slog.Debug("VECTOR_STORE_URL unset, using the embedded vector store")
		return vectorstore.NewEmbedded(envOr("DATA_DIR", "data")), nil
	}
	store, err := vectorstore.NewQdrant(url)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindExternalUnavailable, err)
	}
	return store, nil
}

func embedderFactory(modelID string) (embed.Embedder, error) {
	dims, _ := strconv.Atoi(envOr("EMBEDDING_DIMENSIONS", "768"))
	inner, err := embed.NewHTTPEmbedder(embed.Config{
		Host:       envOr("EMBEDDER_HOST", "http://localhost:11434"),
		Model:      modelID,
		Dimensions: dims,
		BatchSize:  32,
		Timeout:    30 * time.Second,
	})
	if err != nil {
		return nil, rerr.Wrap(rerr.KindExternalUnavailable, err)
	}

	var embedder embed.Embedder = inner
	if redisURL := os.Getenv("REDIS_EMBED_CACHE_URL"); redisURL != "" {
		redisCached, err := embed.NewRedisCachedEmbedder(embedder, redisURL, 0)
		if err != nil {
			return nil, rerr.Wrap(rerr.KindExternalUnavailable, err)
		}
		embedder = redisCached
	}
	return embed.NewCachedEmbedder(embedder, 4096), nil
}

func rerankerFactory(modelID string) (rerank.Reranker, error) {
	if modelID == "" {
		return rerank.NoOp{}, nil
	}
	return rerank.NewCrossEncoder(rerank.Config{
		Endpoint: envOr("RERANKER_ENDPOINT", "http://localhost:11435"),
		Model:    modelID,
		Timeout:  30 * time.Second,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
