package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
	"github.com/Aman-CERP/rcpretrieval/internal/job"
	"github.com/Aman-CERP/rcpretrieval/internal/pipeline"
)

func newIndexCmd() *cobra.Command {
	var (
		wait          bool
		maxConcurrent int
		batchSize     int
		chunkSize     int
		chunkOverlap  int
		sectioned     bool
	)

	cmd := &cobra.Command{
		Use:   "index <collection>",
		Short: "Start an indexing run over a collection's object store bucket",
		Long: `Scans every source_id in the object store, extracts, chunks, embeds, and
indexes each one into BM25 and the vector store (spec §4.9 process_bucket).

Already-indexed sources are skipped automatically on a rerun; there is no
separate --resume flag to pass.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			collectionName := args[0]
			jobID, err := engine.StartIndexing(ctx, collectionName, pipeline.Params{
				MaxConcurrent:  maxConcurrent,
				BatchSize:      batchSize,
				ChunkBySection: sectioned,
				ChunkSize:      chunkSize,
				Overlap:        chunkOverlap,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started job %s for collection %q\n", jobID, collectionName)

			if !wait {
				return nil
			}
			return awaitJob(cmd, engine, jobID, ctx)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", true, "block until the job reaches a terminal state")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "bounded concurrency (0 uses the configured default)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "per-file flush batch size (0 uses the configured default)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk size in characters (0 uses the configured default)")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "chunk overlap in characters (0 uses the configured default)")
	cmd.Flags().BoolVar(&sectioned, "section-chunking", true, "chunk by section instead of flat windows")

	return cmd
}

// awaitJob polls job_id until it reaches a terminal state, cancelling the
// job if ctx is cancelled first (e.g. Ctrl+C), per spec §4.10.
func awaitJob(cmd *cobra.Command, engine interface {
	GetJob(string) (job.Record, error)
	CancelJob(string) (bool, error)
}, jobID string, ctx interface{ Done() <-chan struct{} }) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_, _ = engine.CancelJob(jobID)
			return rerr.Cancelled("indexing interrupted", nil)
		case <-ticker.C:
			rec, err := engine.GetJob(jobID)
			if err != nil {
				return err
			}
			if progressEnabled() {
				fmt.Fprintf(cmd.OutOrStdout(), "\r%s: %d/%d", rec.Status, rec.Progress.Current, rec.Progress.Total)
			}
			switch rec.Status {
			case job.StatusCompleted:
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			case job.StatusFailed:
				fmt.Fprintln(cmd.OutOrStdout())
				return rerr.Internal(rec.Error, nil)
			case job.StatusCancelled:
				fmt.Fprintln(cmd.OutOrStdout())
				return rerr.Cancelled(rec.Error, nil)
			}
		}
	}
}
