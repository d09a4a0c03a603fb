package pipeline

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Aman-CERP/rcpretrieval/internal/bm25store"
	"github.com/Aman-CERP/rcpretrieval/internal/chunk"
	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
	"github.com/Aman-CERP/rcpretrieval/internal/extract"
	"github.com/Aman-CERP/rcpretrieval/internal/job"
	"github.com/Aman-CERP/rcpretrieval/internal/objectstore"
	"github.com/Aman-CERP/rcpretrieval/internal/section"
	"github.com/Aman-CERP/rcpretrieval/internal/vectorstore"

	"github.com/Aman-CERP/rcpretrieval/internal/embed"
)

var timeNow = time.Now

// DefaultMaxConcurrent and DefaultBatchSize mirror spec §6's documented
// defaults for process_bucket.
const (
	DefaultMaxConcurrent = 20
	DefaultBatchSize     = 500

	// DefaultFileTimeout bounds one file's extract->chunk->embed->flush
	// path (spec §5): a file that exceeds it is marked failed("timeout")
	// rather than wedging the whole run.
	DefaultFileTimeout = 5 * time.Minute

	// gcEvery is how many completed files trigger a runtime.GC() hint, per
	// spec §4.9's memory-discipline requirement.
	gcEvery = 20
)

// timeoutReason is the fixed failure reason spec §5 mandates for a file
// that exceeds its wall-clock budget, mirroring the "cancelled" literal
// used for cooperative cancellation.
const timeoutReason = "timeout"

// Params configures one indexing run (spec §4.9/§6).
type Params struct {
	MaxConcurrent  int
	BatchSize      int
	ChunkBySection bool
	ChunkSize      int
	Overlap        int
	FileTimeout    time.Duration
}

func (p Params) withDefaults() Params {
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = DefaultMaxConcurrent
	}
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultBatchSize
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = 1000
	}
	if p.FileTimeout <= 0 {
		p.FileTimeout = DefaultFileTimeout
	}
	return p
}

// FailedItem records one source that failed indexing without aborting
// the rest of the run (spec §4.9/§8).
type FailedItem struct {
	SourceID string
	Reason   string
}

// Report is process_bucket's result.
type Report struct {
	Collection    string
	TotalSources  int
	Processed     int
	Skipped       int
	Failed        []FailedItem
	ChunksIndexed int
}

// PerFileReport is process_single's result.
type PerFileReport struct {
	SourceID      string
	Skipped       bool
	ChunksIndexed int
}

// Dependencies bundles the pipeline's collaborators.
type Dependencies struct {
	Objects  objectstore.Store
	Extract  extract.Func
	Vectors  vectorstore.Store
	BM25     *bm25store.Index
	Embedder embed.Embedder
	Sources  *SourceTracker
	DataDir  string
}

// Pipeline implements C9's process_bucket and process_single operations.
type Pipeline struct {
	deps Dependencies
}

// New builds a Pipeline over deps.
func New(deps Dependencies) *Pipeline {
	return &Pipeline{deps: deps}
}

// ProcessBucket enumerates every source in the object store, skips
// sources already indexed into collection, and indexes the rest under
// bounded concurrency, reporting progress through h (spec §4.9 steps
// 1-8). A per-file failure is recorded in Report.Failed and does not
// abort the run; a failure that breaks a cross-file invariant (a BM25
// checkpoint save reporting IndexCorrupt) aborts the run and is returned
// as an error, consistent with spec §7's distinction between per-item
// and job-fatal failures.
func (p *Pipeline) ProcessBucket(ctx context.Context, collection string, params Params, h *job.Handle) (Report, error) {
	params = params.withDefaults()

	ids, err := p.deps.Objects.List(ctx)
	if err != nil {
		return Report{}, rerr.Wrap(rerr.KindExternalUnavailable, err)
	}
	sort.Strings(ids) // deterministic processing order (spec §8 determinism invariant)

	report := Report{Collection: collection, TotalSources: len(ids)}

	var pending []string
	for _, id := range ids {
		processed, err := p.deps.Sources.IsProcessed(ctx, collection, id)
		if err != nil {
			return Report{}, err
		}
		if processed {
			report.Skipped++
			continue
		}
		pending = append(pending, id)
	}

	if h != nil {
		h.UpdateProgress(0, len(pending))
	}
	if len(pending) == 0 {
		return report, nil
	}

	sem := semaphore.NewWeighted(int64(params.MaxConcurrent))
	var (
		mu        sync.Mutex
		completed int
		aborted   error
	)
	checkpointEvery := len(pending) / 20
	if checkpointEvery < 1 {
		checkpointEvery = 1
	}

	var wg sync.WaitGroup
	for _, id := range pending {
		mu.Lock()
		stop := aborted != nil
		mu.Unlock()
		if stop || (h != nil && h.Cancelled()) {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(sourceID string) {
			defer wg.Done()
			defer sem.Release(1)

			mu.Lock()
			stop := aborted != nil
			mu.Unlock()
			if stop || (h != nil && h.Cancelled()) {
				mu.Lock()
				report.Failed = append(report.Failed, FailedItem{SourceID: sourceID, Reason: "cancelled"})
				mu.Unlock()
				return
			}

			per, err := p.indexOne(ctx, collection, sourceID, params)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if rerr.IsKind(err, rerr.KindIndexCorrupt) && aborted == nil {
					aborted = err
				}
				reason := err.Error()
				if rerr.IsKind(err, rerr.KindTimeout) {
					reason = timeoutReason
				}
				report.Failed = append(report.Failed, FailedItem{SourceID: sourceID, Reason: reason})
				return
			}
			report.Processed++
			report.ChunksIndexed += per.ChunksIndexed
			completed++
			if h != nil {
				h.UpdateProgress(completed, len(pending))
			}
			if completed%gcEvery == 0 {
				runtime.GC()
			}
			if completed%checkpointEvery == 0 {
				if err := p.deps.BM25.Save(p.deps.DataDir, collection); err != nil {
					aborted = rerr.Wrap(rerr.KindIndexCorrupt, err)
				}
			}
		}(id)
	}
	wg.Wait()

	if aborted != nil {
		return report, aborted
	}
	if err := p.deps.BM25.Save(p.deps.DataDir, collection); err != nil {
		return report, rerr.Wrap(rerr.KindIndexCorrupt, err)
	}
	return report, nil
}

// ProcessSingle indexes one already-fetched document, used by the
// external HTTP-layer "index one document" path (spec §4.9). ProcessBucket
// does not call it; the two share indexData.
func (p *Pipeline) ProcessSingle(ctx context.Context, collection, sourceID string, data []byte, params Params) (PerFileReport, error) {
	params = params.withDefaults()

	processed, err := p.deps.Sources.IsProcessed(ctx, collection, sourceID)
	if err != nil {
		return PerFileReport{}, err
	}
	if processed {
		return PerFileReport{SourceID: sourceID, Skipped: true}, nil
	}

	fileCtx, cancel := context.WithTimeout(ctx, params.FileTimeout)
	defer cancel()
	report, err := p.indexData(fileCtx, collection, sourceID, data, params)
	return report, timeoutOr(fileCtx, err)
}

// indexOne fetches sourceID from the object store and indexes it under a
// per-file wall-clock deadline (spec §5): a file that doesn't finish
// extract->section->chunk->embed->flush within params.FileTimeout surfaces
// a KindTimeout error instead of running unbounded.
func (p *Pipeline) indexOne(ctx context.Context, collection, sourceID string, params Params) (PerFileReport, error) {
	fileCtx, cancel := context.WithTimeout(ctx, params.FileTimeout)
	defer cancel()

	data, err := p.deps.Objects.Get(fileCtx, sourceID)
	if err != nil {
		return PerFileReport{}, timeoutOr(fileCtx, err)
	}
	report, err := p.indexData(fileCtx, collection, sourceID, data, params)
	return report, timeoutOr(fileCtx, err)
}

// timeoutOr reinterprets err as a KindTimeout error when ctx's deadline
// is what actually ended the work, so callers never have to pattern-match
// on context.DeadlineExceeded directly.
func timeoutOr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return rerr.Timeout("file processing exceeded its deadline", err)
	}
	return err
}

// indexData runs extract -> section -> chunk -> embed -> flush for one
// source, marking it processed only once both the BM25 and vector-store
// writes have succeeded (spec §4.9's "both C4 and C5 writes must
// succeed" rule).
func (p *Pipeline) indexData(ctx context.Context, collection, sourceID string, data []byte, params Params) (PerFileReport, error) {
	text, err := p.deps.Extract(ctx, data)
	if err != nil {
		return PerFileReport{}, rerr.Wrap(rerr.KindParseError, err)
	}
	data = nil // release the raw buffer once extracted (spec §4.9 memory discipline)

	secs := section.Parse(text)
	method := chunk.MethodFlat
	if params.ChunkBySection {
		if len(secs) == 1 && secs[0].Number == "0" {
			method = chunk.MethodFallback
		} else {
			method = chunk.MethodSection
		}
	}

	chunks := chunk.Chunk(sourceID, secs, chunk.Params{
		ChunkSize:      params.ChunkSize,
		Overlap:        params.Overlap,
		ChunkBySection: params.ChunkBySection,
	}, method)
	text = "" // release the extracted text once chunked

	if len(chunks) == 0 {
		if err := p.deps.Sources.MarkProcessed(ctx, collection, sourceID); err != nil {
			return PerFileReport{}, err
		}
		return PerFileReport{SourceID: sourceID}, nil
	}

	for start := 0; start < len(chunks); start += params.BatchSize {
		end := start + params.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := p.flush(ctx, collection, chunks[start:end]); err != nil {
			return PerFileReport{}, err
		}
	}

	if err := p.deps.Sources.MarkProcessed(ctx, collection, sourceID); err != nil {
		return PerFileReport{}, err
	}
	return PerFileReport{SourceID: sourceID, ChunksIndexed: len(chunks)}, nil
}

// flush embeds and writes one batch of chunks to both the BM25 index (C4)
// and the vector store (C5) in parallel; both must succeed.
func (p *Pipeline) flush(ctx context.Context, collection string, batch []chunk.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	vectors, err := p.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return rerr.Wrap(rerr.KindExternalUnavailable, err)
	}

	candidates := make([]vectorstore.Candidate, len(batch))
	bm25Docs := make([]struct {
		ChunkID string
		Text    string
	}, len(batch))
	for i, c := range batch {
		meta := map[string]string{
			"source_id":      c.SourceID,
			"section_number": c.SectionNumber,
			"section_title":  c.SectionTitle,
			"method":         string(c.Method),
		}
		candidates[i] = vectorstore.Candidate{ID: c.ChunkID, Vector: vectors[i], Metadata: meta, Text: c.Text}
		bm25Docs[i] = struct {
			ChunkID string
			Text    string
		}{ChunkID: c.ChunkID, Text: c.Text}
	}

	var wg sync.WaitGroup
	var vecErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		vecErr = p.deps.Vectors.Upsert(ctx, collection, candidates)
	}()
	p.deps.BM25.AddDocuments(bm25Docs)
	wg.Wait()

	if vecErr != nil {
		return rerr.Wrap(rerr.KindExternalUnavailable, vecErr)
	}
	return nil
}
