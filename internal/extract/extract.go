// Package extract defines the PDF -> text boundary the pipeline consumes
// (spec §6): a single function type, since the extractor itself (OCR,
// layout analysis) is an explicit Non-goal of this core.
package extract

import (
	"context"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

// Func converts raw document bytes to plain text. Latency is unbounded
// (the caller enforces the per-file wall-clock budget); any failure
// surfaces as a single ParseError kind regardless of root cause, per
// spec §6.
type Func func(ctx context.Context, data []byte) (string, error)

// Identity treats the input as already-decoded UTF-8 text, used for
// corpora and tests that bypass PDF extraction entirely.
func Identity(ctx context.Context, data []byte) (string, error) {
	return string(data), nil
}

// Unavailable is an extractor stand-in for deployments that haven't wired
// a real PDF extraction service yet; every call fails with ParseError.
func Unavailable(ctx context.Context, data []byte) (string, error) {
	return "", rerr.ParseError("no PDF extraction backend configured", nil)
}
