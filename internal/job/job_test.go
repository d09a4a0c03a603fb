package job

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

func openTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	m, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, path
}

func TestManager_StartCompletes(t *testing.T) {
	m, _ := openTestManager(t)

	id, err := m.Start(context.Background(), "index", "rcp", 10, func(ctx context.Context, h *Handle) error {
		h.UpdateProgress(10, 10)
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := m.Status(id)
		return err == nil && rec.Status == StatusCompleted
	}, time.Second, time.Millisecond)

	rec, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, 10, rec.Progress.Current)
	assert.False(t, rec.StartedAt.IsZero())
	assert.False(t, rec.FinishedAt.IsZero())
}

func TestManager_StartFails(t *testing.T) {
	m, _ := openTestManager(t)

	id, err := m.Start(context.Background(), "index", "rcp", 1, func(ctx context.Context, h *Handle) error {
		return rerr.ExternalUnavailable("object store unreachable", nil)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := m.Status(id)
		return err == nil && rec.Status == StatusFailed
	}, time.Second, time.Millisecond)

	rec, _ := m.Status(id)
	assert.Contains(t, rec.Error, "object store unreachable")
}

func TestManager_DedupSameOpCollection(t *testing.T) {
	m, _ := openTestManager(t)
	release := make(chan struct{})

	id1, err := m.Start(context.Background(), "index", "rcp", 1, func(ctx context.Context, h *Handle) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	id2, err := m.Start(context.Background(), "index", "rcp", 1, func(ctx context.Context, h *Handle) error {
		t.Fatal("second work function must not run while the first is active")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	close(release)
	require.Eventually(t, func() bool {
		rec, err := m.Status(id1)
		return err == nil && rec.Status == StatusCompleted
	}, time.Second, time.Millisecond)

	// once the first job finishes, the tuple is free again.
	id3, err := m.Start(context.Background(), "index", "rcp", 1, func(ctx context.Context, h *Handle) error {
		return nil
	})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestManager_Cancel(t *testing.T) {
	m, _ := openTestManager(t)

	id, err := m.Start(context.Background(), "index", "rcp", 1, func(ctx context.Context, h *Handle) error {
		<-ctx.Done()
		return rerr.Cancelled("cancelled at file boundary", ctx.Err())
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := m.Status(id)
		return err == nil && rec.Status == StatusRunning
	}, time.Second, time.Millisecond)

	cancelled, err := m.Cancel(id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	require.Eventually(t, func() bool {
		rec, err := m.Status(id)
		return err == nil && rec.Status == StatusCancelled
	}, time.Second, time.Millisecond)
}

func TestManager_CancelUnknownJob(t *testing.T) {
	m, _ := openTestManager(t)
	_, err := m.Cancel("does-not-exist")
	assert.True(t, rerr.IsKind(err, rerr.KindNotFound))
}

func TestManager_ProgressNeverRegresses(t *testing.T) {
	m, _ := openTestManager(t)

	id, err := m.Start(context.Background(), "index", "rcp", 10, func(ctx context.Context, h *Handle) error {
		h.UpdateProgress(5, 10)
		h.UpdateProgress(3, 10) // must not regress below 5
		h.UpdateProgress(8, 10)
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := m.Status(id)
		return err == nil && rec.Status == StatusCompleted
	}, time.Second, time.Millisecond)

	rec, _ := m.Status(id)
	assert.Equal(t, 8, rec.Progress.Current)
}

func TestManager_StatusUnknownJob(t *testing.T) {
	m, _ := openTestManager(t)
	_, err := m.Status("does-not-exist")
	assert.True(t, rerr.IsKind(err, rerr.KindNotFound))
}

func TestOpen_RecoversRunningJobAsFailedRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	m1, err := Open(path)
	require.NoError(t, err)

	block := make(chan struct{})
	id, err := m1.Start(context.Background(), "index", "rcp", 1, func(ctx context.Context, h *Handle) error {
		<-block // never signalled: simulates a job still running at crash time
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := m1.Status(id)
		return err == nil && rec.Status == StatusRunning
	}, time.Second, time.Millisecond)

	// simulate an unclean process exit: the worker goroutine is abandoned,
	// only the database connection is released.
	require.NoError(t, m1.Close())

	m2, err := Open(path)
	require.NoError(t, err)
	defer m2.Close()

	rec, err := m2.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "restart", rec.Error)
}
