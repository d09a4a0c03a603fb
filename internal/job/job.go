// Package job implements the Job Manager (spec §4.10, C10): an async job
// registry that decouples HTTP request lifetime from work lifetime,
// tracks status/progress, and supports cooperative cancellation. Grounded
// on the teacher's internal/async package (BackgroundIndexer's
// stop/done-channel lifecycle, IndexProgress's mutex-guarded snapshot) and
// internal/daemon (pidfile-style crash recovery, applied here to job state
// instead of process PIDs). Job events are appended to a small sqlite log
// so a process restart can find jobs left "running" and mark them
// failed("restart"), per spec §4.10.
package job

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	rerr "github.com/Aman-CERP/rcpretrieval/internal/errors"
)

// Status is a job's position in the pending → running → {completed,
// failed, cancelled} state DAG. Terminal states are sticky.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress is a monotonically non-regressing snapshot of work done so far
// (spec §8: "progress.current(j, t1) ≤ progress.current(j, t2)").
type Progress struct {
	Current int
	Total   int
}

// Record is the public status() result (spec §3/§4.10).
type Record struct {
	JobID      string
	Op         string
	Collection string
	Status     Status
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Progress   Progress
	Error      string
}

// Work is the function a Manager runs in the background. It must check
// h.Cancelled() (or h.Context().Done()) at file/item boundaries and report
// progress through h.UpdateProgress.
type Work func(ctx context.Context, h *Handle) error

// Handle is passed to a running Work function so it can report progress
// and observe cancellation without reaching back into the Manager's
// internals.
type Handle struct {
	ctx context.Context
	mgr *Manager
	id  string
}

// Context returns the job's context, cancelled when Cancel is called for
// this job. Closing the Manager does not cancel it.
func (h *Handle) Context() context.Context { return h.ctx }

// Cancelled reports whether cancellation has been requested.
func (h *Handle) Cancelled() bool { return h.ctx.Err() != nil }

// UpdateProgress records current/total, clamping current so it never
// regresses (spec §8's monotonicity invariant).
func (h *Handle) UpdateProgress(current, total int) {
	h.mgr.updateProgress(h.id, current, total)
}

type jobState struct {
	mu     sync.Mutex
	record Record
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the registry of async jobs. One Manager is process-wide.
type Manager struct {
	db *sql.DB

	mu          sync.Mutex
	jobs        map[string]*jobState
	activeByKey map[string]string // "op|collection" -> job_id, while non-terminal

	pub *Publisher
}

// SetPublisher attaches an optional redis Publisher so every status/progress
// transition is broadcast in addition to being journaled. Passing nil
// disables publishing (the default).
func (m *Manager) SetPublisher(pub *Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pub = pub
}

// Open opens (creating if absent) the job event log at path and recovers
// state: any job whose last recorded event left it non-terminal ("pending"
// or "running") is marked failed("restart"), since no goroutine survived the process restart to
// finish it (spec §4.10).
func Open(path string) (*Manager, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, rerr.ExternalUnavailable("failed to open job log", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, rerr.ExternalUnavailable("failed to create job log schema", err)
	}

	m := &Manager{
		db:          db,
		jobs:        make(map[string]*jobState),
		activeByKey: make(map[string]string),
	}
	if err := m.recover(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS job_events (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id            TEXT NOT NULL,
	op                TEXT NOT NULL,
	collection        TEXT NOT NULL,
	status            TEXT NOT NULL,
	progress_current  INTEGER NOT NULL DEFAULT 0,
	progress_total    INTEGER NOT NULL DEFAULT 0,
	error             TEXT NOT NULL DEFAULT '',
	at_unix_nano      INTEGER NOT NULL
);
`

// recover replays the event log, projecting the latest state per job_id,
// and appends a failed("restart") event for any job whose projection was
// still "pending" or "running" — it cannot be, since this process just
// started.
func (m *Manager) recover() error {
	rows, err := m.db.Query(`SELECT seq, job_id, op, collection, status, progress_current, progress_total, error, at_unix_nano FROM job_events ORDER BY seq ASC`)
	if err != nil {
		return rerr.ExternalUnavailable("failed to read job log", err)
	}
	defer rows.Close()

	latest := make(map[string]Record)
	for rows.Next() {
		var rec Record
		var status string
		var createdNano int64
		if err := rows.Scan(new(int64), &rec.JobID, &rec.Op, &rec.Collection, &status, &rec.Progress.Current, &rec.Progress.Total, &rec.Error, &createdNano); err != nil {
			return rerr.Internal("failed to scan job event", err)
		}
		rec.Status = Status(status)
		if prior, ok := latest[rec.JobID]; ok {
			rec.CreatedAt = prior.CreatedAt
			rec.StartedAt = prior.StartedAt
		} else {
			rec.CreatedAt = time.Unix(0, createdNano)
		}
		if rec.Status == StatusRunning && rec.StartedAt.IsZero() {
			rec.StartedAt = time.Unix(0, createdNano)
		}
		if rec.Status.terminal() {
			rec.FinishedAt = time.Unix(0, createdNano)
		}
		latest[rec.JobID] = rec
	}
	if err := rows.Err(); err != nil {
		return rerr.Internal("failed to iterate job log", err)
	}

	for id, rec := range latest {
		if rec.Status.terminal() {
			continue
		}
		rec.Status = StatusFailed
		rec.Error = "restart"
		rec.FinishedAt = timeNow()
		if err := m.appendEvent(rec); err != nil {
			return err
		}
		latest[id] = rec
	}

	for id, rec := range latest {
		m.jobs[id] = &jobState{record: rec, done: closedChan()}
	}
	return nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

var timeNow = time.Now

func (m *Manager) appendEvent(rec Record) error {
	_, err := m.db.Exec(
		`INSERT INTO job_events (job_id, op, collection, status, progress_current, progress_total, error, at_unix_nano) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.Op, rec.Collection, string(rec.Status), rec.Progress.Current, rec.Progress.Total, rec.Error, timeNow().UnixNano(),
	)
	if err != nil {
		return rerr.ExternalUnavailable("failed to append job event", err)
	}
	m.mu.Lock()
	pub := m.pub
	m.mu.Unlock()
	pub.publish(rec)
	return nil
}

func activeKey(op, collection string) string { return op + "|" + collection }

// Start enqueues work under (op, collection) and returns its job_id. If a
// non-terminal job already exists for that tuple, its job_id is returned
// without starting a second worker (spec §4.10's at-most-one rule).
func (m *Manager) Start(ctx context.Context, op, collection string, total int, work Work) (string, error) {
	m.mu.Lock()
	key := activeKey(op, collection)
	if existing, ok := m.activeByKey[key]; ok {
		m.mu.Unlock()
		return existing, nil
	}

	id := uuid.New().String()
	jobCtx, cancel := context.WithCancel(context.Background())
	st := &jobState{
		record: Record{
			JobID:      id,
			Op:         op,
			Collection: collection,
			Status:     StatusPending,
			CreatedAt:  timeNow(),
			Progress:   Progress{Total: total},
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.jobs[id] = st
	m.activeByKey[key] = id
	m.mu.Unlock()

	if err := m.appendEvent(st.record); err != nil {
		return "", err
	}

	go m.run(jobCtx, st, work)
	return id, nil
}

func (m *Manager) run(ctx context.Context, st *jobState, work Work) {
	defer close(st.done)

	st.mu.Lock()
	st.record.Status = StatusRunning
	st.record.StartedAt = timeNow()
	rec := st.record
	st.mu.Unlock()
	_ = m.appendEvent(rec)

	h := &Handle{ctx: ctx, mgr: m, id: st.record.JobID}
	err := work(ctx, h)

	st.mu.Lock()
	st.record.FinishedAt = timeNow()
	switch {
	case rerr.IsKind(err, rerr.KindCancelled):
		st.record.Status = StatusCancelled
		st.record.Error = err.Error()
	case err != nil:
		st.record.Status = StatusFailed
		st.record.Error = err.Error()
	default:
		st.record.Status = StatusCompleted
	}
	rec = st.record
	st.mu.Unlock()
	_ = m.appendEvent(rec)

	m.mu.Lock()
	key := activeKey(rec.Op, rec.Collection)
	if m.activeByKey[key] == rec.JobID {
		delete(m.activeByKey, key)
	}
	m.mu.Unlock()
}

func (m *Manager) updateProgress(id string, current, total int) {
	m.mu.Lock()
	st, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	if current > st.record.Progress.Current {
		st.record.Progress.Current = current
	}
	if total > 0 {
		st.record.Progress.Total = total
	}
	rec := st.record
	st.mu.Unlock()

	m.mu.Lock()
	pub := m.pub
	m.mu.Unlock()
	pub.publish(rec)
}

// Status returns the latest snapshot for jobID. It never blocks.
func (m *Manager) Status(jobID string) (Record, error) {
	m.mu.Lock()
	st, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return Record{}, rerr.NotFound("job not found", nil).WithDetail("job_id", jobID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.record, nil
}

// Cancel cooperatively signals jobID's worker to stop. It returns true if
// the job existed and was non-terminal at the time of the call; the
// worker observes cancellation at its next checkpoint, it does not stop
// synchronously.
func (m *Manager) Cancel(jobID string) (bool, error) {
	m.mu.Lock()
	st, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return false, rerr.NotFound("job not found", nil).WithDetail("job_id", jobID)
	}

	st.mu.Lock()
	terminal := st.record.Status.terminal()
	cancel := st.cancel
	st.mu.Unlock()
	if terminal {
		return false, nil
	}
	if cancel != nil {
		cancel()
	}
	return true, nil
}

// Close releases the job log's database handle.
func (m *Manager) Close() error {
	return m.db.Close()
}
