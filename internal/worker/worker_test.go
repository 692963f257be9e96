package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/hair3d/internal/domain"
	"github.com/cuongbtq/hair3d/internal/inference"
	"github.com/cuongbtq/hair3d/internal/media"
	"github.com/cuongbtq/hair3d/internal/queue"
	"github.com/cuongbtq/hair3d/internal/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type processFunc func(ctx context.Context, req inference.Request) (inference.Outcome, error)

func (f processFunc) Process(ctx context.Context, req inference.Request) (inference.Outcome, error) {
	return f(ctx, req)
}

type inferFunc func(ctx context.Context, req inference.Request) error

func (f inferFunc) Infer(ctx context.Context, req inference.Request) error { return f(ctx, req) }

// recorder is a Processor that writes a fixed result and remembers the order of calls
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) Process(_ context.Context, req inference.Request) (inference.Outcome, error) {
	r.mu.Lock()
	r.order = append(r.order, filepath.Base(req.SrcPath))
	r.mu.Unlock()
	return inference.Outcome{}, os.WriteFile(req.DstPath, []byte("processed"), 0o644)
}

// faultyStore fails selected calls and passes everything else to the real store
type faultyStore struct {
	*storage.Storage
	getErr      error
	claimErr    error
	doneErr     error
	degradedErr error
}

func (s *faultyStore) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Storage.GetJobByID(ctx, jobID)
}

func (s *faultyStore) ClaimJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	return s.Storage.ClaimJob(ctx, jobID)
}

func (s *faultyStore) MarkDone(ctx context.Context, jobID, resultPath string) error {
	if s.doneErr != nil {
		return s.doneErr
	}
	return s.Storage.MarkDone(ctx, jobID, resultPath)
}

func (s *faultyStore) MarkDegraded(ctx context.Context, jobID, resultPath string) error {
	if s.degradedErr != nil {
		return s.degradedErr
	}
	return s.Storage.MarkDegraded(ctx, jobID, resultPath)
}

type fixture struct {
	store *storage.Storage
	queue *queue.Memory
	media *media.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.NewStorage(db, nopLogger())
	require.NoError(t, store.Migrate(context.Background()))

	m, err := media.NewStore(t.TempDir())
	require.NoError(t, err)

	return &fixture{store: store, queue: queue.NewMemory(), media: m}
}

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (f *fixture) worker(p Processor, markDegraded bool) *Worker {
	return f.workerWithStore(f.store, p, markDegraded)
}

func (f *fixture) workerWithStore(store JobStore, p Processor, markDegraded bool) *Worker {
	return NewWorker(&Config{
		Logger:       nopLogger(),
		Store:        store,
		Queue:        f.queue,
		Processor:    p,
		Results:      f.media,
		JobTimeout:   5 * time.Second,
		MarkDegraded: markDegraded,
	})
}

// submit writes a source file, inserts a PENDING row and enqueues the id
func (f *fixture) submit(t *testing.T, name string, content []byte) *domain.Job {
	t.Helper()

	src := filepath.Join(f.media.UploadsDir(), name)
	require.NoError(t, os.WriteFile(src, content, 0o644))

	job := &domain.Job{ID: uuid.NewString(), SrcPath: src}
	require.NoError(t, f.store.CreateJob(context.Background(), job))
	require.NoError(t, f.queue.Enqueue(context.Background(), job.ID))
	return job
}

// drain closes the queue and runs the worker until it has consumed everything
func (f *fixture) drain(t *testing.T, w *Worker) {
	t.Helper()
	require.NoError(t, f.queue.Close())
	require.NoError(t, w.Start(context.Background()))
}

func (f *fixture) get(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := f.store.GetJobByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestWorker_ProcessesInFIFOOrder(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}

	var want []string
	var jobs []*domain.Job
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png", "e.png"} {
		jobs = append(jobs, f.submit(t, name, []byte(name)))
		want = append(want, name)
	}

	f.drain(t, f.worker(rec, false))

	assert.Equal(t, want, rec.order)
	for _, job := range jobs {
		got := f.get(t, job.ID)
		assert.Equal(t, domain.JobStatusDone, got.Status)
		require.NotNil(t, got.ResultPath)
		assert.Equal(t, f.media.ResultPath(job.ID, job.SrcPath), *got.ResultPath)
		assert.Nil(t, got.Error)
	}
}

func TestWorker_NeverProcessesAJobTwice(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}

	job := f.submit(t, "a.png", []byte("a"))
	require.NoError(t, f.queue.Enqueue(context.Background(), job.ID))

	f.drain(t, f.worker(rec, false))

	assert.Equal(t, []string{"a.png"}, rec.order)
	assert.Equal(t, domain.JobStatusDone, f.get(t, job.ID).Status)
}

func TestWorker_SkipsUnknownIDs(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}

	require.NoError(t, f.queue.Enqueue(context.Background(), uuid.NewString()))
	job := f.submit(t, "a.png", []byte("a"))

	f.drain(t, f.worker(rec, false))

	assert.Equal(t, []string{"a.png"}, rec.order)
	assert.Equal(t, domain.JobStatusDone, f.get(t, job.ID).Status)
}

func TestWorker_RecordsFailure(t *testing.T) {
	f := newFixture(t)
	p := processFunc(func(context.Context, inference.Request) (inference.Outcome, error) {
		return inference.Outcome{}, errors.New("disk full")
	})

	job := f.submit(t, "a.png", []byte("a"))
	f.drain(t, f.worker(p, false))

	got := f.get(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "disk full", *got.Error)
	assert.Nil(t, got.ResultPath)
}

func TestWorker_RecoversPanic(t *testing.T) {
	f := newFixture(t)
	p := processFunc(func(context.Context, inference.Request) (inference.Outcome, error) {
		panic("nil map")
	})

	bad := f.submit(t, "a.png", []byte("a"))
	next := f.submit(t, "b.png", []byte("b"))

	rec := &recorder{}
	calls := 0
	f.drain(t, f.worker(processFunc(func(ctx context.Context, req inference.Request) (inference.Outcome, error) {
		calls++
		if calls == 1 {
			return p(ctx, req)
		}
		return rec.Process(ctx, req)
	}), false))

	got := f.get(t, bad.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "nil map")

	assert.Equal(t, domain.JobStatusDone, f.get(t, next.ID).Status)
}

// Remote failures are masked by the copy fallback: the job is DONE and its
// result is byte-identical to the upload. This hides the failure from the
// status endpoint unless degraded marking is enabled.
func TestWorker_FallbackRecordsDoneWithCopy(t *testing.T) {
	content := []byte("\x89PNG\r\n\x1a\n-pixels-")
	remoteDown := inferFunc(func(context.Context, inference.Request) error {
		return &inference.Error{Kind: inference.KindTransport, Message: "AI server request failed: connection refused"}
	})

	tests := []struct {
		name         string
		markDegraded bool
		wantStatus   string
	}{
		{name: "default policy", markDegraded: false, wantStatus: domain.JobStatusDone},
		{name: "degraded marking", markDegraded: true, wantStatus: domain.JobStatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			job := f.submit(t, "face.png", content)

			f.drain(t, f.worker(inference.NewFallbackProcessor(remoteDown, nopLogger()), tt.markDegraded))

			got := f.get(t, job.ID)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Nil(t, got.Error)
			require.NotNil(t, got.ResultPath)

			result, err := os.ReadFile(*got.ResultPath)
			require.NoError(t, err)
			assert.Equal(t, content, result)
		})
	}
}

func TestWorker_StopDrainsQueuedJobs(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	w := f.worker(rec, false)

	started := make(chan struct{})
	exited := make(chan error, 1)
	go func() {
		close(started)
		exited <- w.Start(context.Background())
	}()
	<-started

	a := f.submit(t, "a.png", []byte("a"))
	b := f.submit(t, "b.png", []byte("b"))

	require.Eventually(t, func() bool { return w.started.Load() }, time.Second, 5*time.Millisecond)
	w.Stop()

	select {
	case err := <-exited:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not exit")
	}

	assert.Equal(t, domain.JobStatusDone, f.get(t, a.ID).Status)
	assert.Equal(t, domain.JobStatusDone, f.get(t, b.ID).Status)
}

func TestWorker_StartReturnsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	w := f.worker(&recorder{}, false)

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan error, 1)
	go func() { exited <- w.Start(ctx) }()

	cancel()
	select {
	case err := <-exited:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on cancel")
	}
}

// A message redelivered after its worker died mid-job finds the row still
// PROCESSING. The job is failed instead of being acked and left behind.
func TestWorker_RedeliveredClaimedJobIsFailed(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}

	job := f.submit(t, "a.png", []byte("a"))
	_, err := f.store.ClaimJob(context.Background(), job.ID)
	require.NoError(t, err)

	next := f.submit(t, "b.png", []byte("b"))

	f.drain(t, f.worker(rec, false))

	got := f.get(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, ErrMsgInterrupted, *got.Error)
	assert.Nil(t, got.ResultPath)

	assert.Equal(t, []string{"b.png"}, rec.order)
	assert.Equal(t, domain.JobStatusDone, f.get(t, next.ID).Status)
}

func TestWorker_LostClaimIsSettled(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}

	job := f.submit(t, "a.png", []byte("a"))
	// another claimant won the race between load and claim
	_, err := f.store.ClaimJob(context.Background(), job.ID)
	require.NoError(t, err)
	store := &faultyStore{Storage: f.store, claimErr: domain.ErrJobAlreadyClaimed}
	// the row is read as PENDING so the claim path is taken
	w := f.workerWithStore(&pendingView{faultyStore: store}, rec, false)

	f.drain(t, w)

	got := f.get(t, job.ID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, ErrMsgInterrupted, *got.Error)
	assert.Empty(t, rec.order)
}

// pendingView reports PENDING on the first load only
type pendingView struct {
	*faultyStore
	loads int
}

func (s *pendingView) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.faultyStore.GetJobByID(ctx, jobID)
	s.loads++
	if err == nil && s.loads == 1 {
		job.Status = domain.JobStatusPending
	}
	return job, err
}

func TestWorker_StoreFailuresDoNotStrandJobs(t *testing.T) {
	dbDown := errors.New("connection reset by peer")
	remoteDown := inferFunc(func(context.Context, inference.Request) error {
		return &inference.Error{Kind: inference.KindTransport, Message: "AI server request failed: connection refused"}
	})

	tests := []struct {
		name         string
		store        func(*storage.Storage) JobStore
		processor    Processor
		markDegraded bool
		wantError    string
		wantCalls    int
	}{
		{
			name:      "load error",
			store:     func(s *storage.Storage) JobStore { return &faultyStore{Storage: s, getErr: dbDown} },
			processor: &recorder{},
			wantError: "failed to load job: connection reset by peer",
		},
		{
			name:      "claim error",
			store:     func(s *storage.Storage) JobStore { return &faultyStore{Storage: s, claimErr: dbDown} },
			processor: &recorder{},
			wantError: "failed to claim job: connection reset by peer",
		},
		{
			name:      "done write error",
			store:     func(s *storage.Storage) JobStore { return &faultyStore{Storage: s, doneErr: dbDown} },
			processor: &recorder{},
			wantError: "failed to record result: connection reset by peer",
			wantCalls: 1,
		},
		{
			name:         "degraded write error",
			store:        func(s *storage.Storage) JobStore { return &faultyStore{Storage: s, degradedErr: dbDown} },
			processor:    inference.NewFallbackProcessor(remoteDown, nopLogger()),
			markDegraded: true,
			wantError:    "failed to record result: connection reset by peer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			job := f.submit(t, "a.png", []byte("a"))

			f.drain(t, f.workerWithStore(tt.store(f.store), tt.processor, tt.markDegraded))

			got := f.get(t, job.ID)
			assert.Equal(t, domain.JobStatusFailed, got.Status)
			require.NotNil(t, got.Error)
			assert.Equal(t, tt.wantError, *got.Error)
			assert.Nil(t, got.ResultPath)
			assert.Zero(t, f.queue.Len())

			if rec, ok := tt.processor.(*recorder); ok {
				assert.Len(t, rec.order, tt.wantCalls)
			}
		})
	}
}
