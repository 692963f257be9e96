package storage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/hair3d/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s := NewStorage(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func createPending(t *testing.T, s *Storage) *domain.Job {
	t.Helper()

	job := &domain.Job{ID: uuid.NewString(), SrcPath: "/data/uploads/a.png"}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func TestStorage_CreateAndGet(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	style := "bob"
	job := &domain.Job{ID: uuid.NewString(), SrcPath: "/data/uploads/a.png", Style: &style}
	require.NoError(t, s.CreateJob(ctx, job))
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.False(t, job.CreatedAt.IsZero())

	got, err := s.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, "/data/uploads/a.png", got.SrcPath)
	require.NotNil(t, got.Style)
	assert.Equal(t, "bob", *got.Style)
	assert.Nil(t, got.ResultPath)
	assert.Nil(t, got.Error)
	assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Second)
}

func TestStorage_MigrateIsIdempotent(t *testing.T) {
	s := newTestStorage(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestStorage_GetUnknown(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetJobByID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStorage_ClaimOnce(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	job := createPending(t, s)

	claimed, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, claimed.Status)

	_, err = s.ClaimJob(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)

	_, err = s.ClaimJob(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
}

func TestStorage_ConcurrentClaimHasOneWinner(t *testing.T) {
	s := newTestStorage(t)
	job := createPending(t, s)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimJob(context.Background(), job.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestStorage_TerminalTransitions(t *testing.T) {
	tests := []struct {
		name       string
		finish     func(s *Storage, id string) error
		wantStatus string
		wantResult bool
		wantError  bool
	}{
		{
			name:       "done sets result only",
			finish:     func(s *Storage, id string) error { return s.MarkDone(context.Background(), id, "/r/x.png") },
			wantStatus: domain.JobStatusDone,
			wantResult: true,
		},
		{
			name:       "degraded sets result only",
			finish:     func(s *Storage, id string) error { return s.MarkDegraded(context.Background(), id, "/r/x.png") },
			wantStatus: domain.JobStatusDegraded,
			wantResult: true,
		},
		{
			name:       "failed sets error only",
			finish:     func(s *Storage, id string) error { return s.MarkFailed(context.Background(), id, "boom") },
			wantStatus: domain.JobStatusFailed,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStorage(t)
			job := createPending(t, s)
			_, err := s.ClaimJob(context.Background(), job.ID)
			require.NoError(t, err)

			require.NoError(t, tt.finish(s, job.ID))

			got, err := s.GetJobByID(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantResult, got.ResultPath != nil)
			assert.Equal(t, tt.wantError, got.Error != nil)

			// terminal states never change again
			err = s.MarkFailed(context.Background(), job.ID, "late")
			assert.ErrorIs(t, err, domain.ErrJobFinished)
			again, err := s.GetJobByID(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, again.Status)
		})
	}
}

func TestStorage_FinishUnknown(t *testing.T) {
	s := newTestStorage(t)

	err := s.MarkDone(context.Background(), uuid.NewString(), "/r/x.png")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStorage_CountByStatus(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	a := createPending(t, s)
	createPending(t, s)
	_, err := s.ClaimJob(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, a.ID, "remote down"))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.JobStatusPending])
	assert.Equal(t, int64(1), counts[domain.JobStatusFailed])
	assert.Zero(t, counts[domain.JobStatusDone])
}

func TestStorage_ListJobsPaginates(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		job := &domain.Job{ID: uuid.NewString(), SrcPath: "/data/uploads/a.png", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.CreateJob(ctx, job))
		ids = append(ids, job.ID)
	}

	page, err := s.ListJobs(ctx, JobFilter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	last := page[1]
	page, err = s.ListJobs(ctx, JobFilter{PageSize: 2, Cursor: &JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	_, err = s.ClaimJob(ctx, ids[0])
	require.NoError(t, err)
	page, err = s.ListJobs(ctx, JobFilter{Status: domain.JobStatusProcessing, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)
}
