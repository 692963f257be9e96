package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/hair3d/internal/domain"
	"github.com/jmoiron/sqlx"
)

// Storage handles all job table operations.
// Queries are written with ? placeholders and rebound for the active driver.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// StatusCount is the number of jobs in one status
type StatusCount struct {
	Status string `db:"status"`
	Count  int64  `db:"count"`
}

const jobColumns = `id, status, src_path, style, result_path, error, created_at, updated_at`

// Migrate creates the jobs table when it does not exist
func (s *Storage) Migrate(ctx context.Context) error {
	tsType := "TIMESTAMPTZ"
	if s.db.DriverName() == "sqlite" {
		tsType = "TIMESTAMP"
	}

	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS jobs (
			id          TEXT PRIMARY KEY,
			status      TEXT NOT NULL,
			src_path    TEXT NOT NULL,
			style       TEXT NULL,
			result_path TEXT NULL,
			error       TEXT NULL,
			created_at  %[1]s NOT NULL,
			updated_at  %[1]s NOT NULL
		)`, tsType),
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate jobs table: %w", err)
		}
	}

	s.logger.Info("Jobs table ready", slog.String("driver", s.db.DriverName()))
	return nil
}

// CreateJob inserts a new PENDING job. ID and timestamps are filled in when empty.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = domain.JobStatusPending
	job.ResultPath = nil
	job.Error = nil

	query := s.db.Rebind(`
		INSERT INTO jobs (
			id, status, src_path, style,
			result_path, error, created_at, updated_at
		) VALUES (
			?, ?, ?, ?,
			NULL, NULL, ?, ?
		)
	`)

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Status,
		job.SrcPath,
		job.Style,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJobByID retrieves a job by its ID
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ClaimJob moves a job from PENDING to PROCESSING.
// Only one caller can win the claim for a given job.
func (s *Storage) ClaimJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`
		UPDATE jobs
		SET status = ?,
		    updated_at = ?
		WHERE id = ?
		  AND status = ?
	`)

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusProcessing, s.now(), jobID, domain.JobStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		s.logger.Warn("Failed to claim job - already claimed or not found",
			slog.String("job_id", jobID),
		)
		return nil, domain.ErrJobAlreadyClaimed
	}

	job, err := s.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
	)

	return job, nil
}

// MarkDone records a successful result
func (s *Storage) MarkDone(ctx context.Context, jobID, resultPath string) error {
	return s.finish(ctx, jobID, domain.JobStatusDone, &resultPath, nil)
}

// MarkDegraded records a result that is a verbatim copy of the source
func (s *Storage) MarkDegraded(ctx context.Context, jobID, resultPath string) error {
	return s.finish(ctx, jobID, domain.JobStatusDegraded, &resultPath, nil)
}

// MarkFailed records a failure message; any result path is cleared
func (s *Storage) MarkFailed(ctx context.Context, jobID, errorMsg string) error {
	return s.finish(ctx, jobID, domain.JobStatusFailed, nil, &errorMsg)
}

// finish writes a terminal status together with its result or error column
// in one statement, so result_path and error always agree with status.
func (s *Storage) finish(ctx context.Context, jobID, status string, resultPath, errorMsg *string) error {
	query := s.db.Rebind(`
		UPDATE jobs
		SET status = ?,
		    result_path = ?,
		    error = ?,
		    updated_at = ?
		WHERE id = ?
		  AND status IN (?, ?)
	`)

	result, err := s.db.ExecContext(ctx, query,
		status,
		resultPath,
		errorMsg,
		s.now(),
		jobID,
		domain.JobStatusPending,
		domain.JobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetJobByID(ctx, jobID); err != nil {
			return err
		}
		return domain.ErrJobFinished
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

// CountByStatus returns job counts grouped by status
func (s *Storage) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []StatusCount
	query := `SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
