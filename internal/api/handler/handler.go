package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/hair3d/internal/domain"
	"github.com/cuongbtq/hair3d/internal/media"
	"github.com/cuongbtq/hair3d/internal/queue"
	"github.com/cuongbtq/hair3d/internal/storage"
)

// JobStore is the part of the job store used by the HTTP layer
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	MarkFailed(ctx context.Context, jobID, errorMsg string) error
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// UploadPolicy controls what POST /api/upload accepts
type UploadPolicy struct {
	MaxBytes          int64
	AllowedExtensions []string
	VerifyContent     bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Jobs   JobStore
	Queue  queue.Queue
	Media  *media.Store
	Upload UploadPolicy
	// DBCheck reports whether the job store is reachable
	DBCheck func(ctx context.Context) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobStore
	queue  queue.Queue
	media  *media.Store
	upload UploadPolicy
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
		queue:  deps.Queue,
		media:  deps.Media,
		upload: deps.Upload,
	}
}

// HealthHandler serves the liveness probe
type HealthHandler struct {
	logger  *slog.Logger
	jobs    JobStore
	queue   queue.Queue
	dbCheck func(ctx context.Context) error
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		logger:  deps.Logger,
		jobs:    deps.Jobs,
		queue:   deps.Queue,
		dbCheck: deps.DBCheck,
	}
}
