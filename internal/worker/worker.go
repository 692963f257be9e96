// Package worker runs the single background consumer that turns queued
// jobs into results.
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/hair3d/internal/domain"
	"github.com/cuongbtq/hair3d/internal/inference"
	"github.com/cuongbtq/hair3d/internal/queue"
)

// JobStore is the part of the job store the worker mutates
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ClaimJob(ctx context.Context, jobID string) (*domain.Job, error)
	MarkDone(ctx context.Context, jobID, resultPath string) error
	MarkDegraded(ctx context.Context, jobID, resultPath string) error
	MarkFailed(ctx context.Context, jobID, errorMsg string) error
}

// Processor produces the result file for one job
type Processor interface {
	Process(ctx context.Context, req inference.Request) (inference.Outcome, error)
}

// ResultPather decides where a job's result is written
type ResultPather interface {
	ResultPath(jobID, srcPath string) string
}

// Config holds worker configuration
type Config struct {
	Logger    *slog.Logger
	Store     JobStore
	Queue     queue.Queue
	Processor Processor
	Results   ResultPather
	// JobTimeout bounds a single Process call
	JobTimeout time.Duration
	// MarkDegraded records fallback results as DEGRADED instead of DONE
	MarkDegraded bool
}

// Worker consumes the queue one job at a time
type Worker struct {
	logger       *slog.Logger
	store        JobStore
	queue        queue.Queue
	processor    Processor
	results      ResultPather
	jobTimeout   time.Duration
	markDegraded bool

	started atomic.Bool
	done    chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:       cfg.Logger,
		store:        cfg.Store,
		queue:        cfg.Queue,
		processor:    cfg.Processor,
		results:      cfg.Results,
		jobTimeout:   cfg.JobTimeout,
		markDegraded: cfg.MarkDegraded,
		done:         make(chan struct{}),
	}
}

// Start processes jobs until the queue is closed or ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return nil
	}
	defer close(w.done)

	w.logger.Info("Starting worker",
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Bool("mark_degraded", w.markDegraded),
	)

	w.consume(ctx)

	w.logger.Info("Worker loop exited")
	return nil
}

// Stop enqueues the shutdown sentinel and waits for the job in flight to finish
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	if err := w.queue.Close(); err != nil {
		w.logger.Error("Failed to close queue", slog.Any("error", err))
	}
	if w.started.Load() {
		<-w.done
	}
	w.logger.Info("Worker stopped")
}
