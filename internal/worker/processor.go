package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/hair3d/internal/domain"
	"github.com/cuongbtq/hair3d/internal/inference"
)

// ErrMsgInterrupted is recorded for a job whose worker stopped after claiming it
const ErrMsgInterrupted = "interrupted: worker restarted mid-job"

// processJob loads, claims, processes and finishes a single job
func (w *Worker) processJob(ctx context.Context, jobID string) {
	// store calls must land even if shutdown cancels ctx mid-job
	writeCtx := context.WithoutCancel(ctx)

	// Step 1: load, skipping ids that no longer exist
	job, err := w.store.GetJobByID(writeCtx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			w.logger.Warn("Job not found, skipping", slog.String("job_id", jobID))
			return
		}
		w.logger.Error("Failed to load job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		w.finishFailed(writeCtx, jobID, fmt.Sprintf("failed to load job: %v", err))
		return
	}
	if job.Status != domain.JobStatusPending {
		w.settleClaimed(writeCtx, job)
		return
	}

	// Step 2: claim (PENDING → PROCESSING)
	claimed, err := w.store.ClaimJob(writeCtx, job.ID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			w.reloadClaimed(writeCtx, jobID)
			return
		}
		w.logger.Error("Failed to claim job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		w.finishFailed(writeCtx, jobID, fmt.Sprintf("failed to claim job: %v", err))
		return
	}
	job = claimed

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job processing panicked",
				slog.String("job_id", jobID),
				slog.Any("panic", r),
			)
			w.finishFailed(writeCtx, jobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	// Step 3: compute destination
	req := inference.Request{
		SrcPath: job.SrcPath,
		DstPath: w.results.ResultPath(job.ID, job.SrcPath),
	}
	if job.Style != nil {
		req.Style = *job.Style
	}

	// Step 4: process
	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	outcome, err := w.processor.Process(jobCtx, req)

	// Step 5: record the terminal status
	if err != nil {
		w.logger.Error("Job execution failed",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		w.finishFailed(writeCtx, jobID, err.Error())
		return
	}

	if outcome.Degraded && w.markDegraded {
		if err := w.store.MarkDegraded(writeCtx, jobID, req.DstPath); err != nil {
			w.logger.Error("Failed to update job status to DEGRADED",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
			w.recordWriteFailure(writeCtx, jobID, err)
			return
		}
		w.logger.Warn("Job completed with fallback result",
			slog.String("job_id", jobID),
			slog.Any("cause", outcome.Cause),
		)
		return
	}

	if err := w.store.MarkDone(writeCtx, jobID, req.DstPath); err != nil {
		w.logger.Error("Failed to update job status to DONE",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		w.recordWriteFailure(writeCtx, jobID, err)
		return
	}

	if outcome.Degraded {
		w.logger.Warn("Job completed with fallback result",
			slog.String("job_id", jobID),
			slog.String("result_path", req.DstPath),
			slog.Any("cause", outcome.Cause),
		)
		return
	}
	w.logger.Info("Job completed successfully",
		slog.String("job_id", jobID),
		slog.String("result_path", req.DstPath),
	)
}

func (w *Worker) finishFailed(ctx context.Context, jobID, msg string) {
	if err := w.store.MarkFailed(ctx, jobID, msg); err != nil {
		w.logger.Error("Failed to update job status to FAILED",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

// reloadClaimed handles a lost claim by looking at the row again
func (w *Worker) reloadClaimed(ctx context.Context, jobID string) {
	job, err := w.store.GetJobByID(ctx, jobID)
	if err != nil {
		w.logger.Error("Failed to reload claimed job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}
	w.settleClaimed(ctx, job)
}

// settleClaimed finishes a job that is no longer PENDING when it is dequeued.
// Only one consumer runs, so a PROCESSING row here was left behind by a
// worker that stopped mid-job and the message is a redelivery.
func (w *Worker) settleClaimed(ctx context.Context, job *domain.Job) {
	if domain.IsTerminal(job.Status) {
		w.logger.Warn("Job already finished, skipping",
			slog.String("job_id", job.ID),
			slog.String("status", job.Status),
		)
		return
	}

	w.logger.Warn("Job was interrupted mid-processing, marking as FAILED",
		slog.String("job_id", job.ID),
		slog.String("status", job.Status),
	)
	w.finishFailed(ctx, job.ID, ErrMsgInterrupted)
}

// recordWriteFailure marks the job FAILED when its result could not be recorded
func (w *Worker) recordWriteFailure(ctx context.Context, jobID string, err error) {
	if errors.Is(err, domain.ErrJobFinished) {
		return
	}
	w.finishFailed(ctx, jobID, fmt.Sprintf("failed to record result: %v", err))
}
