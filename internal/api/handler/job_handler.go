package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/hair3d/internal/api/dto"
	"github.com/cuongbtq/hair3d/internal/domain"
	"github.com/cuongbtq/hair3d/internal/media"
	"github.com/cuongbtq/hair3d/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ResultsURLPrefix is where result files are served from
const ResultsURLPrefix = "/files/results"

// Upload handles POST /api/upload
// Persists the image, creates a PENDING job and queues it for the worker
func (h *JobHandler) Upload(c *gin.Context) {
	if h.upload.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.upload.MaxBytes)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "file is too large"})
			return
		}
		h.logger.Warn("Upload without file part", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "file field is required"})
		return
	}

	if fh.Filename == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "filename is empty"})
		return
	}
	if !media.AllowedExtension(fh.Filename, h.upload.AllowedExtensions) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "allowed extensions: " + strings.Join(h.upload.AllowedExtensions, "/"),
		})
		return
	}
	if fh.Size == 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "file is empty"})
		return
	}

	srcPath, err := h.media.SaveUpload(fh, h.upload.VerifyContent)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidUpload) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "file is not a supported image"})
			return
		}
		h.logger.Error("Failed to save upload", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to save upload"})
		return
	}

	job := &domain.Job{
		ID:      uuid.NewString(),
		SrcPath: srcPath,
	}
	if style := strings.TrimSpace(c.PostForm("style")); style != "" {
		job.Style = &style
	}

	ctx := c.Request.Context()
	if err := h.jobs.CreateJob(ctx, job); err != nil {
		h.logger.Error("Failed to create job", slog.Any("error", err))
		if rmErr := h.media.Remove(srcPath); rmErr != nil {
			h.logger.Warn("Failed to remove orphaned upload", slog.Any("error", rmErr))
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to create job"})
		return
	}

	if err := h.queue.Enqueue(ctx, job.ID); err != nil {
		h.logger.Error("Failed to enqueue job",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		// the row exists, so it must not stay PENDING forever
		if markErr := h.jobs.MarkFailed(ctx, job.ID, "failed to enqueue job: "+err.Error()); markErr != nil {
			h.logger.Error("Failed to mark unqueued job as FAILED",
				slog.String("job_id", job.ID),
				slog.Any("error", markErr),
			)
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to enqueue job"})
		return
	}

	h.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("src_path", srcPath),
	)

	c.JSON(http.StatusOK, dto.UploadResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// GetJob handles GET /api/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	// ids are always UUIDs, anything else cannot exist
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
		return
	}

	job, err := h.jobs.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to get job"})
		return
	}

	c.JSON(http.StatusOK, dto.JobResponse{
		JobID:     job.ID,
		Status:    job.Status,
		ResultURL: resultURL(job),
		Error:     job.Error,
	})
}

// ListJobs handles GET /api/jobs
// Lists jobs newest first with optional status filter and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), storage.JobFilter{
		Status:   strings.ToUpper(req.Status),
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list jobs"})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		job := &jobs[i]
		resp.Jobs[i] = dto.JobDTO{
			JobID:     job.ID,
			Status:    job.Status,
			Style:     job.Style,
			ResultURL: resultURL(job),
			Error:     job.Error,
			CreatedAt: job.CreatedAt.Format(time.RFC3339),
			UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
		}
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID})
	}

	c.JSON(http.StatusOK, resp)
}

func resultURL(job *domain.Job) *string {
	if job.ResultPath == nil {
		return nil
	}
	u := ResultsURLPrefix + "/" + filepath.Base(*job.ResultPath)
	return &u
}
