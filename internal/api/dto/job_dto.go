package dto

// UploadResponse is returned by POST /api/upload
type UploadResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobResponse is returned by GET /api/jobs/:job_id
type JobResponse struct {
	JobID     string  `json:"job_id"`
	Status    string  `json:"status"`
	ResultURL *string `json:"result_url"`
	Error     *string `json:"error"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID     string  `json:"job_id"`
	Status    string  `json:"status"`
	Style     *string `json:"style,omitempty"`
	ResultURL *string `json:"result_url"`
	Error     *string `json:"error"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// Hairstyle is one entry of the built-in style catalogue
type Hairstyle struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// HealthResponse is returned by GET /healthz
type HealthResponse struct {
	OK         bool   `json:"ok"`
	Service    string `json:"service"`
	Database   string `json:"database"`
	QueueDepth int    `json:"queue_depth"`
	// Jobs counts rows per status
	Jobs map[string]int64 `json:"jobs,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}
