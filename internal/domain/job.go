package domain

import "time"

// Job is one user-submitted image processing request
type Job struct {
	ID         string    `db:"id"`
	Status     string    `db:"status"`
	SrcPath    string    `db:"src_path"`
	Style      *string   `db:"style"`
	ResultPath *string   `db:"result_path"`
	Error      *string   `db:"error"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// JobMessage is the queue payload for a job
type JobMessage struct {
	JobID string `json:"job_id"`
}
