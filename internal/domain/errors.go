package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when a job is no longer PENDING at claim time
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in PENDING status")

	// ErrJobFinished is returned when a terminal job would be updated again
	ErrJobFinished = errors.New("job already in a terminal state")

	// ErrQueueClosed is returned by a queue after its shutdown sentinel was consumed
	ErrQueueClosed = errors.New("queue closed")

	// ErrInvalidUpload is returned when an uploaded file fails validation
	ErrInvalidUpload = errors.New("invalid upload")
)
