package domain

// Job status values
const (
	JobStatusPending    = "PENDING"
	JobStatusProcessing = "PROCESSING"
	JobStatusDone       = "DONE"
	JobStatusFailed     = "FAILED"
	// JobStatusDegraded marks a result that is an unprocessed copy of the source
	JobStatusDegraded = "DEGRADED"
)

// IsTerminal reports whether a job in this status will never change again
func IsTerminal(status string) bool {
	switch status {
	case JobStatusDone, JobStatusFailed, JobStatusDegraded:
		return true
	default:
		return false
	}
}
