package constants

// JobStatus is the canonical status for rows in the job store.
type JobStatus string

// Stable values (store these exact strings).
const (
	JobStatusPending   JobStatus = "PENDING"   // created, waiting for the worker
	JobStatusCompleted JobStatus = "COMPLETED" // terminal: text extracted
	JobStatusFailed    JobStatus = "FAILED"    // terminal failure
)

// NotFoundStatus is reported to pollers for unknown job ids.
const NotFoundStatus = "NOT_FOUND"

// IsTerminal reports whether no further transition is valid from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the stored values.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}
