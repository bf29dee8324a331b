package entity

import (
	"time"

	"github.com/joseph-ayodele/imagetext/constants"
)

// Job is one asynchronous OCR request as persisted in the job store.
type Job struct {
	ID            string              `json:"job_id"`
	Status        constants.JobStatus `json:"status"`
	OriginalKey   string              `json:"original_s3_key"`
	DerivedKey    *string             `json:"preprocessed_s3_key,omitempty"`
	ExtractedText *string             `json:"extracted_text,omitempty"`
	ErrorMessage  *string             `json:"error_message,omitempty"`
	CreatedAt     time.Time           `json:"timestamp"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// NewPendingJob builds the record written at submission time.
func NewPendingJob(id, originalKey string, now time.Time) *Job {
	return &Job{
		ID:          id,
		Status:      constants.JobStatusPending,
		OriginalKey: originalKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Completion carries the attributes written by a successful terminal transition.
type Completion struct {
	ExtractedText string
	DerivedKey    string
	At            time.Time
}

// Failure carries the attributes written by a failed terminal transition.
type Failure struct {
	Message string
	At      time.Time
}
