package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/imagetext/constants"
	"github.com/joseph-ayodele/imagetext/internal/blob"
	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/repository"
)

const DefaultPresignTTL = time.Hour

// StatusView is what a poller sees. Fields outside the job's state are nil or
// empty and omitted from JSON.
type StatusView struct {
	JobID                string              `json:"job_id"`
	Status               constants.JobStatus `json:"status"`
	ExtractedText        *string             `json:"extracted_text,omitempty"`
	OriginalImageURL     string              `json:"original_image_url,omitempty"`
	PreprocessedImageURL string              `json:"preprocessed_image_url,omitempty"`
	ErrorMessage         *string             `json:"error_message,omitempty"`
}

type StatusReader struct {
	Blobs      blob.Store
	Jobs       repository.JobRepository
	Bucket     string
	PresignTTL time.Duration
	Logger     *slog.Logger
}

func NewStatusReader(blobs blob.Store, jobs repository.JobRepository, bucket string, ttl time.Duration, logger *slog.Logger) *StatusReader {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	return &StatusReader{Blobs: blobs, Jobs: jobs, Bucket: bucket, PresignTTL: ttl, Logger: logger}
}

// Status projects the job onto a StatusView. Completed jobs get freshly
// presigned image URLs; nothing is written.
func (s *StatusReader) Status(ctx context.Context, jobID string) (StatusView, error) {
	if common.UUID("job_id", jobID) != nil {
		return StatusView{}, fmt.Errorf("job %q: %w", jobID, common.ErrJobNotFound)
	}
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return StatusView{}, err
	}

	view := StatusView{JobID: job.ID, Status: job.Status}
	switch job.Status {
	case constants.JobStatusCompleted:
		view.ExtractedText = job.ExtractedText
		if view.ExtractedText == nil {
			empty := ""
			view.ExtractedText = &empty
		}
		if view.OriginalImageURL, err = s.Blobs.PresignGet(ctx, s.Bucket, job.OriginalKey, s.PresignTTL); err != nil {
			return StatusView{}, s.presignFailed(ctx, job.OriginalKey, err)
		}
		if job.DerivedKey != nil {
			if view.PreprocessedImageURL, err = s.Blobs.PresignGet(ctx, s.Bucket, *job.DerivedKey, s.PresignTTL); err != nil {
				return StatusView{}, s.presignFailed(ctx, *job.DerivedKey, err)
			}
		}
	case constants.JobStatusFailed:
		view.ErrorMessage = job.ErrorMessage
	}
	return view, nil
}

// presignFailed reports a missing or unsignable image of an existing job as an
// internal error. The object's absence must not read as an unknown job.
func (s *StatusReader) presignFailed(ctx context.Context, key string, err error) error {
	common.LoggerFrom(ctx, s.Logger).Error("status.presign.failed", "key", key, "err", err)
	return common.NewAppError("PRESIGN_FAILED", "could not sign image URLs",
		fmt.Errorf("%w: presign %s: %v", common.ErrInternal, key, err))
}
