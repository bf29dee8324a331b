// Package pipeline holds the asynchronous OCR job flow (submission, the
// event-triggered worker and status reads) and the synchronous converter.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/imagetext/constants"
	"github.com/joseph-ayodele/imagetext/internal/blob"
	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/entity"
	"github.com/joseph-ayodele/imagetext/internal/keys"
	"github.com/joseph-ayodele/imagetext/internal/repository"
)

// Upload is one client-submitted image. Body is never decoded here.
type Upload struct {
	Filename    string
	ContentType string
	Body        []byte
}

type Submitter struct {
	Blobs  blob.Store
	Jobs   repository.JobRepository
	Codec  keys.Codec
	Bucket string
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

func NewSubmitter(blobs blob.Store, jobs repository.JobRepository, codec keys.Codec, bucket string, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		Blobs:  blobs,
		Jobs:   jobs,
		Codec:  codec,
		Bucket: bucket,
		Logger: logger,
		Now:    time.Now,
		NewID:  func() string { return uuid.NewString() },
	}
}

// Submit stores the upload and records a PENDING job for it, returning the job
// id without waiting for processing. A blob left behind by a failed record
// create is not cleaned up.
func (s *Submitter) Submit(ctx context.Context, u Upload) (string, error) {
	v := common.NewValidator()
	v.Field("image", u.Body, common.Required)
	v.Field("filename", keys.SanitizeFilename(u.Filename), common.Required, common.MaxLength(512))
	if err := common.ValidateAndReturnError(v); err != nil {
		return "", err
	}

	jobID := s.NewID()
	key, err := s.Codec.OriginalKey(jobID, u.Filename)
	if err != nil {
		return "", err
	}
	log := common.LoggerFrom(common.WithJobID(ctx, jobID), s.Logger)

	contentType := u.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = constants.ContentTypeFor(u.Filename)
	}
	if err := s.Blobs.Put(ctx, s.Bucket, key, u.Body, contentType); err != nil {
		log.Error("submit.blob.failed", "key", key, "err", err)
		return "", submissionFailed("could not store image", err)
	}

	if err := s.Jobs.Create(ctx, entity.NewPendingJob(jobID, key, s.Now().UTC())); err != nil {
		log.Error("submit.job.failed", "key", key, "err", err)
		return "", submissionFailed("could not record job", err)
	}

	log.Info("submit.ok", "key", key, "bytes", len(u.Body))
	return jobID, nil
}

func submissionFailed(msg string, err error) error {
	return common.NewAppError("SUBMISSION_FAILED", msg, fmt.Errorf("%w: %w", common.ErrSubmissionFailed, err))
}
