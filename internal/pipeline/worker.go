package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/joseph-ayodele/imagetext/constants"
	"github.com/joseph-ayodele/imagetext/internal/blob"
	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/entity"
	"github.com/joseph-ayodele/imagetext/internal/keys"
	"github.com/joseph-ayodele/imagetext/internal/ocr"
	"github.com/joseph-ayodele/imagetext/internal/repository"
	"github.com/joseph-ayodele/imagetext/internal/trigger"
)

// Outcome is the result of handling one trigger.
type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeFailed    Outcome = "FAILED"
	// OutcomeSkipped means the job was already terminal: a duplicate delivery,
	// or a concurrent delivery that won the transition first.
	OutcomeSkipped Outcome = "SKIPPED"
)

// Preprocessor turns original image bytes into the derived PNG.
type Preprocessor interface {
	Apply(src []byte) ([]byte, error)
}

type Worker struct {
	Blobs      blob.Store
	Jobs       repository.JobRepository
	Codec      keys.Codec
	Preprocess Preprocessor
	Engine     ocr.Engine
	// EngineReadsStore is set when the engine can fetch the original object
	// itself (Textract against S3). Otherwise it receives the bytes.
	EngineReadsStore bool
	Logger           *slog.Logger
	Now              func() time.Time
}

func NewWorker(blobs blob.Store, jobs repository.JobRepository, codec keys.Codec, pre Preprocessor, engine ocr.Engine, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		Blobs:      blobs,
		Jobs:       jobs,
		Codec:      codec,
		Preprocess: pre,
		Engine:     engine,
		Logger:     logger,
		Now:        time.Now,
	}
}

// Process handles one storage-write event for an original image.
//
// A processing failure is recorded on the job and reported as OutcomeFailed
// with a nil error. A non-nil error means the event should be redelivered,
// except for keys that wrap common.ErrMalformedTriggerKey, which never decode.
func (w *Worker) Process(ctx context.Context, t trigger.Trigger) (Outcome, error) {
	ref, err := w.Codec.ParseOriginalKey(t.Key)
	if err != nil {
		w.Logger.Error("worker.trigger.malformed", "bucket", t.Bucket, "key", t.Key, "err", err)
		return "", err
	}
	ctx = common.WithJobID(ctx, ref.JobID)
	log := common.LoggerFrom(ctx, w.Logger).With("key", t.Key)

	job, err := w.Jobs.Get(ctx, ref.JobID)
	if err != nil {
		if errors.Is(err, common.ErrJobNotFound) {
			log.Warn("worker.job.missing")
		} else {
			log.Error("worker.job.read_failed", "err", err)
		}
		return "", err
	}
	if job.Status.IsTerminal() {
		log.Info("worker.duplicate", "status", job.Status)
		return OutcomeSkipped, nil
	}

	completion, err := w.run(ctx, t, ref.JobID)
	if err == nil {
		err = w.Jobs.Complete(ctx, ref.JobID, completion)
		if errors.Is(err, common.ErrConflict) {
			log.Info("worker.complete.lost_race")
			return OutcomeSkipped, nil
		}
		if err == nil {
			log.Info("worker.process.ok", "derived_key", completion.DerivedKey, "chars", len(completion.ExtractedText))
			return OutcomeCompleted, nil
		}
	}
	return w.fail(ctx, log, ref.JobID, err)
}

// run downloads, preprocesses, stores the derived image and recognises text.
// It returns the attributes of the COMPLETED write.
func (w *Worker) run(ctx context.Context, t trigger.Trigger, jobID string) (entity.Completion, error) {
	original, err := w.Blobs.Get(ctx, t.Bucket, t.Key)
	if err != nil {
		return entity.Completion{}, fmt.Errorf("download original: %w", err)
	}

	derived, err := w.Preprocess.Apply(original)
	if err != nil {
		return entity.Completion{}, fmt.Errorf("preprocess: %w", err)
	}

	derivedKey := w.Codec.DerivedKey(jobID)
	if err := w.Blobs.Put(ctx, t.Bucket, derivedKey, derived, constants.ContentTypePNG); err != nil {
		return entity.Completion{}, fmt.Errorf("store preprocessed image: %w", err)
	}

	doc := ocr.Document{Bytes: original}
	if w.EngineReadsStore {
		doc = ocr.Document{Bucket: t.Bucket, Key: t.Key}
	}
	res, err := w.Engine.Recognize(ctx, doc)
	if err != nil {
		return entity.Completion{}, fmt.Errorf("ocr: %w", err)
	}

	return entity.Completion{
		ExtractedText: res.Text(),
		DerivedKey:    derivedKey,
		At:            w.Now().UTC(),
	}, nil
}

func (w *Worker) fail(ctx context.Context, log *slog.Logger, jobID string, cause error) (Outcome, error) {
	log.Error("worker.process.failed", "err", cause)
	err := w.Jobs.Fail(ctx, jobID, entity.Failure{Message: cause.Error(), At: w.Now().UTC()})
	switch {
	case err == nil:
		return OutcomeFailed, nil
	case errors.Is(err, common.ErrConflict):
		log.Info("worker.fail.lost_race")
		return OutcomeSkipped, nil
	default:
		log.Error("worker.fail.record_failed", "err", err)
		return "", fmt.Errorf("%w: %w (recording failure: %w)", common.ErrProcessingFailed, cause, err)
	}
}

// RecordResult is the outcome of one record of a multi-record event.
type RecordResult struct {
	Bucket  string  `json:"bucket"`
	Key     string  `json:"key"`
	Outcome Outcome `json:"outcome,omitempty"`
	Error   string  `json:"error,omitempty"`
	Err     error   `json:"-"`
}

// HandleEvent processes every record of an S3 notification in order. The
// returned error joins the per-record errors so that the event source
// redelivers when any record needs it.
func (w *Worker) HandleEvent(ctx context.Context, ev events.S3Event) ([]RecordResult, error) {
	triggers, err := trigger.FromS3Event(ev)
	if err != nil {
		return nil, err
	}
	results := make([]RecordResult, 0, len(triggers))
	var errs []error
	for _, t := range triggers {
		outcome, err := w.Process(ctx, t)
		r := RecordResult{Bucket: t.Bucket, Key: t.Key, Outcome: outcome}
		if err != nil {
			r.Error = err.Error()
			r.Err = err
			errs = append(errs, err)
		}
		results = append(results, r)
	}
	return results, errors.Join(errs...)
}

// Retryable reports whether redelivering the trigger that produced err can
// succeed.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, common.ErrMalformedTriggerKey),
		errors.Is(err, common.ErrConfigurationMissing),
		errors.Is(err, common.ErrValidation):
		return false
	}
	return true
}
