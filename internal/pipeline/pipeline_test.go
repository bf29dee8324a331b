package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joseph-ayodele/imagetext/constants"
	"github.com/joseph-ayodele/imagetext/internal/blob"
	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/entity"
	"github.com/joseph-ayodele/imagetext/internal/keys"
	"github.com/joseph-ayodele/imagetext/internal/ocr"
	"github.com/joseph-ayodele/imagetext/internal/preprocess"
	"github.com/joseph-ayodele/imagetext/internal/repository"
	"github.com/joseph-ayodele/imagetext/internal/trigger"
)

const bucket = "imagetext-test"

type fakeEngine struct {
	mu    sync.Mutex
	lines []string
	err   error
	docs  []ocr.Document
}

func (f *fakeEngine) Kind() ocr.Kind { return ocr.KindTextract }

func (f *fakeEngine) Recognize(_ context.Context, doc ocr.Document) (ocr.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return ocr.Result{Lines: f.lines}, f.err
}

func (f *fakeEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

type fixture struct {
	blobs  *blob.Memory
	jobs   repository.JobRepository
	engine *fakeEngine
	submit *Submitter
	worker *Worker
	status *StatusReader
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	drv, err := repository.OpenSQLite(":memory:", quietLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = drv.Close() })
	if err := repository.Migrate(context.Background(), drv); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	jobs := repository.NewSQLJobRepository(drv, quietLogger())
	blobs := blob.NewMemory()
	codec := keys.NewCodec("")
	engine := &fakeEngine{lines: []string{"Total: $12.00", "Thank you"}}
	return &fixture{
		blobs:  blobs,
		jobs:   jobs,
		engine: engine,
		submit: NewSubmitter(blobs, jobs, codec, bucket, quietLogger()),
		worker: NewWorker(blobs, jobs, codec, preprocess.New(preprocess.Defaults), engine, quietLogger()),
		status: NewStatusReader(blobs, jobs, bucket, time.Hour, quietLogger()),
	}
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 40, 20))
	for i := range img.Pix {
		img.Pix[i] = 230
	}
	for x := 5; x < 35; x++ {
		img.SetGray(x, 10, color.Gray{Y: 10})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func (f *fixture) submitPNG(t *testing.T, body []byte) (string, string) {
	t.Helper()
	id, err := f.submit.Submit(context.Background(), Upload{Filename: "receipt.png", ContentType: "image/png", Body: body})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return id, "original-images/" + id + "-receipt.png"
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, key := f.submitPNG(t, pngImage(t))

	if _, err := f.blobs.Get(ctx, bucket, key); err != nil {
		t.Fatalf("original not stored at %s: %v", key, err)
	}
	if ct, _ := f.blobs.ContentType(bucket, key); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	view, err := f.status.Status(ctx, id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view != (StatusView{JobID: id, Status: constants.JobStatusPending}) {
		t.Fatalf("view = %+v", view)
	}
	if f.engine.calls() != 0 {
		t.Fatal("submission must not run OCR")
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		up   Upload
	}{
		{"empty body", Upload{Filename: "a.png"}},
		{"empty filename", Upload{Body: []byte{1}}},
		{"dot filename", Upload{Filename: "..", Body: []byte{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.submit.Submit(context.Background(), tt.up)
			if !errors.Is(err, common.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if f.blobs.Len() != 0 {
		t.Fatal("invalid uploads must not write blobs")
	}
}

func TestSubmitReducesFilenameToBaseName(t *testing.T) {
	f := newFixture(t)
	id, err := f.submit.Submit(context.Background(), Upload{Filename: `C:\scans\week 1\receipt.jpg`, Body: []byte{1}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job, _ := f.jobs.Get(context.Background(), id)
	if job.OriginalKey != "original-images/"+id+"-receipt.jpg" {
		t.Fatalf("original key = %q", job.OriginalKey)
	}
	if ct, _ := f.blobs.ContentType(bucket, job.OriginalKey); ct != "image/jpeg" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestSubmitFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("blob store unavailable", func(t *testing.T) {
		s := NewSubmitter(blob.Unavailable{Reason: "no bucket"}, f.jobs, keys.NewCodec(""), bucket, quietLogger())
		_, err := s.Submit(ctx, Upload{Filename: "a.png", Body: []byte{1}})
		if !errors.Is(err, common.ErrSubmissionFailed) || !errors.Is(err, common.ErrConfigurationMissing) {
			t.Fatalf("unexpected error %v", err)
		}
	})

	t.Run("job store unavailable", func(t *testing.T) {
		blobs := blob.NewMemory()
		s := NewSubmitter(blobs, repository.UnavailableJobs{Reason: "no table"}, keys.NewCodec(""), bucket, quietLogger())
		_, err := s.Submit(ctx, Upload{Filename: "a.png", Body: []byte{1}})
		if !errors.Is(err, common.ErrSubmissionFailed) {
			t.Fatalf("unexpected error %v", err)
		}
		if blobs.Len() != 1 {
			t.Fatalf("expected exactly one blob write, got %d objects", blobs.Len())
		}
	})
}

func TestProcessCompletesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, key := f.submitPNG(t, pngImage(t))

	outcome, err := f.worker.Process(ctx, trigger.Trigger{Bucket: bucket, Key: key})
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("process = %q, %v", outcome, err)
	}

	derivedKey := "preprocessed-images/" + id + "-preprocessed.png"
	derived, err := f.blobs.Get(ctx, bucket, derivedKey)
	if err != nil {
		t.Fatalf("derived image missing: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(derived)); err != nil {
		t.Fatalf("derived image is not png: %v", err)
	}
	if ct, _ := f.blobs.ContentType(bucket, derivedKey); ct != constants.ContentTypePNG {
		t.Fatalf("derived content type = %q", ct)
	}

	view, err := f.status.Status(ctx, id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != constants.JobStatusCompleted || view.ExtractedText == nil || *view.ExtractedText != "Total: $12.00\nThank you" {
		t.Fatalf("view = %+v", view)
	}
	if !strings.Contains(view.OriginalImageURL, key) || !strings.Contains(view.PreprocessedImageURL, derivedKey) {
		t.Fatalf("urls = %q, %q", view.OriginalImageURL, view.PreprocessedImageURL)
	}
	if view.ErrorMessage != nil {
		t.Fatalf("completed view carries error: %+v", view)
	}

	doc := f.engine.docs[0]
	if doc.Bucket != "" || len(doc.Bytes) == 0 {
		t.Fatalf("engine should receive original bytes, got %+v", doc)
	}
}

func TestProcessPassesObjectReferenceToRemoteEngine(t *testing.T) {
	f := newFixture(t)
	f.worker.EngineReadsStore = true
	_, key := f.submitPNG(t, pngImage(t))
	if _, err := f.worker.Process(context.Background(), trigger.Trigger{Bucket: bucket, Key: key}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if doc := f.engine.docs[0]; doc.Bucket != bucket || doc.Key != key || doc.Bytes != nil {
		t.Fatalf("engine got %+v", doc)
	}
}

func TestProcessRecordsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, key := f.submitPNG(t, []byte("definitely not an image"))

	outcome, err := f.worker.Process(ctx, trigger.Trigger{Bucket: bucket, Key: key})
	if err != nil || outcome != OutcomeFailed {
		t.Fatalf("process = %q, %v", outcome, err)
	}
	view, err := f.status.Status(ctx, id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != constants.JobStatusFailed || view.ErrorMessage == nil || *view.ErrorMessage == "" {
		t.Fatalf("view = %+v", view)
	}
	if view.ExtractedText != nil || view.OriginalImageURL != "" || view.PreprocessedImageURL != "" {
		t.Fatalf("failed view carries completion fields: %+v", view)
	}
	if f.engine.calls() != 0 {
		t.Fatal("ocr must not run after a preprocessing failure")
	}
	if _, err := f.blobs.Get(ctx, bucket, "preprocessed-images/"+id+"-preprocessed.png"); err == nil {
		t.Fatal("no derived image expected")
	}
}

func TestProcessEngineFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.err = errors.New("textract: ThrottlingException")
	id, key := f.submitPNG(t, pngImage(t))

	outcome, err := f.worker.Process(context.Background(), trigger.Trigger{Bucket: bucket, Key: key})
	if err != nil || outcome != OutcomeFailed {
		t.Fatalf("process = %q, %v", outcome, err)
	}
	job, _ := f.jobs.Get(context.Background(), id)
	if job.ErrorMessage == nil || !strings.Contains(*job.ErrorMessage, "ThrottlingException") {
		t.Fatalf("job = %+v", job)
	}
	if job.DerivedKey != nil || job.ExtractedText != nil {
		t.Fatalf("failed job carries completion attributes: %+v", job)
	}
}

func TestProcessDuplicateTriggerIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, key := f.submitPNG(t, pngImage(t))
	tr := trigger.Trigger{Bucket: bucket, Key: key}

	if _, err := f.worker.Process(ctx, tr); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	before, _ := f.jobs.Get(ctx, id)

	f.engine.lines = []string{"something else"}
	outcome, err := f.worker.Process(ctx, tr)
	if err != nil || outcome != OutcomeSkipped {
		t.Fatalf("second delivery = %q, %v", outcome, err)
	}
	after, _ := f.jobs.Get(ctx, id)
	if *after.ExtractedText != *before.ExtractedText || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("terminal record changed: %+v -> %+v", before, after)
	}
	if f.engine.calls() != 1 {
		t.Fatalf("engine calls = %d, want 1", f.engine.calls())
	}
}

func TestProcessConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, key := f.submitPNG(t, pngImage(t))

	const n = 6
	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := f.worker.Process(ctx, trigger.Trigger{Bucket: bucket, Key: key})
			if err != nil {
				t.Errorf("delivery %d: %v", i, err)
			}
			outcomes[i] = o
		}(i)
	}
	wg.Wait()

	completed := 0
	for _, o := range outcomes {
		switch o {
		case OutcomeCompleted:
			completed++
		case OutcomeSkipped:
		default:
			t.Fatalf("unexpected outcome %q", o)
		}
	}
	if completed != 1 {
		t.Fatalf("completed transitions = %d, want 1", completed)
	}
	job, _ := f.jobs.Get(ctx, id)
	if job.Status != constants.JobStatusCompleted {
		t.Fatalf("status = %s", job.Status)
	}
}

func TestProcessMalformedKey(t *testing.T) {
	f := newFixture(t)
	for _, key := range []string{
		"uploads/receipt.png",
		"original-images/receipt.png",
		"original-images/not-a-uuid-at-all-but-long-enough-xxxx-receipt.png",
	} {
		_, err := f.worker.Process(context.Background(), trigger.Trigger{Bucket: bucket, Key: key})
		if !errors.Is(err, common.ErrMalformedTriggerKey) {
			t.Errorf("%s: expected ErrMalformedTriggerKey, got %v", key, err)
		}
		if Retryable(err) {
			t.Errorf("%s: malformed keys must not be retried", key)
		}
	}
	if f.blobs.Len() != 0 || f.engine.calls() != 0 {
		t.Fatal("malformed trigger caused side effects")
	}
}

func TestProcessBeforeRecordExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := "7b0d8c4e-1f2a-4b3c-9d5e-6f7a8b9c0d1e"
	key := "original-images/" + id + "-receipt.png"
	_ = f.blobs.Put(ctx, bucket, key, pngImage(t), "image/png")

	_, err := f.worker.Process(ctx, trigger.Trigger{Bucket: bucket, Key: key})
	if !errors.Is(err, common.ErrJobNotFound) || !Retryable(err) {
		t.Fatalf("expected retryable ErrJobNotFound, got %v", err)
	}

	// The record lands; redelivery then succeeds.
	if err := f.jobs.Create(ctx, entity.NewPendingJob(id, key, time.Now())); err != nil {
		t.Fatal(err)
	}
	outcome, err := f.worker.Process(ctx, trigger.Trigger{Bucket: bucket, Key: key})
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("redelivery = %q, %v", outcome, err)
	}
}

func TestHandleEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, good := f.submitPNG(t, pngImage(t))

	ev := trigger.NewS3Event(bucket, good)
	ev.Records = append(ev.Records, trigger.NewS3Event(bucket, "original-images/bogus.png").Records...)

	results, err := f.worker.HandleEvent(ctx, ev)
	if !errors.Is(err, common.ErrMalformedTriggerKey) {
		t.Fatalf("expected joined malformed-key error, got %v", err)
	}
	if len(results) != 2 || results[0].Outcome != OutcomeCompleted || results[1].Error == "" {
		t.Fatalf("results = %+v", results)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"00000000-0000-4000-8000-000000000000", "nonexistent-id"} {
		_, err := f.status.Status(context.Background(), id)
		if !errors.Is(err, common.ErrJobNotFound) {
			t.Errorf("%s: expected ErrJobNotFound, got %v", id, err)
		}
	}
}

func TestSyncConverter(t *testing.T) {
	tess := &fakeEngine{lines: []string{"hello", "world  "}}
	tex := &fakeEngine{lines: []string{"remote"}}
	c := NewSyncConverter(preprocess.New(preprocess.Defaults), ocr.Engines{ocr.KindTesseract: tess, ocr.KindTextract: tex}, quietLogger())
	img := pngImage(t)

	text, err := c.Convert(context.Background(), img, ocr.KindTesseract)
	if err != nil || text != "hello\nworld" {
		t.Fatalf("tesseract = %q, %v", text, err)
	}
	if bytes.Equal(tess.docs[0].Bytes, img) {
		t.Fatal("tesseract should receive the preprocessed image")
	}

	text, err = c.Convert(context.Background(), img, ocr.KindTextract)
	if err != nil || text != "remote" {
		t.Fatalf("textract = %q, %v", text, err)
	}
	if !bytes.Equal(tex.docs[0].Bytes, img) {
		t.Fatal("textract should receive the raw upload")
	}

	if _, err := c.Convert(context.Background(), nil, ocr.KindTesseract); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := c.Convert(context.Background(), []byte("nope"), ocr.KindTesseract); err == nil {
		t.Fatal("expected preprocessing error")
	}

	unconfigured := NewSyncConverter(preprocess.New(preprocess.Defaults), ocr.Engines{}, quietLogger())
	if _, err := unconfigured.Convert(context.Background(), img, ocr.KindTextract); !errors.Is(err, common.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
}

// failingFailRepo records completions normally but cannot record failures.
type failingFailRepo struct {
	repository.JobRepository
}

func (failingFailRepo) Fail(context.Context, string, entity.Failure) error {
	return errors.New("store down")
}

func TestProcessFailureNotRecordedIsRedelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, key := f.submitPNG(t, []byte("definitely not an image"))
	f.worker.Jobs = failingFailRepo{JobRepository: f.jobs}

	outcome, err := f.worker.Process(ctx, trigger.Trigger{Bucket: bucket, Key: key})
	if err == nil {
		t.Fatalf("expected an error, got outcome %q", outcome)
	}
	if outcome != "" {
		t.Fatalf("outcome = %q", outcome)
	}
	if !Retryable(err) {
		t.Fatalf("unrecorded failure must be retryable: %v", err)
	}
	if !errors.Is(err, common.ErrProcessingFailed) || !strings.Contains(err.Error(), "store down") {
		t.Fatalf("err = %v", err)
	}
	job, err := f.jobs.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != constants.JobStatusPending || job.ErrorMessage != nil {
		t.Fatalf("job = %+v", job)
	}
}

func TestStatusMissingImageIsNotJobNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, key := f.submitPNG(t, pngImage(t))
	if _, err := f.worker.Process(ctx, trigger.Trigger{Bucket: bucket, Key: key}); err != nil {
		t.Fatal(err)
	}
	if err := f.blobs.Delete(ctx, bucket, "preprocessed-images/"+id+"-preprocessed.png"); err != nil {
		t.Fatal(err)
	}

	_, err := f.status.Status(ctx, id)
	if err == nil {
		t.Fatal("expected an error for a missing derived image")
	}
	if errors.Is(err, common.ErrNotFound) {
		t.Fatalf("missing image reported as not found: %v", err)
	}
	if !errors.Is(err, common.ErrInternal) {
		t.Fatalf("err = %v", err)
	}
}
