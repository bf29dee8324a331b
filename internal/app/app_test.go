package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joseph-ayodele/imagetext/internal/blob"
	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/ocr"
	"github.com/joseph-ayodele/imagetext/internal/repository"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func baseConfig() *common.Config {
	return &common.Config{
		Server:  common.ServerConfig{HTTPAddr: ":0", UploadMode: common.UploadModeAsync, PresignTTL: time.Hour},
		OCR:     common.OCRConfig{Tesseract: "imagetext-no-such-binary", WorkerEngine: "tesseract", SyncEngine: "tesseract"},
		Worker:  common.WorkerConfig{Workers: 1},
		AWS:     common.AWSConfig{Region: "us-east-1", AccessKeyID: "AKID", SecretAccessKey: "secret"},
		Storage: common.StorageConfig{Bucket: "local"},
	}
}

func TestBuildDisabledCapabilities(t *testing.T) {
	a, err := Build(context.Background(), baseConfig(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if a.Capabilities["blob_store"] != disabled || a.Capabilities["job_store"] != disabled {
		t.Fatalf("capabilities = %v", a.Capabilities)
	}
	if a.Capabilities["ocr.tesseract"] != disabled {
		t.Fatalf("tesseract should be disabled: %v", a.Capabilities)
	}

	_, err = a.Submitter(nil).Submit(context.Background(), pipelineUpload())
	if !errors.Is(err, common.ErrSubmissionFailed) || !errors.Is(err, common.ErrConfigurationMissing) {
		t.Fatalf("submit err = %v", err)
	}
	if _, err := a.Jobs.Get(context.Background(), "x"); !errors.Is(err, common.ErrConfigurationMissing) {
		t.Fatalf("jobs err = %v", err)
	}
	eng, err := a.WorkerEngine()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Recognize(context.Background(), ocr.Document{Bytes: []byte("x")}); !errors.Is(err, common.ErrConfigurationMissing) {
		t.Fatalf("engine err = %v", err)
	}
}

func TestBuildLocalBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig()
	cfg.Storage.Backend = common.BlobBackendFS
	cfg.Storage.FSRoot = filepath.Join(dir, "blobs")
	cfg.Storage.SigningKey = "k"
	cfg.Storage.PublicBaseURL = "http://localhost:5000"
	cfg.Jobs.Backend = common.JobsBackendSQLite
	cfg.Jobs.SQLitePath = filepath.Join(dir, "db", "jobs.db")

	a, err := Build(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if a.FS == nil {
		t.Fatal("fs blob store not exposed")
	}
	if _, ok := a.Blobs.(*blob.FS); !ok {
		t.Fatalf("blobs = %T", a.Blobs)
	}
	if a.Capabilities["job_store"] != common.JobsBackendSQLite {
		t.Fatalf("capabilities = %v", a.Capabilities)
	}

	id, err := a.Submitter(nil).Submit(context.Background(), pipelineUpload())
	if err != nil {
		t.Fatal(err)
	}
	view, err := a.StatusReader().Status(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != "PENDING" {
		t.Fatalf("status = %s", view.Status)
	}

	w, err := a.Worker()
	if err != nil {
		t.Fatal(err)
	}
	if w.EngineReadsStore {
		t.Fatal("local backends must pass bytes to the engine")
	}
}

func TestWorkerEngineRejectsUnknownKind(t *testing.T) {
	cfg := baseConfig()
	cfg.OCR.WorkerEngine = "paddle"
	a, err := Build(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Worker(); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestSQLiteInMemoryIsMigrated(t *testing.T) {
	cfg := baseConfig()
	cfg.Jobs.Backend = common.JobsBackendSQLite
	cfg.Jobs.SQLitePath = ":memory:"
	a, err := Build(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if _, err := a.Jobs.ListStale(context.Background(), time.Now(), 10); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Jobs.(repository.UnavailableJobs); ok {
		t.Fatal("sqlite store not wired")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, common.LogConfig{Level: "warn", Format: "text"})
	logger.Info("hidden")
	logger.Warn("shown", "job_id", "abc")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "job_id=abc") {
		t.Fatalf("log output = %q", out)
	}

	buf.Reset()
	NewLogger(&buf, common.LogConfig{Level: "debug"}).Debug("dbg")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected json output, got %q", buf.String())
	}
	slog.SetDefault(quietLogger())
}

func TestTextractCapabilityFollowsCredentials(t *testing.T) {
	t.Run("static keys", func(t *testing.T) {
		a, err := Build(context.Background(), baseConfig(), quietLogger())
		if err != nil {
			t.Fatal(err)
		}
		defer a.Close()
		if a.Capabilities["ocr.textract"] != "enabled" {
			t.Fatalf("capabilities = %v", a.Capabilities)
		}
	})

	t.Run("no credentials", func(t *testing.T) {
		dir := t.TempDir()
		for k, v := range map[string]string{
			"AWS_ACCESS_KEY_ID":                      "",
			"AWS_SECRET_ACCESS_KEY":                  "",
			"AWS_SESSION_TOKEN":                      "",
			"AWS_PROFILE":                            "",
			"AWS_SHARED_CREDENTIALS_FILE":            filepath.Join(dir, "credentials"),
			"AWS_CONFIG_FILE":                        filepath.Join(dir, "config"),
			"AWS_EC2_METADATA_DISABLED":              "true",
			"AWS_WEB_IDENTITY_TOKEN_FILE":            "",
			"AWS_CONTAINER_CREDENTIALS_FULL_URI":     "",
			"AWS_CONTAINER_CREDENTIALS_RELATIVE_URI": "",
		} {
			t.Setenv(k, v)
		}
		cfg := baseConfig()
		cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey = "", ""
		cfg.OCR.SyncEngine = "textract"

		a, err := Build(context.Background(), cfg, quietLogger())
		if err != nil {
			t.Fatal(err)
		}
		defer a.Close()
		if a.Capabilities["ocr.textract"] != disabled {
			t.Fatalf("capabilities = %v", a.Capabilities)
		}
		_, err = a.Engines.Get(ocr.KindTextract).Recognize(context.Background(), ocr.Document{Bytes: []byte("x")})
		if !errors.Is(err, common.ErrConfigurationMissing) {
			t.Fatalf("engine err = %v", err)
		}
	})
}
