// Package app assembles the services from configuration. Every capability is
// resolved once here; ones that are not configured are replaced by disabled
// variants that fail with common.ErrConfigurationMissing when used.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/textract"

	"github.com/joseph-ayodele/imagetext/internal/awsx"
	"github.com/joseph-ayodele/imagetext/internal/blob"
	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/keys"
	"github.com/joseph-ayodele/imagetext/internal/ocr"
	"github.com/joseph-ayodele/imagetext/internal/pipeline"
	"github.com/joseph-ayodele/imagetext/internal/preprocess"
	"github.com/joseph-ayodele/imagetext/internal/repository"
)

const disabled = "disabled"

type App struct {
	Config *common.Config
	Logger *slog.Logger
	Codec  keys.Codec

	Blobs blob.Store
	// FS is set for the filesystem blob backend; it also serves signed URLs.
	FS *blob.FS

	Jobs    repository.JobRepository
	Engines ocr.Engines

	// Capabilities reports how each capability was resolved, for /health.
	Capabilities map[string]string

	awsCfg  *aws.Config
	closers []func()
}

// Build resolves every capability. It fails only when a configured backend
// cannot be reached; absent configuration yields a disabled capability.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:       cfg,
		Logger:       logger,
		Codec:        keys.NewCodec(cfg.Storage.DerivedPrefix),
		Capabilities: map[string]string{},
	}
	if err := a.buildBlobs(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildJobs(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.buildEngines(ctx)
	logger.Info("capabilities resolved", "capabilities", a.Capabilities)
	return a, nil
}

func (a *App) aws(ctx context.Context) (aws.Config, error) {
	if a.awsCfg != nil {
		return *a.awsCfg, nil
	}
	cfg, err := awsx.LoadConfig(ctx, a.Config.AWS)
	if err != nil {
		return aws.Config{}, err
	}
	a.awsCfg = &cfg
	return cfg, nil
}

func (a *App) buildBlobs(ctx context.Context) error {
	st := a.Config.Storage
	switch st.Backend {
	case common.BlobBackendS3:
		if st.Bucket == "" {
			a.Blobs = blob.Unavailable{Reason: "S3_BUCKET_NAME is not set"}
			a.Capabilities["blob_store"] = disabled
			return nil
		}
		awsCfg, err := a.aws(ctx)
		if err != nil {
			return err
		}
		a.Blobs = blob.NewS3(s3.NewFromConfig(awsCfg, awsx.S3Options(st)))
	case common.BlobBackendFS:
		fs, err := blob.NewFS(st.FSRoot, st.SigningKey, st.PublicBaseURL+"/blobs", a.Logger)
		if err != nil {
			return fmt.Errorf("open blob root: %w", err)
		}
		a.FS = fs
		a.Blobs = fs
	case common.BlobBackendMemory:
		a.Blobs = blob.NewMemory()
	default:
		a.Blobs = blob.Unavailable{Reason: "no blob backend configured"}
		a.Capabilities["blob_store"] = disabled
		return nil
	}
	a.Capabilities["blob_store"] = st.Backend
	return nil
}

func (a *App) buildJobs(ctx context.Context) error {
	jc := a.Config.Jobs
	switch jc.Backend {
	case common.JobsBackendDynamo:
		if jc.TableName == "" {
			a.Jobs = repository.UnavailableJobs{Reason: "DYNAMODB_TABLE_NAME is not set"}
			a.Capabilities["job_store"] = disabled
			return nil
		}
		awsCfg, err := a.aws(ctx)
		if err != nil {
			return err
		}
		a.Jobs = repository.NewDynamoJobRepository(dynamodb.NewFromConfig(awsCfg), jc.TableName, a.Logger)
	case common.JobsBackendPostgres:
		db := a.Config.Database
		drv, pool, err := repository.OpenPostgres(ctx, repository.Config{
			DSN:              db.DSN,
			MaxConns:         db.MaxConns,
			MinConns:         db.MinConns,
			MaxConnLifetime:  db.MaxConnLifetime,
			MaxConnIdleTime:  db.MaxConnIdleTime,
			DialTimeout:      db.DialTimeout,
			StatementTimeout: db.StatementTimeout,
		}, a.Logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { repository.Close(drv, pool, a.Logger) })
		if err := repository.HealthCheck(ctx, drv, db.DialTimeout, a.Logger); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		if err := repository.Migrate(ctx, drv); err != nil {
			return err
		}
		a.Jobs = repository.NewSQLJobRepository(drv, a.Logger)
	case common.JobsBackendSQLite:
		if jc.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(jc.SQLitePath), 0o755); err != nil {
				return err
			}
		}
		drv, err := repository.OpenSQLite(jc.SQLitePath, a.Logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { repository.Close(drv, nil, a.Logger) })
		if err := repository.Migrate(ctx, drv); err != nil {
			return err
		}
		a.Jobs = repository.NewSQLJobRepository(drv, a.Logger)
	case common.JobsBackendMongo:
		client, err := repository.ConnectMongo(ctx, jc.MongoURI, a.Logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() {
			if err := client.Disconnect(context.Background()); err != nil {
				a.Logger.Error("failed to disconnect mongodb", "error", err)
			}
		})
		repo, err := repository.NewMongoJobRepository(ctx, client.Database(jc.MongoDatabase), a.Logger)
		if err != nil {
			return err
		}
		a.Jobs = repo
	default:
		a.Jobs = repository.UnavailableJobs{Reason: "no job store configured"}
		a.Capabilities["job_store"] = disabled
		return nil
	}
	a.Capabilities["job_store"] = jc.Backend
	return nil
}

func (a *App) buildEngines(ctx context.Context) {
	oc := a.Config.OCR
	a.Engines = ocr.Engines{}

	if _, err := exec.LookPath(oc.Tesseract); err != nil {
		a.Engines[ocr.KindTesseract] = ocr.Unavailable{Engine: ocr.KindTesseract, Reason: "tesseract binary not found"}
		a.Capabilities["ocr.tesseract"] = disabled
	} else {
		a.Engines[ocr.KindTesseract] = ocr.NewTesseract(ocr.TesseractConfig{
			Binary:      oc.Tesseract,
			Lang:        oc.TesseractLang,
			TessdataDir: oc.TessdataDir,
			PSM:         oc.PSM,
		}, ocr.ExecRunner{Logger: a.Logger, Env: []string{"OMP_THREAD_LIMIT=1"}}, a.Logger)
		a.Capabilities["ocr.tesseract"] = "enabled"
	}

	awsCfg, err := a.aws(ctx)
	if err != nil {
		a.Logger.Warn("textract disabled", "error", err)
		a.textractUnavailable(err.Error())
		return
	}
	if awsCfg.Credentials == nil {
		a.textractUnavailable("no AWS credential provider")
		return
	}
	credCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := awsCfg.Credentials.Retrieve(credCtx); err != nil {
		a.Logger.Warn("textract disabled", "error", err)
		a.textractUnavailable("no AWS credentials")
		return
	}
	a.Engines[ocr.KindTextract] = ocr.NewTextract(textract.NewFromConfig(awsCfg), a.Logger)
	a.Capabilities["ocr.textract"] = "enabled"
}

func (a *App) textractUnavailable(reason string) {
	a.Engines[ocr.KindTextract] = ocr.Unavailable{Engine: ocr.KindTextract, Reason: reason}
	a.Capabilities["ocr.textract"] = disabled
}

// WorkerEngine is the engine selected for the asynchronous worker.
func (a *App) WorkerEngine() (ocr.Engine, error) {
	kind, err := ocr.ParseKind(a.Config.OCR.WorkerEngine)
	if err != nil {
		return nil, fmt.Errorf("WORKER_OCR_ENGINE: %w", err)
	}
	return a.Engines.Get(kind), nil
}

// SyncEngine is the default engine for synchronous uploads.
func (a *App) SyncEngine() (ocr.Kind, error) {
	kind, err := ocr.ParseKind(a.Config.OCR.SyncEngine)
	if err != nil {
		return "", fmt.Errorf("DEFAULT_OCR_MODEL: %w", err)
	}
	return kind, nil
}

func (a *App) Worker() (*pipeline.Worker, error) {
	engine, err := a.WorkerEngine()
	if err != nil {
		return nil, err
	}
	w := pipeline.NewWorker(a.Blobs, a.Jobs, a.Codec, preprocess.New(preprocess.Defaults), engine, a.Logger)
	w.EngineReadsStore = a.Config.Storage.Backend == common.BlobBackendS3 && engine.Kind() == ocr.KindTextract
	return w, nil
}

// Submitter writes through blobs, which may be a notifying wrapper of a.Blobs.
func (a *App) Submitter(blobs blob.Store) *pipeline.Submitter {
	if blobs == nil {
		blobs = a.Blobs
	}
	return pipeline.NewSubmitter(blobs, a.Jobs, a.Codec, a.Config.Storage.Bucket, a.Logger)
}

func (a *App) StatusReader() *pipeline.StatusReader {
	return pipeline.NewStatusReader(a.Blobs, a.Jobs, a.Config.Storage.Bucket, a.Config.Server.PresignTTL, a.Logger)
}

func (a *App) SyncConverter() *pipeline.SyncConverter {
	return pipeline.NewSyncConverter(preprocess.New(preprocess.Defaults), a.Engines, a.Logger)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
