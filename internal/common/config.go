package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BlobBackendS3     = "s3"
	BlobBackendFS     = "fs"
	BlobBackendMemory = "memory"
)

// Job store backends.
const (
	JobsBackendDynamo   = "dynamodb"
	JobsBackendPostgres = "postgres"
	JobsBackendSQLite   = "sqlite"
	JobsBackendMongo    = "mongo"
)

// Upload modes.
const (
	UploadModeAsync = "async"
	UploadModeSync  = "sync"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Jobs     JobsConfig
	Database DatabaseConfig
	OCR      OCRConfig
	Worker   WorkerConfig
	AWS      AWSConfig
	Log      LogConfig
}

// ServerConfig holds HTTP/gRPC server configuration
type ServerConfig struct {
	HTTPAddr             string
	GRPCAddr             string
	UploadMode           string
	MaxUploadBytes       int64
	PresignTTL           time.Duration
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	ShutdownTimeout      time.Duration
}

// StorageConfig selects and configures the blob store
type StorageConfig struct {
	Backend       string
	Bucket        string
	DerivedPrefix string
	FSRoot        string
	SigningKey    string
	PublicBaseURL string
	S3Endpoint    string
	S3PathStyle   bool
}

// JobsConfig selects and configures the job store
type JobsConfig struct {
	Backend       string
	TableName     string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
	StaleAfter    time.Duration
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract     string
	TesseractLang string
	TessdataDir   string
	PSM           int
	WorkerEngine  string
	SyncEngine    string
}

// WorkerConfig tunes the in-process event queue
type WorkerConfig struct {
	Workers         int
	QueueSize       int
	ProcessTimeout  time.Duration
	MaxDeliveries   int
	RedeliveryDelay time.Duration
}

// AWSConfig holds region and optional static credentials
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables, reading a .env
// file first when one is present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			HTTPAddr:             getEnv("HTTP_ADDR", ":5000"),
			GRPCAddr:             getEnv("GRPC_ADDR", ""),
			UploadMode:           strings.ToLower(getEnv("UPLOAD_MODE", UploadModeAsync)),
			MaxUploadBytes:       getEnvAsInt64("MAX_UPLOAD_BYTES", 16<<20),
			PresignTTL:           getEnvAsDuration("PRESIGN_TTL", time.Hour),
			CORSAllowedOrigins:   getEnvAsList("CORS_ALLOWED_ORIGINS"),
			CORSAllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
			ShutdownTimeout:      getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnv("BLOB_BACKEND", "")),
			Bucket:        getEnv("S3_BUCKET_NAME", ""),
			DerivedPrefix: getEnv("PREPROCESSED_IMAGES_PREFIX", "preprocessed-images/"),
			FSRoot:        getEnv("BLOB_FS_ROOT", "./data/blobs"),
			SigningKey:    getEnv("BLOB_SIGNING_KEY", ""),
			PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:5000"),
			S3Endpoint:    getEnv("S3_ENDPOINT", ""),
			S3PathStyle:   getEnvAsBool("S3_PATH_STYLE", false),
		},
		Jobs: JobsConfig{
			Backend:       strings.ToLower(getEnv("JOBS_BACKEND", "")),
			TableName:     getEnv("DYNAMODB_TABLE_NAME", ""),
			SQLitePath:    getEnv("SQLITE_PATH", "./data/jobs.db"),
			MongoURI:      getEnv("MONGO_URI", ""),
			MongoDatabase: getEnv("MONGO_DATABASE", "imagetext"),
			StaleAfter:    getEnvAsDuration("STALE_AFTER", 15*time.Minute),
		},
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		OCR: OCRConfig{
			Tesseract:     getEnv("TESSERACT_CMD", "tesseract"),
			TesseractLang: getEnv("TESSERACT_LANG", "eng"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
			PSM:           getEnvAsInt("TESSERACT_PSM", 0),
			WorkerEngine:  strings.ToLower(getEnv("WORKER_OCR_ENGINE", "textract")),
			SyncEngine:    strings.ToLower(getEnv("DEFAULT_OCR_MODEL", "tesseract")),
		},
		Worker: WorkerConfig{
			Workers:         getEnvAsInt("WORKER_CONCURRENCY", 4),
			QueueSize:       getEnvAsInt("WORKER_QUEUE_SIZE", 256),
			ProcessTimeout:  getEnvAsDuration("WORKER_PROCESS_TIMEOUT", 3*time.Minute),
			MaxDeliveries:   getEnvAsInt("WORKER_MAX_DELIVERIES", 3),
			RedeliveryDelay: getEnvAsDuration("WORKER_REDELIVERY_DELAY", 2*time.Second),
		},
		AWS: AWSConfig{
			Region:          firstEnv("us-east-1", "AWS_REGION_NAME", "AWS_REGION"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			SessionToken:    getEnv("AWS_SESSION_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}
	cfg.resolveBackends()
	return cfg
}

// resolveBackends picks a backend from the configured resources when none was
// named explicitly. An empty backend means the capability is disabled.
func (c *Config) resolveBackends() {
	if c.Storage.Backend == "" && c.Storage.Bucket != "" {
		c.Storage.Backend = BlobBackendS3
	}
	if c.Storage.Backend != "" && c.Storage.Backend != BlobBackendS3 && c.Storage.Bucket == "" {
		c.Storage.Bucket = "local"
	}
	if c.Jobs.Backend == "" {
		switch {
		case c.Jobs.TableName != "":
			c.Jobs.Backend = JobsBackendDynamo
		case c.Database.DSN != "":
			c.Jobs.Backend = JobsBackendPostgres
		case c.Jobs.MongoURI != "":
			c.Jobs.Backend = JobsBackendMongo
		}
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(defaultValue string, keys ...string) string {
	for _, k := range keys {
		if v := getEnv(k, ""); v != "" {
			return v
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks values that are present but malformed. Missing optional
// capabilities are not an error here; they degrade to a disabled variant.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	switch c.Server.UploadMode {
	case UploadModeAsync, UploadModeSync:
	default:
		return NewAppError("CONFIG_ERROR", "UPLOAD_MODE must be async or sync", ErrInvalidInput)
	}
	switch c.Storage.Backend {
	case "", BlobBackendS3, BlobBackendFS, BlobBackendMemory:
	default:
		return NewAppError("CONFIG_ERROR", "BLOB_BACKEND must be one of s3, fs, memory", ErrInvalidInput)
	}
	switch c.Jobs.Backend {
	case "", JobsBackendDynamo, JobsBackendPostgres, JobsBackendSQLite, JobsBackendMongo:
	default:
		return NewAppError("CONFIG_ERROR", "JOBS_BACKEND must be one of dynamodb, postgres, sqlite, mongo", ErrInvalidInput)
	}
	if c.Storage.Backend == BlobBackendFS && c.Storage.SigningKey == "" {
		return NewAppError("CONFIG_ERROR", "BLOB_SIGNING_KEY is required for the fs blob backend", ErrInvalidInput)
	}
	if c.Server.PresignTTL <= 0 {
		return NewAppError("CONFIG_ERROR", "PRESIGN_TTL must be positive", ErrInvalidInput)
	}
	if c.Worker.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "WORKER_CONCURRENCY must be positive", ErrInvalidInput)
	}
	return nil
}
