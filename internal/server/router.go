// Package server exposes the OCR pipeline over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/ocr"
	"github.com/joseph-ayodele/imagetext/internal/pipeline"
)

type Submitter interface {
	Submit(ctx context.Context, u pipeline.Upload) (string, error)
}

type StatusReader interface {
	Status(ctx context.Context, jobID string) (pipeline.StatusView, error)
}

type Converter interface {
	Convert(ctx context.Context, image []byte, kind ocr.Kind) (string, error)
}

type EventHandler interface {
	HandleEvent(ctx context.Context, ev events.S3Event) ([]pipeline.RecordResult, error)
}

// Deps are the services behind the routes. Nil services leave their routes
// answering with a configuration error.
type Deps struct {
	Mode          string // common.UploadModeAsync or common.UploadModeSync
	DefaultEngine ocr.Kind
	MaxUpload     int64

	Submitter Submitter
	Status    StatusReader
	Sync      Converter
	Events    EventHandler
	// Blobs serves signed filesystem blob URLs; nil when the blob store
	// presigns its own URLs.
	Blobs http.Handler

	Capabilities map[string]string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	Logger *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxUpload <= 0 {
		d.MaxUpload = 16 << 20
	}
	if d.DefaultEngine == "" {
		d.DefaultEngine = ocr.KindTesseract
	}
	if d.Mode == "" {
		d.Mode = common.UploadModeAsync
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(chimw.Recoverer)

	if len(d.CORSAllowedOrigins) > 0 {
		r.Use(CORS(d.CORSAllowedOrigins, d.CORSAllowCredentials))
	}

	h := &handlers{d: d}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Image to Text Converter Backend is running!"))
	})
	r.Get("/health", h.health)

	r.Post("/upload", h.upload)
	r.Get("/results/{job_id}", h.results)
	r.Post("/events/s3", h.s3Event)

	if d.Blobs != nil {
		r.Handle("/blobs/*", http.StripPrefix("/blobs", d.Blobs))
	}

	return r
}

type handlers struct {
	d Deps
}
