package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/imagetext/internal/app"
	"github.com/joseph-ayodele/imagetext/internal/async"
	"github.com/joseph-ayodele/imagetext/internal/blob"
	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/pipeline"
	"github.com/joseph-ayodele/imagetext/internal/server"
	"github.com/joseph-ayodele/imagetext/internal/trigger"
)

func main() {
	cfg := common.LoadConfig()
	logger := app.NewLogger(os.Stdout, cfg.Log)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	deps := server.Deps{
		Mode:                 cfg.Server.UploadMode,
		MaxUpload:            cfg.Server.MaxUploadBytes,
		Status:               a.StatusReader(),
		Capabilities:         a.Capabilities,
		CORSAllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		CORSAllowCredentials: cfg.Server.CORSAllowCredentials,
		Logger:               logger,
	}
	if a.FS != nil {
		deps.Blobs = a.FS
	}

	var queue *async.EventQueue
	switch cfg.Server.UploadMode {
	case common.UploadModeSync:
		kind, err := a.SyncEngine()
		if err != nil {
			logger.Error("invalid configuration", "error", err)
			os.Exit(2)
		}
		deps.DefaultEngine = kind
		deps.Sync = a.SyncConverter()
	default:
		worker, err := a.Worker()
		if err != nil {
			logger.Error("invalid configuration", "error", err)
			os.Exit(2)
		}
		deps.Events = worker
		queue = async.NewEventQueue(func(ctx context.Context, t trigger.Trigger) error {
			_, err := worker.Process(ctx, t)
			return err
		}, logger,
			async.WithWorkers(cfg.Worker.Workers),
			async.WithQueueSize(cfg.Worker.QueueSize),
			async.WithProcessTimeout(cfg.Worker.ProcessTimeout),
			async.WithRedelivery(cfg.Worker.MaxDeliveries, cfg.Worker.RedeliveryDelay, pipeline.Retryable),
		)
		deps.Submitter = a.Submitter(localEvents(ctx, a, queue, logger))
	}

	var grpcServer *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		grpcServer, err = serveHealth(cfg.Server.GRPCAddr, logger)
		if err != nil {
			logger.Error("failed to start health listener", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("imagetext listening", "addr", cfg.Server.HTTPAddr, "mode", cfg.Server.UploadMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if queue != nil {
		queue.Shutdown(shutdownCtx)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	logger.Info("stopped")
}

// localEvents connects storage writes to the queue for backends that have no
// event notifications of their own, and returns the store uploads should use.
func localEvents(ctx context.Context, a *app.App, queue *async.EventQueue, logger *slog.Logger) blob.Store {
	cfg := a.Config
	enqueue := func(t trigger.Trigger) {
		if err := queue.Enqueue(ctx, t); err != nil {
			logger.Error("failed to enqueue trigger", "key", t.Key, "error", err)
		}
	}

	switch cfg.Storage.Backend {
	case common.BlobBackendMemory:
		return blob.WithWriteNotifications(a.Blobs, a.Codec.OriginalPrefix(), func(_ context.Context, bucket, key string) {
			enqueue(trigger.Trigger{Bucket: bucket, Key: key})
		})
	case common.BlobBackendFS:
		triggers, errs, err := trigger.Watch(ctx, trigger.WatchConfig{
			BucketDir:   a.FS.BucketDir(cfg.Storage.Bucket),
			Bucket:      cfg.Storage.Bucket,
			Prefix:      a.Codec.OriginalPrefix(),
			InitialScan: false,
			Debounce:    250 * time.Millisecond,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("failed to watch blob directory, uploads will not be processed", "error", err)
			return a.Blobs
		}
		go func() {
			for {
				select {
				case t, ok := <-triggers:
					if !ok {
						return
					}
					enqueue(t)
				case err, ok := <-errs:
					if !ok {
						errs = nil
						continue
					}
					logger.Warn("watch error", "error", err)
				}
			}
		}()
	default:
		logger.Info("expecting storage events on /events/s3 or from the event worker")
	}
	return a.Blobs
}

func serveHealth(addr string, logger *slog.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	go func() {
		logger.Info("grpc health listening", "addr", addr)
		if err := s.Serve(lis); err != nil {
			logger.Error("grpc serve", "error", err)
		}
	}()
	return s, nil
}
