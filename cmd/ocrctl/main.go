// Command ocrctl runs maintenance tasks against the job store.
//
//	ocrctl stale   [-older 15m] [-limit 500] [-out stale.xlsx]
//	ocrctl redrive [-older 15m] [-limit 50]
//	ocrctl batch   -dir ./scans [-out results.xlsx] [-inmem]
//	ocrctl ping
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/imagetext/internal/app"
	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/export"
	"github.com/joseph-ayodele/imagetext/internal/ingest"
	"github.com/joseph-ayodele/imagetext/internal/trigger"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func usage() {
	printError("usage: ocrctl <stale|redrive|batch|ping> [flags]\n")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	cfg := common.LoadConfig()
	logger := app.NewLogger(os.Stderr, cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch cmd {
	case "stale":
		err = runStale(ctx, cfg, logger, args)
	case "redrive":
		err = runRedrive(ctx, cfg, logger, args)
	case "batch":
		err = runBatch(ctx, cfg, logger, args)
	case "ping":
		err = runPing(ctx, cfg, logger)
	default:
		usage()
	}
	if err != nil {
		logger.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

func runStale(ctx context.Context, cfg *common.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("stale", flag.ExitOnError)
	older := fs.Duration("older", cfg.Jobs.StaleAfter, "report PENDING jobs not updated for this long")
	limit := fs.Int("limit", 500, "maximum number of jobs")
	out := fs.String("out", "stale-jobs.xlsx", "output XLSX path")
	_ = fs.Parse(args)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	data, jobs, err := export.NewService(a.Jobs, logger).StaleJobsXLSX(ctx, *older, *limit)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	logger.Info("stale report written", "output", *out, "jobs", len(jobs))
	return nil
}

func runRedrive(ctx context.Context, cfg *common.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("redrive", flag.ExitOnError)
	older := fs.Duration("older", cfg.Jobs.StaleAfter, "redrive PENDING jobs not updated for this long")
	limit := fs.Int("limit", 50, "maximum number of jobs")
	_ = fs.Parse(args)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	worker, err := a.Worker()
	if err != nil {
		return err
	}

	jobs, err := a.Jobs.ListStale(ctx, time.Now().Add(-*older).UTC(), *limit)
	if err != nil {
		return err
	}
	var failed int
	for _, j := range jobs {
		results, err := worker.HandleEvent(ctx, trigger.NewS3Event(cfg.Storage.Bucket, j.OriginalKey))
		if err != nil {
			failed++
			logger.Error("redrive failed", "job_id", j.ID, "error", err)
			continue
		}
		for _, r := range results {
			logger.Info("redriven", "job_id", j.ID, "outcome", r.Outcome)
		}
	}
	logger.Info("redrive complete", "jobs", len(jobs), "errors", failed)
	return nil
}

func runBatch(ctx context.Context, cfg *common.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	dir := fs.String("dir", "", "directory of images to process (required)")
	out := fs.String("out", "", "output XLSX path (defaults to results.xlsx next to -dir)")
	inmem := fs.Bool("inmem", false, "use an in-memory job store and blob store")
	_ = fs.Parse(args)

	if *dir == "" {
		printError("Error: -dir is required\n")
		os.Exit(2)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "results.xlsx")
	}
	if *inmem {
		cfg.Storage.Backend = common.BlobBackendMemory
		cfg.Storage.Bucket = "local"
		cfg.Jobs.Backend = common.JobsBackendSQLite
		cfg.Jobs.SQLitePath = ":memory:"
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	worker, err := a.Worker()
	if err != nil {
		return err
	}

	results, stats, err := ingest.SubmitDirectory(ctx, a.Submitter(nil), *dir, ingest.Options{
		SkipHidden: true,
		MaxBytes:   cfg.Server.MaxUploadBytes,
	}, logger)
	if err != nil {
		return err
	}
	logger.Info("submission complete",
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed)

	var jobIDs []string
	for _, r := range results {
		if r.JobID == "" {
			continue
		}
		jobIDs = append(jobIDs, r.JobID)
		job, err := a.Jobs.Get(ctx, r.JobID)
		if err != nil {
			logger.Error("job lookup failed", "job_id", r.JobID, "error", err)
			continue
		}
		outcome, err := worker.Process(ctx, trigger.Trigger{Bucket: cfg.Storage.Bucket, Key: job.OriginalKey})
		if err != nil {
			logger.Error("processing failed", "job_id", r.JobID, "error", err)
			continue
		}
		logger.Info("processed", "path", r.Path, "job_id", r.JobID, "outcome", outcome)
	}

	data, err := export.NewService(a.Jobs, logger).ResultsXLSX(ctx, jobIDs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	logger.Info("batch complete", "output", *out, "jobs", len(jobIDs))
	return nil
}

func runPing(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Jobs.ListStale(ctx, time.Now(), 1); err != nil {
		return fmt.Errorf("job store: %w", err)
	}
	for name, state := range a.Capabilities {
		fmt.Printf("%-14s %s\n", name, state)
	}
	fmt.Println("job store: OK")
	return nil
}
