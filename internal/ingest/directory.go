// Package ingest submits images from a local directory as OCR jobs.
package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/imagetext/constants"
	"github.com/joseph-ayodele/imagetext/internal/pipeline"
)

type Submitter interface {
	Submit(ctx context.Context, u pipeline.Upload) (string, error)
}

type FileResult struct {
	Path  string
	JobID string
	Err   string
}

type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}

type Options struct {
	SkipHidden bool
	MaxBytes   int64 // files larger than this are reported as failed; 0 disables the check
}

// SubmitDirectory walks root and submits every image file it finds. Per-file
// failures are reported in the results and do not stop the walk.
func SubmitDirectory(ctx context.Context, s Submitter, root string, opts Options, logger *slog.Logger) ([]FileResult, DirStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []FileResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if opts.SkipHidden && path != root && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !constants.IsImageExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		jobID, err := submitFile(ctx, s, path, opts.MaxBytes)
		if err != nil {
			logger.Warn("ingest.file.failed", "path", path, "err", err)
			results = append(results, FileResult{Path: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		logger.Info("ingest.file.ok", "path", path, "job_id", jobID)
		results = append(results, FileResult{Path: path, JobID: jobID})
		stats.Succeeded++
		return nil
	})
	return results, stats, err
}

func submitFile(ctx context.Context, s Submitter, path string, maxBytes int64) (string, error) {
	if maxBytes > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		if info.Size() > maxBytes {
			return "", errors.New("file exceeds the upload size limit")
		}
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return s.Submit(ctx, pipeline.Upload{
		Filename:    filepath.Base(path),
		ContentType: constants.ContentTypeFor(path),
		Body:        body,
	})
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
