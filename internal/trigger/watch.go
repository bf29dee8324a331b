package trigger

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	BucketDir   string        // directory holding the bucket's objects
	Bucket      string        // bucket name reported in triggers
	Prefix      string        // key prefix to watch, e.g. "original-images/"
	InitialScan bool          // if true, emit objects already present
	Debounce    time.Duration // coalesce rapid create/write bursts
	Logger      *slog.Logger
}

// Watch reports objects written under Prefix in a filesystem blob bucket. The
// returned channels are closed when ctx is cancelled.
func Watch(ctx context.Context, cfg WatchConfig) (<-chan Trigger, <-chan error, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BucketDir == "" || cfg.Bucket == "" {
		return nil, nil, errors.New("watch: bucket dir and bucket are required")
	}
	root := filepath.Join(cfg.BucketDir, filepath.FromSlash(strings.TrimSuffix(cfg.Prefix, "/")))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}
	if err := w.Add(root); err != nil {
		_ = w.Close()
		return nil, nil, err
	}

	evCh := make(chan Trigger, 256)
	errCh := make(chan error, 1)

	toTrigger := func(path string) (Trigger, bool) {
		rel, err := filepath.Rel(cfg.BucketDir, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return Trigger{}, false
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, cfg.Prefix) {
			return Trigger{}, false
		}
		return Trigger{Bucket: cfg.Bucket, Key: key}, true
	}

	var initial []Trigger
	if cfg.InitialScan {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr == nil && !d.IsDir() {
				if t, ok := toTrigger(path); ok {
					initial = append(initial, t)
				}
			}
			return nil
		})
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("closing watcher", "error", err)
			}
		}()

		send := func(t Trigger) bool {
			select {
			case evCh <- t:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, t := range initial {
			if !send(t) {
				return
			}
		}

		pending := map[string]struct{}{}
		var flush <-chan time.Time
		var timer *time.Timer
		emit := func() bool {
			for p := range pending {
				delete(pending, p)
				if t, ok := toTrigger(p); ok && !send(t) {
					return false
				}
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if fi, err := os.Stat(e.Name); err != nil || fi.IsDir() {
					continue
				}
				pending[e.Name] = struct{}{}
				if cfg.Debounce <= 0 {
					if !emit() {
						return
					}
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(cfg.Debounce)
				flush = timer.C
			case <-flush:
				flush = nil
				if !emit() {
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}
