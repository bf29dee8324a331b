package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/joseph-ayodele/imagetext/internal/common"
)

const defaultStderrLimit = 8 << 10

// Runner executes an external OCR command. Tests substitute a stub.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec. Env entries are appended to the
// process environment; OMP_THREAD_LIMIT=1 keeps concurrent tesseract runs from
// oversubscribing the CPU.
type ExecRunner struct {
	Logger      *slog.Logger
	Env         []string
	StderrLimit int // bytes of stderr kept in logs; 0 selects 8KiB
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	log := common.LoggerFrom(ctx, r.Logger).With("cmd", name)

	cmd := exec.CommandContext(ctx, name, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	switch {
	case ctx.Err() != nil:
		log.Warn("ocr.exec.cancelled", "elapsed_ms", elapsed, "err", ctx.Err())
		return stdout.Bytes(), stderr.Bytes(), ctx.Err()
	case err != nil:
		limit := r.StderrLimit
		if limit <= 0 {
			limit = defaultStderrLimit
		}
		log.Error("ocr.exec.failed", "args", args, "elapsed_ms", elapsed, "err", err,
			"stderr", truncate(stderr.String(), limit))
	default:
		log.Debug("ocr.exec.ok", "elapsed_ms", elapsed, "stdout_bytes", stdout.Len())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
