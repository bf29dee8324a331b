package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type TesseractConfig struct {
	Binary      string // binary name or absolute path; if empty -> "tesseract"
	Lang        string // default "eng"
	TessdataDir string
	PSM         int // 0 leaves tesseract's default page segmentation
}

// TesseractEngine recognises Document.Bytes with the tesseract CLI.
type TesseractEngine struct {
	cfg    TesseractConfig
	runner Runner
	logger *slog.Logger
}

func NewTesseract(cfg TesseractConfig, runner Runner, logger *slog.Logger) *TesseractEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &TesseractEngine{cfg: cfg, runner: runner, logger: logger}
}

func (*TesseractEngine) Kind() Kind { return KindTesseract }

func (e *TesseractEngine) Recognize(ctx context.Context, doc Document) (Result, error) {
	if len(doc.Bytes) == 0 {
		return Result{}, errors.New("tesseract: no image bytes")
	}
	f, err := os.CreateTemp("", "imagetext-ocr-*")
	if err != nil {
		return Result{}, fmt.Errorf("tesseract: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()
	if _, err := f.Write(doc.Bytes); err != nil {
		_ = f.Close()
		return Result{}, fmt.Errorf("tesseract: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("tesseract: %w", err)
	}

	// tesseract <file> stdout -l <lang>
	args := []string{f.Name(), "stdout", "-l", e.cfg.Lang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	out, errb, err := e.runner.Run(ctx, e.cfg.Binary, args...)
	if err != nil {
		if msg := strings.TrimSpace(string(errb)); msg != "" {
			return Result{}, fmt.Errorf("tesseract: %w: %s", err, truncate(msg, 512))
		}
		return Result{}, fmt.Errorf("tesseract: %w", err)
	}
	lines := SplitLines(string(out))
	e.logger.Debug("tesseract ocr done", "lines", len(lines), "lang", e.cfg.Lang)
	return Result{Lines: lines}, nil
}
