package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/ocr"
)

// SyncConverter runs preprocessing and OCR inside the request. Tesseract reads
// the preprocessed image; Textract gets the raw upload.
type SyncConverter struct {
	Preprocess Preprocessor
	Engines    ocr.Engines
	Logger     *slog.Logger
}

func NewSyncConverter(pre Preprocessor, engines ocr.Engines, logger *slog.Logger) *SyncConverter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncConverter{Preprocess: pre, Engines: engines, Logger: logger}
}

func (c *SyncConverter) Convert(ctx context.Context, image []byte, kind ocr.Kind) (string, error) {
	if len(image) == 0 {
		return "", common.ValidationFailed("No image file provided")
	}
	derived, err := c.Preprocess.Apply(image)
	if err != nil {
		return "", fmt.Errorf("preprocess: %w", err)
	}

	doc := ocr.Document{Bytes: derived}
	if kind == ocr.KindTextract {
		doc = ocr.Document{Bytes: image}
	}
	res, err := c.Engines.Get(kind).Recognize(ctx, doc)
	if err != nil {
		return "", err
	}
	text := res.Text()
	common.LoggerFrom(ctx, c.Logger).Info("sync.convert.ok", "engine", kind, "chars", len(text))
	return text, nil
}
