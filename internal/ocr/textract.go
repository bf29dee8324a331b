package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
)

// TextractAPI is the subset of the Textract client used here.
type TextractAPI interface {
	DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// TextractEngine runs synchronous DetectDocumentText. When the Document names
// an object it is read by Textract directly from S3; otherwise the raw bytes
// are sent inline.
type TextractEngine struct {
	api    TextractAPI
	logger *slog.Logger
}

func NewTextract(api TextractAPI, logger *slog.Logger) *TextractEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextractEngine{api: api, logger: logger}
}

func (*TextractEngine) Kind() Kind { return KindTextract }

func (e *TextractEngine) Recognize(ctx context.Context, doc Document) (Result, error) {
	in := &textract.DetectDocumentTextInput{Document: &types.Document{}}
	switch {
	case doc.Bucket != "" && doc.Key != "":
		in.Document.S3Object = &types.S3Object{Bucket: aws.String(doc.Bucket), Name: aws.String(doc.Key)}
	case len(doc.Bytes) > 0:
		in.Document.Bytes = doc.Bytes
	default:
		return Result{}, errors.New("textract: document has neither an object reference nor bytes")
	}

	out, err := e.api.DetectDocumentText(ctx, in)
	if err != nil {
		return Result{}, fmt.Errorf("textract: %w", err)
	}
	var lines []string
	for _, b := range out.Blocks {
		if b.BlockType == types.BlockTypeLine && b.Text != nil {
			lines = append(lines, *b.Text)
		}
	}
	e.logger.Debug("textract ocr done", "blocks", len(out.Blocks), "lines", len(lines), "key", doc.Key)
	return Result{Lines: lines}, nil
}
