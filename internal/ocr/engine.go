// Package ocr implements the two text recognition engines: tesseract, run as a
// local command, and Amazon Textract.
package ocr

import (
	"context"
	"strings"

	"github.com/joseph-ayodele/imagetext/internal/common"
)

// Kind names an OCR engine. The set is closed.
type Kind string

const (
	KindTesseract Kind = "tesseract"
	KindTextract  Kind = "textract"
)

// ParseKind validates a client-supplied engine name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindTesseract, KindTextract:
		return k, nil
	}
	return "", common.ValidationFailed("Invalid OCR model selected")
}

// Document references the image to recognise. Engines that read from object
// storage use Bucket and Key; local engines use Bytes.
type Document struct {
	Bucket string
	Key    string
	Bytes  []byte
}

// Result is the recognised text as ordered lines.
type Result struct {
	Lines []string
}

// Text joins the lines the way job results are stored.
func (r Result) Text() string { return JoinLines(r.Lines) }

type Engine interface {
	Kind() Kind
	Recognize(ctx context.Context, doc Document) (Result, error)
}

// Unavailable stands in for an engine that could not be configured.
type Unavailable struct {
	Engine Kind
	Reason string
}

func (u Unavailable) Kind() Kind { return u.Engine }

func (u Unavailable) Recognize(context.Context, Document) (Result, error) {
	return Result{}, common.Unavailable(string(u.Engine)+" ocr", u.Reason)
}

// Engines holds one engine per Kind.
type Engines map[Kind]Engine

// Get returns the engine for k, or an Unavailable engine when k was never
// registered.
func (e Engines) Get(k Kind) Engine {
	if eng, ok := e[k]; ok && eng != nil {
		return eng
	}
	return Unavailable{Engine: k, Reason: "engine not registered"}
}
