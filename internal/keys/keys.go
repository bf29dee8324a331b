// Package keys encodes and decodes blob store keys for job artifacts.
//
//	original-images/{job_id}-{original_filename}
//	preprocessed-images/{job_id}-preprocessed.png
//
// The job id is a canonical lower-case UUID, so the separator after it is
// always at a fixed offset and decoding never has to guess.
package keys

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/imagetext/constants"
	"github.com/joseph-ayodele/imagetext/internal/common"
)

const uuidLen = 36

// OriginalRef is the decoded form of an original image key.
type OriginalRef struct {
	JobID    string
	Filename string
}

// Codec builds and parses keys. The zero value is not usable; use NewCodec.
type Codec struct {
	originalPrefix string
	derivedPrefix  string
}

// NewCodec returns a codec with the given derived-image prefix. An empty prefix
// selects constants.PreprocessedImagesPrefix.
func NewCodec(derivedPrefix string) Codec {
	if derivedPrefix == "" {
		derivedPrefix = constants.PreprocessedImagesPrefix
	}
	if !strings.HasSuffix(derivedPrefix, "/") {
		derivedPrefix += "/"
	}
	return Codec{originalPrefix: constants.OriginalImagesPrefix, derivedPrefix: derivedPrefix}
}

// OriginalPrefix is the namespace watched by the worker trigger.
func (c Codec) OriginalPrefix() string { return c.originalPrefix }

// SanitizeFilename reduces a client-supplied name to its last path element.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

// OriginalKey returns the key of the submitted image for jobID.
func (c Codec) OriginalKey(jobID, filename string) (string, error) {
	if err := checkJobID(jobID); err != nil {
		return "", err
	}
	name := SanitizeFilename(filename)
	if name == "" {
		return "", common.ValidationFailed("filename is required")
	}
	return c.originalPrefix + jobID + "-" + name, nil
}

// DerivedKey returns the key of the preprocessed image for jobID.
func (c Codec) DerivedKey(jobID string) string {
	return c.derivedPrefix + jobID + constants.PreprocessedSuffix
}

// ParseOriginalKey decodes a trigger key. Any deviation from the original-key
// shape yields an error wrapping common.ErrMalformedTriggerKey.
func (c Codec) ParseOriginalKey(key string) (OriginalRef, error) {
	rest, ok := strings.CutPrefix(key, c.originalPrefix)
	if !ok {
		return OriginalRef{}, malformed(key, "missing prefix "+c.originalPrefix)
	}
	if len(rest) < uuidLen+2 || rest[uuidLen] != '-' {
		return OriginalRef{}, malformed(key, "expected {job_id}-{filename}")
	}
	jobID, name := rest[:uuidLen], rest[uuidLen+1:]
	if err := checkJobID(jobID); err != nil {
		return OriginalRef{}, malformed(key, "job id is not a canonical UUID")
	}
	if strings.Contains(name, "/") {
		return OriginalRef{}, malformed(key, "filename contains a path separator")
	}
	return OriginalRef{JobID: jobID, Filename: name}, nil
}

func checkJobID(jobID string) error {
	id, err := uuid.Parse(jobID)
	if err != nil || id.String() != jobID {
		return common.ValidationFailed(fmt.Sprintf("job id %q is not a canonical UUID", jobID))
	}
	return nil
}

func malformed(key, why string) error {
	return fmt.Errorf("%w: %q: %s", common.ErrMalformedTriggerKey, key, why)
}
