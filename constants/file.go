package constants

import (
	"path/filepath"
	"strings"
)

// Key prefixes used in the blob store. Worker triggering depends on them.
const (
	OriginalImagesPrefix     = "original-images/"
	PreprocessedImagesPrefix = "preprocessed-images/"
	PreprocessedSuffix       = "-preprocessed.png"
)

const ContentTypePNG = "image/png"

var contentTypes = map[string]string{
	"png":  ContentTypePNG,
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"webp": "image/webp",
}

// IsImageExt reports whether ext names an image type accepted for upload.
func IsImageExt(ext string) bool {
	_, ok := contentTypes[NormalizeExt(ext)]
	return ok
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ContentTypeFor guesses an image content type from a filename, falling back
// to application/octet-stream.
func ContentTypeFor(filename string) string {
	if ct, ok := contentTypes[NormalizeExt(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}
