package scanning

import (
	"context"
	"path/filepath"
	"strings"
)

// MediaKind is the declared type of an uploaded receipt file.
type MediaKind string

const (
	MediaJPEG MediaKind = "image/jpeg"
	MediaPNG  MediaKind = "image/png"
	MediaHEIC MediaKind = "image/heic"
	// MediaPDF needs rasterization before it reaches a model.
	MediaPDF MediaKind = "application/pdf"
)

// MediaKindFromFilename derives the media kind from a file extension.
func MediaKindFromFilename(filename string) (MediaKind, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return MediaJPEG, true
	case ".png":
		return MediaPNG, true
	case ".heic", ".heif":
		return MediaHEIC, true
	case ".pdf":
		return MediaPDF, true
	default:
		return "", false
	}
}

// Scanner turns a receipt image into an untyped JSON document.
type Scanner interface {
	// Analyze sends the image to the model and returns the extracted JSON object.
	Analyze(ctx context.Context, image []byte, kind MediaKind) (Document, error)
	// HealthCheck probes the backend; it never returns an error.
	HealthCheck(ctx context.Context) bool
	// Close releases any client resources.
	Close() error
}

// decodeOutput turns raw model text into a document using the shared taxonomy.
func decodeOutput(p Provider, text string) (Document, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, newError(p, ErrEmptyResponse, nil)
	}
	doc, err := Normalize(text)
	if err != nil {
		return nil, newError(p, ErrMalformedResponse, err)
	}
	return doc, nil
}
