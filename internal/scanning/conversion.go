package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// Rasterizer renders the first page of a PDF as a PNG image.
type Rasterizer interface {
	FirstPageToPNG(pdf []byte) ([]byte, error)
}

// FitzRasterizer rasterizes PDFs with MuPDF.
type FitzRasterizer struct{}

// FirstPageToPNG renders page one; multi-page receipts are not supported.
func (FitzRasterizer) FirstPageToPNG(pdf []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		if errors.Is(err, fitz.ErrCreateContext) {
			return nil, fmt.Errorf("%w: %v", ErrRasterizationUnavailable, err)
		}
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return nil, fmt.Errorf("opening PDF: document has no pages")
	}

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// NoRasterizer is used when PDF support is disabled.
type NoRasterizer struct{}

func (NoRasterizer) FirstPageToPNG([]byte) ([]byte, error) {
	return nil, ErrRasterizationUnavailable
}

// heicToPNG converts HEIC/HEIF images (common on iPhones) to PNG.
func heicToPNG(imageData []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand at offset 4.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// imageToPNG re-encodes a decodable image (JPEG, PNG, GIF) as PNG.
func imageToPNG(imageData []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, HEIC, PDF: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return encodePNG(img)
}

// prepareImage converts the upload into something every model accepts.
// JPEG and PNG pass through untouched; PDF and HEIC become PNG. Failures are
// classified for provider p.
func prepareImage(p Provider, data []byte, kind MediaKind, r Rasterizer) ([]byte, MediaKind, error) {
	switch {
	case kind == MediaPDF:
		if r == nil {
			r = NoRasterizer{}
		}
		out, err := r.FirstPageToPNG(data)
		if err != nil {
			errKind := ErrUnreadableImage
			if errors.Is(err, ErrRasterizationUnavailable) {
				errKind = ErrRasterizationUnavailable
			}
			return nil, "", newError(p, errKind, fmt.Errorf("converting PDF to image: %w", err))
		}
		return out, MediaPNG, nil
	case kind == MediaHEIC || isHEICFormat(data):
		out, err := heicToPNG(data)
		if err != nil {
			return nil, "", newError(p, ErrUnreadableImage, err)
		}
		return out, MediaPNG, nil
	case kind == MediaJPEG || kind == MediaPNG:
		return data, kind, nil
	default:
		out, err := imageToPNG(data)
		if err != nil {
			return nil, "", newError(p, ErrUnreadableImage, err)
		}
		return out, MediaPNG, nil
	}
}
