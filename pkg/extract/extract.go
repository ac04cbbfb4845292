// Package extract turns an uploaded file into plain text plus optional
// preview images. Supported formats are plain text, Word (.docx) and PDF.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pario-ai/tutor/pkg/models"
)

var (
	// ErrUnsupportedFormat is returned for an extension other than txt, docx or pdf.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrExtractionFailed wraps any failure to read a supported file.
	ErrExtractionFailed = errors.New("document extraction failed")
)

const (
	// DefaultPreviewDPI is used when Options.PreviewDPI is not set.
	DefaultPreviewDPI = 72
	// DefaultMaxTextBytes bounds the decompressed .docx body when
	// Options.MaxTextBytes is not set.
	DefaultMaxTextBytes = 16 << 20
	// DefaultMaxImagePixels bounds one embedded image when
	// Options.MaxImagePixels is not set.
	DefaultMaxImagePixels = 40_000_000
)

// Options controls preview generation.
type Options struct {
	// TextPreview renders .txt content to a single image.
	TextPreview bool
	// DocxImages decodes the images embedded in a .docx.
	DocxImages bool
	// PreviewDPI is the PDF page render resolution.
	PreviewDPI float64
	// MaxPreviewPages caps rendered PDF pages; 0 renders all, negative none.
	MaxPreviewPages int
	// MaxTextBytes caps the decompressed size of a .docx body part.
	MaxTextBytes int64
	// MaxImagePixels caps width*height of an embedded .docx image; larger
	// images are skipped without being decoded.
	MaxImagePixels int
}

func (o Options) maxTextBytes() int64 {
	if o.MaxTextBytes > 0 {
		return o.MaxTextBytes
	}
	return DefaultMaxTextBytes
}

func (o Options) maxImagePixels() int {
	if o.MaxImagePixels > 0 {
		return o.MaxImagePixels
	}
	return DefaultMaxImagePixels
}

// Formats lists the accepted extensions.
var Formats = []string{"txt", "docx", "pdf"}

// Format normalises an extension or file name suffix: lower case, no dot.
func Format(ext string) string {
	if i := strings.LastIndexByte(ext, '.'); i >= 0 {
		ext = ext[i+1:]
	}
	return strings.ToLower(ext)
}

// Extract reads data as the format named by ext. The returned Document has
// Format set; the caller names it.
func Extract(data []byte, ext string, opts Options) (models.Document, error) {
	format := Format(ext)
	doc := models.Document{Format: format}

	var err error
	switch format {
	case "txt":
		doc.Text, doc.Previews, err = extractText(data, opts)
	case "docx":
		doc.Text, doc.Previews, err = extractDocx(data, opts)
	case "pdf":
		doc.Text, doc.Previews, err = extractPDF(data, opts)
	default:
		return models.Document{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("%w: %s: %w", ErrExtractionFailed, format, err)
	}
	return doc, nil
}
