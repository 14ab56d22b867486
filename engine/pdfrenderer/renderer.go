package pdfrenderer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

var (
	// ErrInvalidDocument is returned when the backend cannot open the upload as a PDF.
	ErrInvalidDocument = errors.New("invalid or corrupt PDF document")
	// ErrEncrypted is returned for password protected documents.
	ErrEncrypted = errors.New("PDF document is encrypted")
	// ErrNoPages is returned when the document opens but contains no pages.
	ErrNoPages = errors.New("PDF document has no pages")
	// ErrTooManyPages is returned when the document exceeds Options.MaxPages.
	ErrTooManyPages = errors.New("PDF document has too many pages")
)

// Options controls a single rasterization call
type Options struct {
	DPI     int
	Format  Format
	Quality int // 0 uses the encoder default; only JPEG honours it
	// MaxPages rejects longer documents before rendering anything, 0 means no limit
	MaxPages int
}

// Page is one rendered and encoded page
type Page struct {
	Index     int // 1-based, physical page order
	Data      []byte
	MediaType string
	Width     int
	Height    int
}

// Renderer defines the interface for PDF to image conversion
type Renderer interface {
	// RenderPDF rasterizes every page of pdf and encodes it in opts.Format.
	// Returns one Page per document page, in page order.
	RenderPDF(ctx context.Context, pdf []byte, opts Options) ([]Page, error)

	// Close cleans up any resources used by the renderer
	Close() error
}

// NewRenderer creates the renderer backend selected by name ("fitz" or "pdfium").
// workers sizes the pdfium instance pool and is ignored by fitz.
func NewRenderer(backend string, workers int) (Renderer, error) {
	switch backend {
	case "", "fitz":
		return NewFitzRenderer()
	case "pdfium":
		return NewPDFiumRenderer(workers)
	default:
		return nil, fmt.Errorf("unknown renderer backend %q", backend)
	}
}

func checkPageCount(numPages, maxPages int) error {
	if numPages == 0 {
		return ErrNoPages
	}
	if maxPages > 0 && numPages > maxPages {
		return fmt.Errorf("%w: %d pages, limit is %d", ErrTooManyPages, numPages, maxPages)
	}
	return nil
}
