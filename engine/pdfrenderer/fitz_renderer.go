package pdfrenderer

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// fitzDocument is the subset of *fitz.Document the renderer needs
type fitzDocument interface {
	NumPage() int
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Close() error
}

var openFitzDocument = func(data []byte) (fitzDocument, error) {
	return fitz.NewFromMemory(data)
}

// FitzRenderer implements PDF rendering using go-fitz (requires CGo and MuPDF)
type FitzRenderer struct {
}

// NewFitzRenderer creates a new Fitz-based PDF renderer
func NewFitzRenderer() (*FitzRenderer, error) {
	return &FitzRenderer{}, nil
}

// RenderPDF converts all pages of an in-memory PDF to encoded images using go-fitz.
// Every call opens its own MuPDF document, so concurrent calls do not share state.
func (r *FitzRenderer) RenderPDF(ctx context.Context, data []byte, opts Options) ([]Page, error) {
	doc, err := openFitzDocument(data)
	if err != nil {
		if errors.Is(err, fitz.ErrNeedsPassword) {
			return nil, ErrEncrypted
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	defer doc.Close()

	numPages := doc.NumPage()
	if err := checkPageCount(numPages, opts.MaxPages); err != nil {
		return nil, err
	}

	pages := make([]Page, 0, numPages)
	for pageNum := 0; pageNum < numPages; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(pageNum, float64(opts.DPI))
		if err != nil {
			return nil, fmt.Errorf("unable to render page %d: %w", pageNum+1, err)
		}
		page, err := newPage(pageNum+1, img, opts)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}

	Logger.Debug("Rendered document with fitz", "pages", numPages, "dpi", opts.DPI, "format", opts.Format)
	return pages, nil
}

// Close cleans up resources (no-op for Fitz renderer as doc is closed per-render)
func (r *FitzRenderer) Close() error {
	return nil
}
