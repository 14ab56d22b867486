package pdfrenderer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klippa-app/go-pdfium"
	pdfium_errors "github.com/klippa-app/go-pdfium/errors"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// instanceTimeout bounds how long a render waits for a free WebAssembly worker. The
// engine already limits concurrency to the pool size, so this only trips on a bug.
const instanceTimeout = 30 * time.Second

// PDFiumRenderer implements PDF rendering using go-pdfium with WebAssembly (pure Go, no CGo)
type PDFiumRenderer struct {
	pool pdfium.Pool
}

// NewPDFiumRenderer creates a new PDFium-based PDF renderer using WebAssembly with up to
// workers instances rendering at the same time
func NewPDFiumRenderer(workers int) (*PDFiumRenderer, error) {
	if workers < 1 {
		workers = 1
	}
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  workers,
		MaxTotal: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	return &PDFiumRenderer{pool: pool}, nil
}

// RenderPDF converts all pages of an in-memory PDF to encoded images using go-pdfium
func (r *PDFiumRenderer) RenderPDF(ctx context.Context, data []byte, opts Options) ([]Page, error) {
	instance, err := r.pool.GetInstance(instanceTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}
	defer instance.Close()

	doc, err := instance.OpenDocument(&requests.OpenDocument{
		File: &data,
	})
	if err != nil {
		if errors.Is(err, pdfium_errors.ErrPassword) {
			return nil, ErrEncrypted
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	defer instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: doc.Document,
	})

	pageCountResp, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to get page count: %w", err)
	}

	numPages := pageCountResp.PageCount
	if err := checkPageCount(numPages, opts.MaxPages); err != nil {
		return nil, err
	}

	pages := make([]Page, 0, numPages)
	for pageIndex := 0; pageIndex < numPages; pageIndex++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageRender, err := instance.RenderPageInDPI(&requests.RenderPageInDPI{
			DPI: opts.DPI,
			Page: requests.Page{
				ByIndex: &requests.PageByIndex{
					Document: doc.Document,
					Index:    pageIndex,
				},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("unable to render page %d: %w", pageIndex+1, err)
		}

		// The bitmap lives in WebAssembly memory, encode it before Cleanup releases it
		page, err := newPage(pageIndex+1, pageRender.Result.Image, opts)
		pageRender.Cleanup()
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}

	Logger.Debug("Rendered document with pdfium", "pages", numPages, "dpi", opts.DPI, "format", opts.Format)
	return pages, nil
}

// Close cleans up resources used by the PDFium renderer
func (r *PDFiumRenderer) Close() error {
	if r.pool == nil {
		return nil
	}
	err := r.pool.Close()
	r.pool = nil
	return err
}
