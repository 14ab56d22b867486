package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/drummonds/pdf2image/engine/pdfrenderer"
)

// errQueueTimeout is returned when no render slot frees up within the queue timeout
var errQueueTimeout = errors.New("timed out waiting for a render slot")

// RenderPool runs renders on their own goroutines with a bound on how many are in
// flight. A render that outlives its deadline is abandoned by the caller but keeps its
// slot until the backend returns, so abandoned native work still counts against the bound.
type RenderPool struct {
	renderer      pdfrenderer.Renderer
	slots         *semaphore.Weighted
	queueTimeout  time.Duration
	renderTimeout time.Duration
	inFlight      atomic.Int64
}

// NewRenderPool wraps renderer with admission control
func NewRenderPool(renderer pdfrenderer.Renderer, maxConcurrent int, queueTimeout, renderTimeout time.Duration) *RenderPool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &RenderPool{
		renderer:      renderer,
		slots:         semaphore.NewWeighted(int64(maxConcurrent)),
		queueTimeout:  queueTimeout,
		renderTimeout: renderTimeout,
	}
}

// InFlight returns the number of renders currently holding a slot
func (p *RenderPool) InFlight() int64 {
	return p.inFlight.Load()
}

type renderResult struct {
	pages []pdfrenderer.Page
	err   error
}

// Render waits for a slot, then renders under the render timeout. It returns
// ctx.Err() when the caller goes away, errQueueTimeout when admission takes too long and
// context.DeadlineExceeded when the render itself takes too long.
func (p *RenderPool) Render(ctx context.Context, data []byte, opts pdfrenderer.Options) ([]pdfrenderer.Page, error) {
	queueCtx, cancelQueue := context.WithTimeout(ctx, p.queueTimeout)
	err := p.slots.Acquire(queueCtx, 1)
	cancelQueue()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errQueueTimeout
	}
	p.inFlight.Add(1)

	renderCtx, cancelRender := context.WithTimeout(ctx, p.renderTimeout)
	defer cancelRender()

	done := make(chan renderResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				Logger.Error("Panic recovered in renderer", "panic", r)
				done <- renderResult{err: fmt.Errorf("renderer panic: %v", r)}
			}
			p.inFlight.Add(-1)
			p.slots.Release(1)
		}()
		pages, err := p.renderer.RenderPDF(renderCtx, data, opts)
		done <- renderResult{pages: pages, err: err}
	}()

	select {
	case result := <-done:
		return result.pages, result.err
	case <-renderCtx.Done():
		return nil, renderCtx.Err()
	}
}

// rasterizationError maps backend and pool errors onto the API error taxonomy. Input
// problems are 422, everything else is 500 with a generic message.
func rasterizationError(err error, maxPages int) *APIError {
	switch {
	case errors.Is(err, errQueueTimeout):
		return errServiceBusy(err)
	case errors.Is(err, pdfrenderer.ErrTooManyPages):
		return newAPIError(KindTooManyPages, http.StatusUnprocessableEntity,
			fmt.Sprintf("Document exceeds the limit of %d pages", maxPages), err)
	case errors.Is(err, pdfrenderer.ErrEncrypted):
		return errRasterization(http.StatusUnprocessableEntity, "PDF is encrypted or password protected", err)
	case errors.Is(err, pdfrenderer.ErrNoPages):
		return errRasterization(http.StatusUnprocessableEntity, "No pages found in PDF", err)
	case errors.Is(err, pdfrenderer.ErrInvalidDocument):
		return errRasterization(http.StatusUnprocessableEntity, "PDF could not be read, it may be corrupt", err)
	case errors.Is(err, context.DeadlineExceeded):
		return errRasterization(http.StatusInternalServerError, "Conversion timed out", err)
	case errors.Is(err, context.Canceled):
		return errRasterization(http.StatusInternalServerError, "Conversion cancelled", err)
	default:
		return errRasterization(http.StatusInternalServerError, "Conversion failed", err)
	}
}
