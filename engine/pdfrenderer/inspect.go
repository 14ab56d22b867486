package pdfrenderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// ErrParseBudget is returned when the preflight parser reads far more than the document
// holds, which only happens on cyclic structures such as an xref /Prev chain that points
// back at itself.
var ErrParseBudget = errors.New("PDF structure does not terminate")

var errBudgetSpent = errors.New("read budget spent")

const (
	parseBudgetFactor = 8
	parseBudgetSlack  = 256 << 10
)

// DocumentInfo is what a cheap parse of the upload reveals before rendering
type DocumentInfo struct {
	Pages int
}

// budgetReader fails reads once ctx is done or more than budget bytes were read.
// ledongthuc/pdf turns a failed read into a panic, which Inspect recovers.
type budgetReader struct {
	ctx    context.Context
	data   *bytes.Reader
	budget int64
	spent  bool
}

func (b *budgetReader) ReadAt(p []byte, off int64) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	if b.budget <= 0 {
		b.spent = true
		return 0, errBudgetSpent
	}
	n, err := b.data.ReadAt(p, off)
	b.budget -= int64(n)
	return n, err
}

// Inspect parses the document structure without rendering anything. It returns
// ErrEncrypted for password protected files and ErrInvalidDocument when the structure
// cannot be read. The parse stops when ctx is done and after reading parseBudgetFactor
// times the document size; the latter error also wraps ErrParseBudget. The rasterizer
// repairs many files this parser rejects, so callers should only treat ErrEncrypted,
// ErrParseBudget and the page count as authoritative.
func Inspect(ctx context.Context, data []byte) (info DocumentInfo, err error) {
	reader := &budgetReader{
		ctx:    ctx,
		data:   bytes.NewReader(data),
		budget: int64(len(data))*parseBudgetFactor + parseBudgetSlack,
	}

	// ledongthuc/pdf panics on read errors and on some malformed object graphs
	defer func() {
		if r := recover(); r != nil {
			switch {
			case ctx.Err() != nil:
				err = ctx.Err()
			case reader.spent:
				err = fmt.Errorf("%w: %w", ErrInvalidDocument, ErrParseBudget)
			default:
				err = fmt.Errorf("%w: %v", ErrInvalidDocument, r)
			}
		}
	}()

	parsed, err := pdf.NewReader(reader, int64(len(data)))
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return info, ctx.Err()
	case reader.spent:
		return info, fmt.Errorf("%w: %w", ErrInvalidDocument, ErrParseBudget)
	case errors.Is(err, pdf.ErrInvalidPassword):
		return info, ErrEncrypted
	default:
		return info, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	info.Pages = parsed.NumPage()
	return info, nil
}
