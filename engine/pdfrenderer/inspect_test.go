package pdfrenderer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// encryptedFixture needs the user password "test123" to open
const encryptedFixture = "testdata/password_test123.pdf"

func readFixture(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read fixture %s: %v", path, err)
	}
	return data
}

// cyclicPrevPDF returns a one page document whose trailer /Prev points back at its own
// cross-reference table
func cyclicPrevPDF(t *testing.T) []byte {
	t.Helper()
	doc := SamplePDF(1, 72, 72)
	marker := []byte("startxref\n")
	i := bytes.LastIndex(doc, marker)
	if i < 0 {
		t.Fatal("Sample PDF has no startxref")
	}
	rest := doc[i+len(marker):]
	offset := string(rest[:bytes.IndexByte(rest, '\n')])
	cyclic := bytes.Replace(doc, []byte("trailer\n<< "), []byte("trailer\n<< /Prev "+offset+" "), 1)
	if bytes.Equal(cyclic, doc) {
		t.Fatal("Sample PDF trailer not found")
	}
	return cyclic
}

// inspectWithin fails the test instead of hanging when Inspect does not return
func inspectWithin(t *testing.T, ctx context.Context, data []byte, limit time.Duration) (DocumentInfo, error) {
	t.Helper()
	type result struct {
		info DocumentInfo
		err  error
	}
	done := make(chan result, 1)
	go func() {
		info, err := Inspect(ctx, data)
		done <- result{info, err}
	}()
	select {
	case r := <-done:
		return r.info, r.err
	case <-time.After(limit):
		t.Fatalf("Inspect did not return within %s on a %d byte document", limit, len(data))
		return DocumentInfo{}, nil
	}
}

func TestInspect(t *testing.T) {
	info, err := Inspect(context.Background(), SamplePDF(3, 72, 72))
	if err != nil {
		t.Fatalf("Inspect failed on sample PDF: %v", err)
	}
	if info.Pages != 3 {
		t.Errorf("Expected 3 pages, got %d", info.Pages)
	}

	_, err = Inspect(context.Background(), []byte("%PDF-1.4\ngarbage without structure"))
	if !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("Expected ErrInvalidDocument for broken file, got: %v", err)
	}
	if errors.Is(err, ErrParseBudget) {
		t.Errorf("A plain parse failure is not a budget failure: %v", err)
	}
}

func TestInspect_CyclicPrevChainTerminates(t *testing.T) {
	_, err := inspectWithin(t, context.Background(), cyclicPrevPDF(t), 3*time.Second)
	if !errors.Is(err, ErrParseBudget) {
		t.Fatalf("Expected ErrParseBudget, got: %v", err)
	}
	if !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("Budget failures should also be ErrInvalidDocument, got: %v", err)
	}
}

func TestInspect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := inspectWithin(t, ctx, cyclicPrevPDF(t), 3*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
}

func TestInspect_Encrypted(t *testing.T) {
	_, err := Inspect(context.Background(), readFixture(t, encryptedFixture))
	if !errors.Is(err, ErrEncrypted) {
		t.Fatalf("Expected ErrEncrypted, got: %v", err)
	}
}

func TestFitzRenderer_Encrypted(t *testing.T) {
	renderer, _ := NewFitzRenderer()
	_, err := renderer.RenderPDF(context.Background(), readFixture(t, encryptedFixture), Options{DPI: 72, Format: FormatPNG})
	if !errors.Is(err, ErrEncrypted) {
		t.Fatalf("Expected ErrEncrypted, got: %v", err)
	}
}

func TestPDFiumRenderer_Encrypted(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PDFium WebAssembly test in short mode")
	}

	renderer, err := NewPDFiumRenderer(1)
	if err != nil {
		t.Fatalf("Failed to create PDFium renderer: %v", err)
	}
	defer renderer.Close()

	_, err = renderer.RenderPDF(context.Background(), readFixture(t, encryptedFixture), Options{DPI: 72, Format: FormatPNG})
	if !errors.Is(err, ErrEncrypted) {
		t.Fatalf("Expected ErrEncrypted, got: %v", err)
	}
}
