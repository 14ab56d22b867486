package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/drummonds/pdf2image/config"
	"github.com/drummonds/pdf2image/engine/pdfrenderer"
)

const testToken = "test-secret"

// fakeRenderer counts calls and returns synthetic pages, one per document page
type fakeRenderer struct {
	calls atomic.Int32
	pages int
	err   error
	delay time.Duration // honours ctx while waiting

	mu       sync.Mutex
	lastOpts pdfrenderer.Options
}

func (f *fakeRenderer) RenderPDF(ctx context.Context, data []byte, opts pdfrenderer.Options) ([]pdfrenderer.Page, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastOpts = opts
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	count := f.pages
	if count == 0 {
		count = 1
	}
	pages := make([]pdfrenderer.Page, count)
	for i := range pages {
		pages[i] = pdfrenderer.Page{
			Index:     i + 1,
			Data:      []byte(fmt.Sprintf("%s-page-%d", opts.Format, i+1)),
			MediaType: opts.Format.MediaType(),
			Width:     opts.DPI,
			Height:    opts.DPI,
		}
	}
	return pages, nil
}

func (f *fakeRenderer) Close() error { return nil }

func (f *fakeRenderer) options() pdfrenderer.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOpts
}

func testConfig(t *testing.T) config.ServerConfig {
	t.Helper()
	cfg := config.ServerConfig{
		ListenAddrPort:       "8473",
		APIKey:               testToken,
		MaxUploadBytes:       50 << 20,
		MaxPages:             500,
		MinDPI:               72,
		MaxDPI:               600,
		DefaultDPI:           300,
		MinQuality:           1,
		MaxQuality:           100,
		Renderer:             "fitz",
		MaxConcurrentRenders: 2,
		QueueTimeout:         time.Second,
		RenderTimeout:        5 * time.Second,
		RateLimitBurst:       10,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Test config is invalid: %v", err)
	}
	return cfg
}

// encryptedFixture needs the user password "test123" to open
const encryptedFixture = "pdfrenderer/testdata/password_test123.pdf"

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
	doc := pdfrenderer.SamplePDF(1, 72, 72)
	marker := []byte("startxref\n")
	i := bytes.LastIndex(doc, marker)
	if i < 0 {
		t.Fatal("Sample PDF has no startxref")
	}
	rest := doc[i+len(marker):]
	offset := string(rest[:bytes.IndexByte(rest, '\n')])
	return bytes.Replace(doc, []byte("trailer\n<< "), []byte("trailer\n<< /Prev "+offset+" "), 1)
}

// serveWithin fails the test instead of hanging when the handler does not return
func serveWithin(t *testing.T, e *echo.Echo, req *http.Request, limit time.Duration) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		e.ServeHTTP(rec, req)
		close(done)
	}()
	select {
	case <-done:
		return rec
	case <-time.After(limit):
		t.Fatalf("Request still running after %s", limit)
		return nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestServer creates a test server with all routes configured
func setupTestServer(t *testing.T, cfg config.ServerConfig, renderer pdfrenderer.Renderer) (*echo.Echo, *ServerHandler) {
	t.Helper()
	Logger = discardLogger()

	e := echo.New()
	serverHandler, err := NewServerHandler(e, cfg, renderer)
	if err != nil {
		t.Fatalf("Failed to create server handler: %v", err)
	}
	serverHandler.SetupRoutes()
	return e, serverHandler
}

// newConvertRequest builds a multipart POST /convert. An empty filename omits the file part.
func newConvertRequest(t *testing.T, filename string, data []byte, fields map[string]string, token string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("Failed to write file data: %v", err)
		}
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("Failed to write field %s: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/convert", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	return req
}
