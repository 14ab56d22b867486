package engine

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"github.com/drummonds/pdf2image/engine/pdfrenderer"
)

// Version is reported by the service info endpoint
const Version = "1.0.0"

// ServiceInfo describes the service and its limits
type ServiceInfo struct {
	Message          string               `json:"message"`
	Version          string               `json:"version"`
	SupportedFormats []pdfrenderer.Format `json:"supported_formats"`
	DefaultDPI       int                  `json:"default_dpi"`
	MinDPI           int                  `json:"min_dpi"`
	MaxDPI           int                  `json:"max_dpi"`
	MaxUploadSize    string               `json:"max_upload_size"`
	MaxPages         int                  `json:"max_pages"`
}

// HealthResponse is the liveness body
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Renderer  string `json:"renderer"`
	InFlight  int64  `json:"inFlight"`
}

// GetServiceInfo returns the service name, version and conversion limits
// @Summary Service information
// @Description Returns supported output formats and conversion limits
// @Tags Info
// @Produce json
// @Success 200 {object} ServiceInfo
// @Router / [get]
func (serverHandler *ServerHandler) GetServiceInfo(context echo.Context) error {
	cfg := serverHandler.ServerConfig
	return context.JSON(http.StatusOK, ServiceInfo{
		Message:          "PDF2Image API",
		Version:          Version,
		SupportedFormats: pdfrenderer.SupportedFormats,
		DefaultDPI:       cfg.DefaultDPI,
		MinDPI:           cfg.MinDPI,
		MaxDPI:           cfg.MaxDPI,
		MaxUploadSize:    humanize.IBytes(uint64(cfg.MaxUploadBytes)),
		MaxPages:         cfg.MaxPages,
	})
}

// HealthCheck is a static liveness signal plus the last renderer self check result
// @Summary Health check
// @Description Liveness probe, reports the last renderer self check
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (serverHandler *ServerHandler) HealthCheck(context echo.Context) error {
	return context.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Renderer:  serverHandler.health.status(),
		InFlight:  serverHandler.Pool.InFlight(),
	})
}

// ConvertPDF converts an uploaded PDF into page images
// @Summary Convert a PDF to images
// @Description Renders every page; one page is returned as an image, several pages as a ZIP archive
// @Tags Convert
// @Accept multipart/form-data
// @Produce image/png,image/jpeg,image/webp,application/zip
// @Security BearerAuth
// @Param file formData file true "PDF document"
// @Param format formData string false "PNG, JPEG, JPG or WEBP (default PNG)"
// @Param dpi formData int false "Resolution, 72-600 (default 300)"
// @Param quality formData int false "JPEG quality, 1-100"
// @Success 200 {file} binary
// @Failure 400 {object} ErrorResponse "Invalid file or parameters"
// @Failure 401 {object} ErrorResponse "Missing or invalid API key"
// @Failure 413 {object} ErrorResponse "File too large"
// @Failure 422 {object} ErrorResponse "PDF could not be rasterized"
// @Failure 500 {object} ErrorResponse "Conversion failed"
// @Failure 503 {object} ErrorResponse "Too many conversions in progress"
// @Router /convert [post]
func (serverHandler *ServerHandler) ConvertPDF(context echo.Context) error {
	cfg := serverHandler.ServerConfig
	requestID := context.Response().Header().Get(echo.HeaderXRequestID)

	upload, err := readUpload(context, cfg.MaxUploadBytes)
	if err != nil {
		return err
	}
	conversion, err := serverHandler.Validator.Validate(upload)
	if err != nil {
		return err
	}
	ctx := context.Request().Context()
	if err := serverHandler.preflight(ctx, conversion); err != nil {
		return err
	}

	Logger.Info("Processing PDF to image conversion",
		"requestID", requestID,
		"file", conversion.Filename,
		"bytes", len(conversion.Data),
		"format", conversion.Format,
		"dpi", conversion.DPI)

	start := time.Now()
	pages, err := serverHandler.Pool.Render(ctx, conversion.Data, conversion.RenderOptions(cfg.MaxPages))
	if err != nil {
		if ctx.Err() != nil {
			Logger.Warn("Client went away during conversion", "requestID", requestID, "error", ctx.Err())
		}
		return rasterizationError(err, cfg.MaxPages)
	}

	result, err := Package(pages, conversion.Filename, conversion.Format)
	if err != nil {
		return errPackaging(err)
	}

	Logger.Info("Conversion complete",
		"requestID", requestID,
		"pages", result.Pages,
		"archived", result.Archived,
		"bytes", len(result.Body),
		"duration", time.Since(start))

	header := context.Response().Header()
	header.Set(echo.HeaderContentDisposition, result.ContentDisposition())
	header.Set("X-Page-Count", strconv.Itoa(result.Pages))
	return context.Blob(http.StatusOK, result.ContentType, result.Body)
}

// preflight rejects encrypted, over-long and non-terminating documents before they take a
// render slot. It runs under the render timeout and stops when the client goes away.
func (serverHandler *ServerHandler) preflight(ctx context.Context, conversion *ConversionRequest) error {
	maxPages := serverHandler.ServerConfig.MaxPages
	ctx, cancel := context.WithTimeout(ctx, serverHandler.ServerConfig.RenderTimeout)
	defer cancel()

	info, err := pdfrenderer.Inspect(ctx, conversion.Data)
	switch {
	case errors.Is(err, pdfrenderer.ErrEncrypted),
		errors.Is(err, pdfrenderer.ErrParseBudget),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return rasterizationError(err, maxPages)
	case err != nil:
		Logger.Debug("Preflight could not parse document, leaving it to the renderer", "error", err)
		return nil
	case maxPages > 0 && info.Pages > maxPages:
		return errTooManyPages(info.Pages, maxPages)
	}
	return nil
}

// checkRenderer renders a generated one page document through the pool
func (serverHandler *ServerHandler) checkRenderer(ctx context.Context) error {
	cfg := serverHandler.ServerConfig
	pages, err := serverHandler.Pool.Render(ctx, pdfrenderer.SamplePDF(1, 72, 72), pdfrenderer.Options{
		DPI:    cfg.MinDPI,
		Format: pdfrenderer.FormatPNG,
	})
	if err != nil {
		return err
	}
	if len(pages) != 1 || len(pages[0].Data) == 0 {
		return errors.New("renderer returned no image for the sample document")
	}
	return nil
}
