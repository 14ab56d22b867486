package engine

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/drummonds/pdf2image/config"
	"github.com/drummonds/pdf2image/engine/pdfrenderer"
)

// pdfHeaderWindow is how far into the file the %PDF- marker may appear; readers
// tolerate leading junk before it
const pdfHeaderWindow = 1024

// ConversionRequest is a fully validated conversion, ready for the rasterizer
type ConversionRequest struct {
	Data     []byte
	Filename string
	Format   pdfrenderer.Format
	DPI      int
	Quality  int // 0 when not supplied or not applicable
}

// RenderOptions returns the rasterizer options for the request
func (r *ConversionRequest) RenderOptions(maxPages int) pdfrenderer.Options {
	return pdfrenderer.Options{
		DPI:      r.DPI,
		Format:   r.Format,
		Quality:  r.Quality,
		MaxPages: maxPages,
	}
}

// Validator checks uploads against the configured limits
type Validator struct {
	cfg config.ServerConfig
}

// NewValidator creates a Validator for the given configuration
func NewValidator(cfg config.ServerConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate turns a raw upload into a ConversionRequest or returns the first *APIError
// found. It has no side effects.
func (v *Validator) Validate(upload *Upload) (*ConversionRequest, error) {
	if upload == nil || !upload.HasFile {
		return nil, errMissingFile("No file uploaded, expected a 'file' field")
	}
	if len(upload.Data) == 0 {
		return nil, errInvalidFileType("File is empty")
	}
	if int64(len(upload.Data)) > v.cfg.MaxUploadBytes {
		return nil, errFileTooLarge(v.cfg.MaxUploadBytes)
	}
	if !strings.HasSuffix(strings.ToLower(upload.Filename), ".pdf") {
		return nil, errInvalidFileType("File must be a PDF")
	}

	format, err := v.ParseFormat(upload.Fields["format"])
	if err != nil {
		return nil, err
	}
	dpi, err := v.ParseDPI(upload.Fields["dpi"])
	if err != nil {
		return nil, err
	}
	quality, err := v.ParseQuality(upload.Fields["quality"], format)
	if err != nil {
		return nil, err
	}

	if !hasPDFHeader(upload.Data) {
		return nil, errInvalidFileType("File content is not a PDF document")
	}

	return &ConversionRequest{
		Data:     upload.Data,
		Filename: filepath.Base(upload.Filename),
		Format:   format,
		DPI:      dpi,
		Quality:  quality,
	}, nil
}

// ParseFormat accepts PNG, JPEG, JPG or WEBP in any case, defaulting to PNG
func (v *Validator) ParseFormat(raw string) (pdfrenderer.Format, error) {
	if raw == "" {
		return pdfrenderer.FormatPNG, nil
	}
	format, ok := pdfrenderer.ParseFormat(raw)
	if !ok {
		names := make([]string, len(pdfrenderer.SupportedFormats))
		for i, f := range pdfrenderer.SupportedFormats {
			names[i] = string(f)
		}
		return "", errInvalidFormat("Unsupported format. Supported formats: " + strings.Join(names, ", "))
	}
	return format, nil
}

// ParseDPI accepts an integer within the configured bounds, defaulting to DefaultDPI
func (v *Validator) ParseDPI(raw string) (int, error) {
	if raw == "" {
		return v.cfg.DefaultDPI, nil
	}
	dpi, err := strconv.Atoi(raw)
	if err != nil || dpi < v.cfg.MinDPI || dpi > v.cfg.MaxDPI {
		return 0, errInvalidDpi(fmt.Sprintf("DPI must be an integer between %d and %d", v.cfg.MinDPI, v.cfg.MaxDPI))
	}
	return dpi, nil
}

// ParseQuality accepts an integer within the configured bounds for JPEG output. For
// every other format the value is ignored and 0 is returned.
func (v *Validator) ParseQuality(raw string, format pdfrenderer.Format) (int, error) {
	if raw == "" {
		return 0, nil
	}
	if !format.IsJPEG() {
		Logger.Debug("Ignoring quality for non-JPEG format", "format", format, "quality", raw)
		return 0, nil
	}
	quality, err := strconv.Atoi(raw)
	if err != nil || quality < v.cfg.MinQuality || quality > v.cfg.MaxQuality {
		return 0, errInvalidQuality(fmt.Sprintf("Quality must be an integer between %d and %d", v.cfg.MinQuality, v.cfg.MaxQuality))
	}
	return quality, nil
}

func hasPDFHeader(data []byte) bool {
	window := data[:min(len(data), pdfHeaderWindow)]
	return bytes.Contains(window, []byte("%PDF-"))
}
