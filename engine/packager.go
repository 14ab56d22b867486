package engine

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/drummonds/pdf2image/engine/pdfrenderer"
)

// archiveModTime is stamped on every archive entry so identical input gives identical
// archives
var archiveModTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// ConversionResult is the response body chosen by the packager
type ConversionResult struct {
	Filename    string
	ContentType string
	Body        []byte
	Pages       int
	Archived    bool
}

// ContentDisposition returns the attachment header value for the result. Filename only
// holds characters from fileStem's safe set, so plain quoting is enough.
func (r *ConversionResult) ContentDisposition() string {
	return fmt.Sprintf(`attachment; filename="%s"`, r.Filename)
}

// Package returns the single page as is, or a ZIP of all pages when there are several
func Package(pages []pdfrenderer.Page, sourceName string, format pdfrenderer.Format) (*ConversionResult, error) {
	stem := fileStem(sourceName)
	ext := format.Extension()

	if len(pages) == 1 {
		return &ConversionResult{
			Filename:    stem + "." + ext,
			ContentType: format.MediaType(),
			Body:        pages[0].Data,
			Pages:       1,
		}, nil
	}

	body, err := zipPages(pages, stem, ext)
	if err != nil {
		return nil, err
	}
	return &ConversionResult{
		Filename:    stem + ".zip",
		ContentType: "application/zip",
		Body:        body,
		Pages:       len(pages),
		Archived:    true,
	}, nil
}

// entryName returns "<stem>_page_<N>.<ext>" with N zero-padded to the width of total
func entryName(stem string, index, total int, ext string) string {
	width := len(strconv.Itoa(total))
	return fmt.Sprintf("%s_page_%0*d.%s", stem, width, index, ext)
}

func zipPages(pages []pdfrenderer.Page, stem, ext string) ([]byte, error) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	for i, page := range pages {
		header := &zip.FileHeader{
			Name:     entryName(stem, i+1, len(pages), ext),
			Method:   zip.Deflate,
			Modified: archiveModTime,
		}
		w, err := zipWriter.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive entry %s: %w", header.Name, err)
		}
		if _, err := w.Write(page.Data); err != nil {
			return nil, fmt.Errorf("failed to write archive entry %s: %w", header.Name, err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

// fileStem turns an uploaded file name into a safe base for output names
func fileStem(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".pdf") {
		base = base[:len(base)-len(ext)]
	}

	stem := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, base)

	stem = strings.Trim(stem, ".")
	if stem == "" {
		return "document"
	}
	return stem
}
