package pdfrenderer

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
)

// Format is an output image format as requested by the caller
type Format string

const (
	FormatPNG  Format = "PNG"
	FormatJPEG Format = "JPEG"
	FormatJPG  Format = "JPG"
	FormatWEBP Format = "WEBP"
)

// SupportedFormats lists the accepted format names in display order
var SupportedFormats = []Format{FormatPNG, FormatJPEG, FormatJPG, FormatWEBP}

// DefaultWebPQuality is used for WEBP output, the caller's quality only applies to JPEG
const DefaultWebPQuality = 90

// ParseFormat matches name case-insensitively against SupportedFormats
func ParseFormat(name string) (Format, bool) {
	f := Format(strings.ToUpper(strings.TrimSpace(name)))
	for _, supported := range SupportedFormats {
		if f == supported {
			return f, true
		}
	}
	return "", false
}

// IsJPEG reports whether the format is encoded as JPEG
func (f Format) IsJPEG() bool {
	return f == FormatJPEG || f == FormatJPG
}

// MediaType returns the canonical media type for the format
func (f Format) MediaType() string {
	switch f {
	case FormatJPEG, FormatJPG:
		return "image/jpeg"
	case FormatWEBP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Extension returns the file extension (without dot) for the format as requested,
// so JPG gives "jpg" and JPEG gives "jpeg"
func (f Format) Extension() string {
	return strings.ToLower(string(f))
}

// Encode writes img in the requested format. quality is only used for JPEG, 0 keeps the
// encoder default.
func Encode(img image.Image, format Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch {
	case format.IsJPEG():
		var opts []imaging.EncodeOption
		if quality > 0 {
			opts = append(opts, imaging.JPEGQuality(quality))
		}
		err = imaging.Encode(&buf, img, imaging.JPEG, opts...)
	case format == FormatWEBP:
		err = webp.Encode(&buf, img, webp.Options{Quality: DefaultWebPQuality})
	case format == FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func newPage(index int, img image.Image, opts Options) (Page, error) {
	data, err := Encode(img, opts.Format, opts.Quality)
	if err != nil {
		return Page{}, fmt.Errorf("page %d: %w", index, err)
	}
	bounds := img.Bounds()
	return Page{
		Index:     index,
		Data:      data,
		MediaType: opts.Format.MediaType(),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}, nil
}
