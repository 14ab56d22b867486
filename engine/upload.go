package engine

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	// multipartOverhead is the room allowed for boundaries, headers and the
	// small parameter fields on top of the file size limit
	multipartOverhead = 1 << 20
	maxFieldBytes     = 256
)

// conversion parameter field names, accepted as multipart fields or query parameters
var uploadFields = []string{"format", "dpi", "quality"}

// Upload is the raw, unvalidated content of a conversion request
type Upload struct {
	HasFile  bool
	Filename string
	Data     []byte
	Fields   map[string]string
}

// readUpload streams the multipart body into memory. The file part is read through a
// limit of maxBytes+1 so oversized uploads are detected without buffering them, and no
// part is ever spooled to disk.
func readUpload(c echo.Context, maxBytes int64) (*Upload, error) {
	req := c.Request()
	if req.ContentLength > maxBytes+multipartOverhead {
		return nil, errFileTooLarge(maxBytes)
	}
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBytes+multipartOverhead)

	reader, err := req.MultipartReader()
	if err != nil {
		return nil, errMissingFile("Request must be multipart/form-data with a 'file' field")
	}

	upload := &Upload{Fields: make(map[string]string)}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, classifyBodyError(err, maxBytes)
		}

		name := part.FormName()
		switch {
		case name == "file" && !upload.HasFile:
			data, err := io.ReadAll(io.LimitReader(part, maxBytes+1))
			if err != nil {
				part.Close()
				return nil, classifyBodyError(err, maxBytes)
			}
			if int64(len(data)) > maxBytes {
				part.Close()
				return nil, errFileTooLarge(maxBytes)
			}
			upload.HasFile = true
			upload.Filename = part.FileName()
			upload.Data = data
		case isUploadField(name):
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			if err != nil {
				part.Close()
				return nil, classifyBodyError(err, maxBytes)
			}
			upload.Fields[name] = strings.TrimSpace(string(value))
		}
		part.Close()
	}

	// Parameters missing from the form may come as query parameters
	for _, name := range uploadFields {
		if _, ok := upload.Fields[name]; !ok {
			if value := c.QueryParam(name); value != "" {
				upload.Fields[name] = strings.TrimSpace(value)
			}
		}
	}

	return upload, nil
}

func isUploadField(name string) bool {
	for _, field := range uploadFields {
		if name == field {
			return true
		}
	}
	return false
}

func classifyBodyError(err error, maxBytes int64) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errFileTooLarge(maxBytes)
	}
	return newAPIError(KindMissingFile, http.StatusBadRequest, "Malformed multipart body", err)
}
