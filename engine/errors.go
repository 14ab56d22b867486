package engine

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
)

// ErrorKind names a failure class in the JSON error body
type ErrorKind string

const (
	KindUnauthenticated     ErrorKind = "Unauthenticated"
	KindMissingFile         ErrorKind = "MissingFile"
	KindInvalidFileType     ErrorKind = "InvalidFileType"
	KindFileTooLarge        ErrorKind = "FileTooLarge"
	KindInvalidFormat       ErrorKind = "InvalidFormat"
	KindInvalidDpi          ErrorKind = "InvalidDpi"
	KindInvalidQuality      ErrorKind = "InvalidQuality"
	KindTooManyPages        ErrorKind = "TooManyPages"
	KindRasterizationFailed ErrorKind = "RasterizationFailed"
	KindPackagingFailed     ErrorKind = "PackagingFailed"
	KindServiceBusy         ErrorKind = "ServiceBusy"
	KindRateLimited         ErrorKind = "RateLimited"
	KindNotFound            ErrorKind = "NotFound"
	KindMethodNotAllowed    ErrorKind = "MethodNotAllowed"
	KindInternal            ErrorKind = "InternalError"
)

// APIError is the only error type the handlers return. Err is logged, never sent.
type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   ErrorKind `json:"error"`
	Message string    `json:"message"`
}

func newAPIError(kind ErrorKind, status int, message string, err error) *APIError {
	return &APIError{Kind: kind, Status: status, Message: message, Err: err}
}

func errUnauthenticated(err error) *APIError {
	return newAPIError(KindUnauthenticated, http.StatusUnauthorized,
		"Invalid API key. Please provide a valid API key in the Authorization header.", err)
}

func errMissingFile(message string) *APIError {
	return newAPIError(KindMissingFile, http.StatusBadRequest, message, nil)
}

func errInvalidFileType(message string) *APIError {
	return newAPIError(KindInvalidFileType, http.StatusBadRequest, message, nil)
}

func errFileTooLarge(limit int64) *APIError {
	return newAPIError(KindFileTooLarge, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("File too large. Maximum size: %s", humanize.IBytes(uint64(limit))), nil)
}

func errInvalidFormat(message string) *APIError {
	return newAPIError(KindInvalidFormat, http.StatusBadRequest, message, nil)
}

func errInvalidDpi(message string) *APIError {
	return newAPIError(KindInvalidDpi, http.StatusBadRequest, message, nil)
}

func errInvalidQuality(message string) *APIError {
	return newAPIError(KindInvalidQuality, http.StatusBadRequest, message, nil)
}

func errTooManyPages(pages, limit int) *APIError {
	return newAPIError(KindTooManyPages, http.StatusUnprocessableEntity,
		fmt.Sprintf("Document has %d pages, the limit is %d", pages, limit), nil)
}

func errRasterization(status int, message string, err error) *APIError {
	return newAPIError(KindRasterizationFailed, status, message, err)
}

func errPackaging(err error) *APIError {
	return newAPIError(KindPackagingFailed, http.StatusInternalServerError, "Failed to package converted images", err)
}

func errServiceBusy(err error) *APIError {
	return newAPIError(KindServiceBusy, http.StatusServiceUnavailable,
		"Too many conversions in progress, please retry later", err)
}

func errRateLimited(err error) *APIError {
	return newAPIError(KindRateLimited, http.StatusTooManyRequests, "Rate limit exceeded", err)
}

// toAPIError classifies any error reaching the echo error handler
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Code {
		case http.StatusUnauthorized:
			return errUnauthenticated(err)
		case http.StatusNotFound:
			return newAPIError(KindNotFound, http.StatusNotFound, "The requested endpoint does not exist", err)
		case http.StatusMethodNotAllowed:
			return newAPIError(KindMethodNotAllowed, http.StatusMethodNotAllowed, "Method not allowed", err)
		case http.StatusRequestEntityTooLarge:
			return newAPIError(KindFileTooLarge, http.StatusRequestEntityTooLarge, "Request body too large", err)
		case http.StatusTooManyRequests:
			return errRateLimited(err)
		}
		if httpErr.Code >= 400 && httpErr.Code < 500 {
			return newAPIError(KindInternal, httpErr.Code, http.StatusText(httpErr.Code), err)
		}
	}

	return newAPIError(KindInternal, http.StatusInternalServerError, "Internal server error", err)
}

// HTTPErrorHandler renders every error as an ErrorResponse
func HTTPErrorHandler(err error, c echo.Context) {
	// The request logger handles errors itself and passes them on, those arrive here
	// a second time with the response already written
	if c.Response().Committed {
		return
	}

	apiErr := toAPIError(err)
	attrs := []any{
		"kind", apiErr.Kind,
		"status", apiErr.Status,
		"path", c.Request().URL.Path,
		"requestID", c.Response().Header().Get(echo.HeaderXRequestID),
	}
	if apiErr.Err != nil {
		attrs = append(attrs, "error", apiErr.Err)
	}
	if apiErr.Status >= http.StatusInternalServerError {
		Logger.Error("Request failed", attrs...)
	} else {
		Logger.Info("Request rejected", attrs...)
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(apiErr.Status)
	} else {
		writeErr = c.JSON(apiErr.Status, ErrorResponse{Error: apiErr.Kind, Message: apiErr.Message})
	}
	if writeErr != nil {
		Logger.Error("Failed to write error response", "error", writeErr)
	}
}
