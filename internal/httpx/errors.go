package httpx

import (
	"net/http"

	"github.com/sundayezeilo/qrlinks/internal/errx"
)

// ErrorKindToStatus maps errx.Kind to HTTP status codes.
// Every store-side failure surfaces as 500; clients cannot act on the difference.
func ErrorKindToStatus(kind errx.Kind) int {
	switch kind {
	case errx.NotFound:
		return http.StatusNotFound
	case errx.Conflict:
		return http.StatusConflict
	case errx.Invalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorKindToCode maps errx.Kind to error codes for JSON responses.
func ErrorKindToCode(kind errx.Kind) string {
	switch kind {
	case errx.NotFound:
		return "not_found"
	case errx.Conflict:
		return "conflict"
	case errx.Invalid:
		return "invalid_input"
	case errx.Unavailable:
		return "unavailable"
	case errx.Timeout:
		return "timeout"
	case errx.Exhausted:
		return "code_space_exhausted"
	default:
		return "internal_error"
	}
}
