package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sundayezeilo/qrlinks/internal/errx"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes v as JSON with the given status. Click counters change on
// every redirect, so responses are never cacheable.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// headers are gone already
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes an ErrorResponse with an explicit status and code.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// WriteKindError writes an ErrorResponse whose status and code derive from kind.
func WriteKindError(w http.ResponseWriter, kind errx.Kind, message string) {
	WriteError(w, ErrorKindToStatus(kind), ErrorKindToCode(kind), message)
}
