package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sundayezeilo/qrlinks/internal/errx"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		data       any
		wantStatus int
		wantJSON   string
	}{
		{
			name:       "shorten response",
			status:     http.StatusOK,
			data:       map[string]string{"shortUrl": "http://short.test/abc123", "qrCode": "data:image/png;base64,AA=="},
			wantStatus: http.StatusOK,
			wantJSON:   `{"qrCode":"data:image/png;base64,AA==","shortUrl":"http://short.test/abc123"}`,
		},
		{
			name:   "history rows",
			status: http.StatusOK,
			data: []map[string]any{
				{"org_url": "https://example.com/a", "short_url": "http://short.test/abc123", "clicks": 3},
				{"org_url": "https://example.com/b", "short_url": "http://short.test/xyz789", "clicks": 0},
			},
			wantStatus: http.StatusOK,
			wantJSON: `[{"clicks":3,"org_url":"https://example.com/a","short_url":"http://short.test/abc123"},
				{"clicks":0,"org_url":"https://example.com/b","short_url":"http://short.test/xyz789"}]`,
		},
		{
			name:       "empty history",
			status:     http.StatusOK,
			data:       []map[string]any{},
			wantStatus: http.StatusOK,
			wantJSON:   `[]`,
		},
		{
			name:       "service unavailable",
			status:     http.StatusServiceUnavailable,
			data:       map[string]string{"status": "draining"},
			wantStatus: http.StatusServiceUnavailable,
			wantJSON:   `{"status":"draining"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()

			WriteJSON(rr, tt.status, tt.data)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type application/json, got %q", ct)
			}
			if cc := rr.Header().Get("Cache-Control"); cc != "no-store" {
				t.Errorf("expected Cache-Control no-store, got %q", cc)
			}

			// compare decoded values so key order does not matter
			var got, want any
			if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if err := json.Unmarshal([]byte(tt.wantJSON), &want); err != nil {
				t.Fatalf("failed to unmarshal expected JSON: %v", err)
			}

			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(want)
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("expected JSON %s, got %s", wantJSON, gotJSON)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()

	WriteError(rr, http.StatusBadRequest, "invalid_input", "url is required")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Error != "invalid_input" || resp.Message != "url is required" {
		t.Errorf("unexpected body: %+v", resp)
	}
}

func TestWriteError_OmitsEmptyMessage(t *testing.T) {
	rr := httptest.NewRecorder()

	WriteError(rr, http.StatusNotFound, "not_found", "")

	var raw map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if _, ok := raw["message"]; ok {
		t.Errorf("expected message to be omitted, got %v", raw)
	}
}

func TestWriteKindError(t *testing.T) {
	tests := []struct {
		name       string
		kind       errx.Kind
		message    string
		wantStatus int
		wantCode   string
	}{
		{"invalid url", errx.Invalid, "url must include scheme", http.StatusBadRequest, "invalid_input"},
		{"unknown code", errx.NotFound, "short link doesn't exist", http.StatusNotFound, "not_found"},
		{"store down", errx.Unavailable, "try again", http.StatusInternalServerError, "unavailable"},
		{"store slow", errx.Timeout, "try again", http.StatusInternalServerError, "timeout"},
		{"no free code", errx.Exhausted, "try again", http.StatusInternalServerError, "code_space_exhausted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()

			WriteKindError(rr, tt.kind, tt.message)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}

			var resp ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if resp.Error != tt.wantCode {
				t.Errorf("expected error %q, got %q", tt.wantCode, resp.Error)
			}
			if resp.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, resp.Message)
			}
		})
	}
}
