package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 400, "test_error", "Test message")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	resp := decodeError(t, w)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Empty(t, resp.Details)
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteErrorWithDetails(w, 400, "test_error", "Test message", "Additional details")

	resp := decodeError(t, w)
	assert.Equal(t, "Additional details", resp.Details)
}

func TestWriteRetryAfter(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter time.Duration
		header     string
	}{
		{name: "whole seconds", retryAfter: 15 * time.Minute, header: "900"},
		{name: "rounds up", retryAfter: 1500 * time.Millisecond, header: "2"},
		{name: "zero omits header", retryAfter: 0, header: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			pkghttp.WriteRetryAfter(w, tt.retryAfter, "account_locked", "Try again later")

			assert.Equal(t, http.StatusTooManyRequests, w.Code)
			assert.Equal(t, tt.header, w.Header().Get("Retry-After"))
			assert.Equal(t, "account_locked", decodeError(t, w).Error)
		})
	}
}

func TestCommonWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, string)
		status int
		code   string
	}{
		{name: "bad request", write: pkghttp.WriteBadRequest, status: 400, code: "bad_request"},
		{name: "unauthorized", write: pkghttp.WriteUnauthorized, status: 401, code: "unauthorized"},
		{name: "forbidden", write: pkghttp.WriteForbidden, status: 403, code: "forbidden"},
		{name: "conflict", write: pkghttp.WriteConflict, status: 409, code: "conflict"},
		{name: "too many requests", write: pkghttp.WriteTooManyRequests, status: 429, code: "rate_limit_exceeded"},
		{name: "internal", write: pkghttp.WriteInternalError, status: 500, code: "internal_error"},
		{name: "unavailable", write: pkghttp.WriteServiceUnavailable, status: 503, code: "service_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, "message")

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Error)
			assert.Equal(t, "message", resp.Message)
		})
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
