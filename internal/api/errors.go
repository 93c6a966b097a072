package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/homebrain/insteon-core/internal/bridge"
	"github.com/homebrain/insteon-core/internal/device"
)

// Error is the JSON error envelope every failing endpoint returns.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeUnavailable  = "not_connected"
	ErrCodeInternal     = "internal_error"
)

// writeJSON serializes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // connection may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

// writeError emits the Error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest rejects a malformed request.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound reports a missing resource.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized rejects a request lacking a valid token.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeServiceUnavailable writes a 503 error response.
func writeServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeInternalError reports a server-side failure.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeBridgeError maps bridge and device sentinel errors to HTTP responses:
// unknown devices map to 404, a disconnected gateway to 503, and rejected
// commands or levels to 400. Anything else is an internal error.
func writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, bridge.ErrNotConnected):
		writeServiceUnavailable(w, "gateway not connected")
	case errors.Is(err, bridge.ErrCommandUnsupported):
		writeBadRequest(w, "command not supported by device")
	default:
		writeInternalError(w, "command failed")
	}
}
