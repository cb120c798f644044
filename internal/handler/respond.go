package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// DeviceHeader carries the client-generated device id.
const DeviceHeader = "X-Device-Id"

const maxBodyBytes = 1 << 16

// Error codes the handlers add on top of the component outcomes.
const (
	codeInvalidJSON  = "INVALID_JSON"
	codeUnauthorized = "UNAUTHORIZED"
	codeNoPaidAccess = "NO_PAID_ACCESS"
	codeServerError  = "SERVER_ERROR"
)

var statusByCode = map[string]int{
	"NO_SESSION":                http.StatusUnauthorized,
	"SESSION_NOT_FOUND":         http.StatusUnauthorized,
	"SESSION_EXPIRED":           http.StatusUnauthorized,
	"SESSION_INVALID":           http.StatusUnauthorized,
	codeUnauthorized:            http.StatusUnauthorized,
	codeInvalidJSON:             http.StatusBadRequest,
	"BAD_REQUEST":               http.StatusBadRequest,
	"BAD_PHONE":                 http.StatusBadRequest,
	"BAD_DEVICE_ID":             http.StatusBadRequest,
	"INVALID_CODE":              http.StatusBadRequest,
	codeNoPaidAccess:            http.StatusPaymentRequired,
	"REVOKE_FORBIDDEN":          http.StatusForbidden,
	"NO_CODE":                   http.StatusNotFound,
	"NO_CHALLENGE":              http.StatusNotFound,
	"DEVICE_NOT_FOUND_FOR_USER": http.StatusNotFound,
	"REVOKE_NOT_FOUND":          http.StatusNotFound,
	"DEVICE_ALREADY_REVOKED":    http.StatusConflict,
	"SLOTS_FULL":                http.StatusConflict,
	"EXPIRED":                   http.StatusGone,
	"RATE_LIMITED":              http.StatusTooManyRequests,
	codeServerError:             http.StatusInternalServerError,
}

// statusFor maps an outcome code to its HTTP status. Unmapped codes are
// treated as bad requests.
func statusFor(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeOK answers 200 with {"ok":true} merged with fields.
func writeOK(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// writeError answers {"ok":false,"error":code} merged with fields.
func writeError(w http.ResponseWriter, code string, fields map[string]any) {
	body := map[string]any{"ok": false, "error": code}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, statusFor(code), body)
}

// decodeJSON reads an optional JSON body into v. An empty body is not an error.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// deviceIDFrom prefers the body's deviceId and falls back to the header.
func deviceIDFrom(r *http.Request, body string) string {
	if s := strings.TrimSpace(body); s != "" {
		return s
	}
	return strings.TrimSpace(r.Header.Get(DeviceHeader))
}
