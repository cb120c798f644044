package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type recordedRequest struct {
	method, route string
	status        int
}

type recordingMetrics struct {
	requests []recordedRequest
}

func (m *recordingMetrics) ObserveSession(string)         {}
func (m *recordingMetrics) ObserveDevice(string, string)  {}
func (m *recordingMetrics) ObservePairing(string, string) {}
func (m *recordingMetrics) ObserveOTP(string, string)     {}
func (m *recordingMetrics) ObserveRequest(method, route string, status int, _ time.Duration) {
	m.requests = append(m.requests, recordedRequest{method, route, status})
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	m := &recordingMetrics{}

	r := chi.NewRouter()
	r.Use(RequestLogger(logger, m))
	r.Get("/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/devices/abc", nil))

	if len(m.requests) != 1 {
		t.Fatalf("observed %d requests, want 1", len(m.requests))
	}
	got := m.requests[0]
	if got.route != "/devices/{id}" || got.status != http.StatusNotFound || got.method != "GET" {
		t.Errorf("observed %+v", got)
	}

	line := buf.String()
	if !strings.Contains(line, "level=WARN") {
		t.Errorf("4xx should log at warn: %s", line)
	}
	if !strings.Contains(line, "path=/devices/abc") {
		t.Errorf("log line missing path: %s", line)
	}
}
