package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestMiddlewareLogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{ServiceName: "escapade-test", Level: zerolog.InfoLevel, Out: &buf})

	h := Middleware("escapade-test", logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/public/leaderboard", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["service"] != "escapade-test" || entry["path"] != "/v1/public/leaderboard" || entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}

func TestInitWithoutEndpoint(t *testing.T) {
	var buf bytes.Buffer
	shutdown, mw, _, err := Init(context.Background(), Options{ServiceName: "escapade-test", Out: &buf})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if mw == nil {
		t.Fatalf("Init() returned nil middleware")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	if _, _, _, err := Init(context.Background(), Options{}); err == nil {
		t.Fatalf("Init() without service name succeeded")
	}
}
