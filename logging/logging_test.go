package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDevLogger(t *testing.T) {
	var buf bytes.Buffer
	devLogger := slog.New(NewPrettyJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := WithRequestID(context.Background(), "req-1")
	devLogger.InfoContext(ctx, "test message", "key", "value")
	output := buf.String()

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Fatalf("Output is not valid JSON: %v\nOutput was: %s", err, output)
	}

	if result["msg"] != "test message" {
		t.Errorf("Expected message 'test message', got '%v'", result["msg"])
	}
	if result["key"] != "value" {
		t.Errorf("Expected key 'value', got '%v'", result["key"])
	}
	if result["level"] != "INFO" {
		t.Errorf("Expected level 'INFO', got '%v'", result["level"])
	}
	if result["request_id"] != "req-1" {
		t.Errorf("Expected request_id 'req-1', got '%v'", result["request_id"])
	}
	if !strings.Contains(output, "\n  ") {
		t.Errorf("Expected indented output, got %q", output)
	}
}

func TestDevLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record should be filtered at warn level, got %q", buf.String())
	}
}

func TestNew(t *testing.T) {
	if New("development") != DevLogger {
		t.Error("development should use DevLogger")
	}
	if New("production") != ProdLogger {
		t.Error("production should use ProdLogger")
	}
	if New("") != ProdLogger {
		t.Error("unset env should use ProdLogger")
	}
}

func TestDecorateMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		ignoreList []string
		incomingID string
		shouldLog  bool
	}{
		{name: "normal request", path: "/biaya", shouldLog: true},
		{name: "ignored path", path: "/health", ignoreList: []string{"/health"}, shouldLog: false},
		{name: "incoming request id", path: "/biaya/1", incomingID: "abc-123", shouldLog: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			var seenID string
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seenID = RequestID(r.Context())
				w.WriteHeader(http.StatusCreated)
			})

			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.incomingID != "" {
				req.Header.Set(RequestIDHeader, tt.incomingID)
			}
			rr := httptest.NewRecorder()
			Middleware(logger, tt.ignoreList...)(handler).ServeHTTP(rr, req)

			if !tt.shouldLog {
				if buf.Len() != 0 {
					t.Errorf("expected no logs, got %q", buf.String())
				}
				return
			}

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			if len(lines) != 2 {
				t.Fatalf("expected 2 log lines, got %d: %q", len(lines), buf.String())
			}

			var started, completed map[string]any
			if err := json.Unmarshal([]byte(lines[0]), &started); err != nil {
				t.Fatal(err)
			}
			if err := json.Unmarshal([]byte(lines[1]), &completed); err != nil {
				t.Fatal(err)
			}
			if started["msg"] != "request_started" || completed["msg"] != "request_completed" {
				t.Errorf("unexpected messages: %v / %v", started["msg"], completed["msg"])
			}
			if completed["status"] != float64(http.StatusCreated) {
				t.Errorf("status = %v, want 201", completed["status"])
			}

			header := rr.Header().Get(RequestIDHeader)
			if header == "" || header != seenID {
				t.Errorf("request id header %q should match context id %q", header, seenID)
			}
			if tt.incomingID != "" && header != tt.incomingID {
				t.Errorf("request id = %q, want incoming %q", header, tt.incomingID)
			}
		})
	}
}
