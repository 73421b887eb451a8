package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	middleware := Logger(zap.New(core))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("test response"))
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	middleware(handler).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status OK, got %v", w.Code)
	}

	body := w.Body.String()
	if body != "test response" {
		t.Errorf("expected 'test response', got %v", body)
	}

	if logs.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", logs.Len())
	}
	if status := logs.All()[0].ContextMap()["status"]; status != int64(http.StatusOK) {
		t.Errorf("expected implicit status 200 to be logged, got %v", status)
	}
}

func TestLoggerWithLevel(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		expectedBody string
		level        zapcore.Level
	}{
		{
			name:         "2xx success",
			statusCode:   http.StatusOK,
			expectedBody: "success",
			level:        zapcore.InfoLevel,
		},
		{
			name:         "4xx client error",
			statusCode:   http.StatusUnprocessableEntity,
			expectedBody: "client error",
			level:        zapcore.WarnLevel,
		},
		{
			name:         "5xx server error",
			statusCode:   http.StatusServiceUnavailable,
			expectedBody: "server error",
			level:        zapcore.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			middleware := LoggerWithLevel(zap.New(core))

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.expectedBody))
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			w := httptest.NewRecorder()

			chimiddleware.RequestID(middleware(handler)).ServeHTTP(w, req)

			if w.Code != tt.statusCode {
				t.Errorf("expected status %v, got %v", tt.statusCode, w.Code)
			}

			body := w.Body.String()
			if body != tt.expectedBody {
				t.Errorf("expected '%v', got %v", tt.expectedBody, body)
			}

			if logs.Len() != 1 {
				t.Fatalf("expected 1 log entry, got %d", logs.Len())
			}
			entry := logs.All()[0]
			if entry.Level != tt.level {
				t.Errorf("expected level %v, got %v", tt.level, entry.Level)
			}
			if id, _ := entry.ContextMap()["request_id"].(string); id == "" {
				t.Error("expected request_id to be logged")
			}
		})
	}
}

func TestResponseWriter_FirstHeaderWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapResponseWriter(rec)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusTeapot)

	if rw.Status() != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", rw.Status())
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected recorded status 202, got %d", rec.Code)
	}
}
