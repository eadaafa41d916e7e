package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"coap-gateway/internal/handler"
)

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name      string
		cache     string
		status    int
		wantLevel string
	}{
		{"cache miss", "MISS", http.StatusOK, "INFO"},
		{"cache hit", "HIT", http.StatusOK, "INFO"},
		{"gateway timeout", "MISS", http.StatusGatewayTimeout, "WARN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			e := echo.New()
			e.Use(echomw.RequestID())
			e.Use(RequestLogger(logger))
			e.GET("/sensors/temp", func(c echo.Context) error {
				c.Set(handler.CacheContextKey, tt.cache)
				return c.String(tt.status, "21.5")
			})

			req := httptest.NewRequest(http.MethodGet, "/sensors/temp", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["cache"] != tt.cache {
				t.Errorf("cache = %v, want %s", entry["cache"], tt.cache)
			}
			if entry["path"] != "/sensors/temp" {
				t.Errorf("path = %v, want /sensors/temp", entry["path"])
			}
			if id, _ := entry["request_id"].(string); id == "" || id != rec.Header().Get(echo.HeaderXRequestID) {
				t.Errorf("request_id = %q, want %q", id, rec.Header().Get(echo.HeaderXRequestID))
			}
		})
	}
}

func TestRequestLogger_NoCacheField(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := entry["cache"]; ok {
		t.Errorf("unexpected cache field: %v", entry["cache"])
	}
}
