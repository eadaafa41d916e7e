package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"

	"coap-gateway/internal/metrics"
)

func requestSeries(t *testing.T, m *metrics.Metrics, name string) []map[string]string {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var out []map[string]string
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			out = append(out, labelsOf(metric))
		}
	}
	return out
}

func labelsOf(metric *dto.Metric) map[string]string {
	labels := make(map[string]string)
	for _, lp := range metric.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}

func TestMetricsMiddleware_Labels(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		handler    echo.HandlerFunc
		wantMethod string
		wantStatus string
		wantPath   string
	}{
		{
			name:   "proxied GET",
			method: http.MethodGet, path: "/sensors/temp",
			handler:    func(c echo.Context) error { return c.String(http.StatusOK, "21.5") },
			wantMethod: "GET", wantStatus: "200", wantPath: "proxy",
		},
		{
			name:   "DISCOVER",
			method: "DISCOVER", path: "/.well-known/core",
			handler:    func(c echo.Context) error { return c.String(http.StatusOK, "</a>") },
			wantMethod: "DISCOVER", wantStatus: "200", wantPath: "proxy",
		},
		{
			name:   "health",
			method: http.MethodGet, path: "/healthz",
			handler:    func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
			wantMethod: "GET", wantStatus: "200", wantPath: "/healthz",
		},
		{
			name:   "http error",
			method: http.MethodGet, path: "/sensors/temp",
			handler:    func(echo.Context) error { return echo.NewHTTPError(http.StatusRequestEntityTooLarge) },
			wantMethod: "GET", wantStatus: "413", wantPath: "proxy",
		},
		{
			name:   "handler error",
			method: http.MethodGet, path: "/sensors/temp",
			handler:    func(echo.Context) error { return errors.New("boom") },
			wantMethod: "GET", wantStatus: "500", wantPath: "proxy",
		},
		{
			name:   "unknown method",
			method: "XYZZY", path: "/sensors/temp",
			handler:    func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
			wantMethod: "other", wantStatus: "200", wantPath: "proxy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			e := echo.New()
			e.Use(MetricsMiddleware(m, "/metrics"))
			e.Add(tt.method, tt.path, tt.handler)

			e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, http.NoBody))

			series := requestSeries(t, m, "coap_gateway_http_requests_total")
			if len(series) != 1 {
				t.Fatalf("got %d series, want 1", len(series))
			}
			got := series[0]
			if got["method"] != tt.wantMethod {
				t.Errorf("method = %q, want %q", got["method"], tt.wantMethod)
			}
			if got["status_code"] != tt.wantStatus {
				t.Errorf("status_code = %q, want %q", got["status_code"], tt.wantStatus)
			}
			if got["path_prefix"] != tt.wantPath {
				t.Errorf("path_prefix = %q, want %q", got["path_prefix"], tt.wantPath)
			}
		})
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.GET("/gateway/status", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/gateway/status", http.NoBody))

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "coap_gateway_http_request_duration_seconds" {
			for _, metric := range f.GetMetric() {
				if metric.GetHistogram().GetSampleCount() > 0 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected coap_gateway_http_request_duration_seconds with at least one sample")
	}
}

func TestMetricsMiddleware_InFlightReturnsToZero(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.GET("/sensors/temp", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sensors/temp", http.NoBody))

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "coap_gateway_http_requests_in_flight" {
			if v := f.GetMetric()[0].GetGauge().GetValue(); v != 0 {
				t.Errorf("in flight = %v, want 0", v)
			}
			return
		}
	}
	t.Error("coap_gateway_http_requests_in_flight not found")
}

func TestMetricsMiddleware_CustomMetricsPath(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/internal/prom"))
	e.GET("/internal/prom", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/internal/prom", http.NoBody))

	series := requestSeries(t, m, "coap_gateway_http_requests_total")
	if len(series) != 1 {
		t.Fatalf("got %d series, want 1", len(series))
	}
	if got := series[0]["path_prefix"]; got != "/metrics" {
		t.Errorf("path_prefix = %q, want /metrics", got)
	}
}
