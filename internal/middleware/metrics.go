package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"coap-gateway/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound HTTP request. Requests for metricsPath are labelled
// "/metrics" whatever the configured path is.
func MetricsMiddleware(m *metrics.Metrics, metricsPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)

			status := strconv.Itoa(statusCode(c, err))
			method := metrics.NormalizeMethod(c.Request().Method)
			path := pathLabel(c.Request().URL.Path, metricsPath)

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// statusCode resolves the status the client will see. A returned
// *echo.HTTPError has not been written yet; the error handler writes it after
// this middleware returns, and any other error becomes a 500.
func statusCode(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

func pathLabel(path, metricsPath string) string {
	if metricsPath != "" && path == metricsPath {
		return "/metrics"
	}
	return metrics.NormalizePath(path)
}
