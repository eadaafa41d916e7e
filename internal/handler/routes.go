package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coap-gateway/internal/config"
	"coap-gateway/internal/metrics"
	"coap-gateway/internal/model"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/gateway/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	// DISCOVER and OBSERVE are not standard HTTP methods, so every recognized
	// method is registered explicitly instead of using e.Any.
	for _, method := range model.Methods {
		e.Add(method.String(), "/*", proxy.Handle)
	}
}
