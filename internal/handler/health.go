package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"coap-gateway/internal/config"
	"coap-gateway/internal/layer"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg       *config.Config
	version   Version
	pipeline  *layer.Pipeline
	cache     *layer.Cache
	admission *layer.Admission
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, p *layer.Pipeline, cache *layer.Cache, admission *layer.Admission) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, pipeline: p, cache: cache, admission: admission}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns gateway status information.
func (h *HealthHandler) Status(c echo.Context) error {
	target := h.cfg.Target.Host
	if target == "" {
		target = "(client host)"
	}

	hits, misses := h.cache.Stats()
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     string(h.version),
		"layers":      h.pipeline.Layers(),
		"target_host": target,
		"target_port": h.cfg.Target.Port,
		"coap_listen": h.cfg.CoAP.Addr(),
		"cache": map[string]any{
			"enabled": h.cache.Enabled(),
			"entries": h.cache.Len(),
			"hits":    hits,
			"misses":  misses,
		},
		"admission": map[string]any{
			"in_flight":     h.admission.InFlight(),
			"max_in_flight": h.admission.Limit(),
		},
	})
}
