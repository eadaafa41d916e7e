package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/plgd-dev/go-coap/v3/message/codes"

	"coap-gateway/internal/layer"
	"coap-gateway/internal/model"
	"coap-gateway/internal/render"
)

// CacheContextKey is the echo context key holding "HIT" or "MISS" for the
// request logger.
const CacheContextKey = "cache"

const headerXCache = "X-Cache"

type pipeline interface {
	Handle(ctx context.Context, msg *model.ProxyMessage) *model.Response
}

// ProxyHandler runs inbound requests through the gateway pipeline.
type ProxyHandler struct {
	pipeline pipeline
	logger   *slog.Logger
	now      func() time.Time
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(p *layer.Pipeline, logger *slog.Logger) *ProxyHandler {
	return newProxyHandler(p, logger)
}

func newProxyHandler(p pipeline, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		pipeline: p,
		logger:   logger.With("component", "proxy_handler"),
		now:      time.Now,
	}
}

// Handle translates the request to CoAP and renders the reply.
func (h *ProxyHandler) Handle(c echo.Context) error {
	msg, err := buildMessage(c, h.logger)
	if err != nil {
		return h.mapError(c, err)
	}

	resp := h.pipeline.Handle(c.Request().Context(), msg)

	cache := "MISS"
	if resp.Source == model.SourceCache {
		cache = "HIT"
	}
	c.Set(CacheContextKey, cache)
	c.Response().Header().Set(headerXCache, cache)

	if resp.IsError() {
		h.logger.Debug("pipeline returned error response",
			"path", msg.Path(),
			"code", resp.Code.String(),
			"source", string(resp.Source),
			"request_id", msg.RequestID(),
		)
	}

	rendered := render.Render(resp, msg.Path(), h.now())
	if err := render.Write(c.Response(), rendered); err != nil {
		h.logger.Error("writing response",
			"err", err,
			"path", msg.Path(),
		)
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path
	h.logger.Debug("request rejected before pipeline", "err", err, "path", path)

	code := codes.BadRequest
	if errors.Is(err, model.ErrUnsupportedMethod) {
		code = codes.MethodNotAllowed
	}

	rendered := render.Render(model.NewErrorResponse(code, nil, model.SourceGateway), path, h.now())
	if werr := render.Write(c.Response(), rendered); werr != nil {
		h.logger.Error("writing response", "err", werr, "path", path)
	}
	return nil
}

// HTTPErrorHandler renders echo errors (unknown route, method not allowed,
// body too large, rate limited) with the gateway's HTML error page.
func HTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		} else {
			logger.Error("unhandled error", "err", err, "path", c.Request().URL.Path)
		}

		r := render.Error(status, c.Request().URL.Path, time.Now())
		if c.Request().Method == http.MethodHead {
			r.Body = nil
		}
		if werr := render.Write(c.Response(), r); werr != nil {
			logger.Error("writing error response", "err", werr)
		}
	}
}
