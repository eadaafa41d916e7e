package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"golang.org/x/time/rate"

	"coap-gateway/internal/client"
	"coap-gateway/internal/config"
	"coap-gateway/internal/handler"
	"coap-gateway/internal/layer"
	"coap-gateway/internal/metrics"
	"coap-gateway/internal/middleware"
	"coap-gateway/internal/server"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A missing .env is normal; anything else is worth reporting.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
	}

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("coap-gateway"),
		kong.Description("HTTP to CoAP gateway."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newResolver,
			newCache,
			newAdmission,
			layer.NewTokenSource,
			newCoAPClient,
			newTranslation,
			layer.NewPipeline,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			newCoAPListener,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer, startCoAPListener),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.HTTPErrorHandler(logger)

	// Inbound timeouts to mitigate slow-client attacks. Writes must outlast
	// the CoAP exchange timeout.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = cfg.Target.Timeout() + 5*time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func newResolver(cfg *config.Config) *layer.Resolver {
	return layer.NewResolver(cfg.Target.Host, cfg.Target.Port)
}

func newCache(lc fx.Lifecycle, cfg *config.Config, resolver *layer.Resolver, logger *slog.Logger, m *metrics.Metrics) *layer.Cache {
	c := layer.NewCache(layer.CacheConfig{
		Enabled:    cfg.Cache.IsEnabled(),
		TTL:        cfg.Cache.TTL(),
		MaxEntries: cfg.Cache.MaxEntries,
	}, resolver, logger, m)
	lc.Append(fx.StopHook(c.Close))
	return c
}

func newAdmission(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *layer.Admission {
	return layer.NewAdmission(layer.AdmissionConfig{
		MaxInFlight:       cfg.Admission.MaxInFlight,
		RequestsPerSecond: cfg.Admission.RequestsPerSecond,
		Burst:             cfg.Admission.Burst,
	}, logger, m)
}

func newCoAPClient(lc fx.Lifecycle, logger *slog.Logger) *client.CoAPClient {
	c := client.NewCoAPClient(logger)
	lc.Append(fx.StopHook(c.Close))
	return c
}

func newTranslation(cfg *config.Config, resolver *layer.Resolver, transport *client.CoAPClient, tokens *layer.TokenSource, logger *slog.Logger, m *metrics.Metrics) *layer.Translation {
	return layer.NewTranslation(resolver, transport, tokens, cfg.Target.Timeout(), logger, m)
}

func newCoAPListener(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *server.CoAPListener {
	return server.NewCoAPListener(cfg.CoAP.Addr(), logger, m)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "target_port", cfg.Target.Port)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}

func startCoAPListener(lc fx.Lifecycle, l *server.CoAPListener) {
	lc.Append(fx.StartStopHook(l.Start, l.Stop))
}
