package main

import (
	"context"
	"errors"
	"fmt"
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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"

	"storefront-edge/internal/client"
	"storefront-edge/internal/config"
	"storefront-edge/internal/handler"
	"storefront-edge/internal/metrics"
	"storefront-edge/internal/middleware"
	"storefront-edge/internal/service"
	"storefront-edge/internal/telemetry"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("storefront-edge"),
		kong.Description("Edge proxy for the wholesale storefront: geo filter, backend API proxy and vision analysis."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			client.NewBackendClient,
			fx.Annotate(client.NewVisionClient, fx.As(new(service.VisionCompleter))),
			service.NewProxyService,
			service.NewSpecializedService,
			service.NewVisionService,
			handler.NewProxyHandler,
			handler.NewSpecializedHandler,
			handler.NewVisionHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(startTracing, registerRoutes, warnConfig, startServer),
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

	e.Server.ReadTimeout = 30 * time.Second
	// Vision calls and large imports can outlive a short write deadline; the
	// outbound client timeouts bound them instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	if cfg.Geo.Enabled {
		e.Pre(middleware.GeoFilter(cfg.Geo, logger, m))
		logger.Info("geo filter enabled",
			"allowed_countries", cfg.Geo.AllowedCountries,
			"blocked_path", cfg.Geo.BlockedPath,
		)
	}

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	if cfg.Tracing.Enabled {
		e.Use(echo.WrapMiddleware(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, cfg.Tracing.ServiceName)
		}))
	}
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func registerRoutes(
	e *echo.Echo,
	cfg *config.Config,
	m *metrics.Metrics,
	proxy *handler.ProxyHandler,
	specialized *handler.SpecializedHandler,
	vision *handler.VisionHandler,
	health *handler.HealthHandler,
) {
	handler.RegisterRoutes(e, cfg, handler.Handlers{
		Proxy:       proxy,
		Specialized: specialized,
		Vision:      vision,
		Health:      health,
	}, m)
}

func startTracing(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.Tracing.Enabled {
		return nil
	}
	shutdown, err := telemetry.InitTracer(cfg.Tracing.ServiceName, version, os.Stdout, logger)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{OnStop: shutdown})
	return nil
}

func warnConfig(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
	cfg.WarnMissingCredentials(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"backend", cfg.Backend.BaseURL,
				"version", version,
			)
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
