package handler

import (
	"strings"

	"github.com/labstack/echo/v4"

	"storefront-edge/internal/config"
	"storefront-edge/internal/metrics"
	"storefront-edge/internal/middleware"
	"storefront-edge/internal/service"
)

// docsRoutes are the backend documentation paths forwarded verbatim.
var docsRoutes = []string{"/docs", "/docs/*", "/redoc", "/redoc/*", "/openapi.json", "/openapi/*"}

// Handlers groups every endpoint handler for route registration.
type Handlers struct {
	Proxy       *ProxyHandler
	Specialized *SpecializedHandler
	Vision      *VisionHandler
	Health      *HealthHandler
}

// RegisterRoutes wires all route handlers onto the Echo instance. Static
// routes under /api take precedence over the generic /api/* proxy. The
// metrics parameter is optional.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, h Handlers, m *metrics.Metrics) {
	e.GET("/healthz", h.Health.Healthz)
	e.GET("/proxy/status", h.Health.Status)
	if cfg.Geo.BlockedPath != "" {
		e.Any(cfg.Geo.BlockedPath, GeoBlocked)
	}

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}

	for _, p := range docsRoutes {
		e.Any(p, h.Proxy.HandleDocs)
	}

	api := e.Group("/api", middleware.CORS(), middleware.CORSHeaders())

	for _, route := range service.SpecializedRoutes {
		api.POST(strings.TrimPrefix(route.Path, "/api"), h.Specialized.For(route))
	}

	api.GET("/vision/analyze", h.Vision.AnalyzeDoc)
	api.POST("/vision/analyze", h.Vision.Analyze)
	api.GET("/vision/analyze-multiple", h.Vision.AnalyzeMultipleDoc)
	api.POST("/vision/analyze-multiple", h.Vision.AnalyzeMultiple)
	api.GET("/vision/match", h.Vision.MatchDoc)
	api.POST("/vision/match", h.Vision.Match)

	api.Any("/*", h.Proxy.Handle)
}
