package middleware

import (
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"storefront-edge/internal/config"
	"storefront-edge/internal/metrics"
)

// staticPrefixes are path prefixes never subject to the country filter.
var staticPrefixes = []string{"/_next/", "/static/", "/assets/"}

// staticFiles are exact paths never subject to the country filter.
var staticFiles = []string{"/favicon.ico", "/robots.txt"}

const maxUserAgentLen = 50

// GeoFilter returns an Echo Pre middleware that rewrites requests from
// countries outside the allow-set to the blocked path. The rewrite is internal:
// the client keeps its URL and the router serves the blocked page.
//
// Requests without a country signal are allowed. Static assets are skipped.
// The metrics parameter is optional.
func GeoFilter(cfg config.GeoConfig, logger *slog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	logger = logger.With("component", "geo_filter")

	allowed := make(map[string]bool, len(cfg.AllowedCountries))
	for _, c := range cfg.AllowedCountries {
		allowed[strings.ToUpper(strings.TrimSpace(c))] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			p := req.URL.Path

			if !cfg.Enabled || isStaticAsset(p) || p == cfg.BlockedPath {
				return next(c)
			}

			country := countryOf(req.Header.Get, cfg.CountryHeaders)
			if country == "" || allowed[country] {
				return next(c)
			}

			logger.Warn("geo blocked",
				"country", country,
				"ip", c.RealIP(),
				"path", p,
				"user_agent", truncate(req.UserAgent(), maxUserAgentLen),
			)
			if m != nil {
				m.GeoBlocked.WithLabelValues(country).Inc()
			}

			req.URL.Path = cfg.BlockedPath
			req.URL.RawPath = ""
			return next(c)
		}
	}
}

// countryOf returns the first non-empty country header, upper-cased.
func countryOf(get func(string) string, headers []string) string {
	for _, h := range headers {
		if v := strings.ToUpper(strings.TrimSpace(get(h))); v != "" {
			return v
		}
	}
	return ""
}

func isStaticAsset(p string) bool {
	for _, prefix := range staticPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	if slices.Contains(staticFiles, p) {
		return true
	}
	// Proxied paths may end in ".json" and stay filtered.
	if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/openapi") {
		return false
	}
	return path.Ext(p) != ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
