package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

var (
	corsMethods = []string{
		http.MethodGet, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}
	corsHeaders = []string{"Content-Type", "Authorization"}
)

// CORS answers preflight requests for the proxied API with a permissive policy.
func CORS() echo.MiddlewareFunc {
	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: corsMethods,
		AllowHeaders: corsHeaders,
	})
}

// CORSHeaders stamps the CORS policy on every /api response, including those
// of requests without an Origin header, before the handler writes anything.
func CORSHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			SetCORSHeaders(c.Response().Header())
			return next(c)
		}
	}
}

// SetCORSHeaders stamps the permissive CORS policy onto a proxied response,
// overriding whatever the backend sent.
func SetCORSHeaders(h http.Header) {
	h.Set(echo.HeaderAccessControlAllowOrigin, "*")
	h.Set(echo.HeaderAccessControlAllowMethods, strings.Join(corsMethods, ", "))
	h.Set(echo.HeaderAccessControlAllowHeaders, strings.Join(corsHeaders, ", "))
}
