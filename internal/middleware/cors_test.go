package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestCORS_Preflight(t *testing.T) {
	e := echo.New()
	g := e.Group("/api", CORS())
	g.Any("/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "proxied")
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, "https://shop.example.com")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowMethods), http.MethodPatch)
	assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowHeaders), "Authorization")
}

func TestSetCORSHeaders_OverridesBackend(t *testing.T) {
	h := http.Header{}
	h.Set(echo.HeaderAccessControlAllowOrigin, "https://backend.internal")

	SetCORSHeaders(h)

	assert.Equal(t, "*", h.Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "GET, POST, PUT, PATCH, DELETE, OPTIONS", h.Get(echo.HeaderAccessControlAllowMethods))
	assert.Equal(t, "Content-Type, Authorization", h.Get(echo.HeaderAccessControlAllowHeaders))
}

func TestCORSHeaders_WithoutOrigin(t *testing.T) {
	e := echo.New()
	g := e.Group("/api", CORS(), CORSHeaders())
	g.POST("/vision/analyze", func(c echo.Context) error {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad"})
	})

	req := httptest.NewRequest(http.MethodPost, "/api/vision/analyze", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "GET, POST, PUT, PATCH, DELETE, OPTIONS", rec.Header().Get(echo.HeaderAccessControlAllowMethods))
	assert.Equal(t, "Content-Type, Authorization", rec.Header().Get(echo.HeaderAccessControlAllowHeaders))
}
