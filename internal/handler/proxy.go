// Package handler exposes the edge's HTTP endpoints on Echo.
package handler

import (
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"storefront-edge/internal/middleware"
	"storefront-edge/internal/model"
	"storefront-edge/internal/service"
)

// credentialPattern matches credential query values in URLs embedded in error messages.
var credentialPattern = regexp.MustCompile(`(?i)((?:token|access_token|api_key|apikey|key)=)[^&\s"]+`)

// ProxyHandler forwards API and documentation requests to the backend.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies any /api/* request. The wildcard is split into segments,
// each segment is decoded and the result is rejoined under /api/.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	wildcard := strings.TrimPrefix(req.URL.EscapedPath(), "/api/")
	path, err := service.APIPath(wildcard)
	if err != nil {
		return h.mapError(c, err, true)
	}
	return h.forward(c, path, true)
}

// HandleDocs proxies the backend's documentation routes with the path unchanged.
func (h *ProxyHandler) HandleDocs(c echo.Context) error {
	return h.forward(c, c.Request().URL.Path, false)
}

func (h *ProxyHandler) forward(c echo.Context, path string, cors bool) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     path,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     req.Body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err, cors)
	}
	defer func() { _ = resp.Body.Close() }()

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		// The body is relayed in full; the framing is recomputed for it.
		if strings.EqualFold(key, "Content-Length") || strings.EqualFold(key, "Transfer-Encoding") {
			continue
		}
		// Backend values replace those preset by middleware.
		dst.Del(key)
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
	if cors {
		middleware.SetCORSHeaders(dst)
	}

	c.Response().WriteHeader(resp.StatusCode)

	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// mapError turns a forwarding failure into the single locally decided
// status of the generic proxy.
func (h *ProxyHandler) mapError(c echo.Context, err error, cors bool) error {
	msg := sanitizeError(err)
	h.logger.Error("proxy error",
		"err", msg,
		"path", c.Request().URL.Path,
	)

	if cors {
		middleware.SetCORSHeaders(c.Response().Header())
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error":   "Proxy error",
		"message": msg,
	})
}

// sanitizeError redacts credentials from error messages that may contain backend URLs.
func sanitizeError(err error) string {
	return credentialPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
