package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"storefront-edge/internal/model"
	"storefront-edge/internal/service"
)

// SpecializedHandler serves the validated, authenticated proxy endpoints.
type SpecializedHandler struct {
	service *service.SpecializedService
	logger  *slog.Logger
}

// NewSpecializedHandler creates a SpecializedHandler.
func NewSpecializedHandler(svc *service.SpecializedService, logger *slog.Logger) *SpecializedHandler {
	return &SpecializedHandler{
		service: svc,
		logger:  logger.With("component", "specialized_handler"),
	}
}

// For returns the Echo handler bound to route.
func (h *SpecializedHandler) For(route *service.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		body, err := io.ReadAll(req.Body)
		if err != nil {
			h.logger.Error("reading request body", "route", route.Name, "err", err)
			return c.JSON(http.StatusBadRequest, model.Fail("could not read request body"))
		}

		resp, err := h.service.Call(req.Context(), &service.SpecializedRequest{
			Route:  route,
			Header: req.Header,
			Body:   body,
		})
		if err != nil {
			return h.mapError(c, route, err)
		}
		if !route.Wrap && resp.StatusCode == http.StatusNoContent {
			return c.NoContent(http.StatusNoContent)
		}
		return c.JSON(resp.StatusCode, resp.Body)
	}
}

func (h *SpecializedHandler) mapError(c echo.Context, route *service.Route, err error) error {
	var be *service.BackendError
	switch {
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, model.Fail(err.Error()))
	case errors.Is(err, service.ErrMissingToken):
		return c.JSON(http.StatusUnauthorized, model.Fail("Token de autorización requerido"))
	case errors.As(err, &be):
		h.logger.Warn("backend rejected request",
			"route", route.Name,
			"status", be.StatusCode,
			"message", be.Message,
		)
		return c.JSON(be.StatusCode, model.Fail(be.Message))
	default:
		h.logger.Error("specialized proxy failed", "route", route.Name, "err", sanitizeError(err))
		return c.JSON(http.StatusInternalServerError, model.Fail("Error interno del servidor"))
	}
}
