package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"storefront-edge/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusResponse describes the running configuration without secrets.
type statusResponse struct {
	Status           string   `json:"status"`
	Version          string   `json:"version"`
	BackendURL       string   `json:"backend_url"`
	VisionModel      string   `json:"vision_model"`
	VisionConfigured bool     `json:"vision_configured"`
	GeoEnabled       bool     `json:"geo_enabled"`
	AllowedCountries []string `json:"allowed_countries"`
}

// Status returns edge status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:           "ok",
		Version:          string(h.version),
		BackendURL:       h.cfg.Backend.BaseURL,
		VisionModel:      h.cfg.Vision.Model,
		VisionConfigured: h.cfg.Vision.APIKey != "",
		GeoEnabled:       h.cfg.Geo.Enabled,
		AllowedCountries: h.cfg.Geo.AllowedCountries,
	})
}
