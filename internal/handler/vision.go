package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"storefront-edge/internal/client"
	"storefront-edge/internal/model"
	"storefront-edge/internal/service"
)

const (
	msgVisionNotConfigured = "Vision API is not configured: set VISION_API_KEY"
	msgVisionUnexpected    = "Unexpected error while analyzing the image"
)

type analyzeRequest struct {
	ImageURL    string `json:"imageUrl"`
	ImageBase64 string `json:"imageBase64"`
	MimeType    string `json:"mimeType"`
	Prompt      string `json:"prompt"`
}

func (r analyzeRequest) image() model.ImageInput {
	return model.ImageInput{URL: r.ImageURL, Base64: r.ImageBase64, MimeType: r.MimeType}
}

type analyzeMultipleRequest struct {
	Images []model.ImageInput `json:"images"`
	Prompt string             `json:"prompt"`
}

type matchRequest struct {
	analyzeRequest
	Products      []model.ProductCandidate `json:"products"`
	MinSimilarity *float64                 `json:"minSimilarity"`
}

// endpointDoc is the self-documentation served on GET.
type endpointDoc struct {
	Endpoint    string            `json:"endpoint"`
	Method      string            `json:"method"`
	Description string            `json:"description"`
	Required    []string          `json:"required"`
	Optional    map[string]string `json:"optional,omitempty"`
	Example     map[string]any    `json:"example"`
}

// VisionHandler serves the image analysis and matching endpoints.
type VisionHandler struct {
	service *service.VisionService
	logger  *slog.Logger
}

// NewVisionHandler creates a VisionHandler.
func NewVisionHandler(svc *service.VisionService, logger *slog.Logger) *VisionHandler {
	return &VisionHandler{
		service: svc,
		logger:  logger.With("component", "vision_handler"),
	}
}

// Analyze handles POST /api/vision/analyze.
func (h *VisionHandler) Analyze(c echo.Context) error {
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, model.Fail("request body must be JSON"))
	}

	result, err := h.service.Analyze(c.Request().Context(), req.image(), req.Prompt)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, model.OK(result, "Image analyzed"))
}

// AnalyzeMultiple handles POST /api/vision/analyze-multiple.
func (h *VisionHandler) AnalyzeMultiple(c echo.Context) error {
	var req analyzeMultipleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, model.Fail("request body must be JSON"))
	}

	result, err := h.service.AnalyzeMultiple(c.Request().Context(), req.Images, req.Prompt)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, model.OK(result, "Images analyzed"))
}

// Match handles POST /api/vision/match.
func (h *VisionHandler) Match(c echo.Context) error {
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, model.Fail("request body must be JSON"))
	}

	result, err := h.service.FindMatches(c.Request().Context(), req.image(), req.Products, req.MinSimilarity)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, model.OK(result, "Matching completed"))
}

// AnalyzeDoc handles GET /api/vision/analyze.
func (h *VisionHandler) AnalyzeDoc(c echo.Context) error {
	return c.JSON(http.StatusOK, endpointDoc{
		Endpoint:    "/api/vision/analyze",
		Method:      http.MethodPost,
		Description: "Extracts product attributes from one image.",
		Required:    []string{"imageUrl | imageBase64"},
		Optional: map[string]string{
			"mimeType": "MIME type of imageBase64, default image/jpeg",
			"prompt":   "extra instructions for the model",
		},
		Example: map[string]any{
			"imageUrl": "https://cdn.example.com/products/drill.jpg",
		},
	})
}

// AnalyzeMultipleDoc handles GET /api/vision/analyze-multiple.
func (h *VisionHandler) AnalyzeMultipleDoc(c echo.Context) error {
	return c.JSON(http.StatusOK, endpointDoc{
		Endpoint:    "/api/vision/analyze-multiple",
		Method:      http.MethodPost,
		Description: "Analyzes several photos of the same product and merges the findings.",
		Required:    []string{"images"},
		Optional: map[string]string{
			"images[].mimeType": "MIME type of base64 entries, default image/jpeg",
			"prompt":            "extra instructions for the model",
		},
		Example: map[string]any{
			"images": []map[string]string{
				{"url": "https://cdn.example.com/products/drill-front.jpg"},
				{"url": "https://cdn.example.com/products/drill-side.jpg"},
			},
			"maxImages": h.service.MaxImages(),
		},
	})
}

// MatchDoc handles GET /api/vision/match.
func (h *VisionHandler) MatchDoc(c echo.Context) error {
	return c.JSON(http.StatusOK, endpointDoc{
		Endpoint:    "/api/vision/match",
		Method:      http.MethodPost,
		Description: "Scores catalog products against the product shown in one image.",
		Required:    []string{"imageUrl | imageBase64", "products"},
		Optional: map[string]string{
			"mimeType":      "MIME type of imageBase64, default image/jpeg",
			"minSimilarity": "threshold 0-100",
		},
		Example: map[string]any{
			"imageUrl": "https://cdn.example.com/products/drill.jpg",
			"products": []model.ProductCandidate{
				{ID: "p-100", Name: "Taladro percutor 750W", Brand: "Bosch", Category: "Herramientas"},
			},
			"minSimilarity": h.service.MinSimilarity(),
		},
	})
}

func (h *VisionHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNoImage),
		errors.Is(err, service.ErrTooManyImages),
		errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, model.Fail(err.Error()))
	case client.IsCredentialError(err):
		return c.JSON(http.StatusInternalServerError, model.Fail(msgVisionNotConfigured))
	case errors.Is(err, service.ErrUnexpected):
		return c.JSON(http.StatusInternalServerError, model.Fail(msgVisionUnexpected))
	default:
		return c.JSON(http.StatusInternalServerError, model.Fail(sanitizeError(err)))
	}
}
