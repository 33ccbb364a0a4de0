package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"storefront-edge/internal/config"
	"storefront-edge/internal/model"
)

// credentialMarker appears in every error caused by a missing or rejected
// vision API key.
const credentialMarker = "VISION_API_KEY"

// ErrMissingCredential is returned when no vision API key is configured.
var ErrMissingCredential = errors.New("vision: " + credentialMarker + " is not configured")

const defaultImageMime = "image/jpeg"

// VisionClient calls an OpenAI-compatible multimodal chat completion API.
type VisionClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	hasKey    bool
	logger    *slog.Logger
}

// NewVisionClient creates a VisionClient. A missing API key is not an error
// here; every call reports ErrMissingCredential instead.
func NewVisionClient(cfg *config.Config, logger *slog.Logger) *VisionClient {
	oc := openai.DefaultConfig(cfg.Vision.APIKey)
	if cfg.Vision.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.Vision.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   time.Duration(cfg.Vision.TimeoutSeconds) * time.Second,
	}

	return &VisionClient{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Vision.Model,
		maxTokens: cfg.Vision.MaxTokens,
		hasKey:    cfg.Vision.APIKey != "",
		logger:    logger.With("component", "vision_client"),
	}
}

// Complete sends prompt together with images and returns the model's text answer.
func (c *VisionClient) Complete(ctx context.Context, prompt string, images []model.ImageInput) (string, error) {
	if !c.hasKey {
		return "", ErrMissingCredential
	}

	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: prompt,
	})
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    imageURL(img),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	c.logger.Debug("vision request",
		"model", c.model,
		"images", len(images),
		"prompt_length", len(prompt),
	)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return "", fmt.Errorf("vision: %s rejected by provider: %w", credentialMarker, err)
		}
		return "", fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision completion: empty response")
	}

	return resp.Choices[0].Message.Content, nil
}

// IsCredentialError reports whether err stems from a missing or rejected vision API key.
func IsCredentialError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrMissingCredential) || strings.Contains(err.Error(), credentialMarker)
}

// imageURL returns the URL form of img: remote URLs pass through, inline data
// becomes a data URI.
func imageURL(img model.ImageInput) string {
	if img.URL != "" {
		return img.URL
	}
	if strings.HasPrefix(img.Base64, "data:") {
		return img.Base64
	}
	mime := img.MimeType
	if mime == "" {
		mime = defaultImageMime
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, img.Base64)
}
