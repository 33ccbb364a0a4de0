// Package service implements the forwarding and orchestration logic behind
// the HTTP handlers.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"storefront-edge/internal/client"
	"storefront-edge/internal/config"
	"storefront-edge/internal/model"
)

// strippedRequestHeaders are transport-level headers regenerated for the
// outbound connection.
var strippedRequestHeaders = []string{"Host", "Connection", "Content-Length"}

// ProxyService forwards arbitrary requests to the backend API.
type ProxyService struct {
	client  *client.BackendClient
	logger  *slog.Logger
	baseURL *url.URL
}

// NewProxyService creates a ProxyService bound to the configured backend origin.
func NewProxyService(c *client.BackendClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base_url: %w", err)
	}

	return &ProxyService{
		client:  c,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}, nil
}

// APIPath rebuilds the backend path for a wildcard captured under /api/.
// Each segment is URL-decoded and the segments are rejoined with "/".
func APIPath(escapedWildcard string) (string, error) {
	segments := strings.Split(escapedWildcard, "/")
	for i, seg := range segments {
		dec, err := url.PathUnescape(seg)
		if err != nil {
			return "", fmt.Errorf("decode path segment %q: %w", seg, err)
		}
		segments[i] = dec
	}
	return "/api/" + strings.Join(segments, "/"), nil
}

// Forward sends pr to the backend and returns the fully buffered response.
// Backend error statuses are returned as responses, not errors; an error
// means the backend could not be reached or its body could not be read.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := s.buildBackendURL(pr.Path, pr.RawQuery)
	header := filterRequestHeaders(pr.Header)

	body, err := prepareBody(pr.Method, pr.Body, header)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	s.logger.Info("proxy request",
		"method", pr.Method,
		"target", target,
		"has_body", body != nil,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target, header, body)
	if err != nil {
		return nil, fmt.Errorf("forward to backend: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}

	s.logger.Info("proxy response",
		"method", pr.Method,
		"target", target,
		"status", resp.StatusCode,
		"bytes", len(raw),
	)
	if parsed, ok := tryParseJSON(raw); ok {
		s.logger.Debug("proxy response body", "target", target, "body", parsed)
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}, nil
}

// buildBackendURL joins the backend origin with path and appends rawQuery unchanged.
func (s *ProxyService) buildBackendURL(path, rawQuery string) string {
	u := *s.baseURL
	u.Path = strings.TrimRight(s.baseURL.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = rawQuery
	u.Fragment = ""
	return u.String()
}

func filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if isStrippedHeader(key) {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}

func isStrippedHeader(key string) bool {
	for _, h := range strippedRequestHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

// prepareBody returns the outbound body for mutating methods. A JSON body is
// re-serialized and labeled as JSON; anything else is dropped so a malformed
// or absent body never blocks the request.
func prepareBody(method string, body io.ReadCloser, header http.Header) (io.Reader, error) {
	if body == nil {
		return nil, nil
	}
	defer func() { _ = body.Close() }()

	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil, nil
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, nil
	}
	header.Set("Content-Type", "application/json")
	return &buf, nil
}

// tryParseJSON decodes raw when it is JSON. The relayed bytes are never
// replaced by the decoded value.
func tryParseJSON(raw []byte) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}
