// Package client provides the outbound HTTP clients for the backend API and
// the vision API.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"storefront-edge/internal/config"
	"storefront-edge/internal/metrics"
	"storefront-edge/internal/model"
)

// BackendClient sends requests to the backend API.
type BackendClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBackendClient creates a BackendClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable backend metrics recording.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Backend.IdleConnections,
		MaxIdleConnsPerHost: cfg.Backend.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &BackendClient{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
			// Redirects are relayed to the browser, not followed here.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "backend_client"),
		metrics: m,
	}
}

// DoStream sends one request to the backend. Every status, including errors,
// is returned as a response; an error means the backend was not reached.
// The caller is responsible for closing the returned body.
func (c *BackendClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	if header != nil {
		req.Header = header
	}

	c.logger.Debug("backend request",
		"method", method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // returned to the caller
	c.observe(method, resp, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// observe records upstream latency for every attempt and the status of
// answered ones.
func (c *BackendClient) observe(method string, resp *http.Response, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	method = metrics.NormalizeMethod(method)
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	if resp != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}
}
