package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"

	"storefront-edge/internal/client"
	"storefront-edge/internal/config"
	"storefront-edge/internal/middleware"
	"storefront-edge/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(backendURL string) *config.Config {
	return &config.Config{
		Backend: config.BackendConfig{
			BaseURL:         backendURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Vision: config.VisionConfig{
			Model:         "gpt-4o-mini",
			MaxImages:     5,
			MinSimilarity: 60,
		},
		Geo: config.GeoConfig{
			Enabled:          true,
			AllowedCountries: []string{"UY"},
			CountryHeaders:   []string{"X-Vercel-IP-Country", "CF-IPCountry"},
			BlockedPath:      "/geo-blocked",
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newProxyService(t *testing.T, cfg *config.Config) *service.ProxyService {
	t.Helper()
	logger := discardLogger()
	svc, err := service.NewProxyService(client.NewBackendClient(cfg, logger, nil), cfg, logger)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}
	return svc
}

func TestProxyHandler_Handle_GET(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/orders/15" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/api/orders/15")
		}
		if r.URL.RawQuery != "status=open&page=2" {
			t.Errorf("query = %q, want %q", r.URL.RawQuery, "status=open&page=2")
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q, want forwarded", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "https://backend.internal")
		_, _ = w.Write([]byte(`{"id":15}`))
	}))
	defer upstream.Close()

	h := NewProxyHandler(newProxyService(t, testConfig(upstream.URL)), discardLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/orders/15?status=open&page=2", http.NoBody)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != `{"id":15}` {
		t.Errorf("body = %q, want %q", rec.Body.String(), `{"id":15}`)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "*")
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("Access-Control-Allow-Methods should be set")
	}
}

func TestProxyHandler_Handle_EncodedSegments(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/clients/Juan Pérez/orders" {
			t.Errorf("path = %q, want decoded segments", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	h := NewProxyHandler(newProxyService(t, testConfig(upstream.URL)), discardLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/clients/Juan%20P%C3%A9rez/orders", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestProxyHandler_Handle_POST(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"qty":3,"sku":"A-1"}` {
			t.Errorf("body = %q, want compacted JSON", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"o-1"}`))
	}))
	defer upstream.Close()

	h := NewProxyHandler(newProxyService(t, testConfig(upstream.URL)), discardLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("{\n  \"qty\": 3,\n  \"sku\": \"A-1\"\n}"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
}

func TestProxyHandler_Handle_BackendErrorRelayed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"not found"}`))
	}))
	defer upstream.Close()

	h := NewProxyHandler(newProxyService(t, testConfig(upstream.URL)), discardLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/products/404", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec.Body.String() != `{"message":"not found"}` {
		t.Errorf("body = %q, want byte-identical backend body", rec.Body.String())
	}
}

func TestProxyHandler_Handle_Unreachable(t *testing.T) {
	h := NewProxyHandler(newProxyService(t, testConfig("http://127.0.0.1:1")), discardLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/orders", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"error":"Proxy error"`) {
		t.Errorf("body = %s, want Proxy error", body)
	}
	if !strings.Contains(body, `"message":`) {
		t.Errorf("body = %s, want message detail", body)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS headers should be set on proxy errors")
	}
}

func TestProxyHandler_HandleDocs(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/openapi/es.json" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/openapi/es.json")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"openapi":"3.1.0"}`))
	}))
	defer upstream.Close()

	h := NewProxyHandler(newProxyService(t, testConfig(upstream.URL)), discardLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/openapi/es.json", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleDocs(c); err != nil {
		t.Fatalf("HandleDocs() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1", calls.Load())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("docs routes should relay backend headers without the API CORS policy")
	}
}

func TestProxyHandler_BackendHeaderReplacesPreset(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	h := NewProxyHandler(newProxyService(t, testConfig(upstream.URL)), discardLogger())

	e := echo.New()
	e.Use(middleware.SecurityHeaders())
	e.Any("/api/*", h.Handle)

	req := httptest.NewRequest(http.MethodGet, "/api/catalog", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Header().Values("X-Frame-Options"); len(got) != 1 || got[0] != "SAMEORIGIN" {
		t.Errorf("X-Frame-Options = %v, want [SAMEORIGIN]", got)
	}
	if got := rec.Header().Values("X-Content-Type-Options"); len(got) != 1 || got[0] != "nosniff" {
		t.Errorf("X-Content-Type-Options = %v, want [nosniff]", got)
	}
}

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "token in query",
			err:  errors.New(`Get "https://backend.example.com/api/x?token=secret123&page=1": dial tcp: timeout`),
			want: `Get "https://backend.example.com/api/x?token=[REDACTED]&page=1": dial tcp: timeout`,
		},
		{
			name: "api_key",
			err:  errors.New(`Get "https://backend.example.com/api/x?api_key=abc": EOF`),
			want: `Get "https://backend.example.com/api/x?api_key=[REDACTED]": EOF`,
		},
		{
			name: "no credentials",
			err:  errors.New("connection refused"),
			want: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeError(tt.err); got != tt.want {
				t.Errorf("sanitizeError() = %q, want %q", got, tt.want)
			}
		})
	}
}
