package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	m.RequestsTotal.WithLabelValues("GET", "200", "/api").Inc()
	m.GeoBlocked.WithLabelValues("US").Inc()
	m.VisionRequests.WithLabelValues("analyze", "ok").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := map[string]bool{
		"storefront_edge_http_requests_total":   false,
		"storefront_edge_geo_blocked_total":     false,
		"storefront_edge_vision_requests_total": false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s in gathered metrics", name)
		}
	}
}

func TestHandler_ServesExposition(t *testing.T) {
	m := New()
	m.GeoBlocked.WithLabelValues("AR").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `storefront_edge_geo_blocked_total{country="AR"} 1`) {
		t.Errorf("exposition missing geo_blocked sample:\n%s", body)
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PATCH", "PATCH"},
		{"OPTIONS", "OPTIONS"},
		{"XYZZY", "other"},
		{"get", "other"},
	}
	for _, tt := range tests {
		if got := NormalizeMethod(tt.in); got != tt.want {
			t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/orders/12", "/api"},
		{"/api", "/api"},
		{"/api/vision/match", "/api/vision"},
		{"/api/product-images/assign", "/api/product-images"},
		{"/api/clients/import", "/api/clients/import"},
		{"/api/clients/7", "/api"},
		{"/apiextra", "other"},
		{"/docs", "/docs"},
		{"/openapi.json", "/openapi.json"},
		{"/openapi/es.json", "/openapi"},
		{"/geo-blocked", "/geo-blocked"},
		{"/healthz", "/healthz"},
		{"/catalog", "other"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
