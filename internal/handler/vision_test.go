package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-edge/internal/client"
	"storefront-edge/internal/model"
	"storefront-edge/internal/service"
)

type stubVision struct {
	answer string
	err    error
	panics bool
	calls  int
}

func (s *stubVision) Complete(context.Context, string, []model.ImageInput) (string, error) {
	s.calls++
	if s.panics {
		panic("nil map")
	}
	return s.answer, s.err
}

func newVisionHandler(stub *stubVision) *VisionHandler {
	svc := service.NewVisionService(stub, testConfig("http://backend.invalid"), discardLogger(), nil)
	return NewVisionHandler(svc, discardLogger())
}

func callVision(t *testing.T, fn echo.HandlerFunc, method, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/api/vision/test", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	require.NoError(t, fn(e.NewContext(req, rec)))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestVisionHandler_Analyze(t *testing.T) {
	stub := &stubVision{answer: `{"name":"Silla plegable","brand":"Ikea","confidence":0.9}`}
	h := newVisionHandler(stub)

	rec, out := callVision(t, h.Analyze, http.MethodPost, `{"imageUrl":"https://cdn.example.com/s.jpg"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	data, ok := out["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Silla plegable", data["name"])
	assert.Equal(t, 1, stub.calls)
}

func TestVisionHandler_Errors(t *testing.T) {
	sixImages := make([]string, 6)
	for i := range sixImages {
		sixImages[i] = fmt.Sprintf(`{"url":"https://cdn.example.com/%d.jpg"}`, i)
	}

	tests := []struct {
		name      string
		stub      *stubVision
		call      func(h *VisionHandler) echo.HandlerFunc
		body      string
		wantCode  int
		wantCalls int
		wantError string
	}{
		{
			name:      "no image",
			stub:      &stubVision{},
			call:      func(h *VisionHandler) echo.HandlerFunc { return h.Analyze },
			body:      `{"prompt":"x"}`,
			wantCode:  http.StatusBadRequest,
			wantError: service.ErrNoImage.Error(),
		},
		{
			name:      "too many images",
			stub:      &stubVision{},
			call:      func(h *VisionHandler) echo.HandlerFunc { return h.AnalyzeMultiple },
			body:      `{"images":[` + strings.Join(sixImages, ",") + `]}`,
			wantCode:  http.StatusBadRequest,
			wantError: "too many images: got 6, maximum is 5",
		},
		{
			name:      "match without products",
			stub:      &stubVision{},
			call:      func(h *VisionHandler) echo.HandlerFunc { return h.Match },
			body:      `{"imageUrl":"https://cdn.example.com/s.jpg","products":[]}`,
			wantCode:  http.StatusBadRequest,
			wantError: "invalid request: products must be a non-empty list",
		},
		{
			name:      "missing credential",
			stub:      &stubVision{err: client.ErrMissingCredential},
			call:      func(h *VisionHandler) echo.HandlerFunc { return h.Analyze },
			body:      `{"imageUrl":"https://cdn.example.com/s.jpg"}`,
			wantCode:  http.StatusInternalServerError,
			wantCalls: 1,
			wantError: msgVisionNotConfigured,
		},
		{
			name:      "provider failure",
			stub:      &stubVision{err: errors.New("status code: 503")},
			call:      func(h *VisionHandler) echo.HandlerFunc { return h.Analyze },
			body:      `{"imageUrl":"https://cdn.example.com/s.jpg"}`,
			wantCode:  http.StatusInternalServerError,
			wantCalls: 1,
			wantError: "analyze image: status code: 503",
		},
		{
			name:      "panic",
			stub:      &stubVision{panics: true},
			call:      func(h *VisionHandler) echo.HandlerFunc { return h.Analyze },
			body:      `{"imageBase64":"aGVsbG8="}`,
			wantCode:  http.StatusInternalServerError,
			wantCalls: 1,
			wantError: msgVisionUnexpected,
		},
		{
			name:      "malformed body",
			stub:      &stubVision{},
			call:      func(h *VisionHandler) echo.HandlerFunc { return h.Analyze },
			body:      `{"imageUrl":`,
			wantCode:  http.StatusBadRequest,
			wantError: "request body must be JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newVisionHandler(tt.stub)

			rec, out := callVision(t, tt.call(h), http.MethodPost, tt.body)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, false, out["success"])
			assert.Equal(t, tt.wantError, out["error"])
			assert.Equal(t, tt.wantCalls, tt.stub.calls)
		})
	}
}

func TestVisionHandler_Match(t *testing.T) {
	stub := &stubVision{answer: `{"analysis":{"name":"Taladro"},"matches":[` +
		`{"productId":"a","similarity":90},{"productId":"b","similarity":55},{"productId":"c","similarity":70}]}`}
	h := newVisionHandler(stub)

	body := `{"imageUrl":"https://cdn.example.com/t.jpg","products":[` +
		`{"id":"a","name":"Taladro A"},{"id":"b","name":"Taladro B"},{"id":"c","name":"Taladro C"}]}`
	rec, out := callVision(t, h.Match, http.MethodPost, body)

	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	assert.EqualValues(t, 3, data["totalScanned"])
	assert.EqualValues(t, 2, data["totalMatched"])
	assert.EqualValues(t, 60, data["minSimilarity"])

	matches := data["matches"].([]any)
	require.Len(t, matches, 2)
	assert.EqualValues(t, 90, matches[0].(map[string]any)["similarity"])
	assert.EqualValues(t, 70, matches[1].(map[string]any)["similarity"])
}

func TestVisionHandler_Docs(t *testing.T) {
	h := newVisionHandler(&stubVision{})

	for name, fn := range map[string]echo.HandlerFunc{
		"/api/vision/analyze":          h.AnalyzeDoc,
		"/api/vision/analyze-multiple": h.AnalyzeMultipleDoc,
		"/api/vision/match":            h.MatchDoc,
	} {
		t.Run(name, func(t *testing.T) {
			rec, out := callVision(t, fn, http.MethodGet, "")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, name, out["endpoint"])
			assert.Equal(t, http.MethodPost, out["method"])
			assert.NotEmpty(t, out["required"])
			assert.NotEmpty(t, out["example"])
		})
	}
}
