package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"storefront-edge/internal/model"
)

var (
	// ErrMissingToken is returned when a route requires a bearer token and none was sent.
	ErrMissingToken = errors.New("authorization token required")
	// ErrValidation wraps every required-field failure.
	ErrValidation = errors.New("invalid request")
)

// BackendError carries a non-2xx backend answer to a specialized route.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return e.Message
}

// Payload is a decoded JSON request body.
type Payload map[string]any

// Route describes one specialized endpoint: the inbound path, the single
// backend route it is bound to, and how its answer is shaped.
type Route struct {
	Name string
	// Path is the inbound echo route.
	Path          string
	BackendMethod string
	// BackendPath may reference payload fields as {field}.
	BackendPath string
	// Multipart routes relay the inbound body and content type untouched.
	Multipart bool
	// Wrap selects the {success,data,message} envelope; false relays the
	// backend JSON as is.
	Wrap           bool
	SuccessMessage string
	// QueryFields are copied from the payload into the backend query string.
	QueryFields []string
	Validate    func(Payload) error
}

// SpecializedRoutes is the fixed route table of the specialized endpoints.
var SpecializedRoutes = []*Route{
	{
		Name:           "client-import",
		Path:           "/api/clients/import",
		BackendMethod:  http.MethodPost,
		BackendPath:    "/api/clients/import",
		Multipart:      true,
		Wrap:           true,
		SuccessMessage: "Clients imported",
	},
	{
		Name:           "image-assign",
		Path:           "/api/product-images/assign",
		BackendMethod:  http.MethodPost,
		BackendPath:    "/api/product-images/assign",
		Wrap:           true,
		SuccessMessage: "Images assigned",
		Validate: func(p Payload) error {
			if err := requireString(p, "productId"); err != nil {
				return err
			}
			return requireList(p, "imageIds")
		},
	},
	{
		Name:          "image-list",
		Path:          "/api/product-images/list",
		BackendMethod: http.MethodGet,
		BackendPath:   "/api/product-images",
		QueryFields:   []string{"productId", "page", "limit", "status"},
		Validate: func(p Payload) error {
			return requireString(p, "productId")
		},
	},
	{
		Name:           "image-batch-delete",
		Path:           "/api/product-images/batch-delete",
		BackendMethod:  http.MethodPost,
		BackendPath:    "/api/product-images/batch-delete",
		Wrap:           true,
		SuccessMessage: "Images deleted",
		Validate: func(p Payload) error {
			return requireList(p, "imageIds")
		},
	},
	{
		Name:           "image-reanalyze",
		Path:           "/api/product-images/reanalyze",
		BackendMethod:  http.MethodPost,
		BackendPath:    "/api/product-images/{imageId}/reanalyze",
		Wrap:           true,
		SuccessMessage: "Image queued for re-analysis",
		Validate: func(p Payload) error {
			return requireString(p, "imageId")
		},
	},
}

// SpecializedRequest is one inbound call to a specialized route.
type SpecializedRequest struct {
	Route  *Route
	Header http.Header
	Body   []byte
}

// SpecializedResponse is the shaped answer for a successful backend call.
// Body is either a model.Envelope or the raw backend JSON.
type SpecializedResponse struct {
	StatusCode int
	Body       any
}

// SpecializedService validates, authenticates and forwards specialized route calls.
type SpecializedService struct {
	proxy  *ProxyService
	logger *slog.Logger
}

// NewSpecializedService creates a SpecializedService sharing the generic proxy's backend binding.
func NewSpecializedService(proxy *ProxyService, logger *slog.Logger) *SpecializedService {
	return &SpecializedService{
		proxy:  proxy,
		logger: logger.With("component", "specialized_service"),
	}
}

// Call runs the shared contract: validate, require a token, forward, shape.
// Validation and token failures never reach the backend.
func (s *SpecializedService) Call(ctx context.Context, req *SpecializedRequest) (*SpecializedResponse, error) {
	route := req.Route

	var payload Payload
	if route.Multipart {
		if err := validateMultipart(req.Header.Get("Content-Type"), req.Body); err != nil {
			return nil, err
		}
	} else {
		var err error
		if payload, err = decodePayload(req.Body); err != nil {
			return nil, err
		}
		if route.Validate != nil {
			if err := route.Validate(payload); err != nil {
				return nil, err
			}
		}
	}

	token := BearerToken(req.Header)
	if token == "" {
		return nil, ErrMissingToken
	}

	target, err := s.backendURL(route, payload)
	if err != nil {
		return nil, err
	}

	header := make(http.Header)
	header.Set("Authorization", "Bearer "+token)
	header.Set("Accept", "application/json")

	var body io.Reader
	switch {
	case route.Multipart:
		header.Set("Content-Type", req.Header.Get("Content-Type"))
		body = bytes.NewReader(req.Body)
	case route.BackendMethod != http.MethodGet:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		header.Set("Content-Type", "application/json")
		body = bytes.NewReader(raw)
	}

	s.logger.Info("specialized request",
		"route", route.Name,
		"method", route.BackendMethod,
		"target", target,
	)

	resp, err := s.proxy.client.DoStream(ctx, route.BackendMethod, target, header, body)
	if err != nil {
		return nil, fmt.Errorf("forward %s: %w", route.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", route.Name, err)
	}

	s.logger.Info("specialized response",
		"route", route.Name,
		"status", resp.StatusCode,
		"bytes", len(raw),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &BackendError{
			StatusCode: resp.StatusCode,
			Message:    backendErrorMessage(resp.StatusCode, raw),
		}
	}

	status := resp.StatusCode
	if route.Wrap && !bodyAllowed(status) {
		// The envelope is the answer; a 204 would discard it.
		status = http.StatusOK
	}

	return &SpecializedResponse{
		StatusCode: status,
		Body:       shapeSuccess(route, raw),
	}, nil
}

// bodyAllowed reports whether a response with status may carry a body.
func bodyAllowed(status int) bool {
	return status != http.StatusNoContent && status != http.StatusResetContent && status != http.StatusNotModified
}

func (s *SpecializedService) backendURL(route *Route, payload Payload) (string, error) {
	path := route.BackendPath
	for {
		start := strings.IndexByte(path, '{')
		if start < 0 {
			break
		}
		end := strings.IndexByte(path[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("route %s: unterminated path parameter", route.Name)
		}
		field := path[start+1 : start+end]
		val := stringField(payload, field)
		if val == "" {
			return "", fmt.Errorf("%w: %s is required", ErrValidation, field)
		}
		path = path[:start] + url.PathEscape(val) + path[start+end+1:]
	}

	u := *s.proxy.baseURL
	u.RawQuery = ""
	u.Fragment = ""
	target := strings.TrimRight(u.String(), "/") + path

	q := make(url.Values)
	for _, field := range route.QueryFields {
		if v := stringField(payload, field); v != "" {
			q.Set(field, v)
		}
	}
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	return target, nil
}

// shapeSuccess wraps or relays a 2xx backend body according to the route.
func shapeSuccess(route *Route, raw []byte) any {
	var data any
	if len(bytes.TrimSpace(raw)) > 0 {
		if json.Valid(raw) {
			data = json.RawMessage(raw)
		} else {
			data = string(raw)
		}
	}

	if !route.Wrap {
		if data == nil {
			return json.RawMessage("null")
		}
		return data
	}

	msg := route.SuccessMessage
	if parsed, ok := tryParseJSON(raw); ok {
		if obj, ok := parsed.(map[string]any); ok {
			if m, ok := obj["message"].(string); ok && m != "" {
				msg = m
			}
		}
	}
	return model.OK(data, msg)
}

// backendErrorMessage extracts a human-readable message from a backend error body.
func backendErrorMessage(status int, raw []byte) string {
	fallback := fmt.Sprintf("Error del backend: %d", status)

	parsed, ok := tryParseJSON(raw)
	if !ok {
		return fallback
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return fallback
	}
	if m, ok := obj["message"].(string); ok && m != "" {
		return m
	}
	// FastAPI reports errors under "detail".
	if d, ok := obj["detail"].(string); ok && d != "" {
		return d
	}
	return fallback
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(h http.Header) string {
	auth := strings.TrimSpace(h.Get("Authorization"))
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

func decodePayload(raw []byte) (Payload, error) {
	p := make(Payload)
	if len(bytes.TrimSpace(raw)) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrValidation)
	}
	return p, nil
}

func validateMultipart(contentType string, body []byte) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return fmt.Errorf("%w: multipart/form-data body required", ErrValidation)
	}

	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: malformed multipart body", ErrValidation)
		}
		hasFile := part.FormName() == "file" && part.FileName() != ""
		_ = part.Close()
		if hasFile {
			return nil
		}
	}
	return fmt.Errorf("%w: file is required", ErrValidation)
}

func requireString(p Payload, field string) error {
	if stringField(p, field) == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	return nil
}

func requireList(p Payload, field string) error {
	list, ok := p[field].([]any)
	if !ok || len(list) == 0 {
		return fmt.Errorf("%w: %s must be a non-empty list", ErrValidation, field)
	}
	return nil
}

// stringField renders a scalar payload field as a string; other kinds yield "".
func stringField(p Payload, field string) string {
	switch v := p[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
