// Package model defines shared request-scoped types for the edge proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded to the backend.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Path is the backend path, already joined from decoded segments.
	Path     string
	RawQuery string
	Header   http.Header
	Body     io.ReadCloser
}

// ProxyResponse represents the backend response relayed to the client.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Envelope is the uniform response body of the specialized and vision endpoints.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK returns a successful envelope.
func OK(data any, message string) Envelope {
	return Envelope{Success: true, Data: data, Message: message}
}

// Fail returns a failed envelope carrying msg.
func Fail(msg string) Envelope {
	return Envelope{Success: false, Error: msg}
}
