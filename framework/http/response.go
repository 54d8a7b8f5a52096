package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
)

// Response is a buffered HTTP response. Middleware can inspect and modify it
// on the way out; nothing reaches the client until Send.
type Response struct {
	status int
	header http.Header
	body   bytes.Buffer
}

// NewResponse creates an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{status: status, header: make(http.Header)}
}

// Status returns the status code.
func (res *Response) Status() int { return res.status }

// SetStatus changes the status code.
func (res *Response) SetStatus(status int) *Response {
	res.status = status
	return res
}

// Header returns the response headers.
func (res *Response) Header() http.Header { return res.header }

// WithHeader sets a header and returns res for chaining.
func (res *Response) WithHeader(key, value string) *Response {
	res.header.Set(key, value)
	return res
}

// Body returns the buffered body.
func (res *Response) Body() []byte { return res.body.Bytes() }

// Write appends to the body.
func (res *Response) Write(p []byte) (int, error) { return res.body.Write(p) }

// WriteHeader sets the status. With Header and Write it makes *Response an
// http.ResponseWriter, so plain handlers can render into it.
func (res *Response) WriteHeader(status int) { res.status = status }

// Send writes the status, headers and body to w.
func (res *Response) Send(w http.ResponseWriter) error {
	dst := w.Header()
	for k, vv := range res.header {
		dst[k] = append([]string(nil), vv...)
	}
	if res.body.Len() > 0 && dst.Get("Content-Length") == "" {
		dst.Set("Content-Length", strconv.Itoa(res.body.Len()))
	}
	w.WriteHeader(res.status)
	if res.status == http.StatusNoContent || res.status == http.StatusNotModified {
		return nil
	}
	_, err := w.Write(res.body.Bytes())
	return err
}

// ── Constructors ─────────────────────────────────────────────────────────────

// JSON creates a JSON response.
//
//	return http.JSON(http.StatusOK, map[string]any{"message": "ok"}), nil
func JSON(status int, data any) *Response {
	res := NewResponse(status).WithHeader("Content-Type", "application/json")
	if err := json.NewEncoder(&res.body).Encode(data); err != nil {
		res.body.Reset()
		res.status = http.StatusInternalServerError
		res.body.WriteString(`{"error":"Internal Server Error"}` + "\n")
	}
	return res
}

// Text creates a plain-text response.
func Text(status int, body string) *Response {
	res := NewResponse(status).WithHeader("Content-Type", "text/plain; charset=utf-8")
	res.body.WriteString(body)
	return res
}

// Success is a 200 JSON response: {"data": v}.
func Success(v any) *Response {
	return JSON(http.StatusOK, envelope{"data": v})
}

// Created is a 201 JSON response: {"data": v}.
func Created(v any) *Response {
	return JSON(http.StatusCreated, envelope{"data": v})
}

// NoContent is a 204 response with no body.
func NoContent() *Response {
	return NewResponse(http.StatusNoContent)
}

// Error is a JSON error response: {"message": message}.
//
//	return http.Error(http.StatusNotFound, "Resource not found"), nil
func Error(status int, message string) *Response {
	return JSON(status, envelope{"message": message})
}

// Unauthorized is a 401 response.
func Unauthorized(message ...string) *Response {
	return Error(http.StatusUnauthorized, first(message, "Unauthenticated."))
}

// Forbidden is a 403 response.
func Forbidden(message ...string) *Response {
	return Error(http.StatusForbidden, first(message, "This action is unauthorized."))
}

// NotFound is a 404 response.
func NotFound(message ...string) *Response {
	return Error(http.StatusNotFound, first(message, "Not found."))
}

// ServerError is the 500 response sent when a request fails in production:
// {"error": "Internal Server Error"}.
func ServerError() *Response {
	return JSON(http.StatusInternalServerError, envelope{"error": http.StatusText(http.StatusInternalServerError)})
}

// Redirect is a redirect response to url.
//
//	return http.Redirect(http.StatusFound, "/dashboard"), nil
func Redirect(status int, url string) *Response {
	return NewResponse(status).WithHeader("Location", url)
}

type envelope map[string]any

func first(ss []string, fallback string) string {
	if len(ss) > 0 && ss[0] != "" {
		return ss[0]
	}
	return fallback
}
