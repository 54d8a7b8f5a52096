package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

const maxMemory = 32 << 20 // 32 MB

// RequestIDHeader carries the per-request id.
const RequestIDHeader = "X-Request-ID"

// ErrEmptyBody is returned by Bind for a JSON request without a body.
var ErrEmptyBody = errors.New("http: empty request body")

// Request is the payload threaded through the middleware pipeline. It wraps
// *http.Request and carries attributes set by middleware for later stages.
type Request struct {
	raw *http.Request

	mu    sync.RWMutex
	attrs map[string]any
}

// NewRequest wraps a standard *http.Request.
func NewRequest(r *http.Request) *Request {
	return &Request{raw: r, attrs: make(map[string]any)}
}

// Raw returns the underlying *http.Request.
func (req *Request) Raw() *http.Request { return req.raw }

// Context returns the request context.
func (req *Request) Context() context.Context { return req.raw.Context() }

// SetContext replaces the request context, e.g. after starting a span.
func (req *Request) SetContext(ctx context.Context) {
	req.raw = req.raw.WithContext(ctx)
}

// ── Attributes ───────────────────────────────────────────────────────────────

// Set stores a request-scoped attribute.
//
//	req.Set("user", user)
func (req *Request) Set(key string, value any) {
	req.mu.Lock()
	defer req.mu.Unlock()
	req.attrs[key] = value
}

// Get returns a request-scoped attribute.
func (req *Request) Get(key string) (any, bool) {
	req.mu.RLock()
	defer req.mu.RUnlock()
	v, ok := req.attrs[key]
	return v, ok
}

// GetString returns a string attribute, or "" when unset.
func (req *Request) GetString(key string) string {
	v, _ := req.Get(key)
	s, _ := v.(string)
	return s
}

// ── Binding ──────────────────────────────────────────────────────────────────

// Bind decodes the request body into v. JSON bodies use `json` tags; form and
// multipart bodies are mapped onto the same `json` tags.
func (req *Request) Bind(v any) error {
	ct := req.ContentType()

	switch {
	case strings.Contains(ct, "application/json"):
		return req.bindJSON(v)
	case strings.Contains(ct, "multipart/form-data"):
		if err := req.raw.ParseMultipartForm(maxMemory); err != nil {
			return err
		}
		return bindValues(req.raw.MultipartForm.Value, v)
	default:
		if err := req.raw.ParseForm(); err != nil {
			return err
		}
		return bindValues(req.raw.PostForm, v)
	}
}

func (req *Request) bindJSON(v any) error {
	defer req.raw.Body.Close()
	body, err := io.ReadAll(req.raw.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return ErrEmptyBody
	}
	return json.Unmarshal(body, v)
}

// bindValues flattens single-value fields and decodes through JSON.
func bindValues(values map[string][]string, v any) error {
	m := make(map[string]any, len(values))
	for k, vals := range values {
		if len(vals) == 1 {
			m[k] = vals[0]
		} else {
			m[k] = vals
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// ── Input ────────────────────────────────────────────────────────────────────

// Input returns a value from the query string or form body.
func (req *Request) Input(key string, fallback ...string) string {
	_ = req.raw.ParseForm()
	return or(req.raw.FormValue(key), fallback)
}

// Query returns a query-string value.
func (req *Request) Query(key string, fallback ...string) string {
	return or(req.raw.URL.Query().Get(key), fallback)
}

// All returns all input (query + form) as a flat map.
func (req *Request) All() map[string]string {
	_ = req.raw.ParseForm()
	out := make(map[string]string, len(req.raw.Form))
	for k, v := range req.raw.Form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// Has reports whether the input key is present and non-empty.
func (req *Request) Has(key string) bool {
	return req.Input(key) != ""
}

// RouteParam returns a URL route parameter.
func (req *Request) RouteParam(key string) string {
	return chi.URLParam(req.raw, key)
}

// Header returns a request header value.
func (req *Request) Header(key string) string {
	return req.raw.Header.Get(key)
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func (req *Request) BearerToken() string {
	token, ok := strings.CutPrefix(req.raw.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// IP returns the client address (rewritten by chi's RealIP middleware).
func (req *Request) IP() string { return req.raw.RemoteAddr }

// Method returns the HTTP method.
func (req *Request) Method() string { return req.raw.Method }

// Path returns the URL path.
func (req *Request) Path() string { return req.raw.URL.Path }

// ContentType returns the Content-Type header value.
func (req *Request) ContentType() string {
	return req.raw.Header.Get("Content-Type")
}

// IsJSON reports whether the client sent or expects JSON.
func (req *Request) IsJSON() bool {
	return strings.Contains(req.raw.Header.Get("Accept"), "application/json") ||
		strings.Contains(req.ContentType(), "application/json")
}

// File returns an uploaded file by field name.
func (req *Request) File(key string) (*multipart.FileHeader, error) {
	if err := req.raw.ParseMultipartForm(maxMemory); err != nil {
		return nil, err
	}
	_, fh, err := req.raw.FormFile(key)
	return fh, err
}

func or(v string, fallback []string) string {
	if v == "" && len(fallback) > 0 {
		return fallback[0]
	}
	return v
}
