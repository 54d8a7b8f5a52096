package middleware

import (
	"slices"

	"github.com/google/uuid"

	"github.com/km-arc/go-kernel/framework/container"
	kernelhttp "github.com/km-arc/go-kernel/framework/http"
)

// Request attribute keys set by the built-in middleware.
const (
	RequestIDKey = "request_id"
	UserKey      = "user"
)

// Register adds the built-in middleware classes to c under their short
// names, so configuration can refer to "RequestID" and "Authenticate".
func Register(c *container.Container) {
	c.RegisterClassAs("RequestID", container.Class[*RequestID]())
	c.RegisterClassAs("Authenticate", container.Class[*Authenticate]())
}

// RequestID tags the request with an id, reusing a sane incoming
// X-Request-ID, and echoes it on the response.
type RequestID struct{}

func (m *RequestID) Handle(req *kernelhttp.Request, next Next) (*kernelhttp.Response, error) {
	id := req.Header(kernelhttp.RequestIDHeader)
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	req.Set(RequestIDKey, id)

	res, err := next(req)
	if res != nil {
		res.WithHeader(kernelhttp.RequestIDHeader, id)
	}
	return res, err
}

// Guard checks bearer tokens.
type Guard interface {
	Check(token string) (subject string, ok bool)
}

// StaticTokens is a Guard backed by a token → subject map.
type StaticTokens map[string]string

func (t StaticTokens) Check(token string) (string, bool) {
	subject, ok := t[token]
	return subject, ok
}

// Authenticate requires a bearer token accepted by the "auth.guard" binding.
// Without a guard every request is rejected. Parameters restrict access to
// the listed subjects: "Authenticate:alice,bob".
type Authenticate struct {
	Guard      Guard    `inject:"auth.guard,optional"`
	Parameters []string `inject:",optional"`
}

func (m *Authenticate) Handle(req *kernelhttp.Request, next Next) (*kernelhttp.Response, error) {
	token := req.BearerToken()
	if token == "" || m.Guard == nil {
		return kernelhttp.Unauthorized(), nil
	}
	subject, ok := m.Guard.Check(token)
	if !ok {
		return kernelhttp.Unauthorized(), nil
	}
	if len(m.Parameters) > 0 && !slices.Contains(m.Parameters, subject) {
		return kernelhttp.Forbidden(), nil
	}
	req.Set(UserKey, subject)
	return next(req)
}
