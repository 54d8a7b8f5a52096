package middleware_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/km-arc/go-kernel/framework/config"
	"github.com/km-arc/go-kernel/framework/container"
	kernelhttp "github.com/km-arc/go-kernel/framework/http"
	"github.com/km-arc/go-kernel/framework/http/middleware"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

const trailKey = "trail"

func trail(req *kernelhttp.Request) []string {
	v, _ := req.Get(trailKey)
	t, _ := v.([]string)
	return t
}

func push(req *kernelhttp.Request, s string) {
	req.Set(trailKey, append(trail(req), s))
}

// Stamp appends its first parameter (or "stamp") to the trail. calls proves
// a fresh instance per request.
type Stamp struct {
	Parameters []string `inject:",optional"`
	calls      int
}

func (s *Stamp) Handle(req *kernelhttp.Request, next middleware.Next) (*kernelhttp.Response, error) {
	s.calls++
	label := "stamp"
	if len(s.Parameters) > 0 {
		label = s.Parameters[0]
	}
	if s.calls != 1 {
		label += "-reused"
	}
	push(req, label)
	return next(req)
}

type Boom struct{}

func (Boom) Handle(*kernelhttp.Request, middleware.Next) (*kernelhttp.Response, error) {
	return nil, errors.New("boom")
}

type Panicky struct{}

func (Panicky) Handle(*kernelhttp.Request, middleware.Next) (*kernelhttp.Response, error) {
	panic("kaboom")
}

type NotMiddleware struct{}

type failureCounter struct{ kinds []string }

func (f *failureCounter) MiddlewareFailure(kind string) { f.kinds = append(f.kinds, kind) }

type countingLoader struct {
	calls atomic.Int32
	cfg   middleware.Config
	err   error
}

func (l *countingLoader) Load() (middleware.Config, error) {
	l.calls.Add(1)
	return l.cfg, l.err
}

func newContainer() *container.Container {
	c := container.New()
	middleware.Register(c)
	c.RegisterClassAs("Stamp", container.Class[*Stamp]())
	c.RegisterClassAs("Boom", container.Class[*Boom]())
	c.RegisterClassAs("Panicky", container.Class[*Panicky]())
	c.RegisterClassAs("NotMiddleware", container.Class[*NotMiddleware]())
	c.Instance("auth.guard", middleware.StaticTokens{"secret": "alice", "other": "bob"})
	return c
}

func newRequest(headers ...string) *kernelhttp.Request {
	r := httptest.NewRequest(http.MethodGet, "/users", nil)
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	return kernelhttp.NewRequest(r)
}

// echoTrail is a destination returning the trail seen by the request.
func echoTrail(req *kernelhttp.Request) (*kernelhttp.Response, error) {
	push(req, "destination")
	return kernelhttp.JSON(http.StatusOK, map[string]any{"trail": trail(req), "user": req.GetString(middleware.UserKey)}), nil
}

func decode(t *testing.T, res *kernelhttp.Response) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(res.Body(), &m))
	return m
}

func trailOf(t *testing.T, res *kernelhttp.Response) []string {
	t.Helper()
	raw, _ := decode(t, res)["trail"].([]any)
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i], _ = v.(string)
	}
	return out
}

// ── ordering and resolution ───────────────────────────────────────────────────

func TestHandle_GlobalThenRouteMiddlewareInOrder(t *testing.T) {
	cfg := middleware.Config{
		Global:  []string{"Stamp:global"},
		Aliases: map[string]string{"stamp": "Stamp"},
	}
	h := middleware.NewHandler(newContainer(), middleware.StaticLoader(cfg))

	res, err := h.Handle(newRequest(), []string{"stamp:first", "Stamp:second"}, echoTrail)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status())
	assert.Equal(t, []string{"global", "first", "second", "destination"}, trailOf(t, res))
}

func TestHandle_ClassesBuiltFreshPerRequest(t *testing.T) {
	h := middleware.NewHandler(newContainer(), middleware.StaticLoader{Global: []string{"Stamp"}})

	for range 3 {
		res, err := h.Handle(newRequest(), nil, echoTrail)
		require.NoError(t, err)
		assert.Equal(t, []string{"stamp", "destination"}, trailOf(t, res))
	}
}

func TestHandle_DispatchAcceptsMiddlewareValues(t *testing.T) {
	h := middleware.NewHandler(newContainer(), nil)
	inline := middleware.Func(func(req *kernelhttp.Request, next middleware.Next) (*kernelhttp.Response, error) {
		push(req, "inline")
		return next(req)
	})

	res, err := h.Dispatch(newRequest(), []any{"Stamp", inline}, echoTrail)

	require.NoError(t, err)
	assert.Equal(t, []string{"stamp", "inline", "destination"}, trailOf(t, res))
}

// ── built-in middleware ───────────────────────────────────────────────────────

func TestAuthenticate_ShortCircuitsWithoutToken(t *testing.T) {
	h := middleware.NewHandler(newContainer(), nil)
	called := false

	res, err := h.Handle(newRequest(), []string{"Authenticate"}, func(*kernelhttp.Request) (*kernelhttp.Response, error) {
		called = true
		return kernelhttp.NoContent(), nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.Status())
	assert.False(t, called, "destination must not run after a short-circuit")
}

func TestAuthenticate_AcceptsKnownToken(t *testing.T) {
	h := middleware.NewHandler(newContainer(), nil)

	res, err := h.Handle(newRequest("Authorization", "Bearer secret"), []string{"Authenticate"}, echoTrail)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status())
	assert.Equal(t, "alice", decode(t, res)["user"])
}

func TestAuthenticate_RejectsUnknownToken(t *testing.T) {
	h := middleware.NewHandler(newContainer(), nil)

	res, err := h.Handle(newRequest("Authorization", "Bearer nope"), []string{"Authenticate"}, echoTrail)

	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.Status())
}

func TestAuthenticate_ParametersRestrictSubjects(t *testing.T) {
	h := middleware.NewHandler(newContainer(), nil)

	res, err := h.Handle(newRequest("Authorization", "Bearer other"), []string{"Authenticate:alice"}, echoTrail)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, res.Status())

	res, err = h.Handle(newRequest("Authorization", "Bearer secret"), []string{"Authenticate:alice"}, echoTrail)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status())
}

func TestAuthenticate_NoGuardRejectsEverything(t *testing.T) {
	c := container.New()
	middleware.Register(c)
	h := middleware.NewHandler(c, nil)

	res, err := h.Handle(newRequest("Authorization", "Bearer secret"), []string{"Authenticate"}, echoTrail)

	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.Status())
}

func TestRequestID_GeneratedAndEchoed(t *testing.T) {
	h := middleware.NewHandler(newContainer(), middleware.StaticLoader{Global: []string{"RequestID"}})
	var seen string

	res, err := h.Handle(newRequest(), nil, func(req *kernelhttp.Request) (*kernelhttp.Response, error) {
		seen = req.GetString(middleware.RequestIDKey)
		return kernelhttp.NoContent(), nil
	})

	require.NoError(t, err)
	_, parseErr := uuid.Parse(seen)
	assert.NoError(t, parseErr, "generated id should be a UUID")
	assert.Equal(t, seen, res.Header().Get(kernelhttp.RequestIDHeader))
}

func TestRequestID_ReusesIncomingHeader(t *testing.T) {
	h := middleware.NewHandler(newContainer(), middleware.StaticLoader{Global: []string{"RequestID"}})

	res, err := h.Handle(newRequest(kernelhttp.RequestIDHeader, "abc-123"), nil, echoTrail)

	require.NoError(t, err)
	assert.Equal(t, "abc-123", res.Header().Get(kernelhttp.RequestIDHeader))
}

// ── failures ──────────────────────────────────────────────────────────────────

func TestHandle_DevelopmentReturnsMiddlewareError(t *testing.T) {
	tests := []struct {
		name       string
		route      []string
		dest       middleware.Next
		sentinel   error
		middleware string
	}{
		{"not a middleware", []string{"NotMiddleware"}, echoTrail, middleware.ErrInvalidMiddleware, "NotMiddleware"},
		{"unknown class", []string{"Missing"}, echoTrail, container.ErrClassNotFound, "Missing"},
		{"panic", []string{"Stamp", "Panicky"}, echoTrail, middleware.ErrPanic, "Panicky"},
		{"nil response", nil, func(*kernelhttp.Request) (*kernelhttp.Response, error) { return nil, nil }, middleware.ErrMustReturnResponse, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := middleware.NewHandler(newContainer(), nil, middleware.WithProduction(false))

			res, err := h.Handle(newRequest(), tt.route, tt.dest)

			assert.Nil(t, res)
			var me *middleware.MiddlewareError
			require.ErrorAs(t, err, &me)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.middleware, me.Middleware)
		})
	}
}

func TestHandle_ErrorsLabelledByOrigin(t *testing.T) {
	h := middleware.NewHandler(newContainer(), nil)

	_, err := h.Handle(newRequest(), []string{"Stamp", "Boom"}, echoTrail)
	var me *middleware.MiddlewareError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "Boom", me.Middleware)
	assert.EqualError(t, err, "middleware [Boom]: boom")

	destErr := errors.New("controller failed")
	_, err = h.Handle(newRequest(), []string{"Stamp"}, func(*kernelhttp.Request) (*kernelhttp.Response, error) {
		return nil, destErr
	})
	require.ErrorAs(t, err, &me)
	assert.Empty(t, me.Middleware, "destination errors are not attributed to a middleware")
	assert.ErrorIs(t, err, destErr)
}

func TestHandle_ProductionSynthesizes500(t *testing.T) {
	var logs bytes.Buffer
	failures := &failureCounter{}
	h := middleware.NewHandler(newContainer(), nil,
		middleware.WithProduction(true),
		middleware.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		middleware.WithMetrics(failures),
	)

	for _, route := range [][]string{{"Boom"}, {"Panicky"}, {"NotMiddleware"}} {
		res, err := h.Handle(newRequest(), route, echoTrail)

		require.NoError(t, err, "production must not return the error")
		require.NotNil(t, res)
		assert.Equal(t, http.StatusInternalServerError, res.Status())
		assert.Equal(t, "Internal Server Error", decode(t, res)["error"])
	}

	assert.Equal(t, []string{"error", "panic", "invalid_middleware"}, failures.kinds)
	assert.Contains(t, logs.String(), "middleware pipeline failed")
	assert.Contains(t, logs.String(), "kaboom")
}

// Audited needs a dependency whose factory may fail while it is built.
type Audited struct {
	Sink any `inject:"audit.sink"`
}

func (*Audited) Handle(req *kernelhttp.Request, next middleware.Next) (*kernelhttp.Response, error) {
	return next(req)
}

func TestHandle_ProductionFailureWhileBuildingFirstStage(t *testing.T) {
	tests := []struct {
		name string
		sink container.Factory
		kind string
	}{
		{"missing dependency", func(c *container.Container) any {
			return container.MustResolve[any](c, "missing.repo")
		}, "invalid_middleware"},
		{"panic", func(*container.Container) any { panic("sink unavailable") }, "panic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newContainer()
			c.RegisterClassAs("Audited", container.Class[*Audited]())
			c.MustBind("audit.sink", tt.sink)
			failures := &failureCounter{}
			h := middleware.NewHandler(c, nil, middleware.WithProduction(true), middleware.WithMetrics(failures))

			var res *kernelhttp.Response
			require.NotPanics(t, func() {
				var err error
				res, err = h.Handle(newRequest(), []string{"Audited", "Stamp"}, echoTrail)
				require.NoError(t, err)
			})
			require.NotNil(t, res)
			assert.Equal(t, http.StatusInternalServerError, res.Status())
			assert.Equal(t, "Internal Server Error", decode(t, res)["error"])
			assert.Equal(t, []string{tt.kind}, failures.kinds)
		})
	}
}

func TestHandle_DevelopmentNamesStageThatPanickedWhileBuilding(t *testing.T) {
	c := newContainer()
	c.RegisterClassAs("Audited", container.Class[*Audited]())
	c.MustBind("audit.sink", func(*container.Container) any { panic("sink unavailable") })

	_, err := middleware.NewHandler(c, nil).Handle(newRequest(), []string{"Audited"}, echoTrail)

	var me *middleware.MiddlewareError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "Audited", me.Middleware)
	assert.ErrorIs(t, err, middleware.ErrPanic)
	assert.Contains(t, err.Error(), "sink unavailable")
}

// ── configuration loading ─────────────────────────────────────────────────────

func TestHandle_ProductionLoadsConfigOnce(t *testing.T) {
	loader := &countingLoader{cfg: middleware.Config{Global: []string{"Stamp"}}}
	h := middleware.NewHandler(newContainer(), loader, middleware.WithProduction(true))
	assert.False(t, h.Loaded())

	for range 3 {
		_, err := h.Handle(newRequest(), nil, echoTrail)
		require.NoError(t, err)
	}

	assert.True(t, h.Loaded())
	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestHandle_DevelopmentReloadsConfigEveryCall(t *testing.T) {
	loader := &countingLoader{}
	h := middleware.NewHandler(newContainer(), loader)

	for range 3 {
		_, err := h.Handle(newRequest(), nil, echoTrail)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 3, loader.calls.Load())
}

func TestHandle_LoaderFailure(t *testing.T) {
	loader := &countingLoader{err: errors.New("disk on fire")}

	_, err := middleware.NewHandler(newContainer(), loader).Handle(newRequest(), nil, echoTrail)
	assert.ErrorContains(t, err, "disk on fire")

	res, err := middleware.NewHandler(newContainer(), loader, middleware.WithProduction(true)).
		Handle(newRequest(), nil, echoTrail)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, res.Status())
}

func TestRepositoryLoader_PicksUpFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "middleware.yaml")
	require.NoError(t, os.WriteFile(path, []byte("global: [\"Stamp:one\"]\n"), 0o644))

	repo, err := config.LoadRepository(dir)
	require.NoError(t, err)
	h := middleware.NewHandler(newContainer(), middleware.RepositoryLoader{Repo: repo})

	res, err := h.Handle(newRequest(), nil, echoTrail)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "destination"}, trailOf(t, res))

	require.NoError(t, os.WriteFile(path, []byte("global: [\"Stamp:two\"]\naliases:\n  s: Stamp\n"), 0o644))

	res, err = h.Handle(newRequest(), []string{"s:three"}, echoTrail)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three", "destination"}, trailOf(t, res))
}

func TestRepositoryLoader_EnvOverlay(t *testing.T) {
	t.Setenv("APP__MIDDLEWARE__GLOBAL", "Stamp:env, RequestID")
	repo, err := config.LoadRepository(t.TempDir())
	require.NoError(t, err)

	cfg, err := middleware.RepositoryLoader{Repo: repo}.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"Stamp:env", "RequestID"}, cfg.Global)
}

func TestConfig_Expand(t *testing.T) {
	cfg := middleware.Config{
		Global:  []string{"RequestID"},
		Aliases: map[string]string{"auth": "Authenticate", "throttle": "Throttle:60"},
		Groups: map[string][]string{
			"api":  {"auth", "throttle"},
			"web":  {"api", "web"},
			"self": {"self"},
		},
	}

	assert.Equal(t, []string{"RequestID", "Authenticate", "Throttle:60"}, cfg.Expand([]string{"web"}))
	assert.Equal(t, []string{"RequestID", "Authenticate:alice", "Throttle:10"}, cfg.Expand([]string{"auth:alice", "throttle:10", "RequestID"}))
	assert.Equal(t, []string{"RequestID"}, cfg.Expand([]string{"self"}))
}

// ── tracing ───────────────────────────────────────────────────────────────────

func TestHandle_RecordsSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	h := middleware.NewHandler(newContainer(), nil, middleware.WithTracer(tp.Tracer("test")))

	_, err := h.Handle(newRequest(), nil, echoTrail)
	require.NoError(t, err)
	_, err = h.Handle(newRequest(), []string{"Boom"}, echoTrail)
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "middleware.pipeline", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.True(t, strings.Contains(spans[1].Status().Description, "boom"))
}
