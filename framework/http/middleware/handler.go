package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/km-arc/go-kernel/framework/container"
	kernelhttp "github.com/km-arc/go-kernel/framework/http"
	"github.com/km-arc/go-kernel/framework/pipeline"
)

// FailureRecorder counts failed chains; *metrics.Metrics implements it.
type FailureRecorder interface {
	MiddlewareFailure(kind string)
}

// Option configures a Handler.
type Option func(*Handler)

// WithProduction switches between production (config loaded once, failures
// answered with a generic 500) and development (config reloaded on every
// request, failures returned).
func WithProduction(production bool) Option {
	return func(h *Handler) { h.production = production }
}

// WithLogger sets the logger used for swallowed production failures.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithTracer wraps every chain in a span.
func WithTracer(t trace.Tracer) Option {
	return func(h *Handler) { h.tracer = t }
}

// WithMetrics records failures by kind.
func WithMetrics(r FailureRecorder) Option {
	return func(h *Handler) { h.metrics = r }
}

// Handler runs a request through the global and route middleware and then
// the destination.
type Handler struct {
	container  *container.Container
	loader     Loader
	production bool
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    FailureRecorder

	mu     sync.Mutex
	loaded bool
	config Config
}

// NewHandler creates a Handler. Middleware classes are built from c.
func NewHandler(c *container.Container, loader Loader, opts ...Option) *Handler {
	if loader == nil {
		loader = StaticLoader{}
	}
	h := &Handler{
		container: c,
		loader:    loader,
		logger:    slog.New(slog.DiscardHandler),
		tracer:    noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Loaded reports whether the configuration has been loaded.
func (h *Handler) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

// Production reports the failure mode.
func (h *Handler) Production() bool { return h.production }

// load returns the configuration, loading it once in production and on
// every call otherwise.
func (h *Handler) load() (Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded && h.production {
		return h.config, nil
	}
	cfg, err := h.loader.Load()
	if err != nil {
		return Config{}, err
	}
	h.config = cfg
	h.loaded = true
	return cfg, nil
}

// Handle runs req through the global middleware, the route middleware named
// by routeMiddleware and finally destination.
//
// In development any failure is returned as a *MiddlewareError. In
// production it is logged and a 500 {"error": "Internal Server Error"}
// response is returned instead.
func (h *Handler) Handle(req *kernelhttp.Request, routeMiddleware []string, destination Next) (*kernelhttp.Response, error) {
	route := make([]any, len(routeMiddleware))
	for i, name := range routeMiddleware {
		route[i] = name
	}
	return h.Dispatch(req, route, destination)
}

// Dispatch is Handle for a route list that may also hold Middleware values.
// Values run after every named middleware, in the order given.
func (h *Handler) Dispatch(req *kernelhttp.Request, route []any, destination Next) (*kernelhttp.Response, error) {
	ctx, span := h.tracer.Start(req.Context(), "middleware.pipeline")
	defer span.End()
	req.SetContext(ctx)

	res, err := h.run(req, route, destination)
	if err == nil {
		span.SetAttributes(attribute.Int("http.response.status_code", res.Status()))
		return res, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if h.metrics != nil {
		h.metrics.MiddlewareFailure(kind(err))
	}

	if !h.production {
		return nil, err
	}
	h.logger.ErrorContext(ctx, "middleware pipeline failed",
		slog.String("method", req.Method()),
		slog.String("path", req.Path()),
		slog.Any("error", err),
	)
	return kernelhttp.ServerError(), nil
}

func (h *Handler) run(req *kernelhttp.Request, route []any, destination Next) (*kernelhttp.Response, error) {
	cfg, err := h.load()
	if err != nil {
		return nil, &MiddlewareError{Err: fmt.Errorf("loading configuration: %w", err)}
	}

	var names []string
	var extra []any
	for _, r := range route {
		if name, ok := r.(string); ok {
			names = append(names, name)
		} else {
			extra = append(extra, r)
		}
	}

	var stages []any
	for _, class := range cfg.Expand(names) {
		stages = append(stages, h.classStage(class))
	}
	for _, mw := range extra {
		s, err := valueStage(mw)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}

	res, err := pipeline.New[*kernelhttp.Request, *kernelhttp.Response](h.container).
		Send(req).
		Through(stages...).
		Then(guardDestination(destination))
	if err != nil {
		return nil, asMiddlewareError("", err)
	}
	if res == nil {
		return nil, &MiddlewareError{Err: ErrMustReturnResponse}
	}
	return res, nil
}

type stage = pipeline.Stage[*kernelhttp.Request, *kernelhttp.Response]

// classStage builds the named class fresh each time the stage is reached.
// A panic while building it fails the stage like a panic in Handle.
func (h *Handler) classStage(name string) stage {
	return func(req *kernelhttp.Request, next Next) (res *kernelhttp.Response, err error) {
		class, args := pipeline.ParsePipeString(name)
		defer func() {
			if r := recover(); r != nil {
				res, err = nil, &MiddlewareError{Middleware: class, Err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		if h.container == nil {
			return nil, &MiddlewareError{Middleware: class, Err: fmt.Errorf("%w: no container to build it", ErrInvalidMiddleware)}
		}

		var params container.Params
		if len(args) > 0 {
			params = container.Params{pipeline.ParametersParam: args}
		}
		instance, err := h.container.Child().Build(class, params)
		if err != nil {
			return nil, &MiddlewareError{Middleware: class, Err: fmt.Errorf("%w: %w", ErrInvalidMiddleware, err)}
		}
		mw, ok := instance.(Middleware)
		if !ok {
			return nil, &MiddlewareError{Middleware: class, Err: fmt.Errorf("%w: %T has no Handle method", ErrInvalidMiddleware, instance)}
		}
		return invoke(class, mw, req, next)
	}
}

func valueStage(v any) (stage, error) {
	mw, ok := v.(Middleware)
	if !ok {
		return nil, &MiddlewareError{Middleware: fmt.Sprintf("%T", v), Err: ErrInvalidMiddleware}
	}
	name := fmt.Sprintf("%T", v)
	return func(req *kernelhttp.Request, next Next) (*kernelhttp.Response, error) {
		return invoke(name, mw, req, next)
	}, nil
}

// invoke calls one middleware, labelling its errors and recovering panics.
func invoke(name string, mw Middleware, req *kernelhttp.Request, next Next) (res *kernelhttp.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &MiddlewareError{Middleware: name, Err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()
	res, err = mw.Handle(req, next)
	if err != nil {
		return nil, asMiddlewareError(name, err)
	}
	return res, nil
}

// guardDestination labels destination errors so outer stages do not claim
// them, and recovers panics.
func guardDestination(destination Next) Next {
	return func(req *kernelhttp.Request) (res *kernelhttp.Response, err error) {
		defer func() {
			if r := recover(); r != nil {
				res, err = nil, &MiddlewareError{Err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		res, err = destination(req)
		if err != nil {
			return nil, asMiddlewareError("", err)
		}
		return res, nil
	}
}

func asMiddlewareError(name string, err error) error {
	var me *MiddlewareError
	if errors.As(err, &me) {
		return err
	}
	return &MiddlewareError{Middleware: name, Err: err}
}

func kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMiddleware):
		return "invalid_middleware"
	case errors.Is(err, ErrMustReturnResponse):
		return "missing_response"
	case errors.Is(err, ErrPanic):
		return "panic"
	}
	return "error"
}
