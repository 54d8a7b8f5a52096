// Package routing maps HTTP routes to actions and runs every matched request
// through the middleware handler.
//
//	r := routing.New(c, handler)
//	r.Get("/", home)
//	r.Prefix("/api", func(api *routing.Router) {
//	    api.Middleware("api")
//	    api.Get("/users/{id}", "users.show")
//	})
package routing

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/km-arc/go-kernel/framework/container"
	kernelhttp "github.com/km-arc/go-kernel/framework/http"
	"github.com/km-arc/go-kernel/framework/http/middleware"
	"github.com/km-arc/go-kernel/framework/logging"
)

// Action handles a matched request.
type Action func(req *kernelhttp.Request) (*kernelhttp.Response, error)

// Controller is a single-action controller.
type Controller interface {
	Handle(req *kernelhttp.Request) (*kernelhttp.Response, error)
}

// Option configures a Router.
type Option func(*Router)

// WithLogger logs every request and every failed dispatch to l.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithInstrumentation wraps the whole mux, e.g. with (*metrics.Metrics).Instrument.
func WithInstrumentation(mw func(http.Handler) http.Handler) Option {
	return func(r *Router) { r.instrument = mw }
}

// Router wraps chi.Router. Actions and controllers can be given directly or
// as container abstracts resolved on every request.
type Router struct {
	mux        chi.Router
	container  *container.Container
	pipeline   *middleware.Handler
	logger     *slog.Logger
	instrument func(http.Handler) http.Handler

	prefix     string
	middleware []any
	table      *table
}

// New creates a Router dispatching through h. A nil h runs routes without
// any configured middleware.
func New(c *container.Container, h *middleware.Handler, opts ...Option) *Router {
	r := &Router{
		mux:       chi.NewRouter(),
		container: c,
		pipeline:  h,
		logger:    slog.New(slog.DiscardHandler),
		table:     &table{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pipeline == nil {
		r.pipeline = middleware.NewHandler(c, nil)
	}

	r.mux.Use(chimw.RealIP)
	r.mux.Use(logging.Requests(r.logger))
	if r.instrument != nil {
		r.mux.Use(r.instrument)
	}
	r.mux.Use(chimw.Recoverer)

	r.mux.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		_ = kernelhttp.NotFound().Send(w)
	})
	r.mux.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		_ = kernelhttp.Error(http.StatusMethodNotAllowed, "Method not allowed.").Send(w)
	})
	return r
}

func (r *Router) sub(mux chi.Router, prefix string) *Router {
	return &Router{
		mux:        mux,
		container:  r.container,
		pipeline:   r.pipeline,
		logger:     r.logger,
		prefix:     r.prefix + prefix,
		middleware: slices.Clone(r.middleware),
		table:      r.table,
	}
}

// ── HTTP verbs ───────────────────────────────────────────────────────────────

// Get registers action for GET. action is an Action, a Controller, an
// http.Handler or a container abstract naming one of those.
func (r *Router) Get(pattern string, action any) *Route {
	return r.add([]string{http.MethodGet}, pattern, action)
}

func (r *Router) Post(pattern string, action any) *Route {
	return r.add([]string{http.MethodPost}, pattern, action)
}

func (r *Router) Put(pattern string, action any) *Route {
	return r.add([]string{http.MethodPut}, pattern, action)
}

func (r *Router) Patch(pattern string, action any) *Route {
	return r.add([]string{http.MethodPatch}, pattern, action)
}

func (r *Router) Delete(pattern string, action any) *Route {
	return r.add([]string{http.MethodDelete}, pattern, action)
}

// Any registers action for all common HTTP methods.
func (r *Router) Any(pattern string, action any) *Route {
	return r.add([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodOptions, http.MethodHead,
	}, pattern, action)
}

func (r *Router) add(methods []string, pattern string, action any) *Route {
	dest, err := r.destination(action)
	if err != nil {
		panic(err)
	}
	rt := &Route{
		Methods:    methods,
		Pattern:    r.prefix + pattern,
		middleware: slices.Clone(r.middleware),
	}
	h := r.serve(rt, dest)
	for _, m := range methods {
		r.mux.Method(m, pattern, h)
	}
	r.table.add(rt)
	return rt
}

// ── Groups & Prefixes ────────────────────────────────────────────────────────

// Group creates an inline group sharing the current prefix. Middleware added
// inside fn stays inside the group.
func (r *Router) Group(fn func(r *Router)) {
	r.mux.Group(func(mx chi.Router) {
		fn(r.sub(mx, ""))
	})
}

// Prefix creates a sub-router mounted at pattern.
func (r *Router) Prefix(pattern string, fn func(r *Router)) {
	r.mux.Route(pattern, func(mx chi.Router) {
		fn(r.sub(mx, pattern))
	})
}

// ── Middleware ───────────────────────────────────────────────────────────────

// Middleware adds named route middleware (aliases, groups or class names) to
// every route registered on r afterwards.
func (r *Router) Middleware(names ...string) *Router {
	for _, n := range names {
		r.middleware = append(r.middleware, n)
	}
	return r
}

// Use adds middleware values to every route registered on r afterwards.
// They run after the named middleware.
func (r *Router) Use(mw ...middleware.Middleware) *Router {
	for _, m := range mw {
		r.middleware = append(r.middleware, m)
	}
	return r
}

// UseHTTP adds plain net/http middleware around the mux. As with chi, call it
// before registering routes on r.
func (r *Router) UseHTTP(mw ...func(http.Handler) http.Handler) {
	r.mux.Use(mw...)
}

// ── Resource routes ──────────────────────────────────────────────────────────

// ResourceController handles the standard RESTful actions.
//
//	GET    /photos           → Index
//	POST   /photos           → Store
//	GET    /photos/{id}      → Show
//	PUT    /photos/{id}      → Update
//	PATCH  /photos/{id}      → Update
//	DELETE /photos/{id}      → Destroy
type ResourceController interface {
	Index(req *kernelhttp.Request) (*kernelhttp.Response, error)
	Store(req *kernelhttp.Request) (*kernelhttp.Response, error)
	Show(req *kernelhttp.Request) (*kernelhttp.Response, error)
	Update(req *kernelhttp.Request) (*kernelhttp.Response, error)
	Destroy(req *kernelhttp.Request) (*kernelhttp.Response, error)
}

// Resource registers the RESTful routes for controller, a ResourceController
// or the abstract of one.
func (r *Router) Resource(pattern string, controller any) Routes {
	action := func(pick func(ResourceController) Action) Action {
		switch c := controller.(type) {
		case ResourceController:
			return pick(c)
		case string:
			return func(req *kernelhttp.Request) (*kernelhttp.Response, error) {
				v, err := r.make(c)
				if err != nil {
					return nil, err
				}
				rc, ok := v.(ResourceController)
				if !ok {
					return nil, fmt.Errorf("%w: [%s] resolved to %T, not a resource controller", ErrInvalidAction, c, v)
				}
				return pick(rc)(req)
			}
		}
		panic(fmt.Errorf("%w: %T is not a resource controller", ErrInvalidAction, controller))
	}

	item := pattern + "/{id}"
	return Routes{
		r.Get(pattern, action(func(c ResourceController) Action { return c.Index })),
		r.Post(pattern, action(func(c ResourceController) Action { return c.Store })),
		r.Get(item, action(func(c ResourceController) Action { return c.Show })),
		r.add([]string{http.MethodPut, http.MethodPatch}, item, action(func(c ResourceController) Action { return c.Update })),
		r.Delete(item, action(func(c ResourceController) Action { return c.Destroy })),
	}
}

// ── Raw handlers ─────────────────────────────────────────────────────────────

// Handle registers h for every method, bypassing the middleware handler.
func (r *Router) Handle(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

// Mount attaches another http.Handler under pattern.
func (r *Router) Mount(pattern string, h http.Handler) {
	r.mux.Mount(pattern, h)
}

// Static serves a directory at the given prefix.
// e.g. router.Static("/public", "./public")
func (r *Router) Static(prefix, dir string) {
	fs := http.StripPrefix(r.prefix+prefix, http.FileServer(http.Dir(dir)))
	r.mux.Get(prefix+"/*", fs.ServeHTTP)
}

// Param extracts a URL parameter from a plain *http.Request.
func Param(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

// Routes returns every registered route ordered by pattern.
func (r *Router) Routes() Routes { return r.table.list() }

// ── Serve ────────────────────────────────────────────────────────────────────

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Handler returns the underlying http.Handler.
func (r *Router) Handler() http.Handler {
	return r.mux
}

// serve adapts a route to net/http. Errors only come back from the middleware
// handler in development, so they are rendered with their message.
func (r *Router) serve(rt *Route, dest middleware.Next) http.HandlerFunc {
	return func(w http.ResponseWriter, raw *http.Request) {
		res, err := r.pipeline.Dispatch(kernelhttp.NewRequest(raw), rt.middleware, dest)
		if err != nil {
			r.logger.ErrorContext(raw.Context(), "request failed",
				slog.String("method", raw.Method),
				slog.String("path", raw.URL.Path),
				slog.Any("error", err),
			)
			res = developmentError(err)
		}
		if err := res.Send(w); err != nil {
			r.logger.DebugContext(raw.Context(), "writing response", slog.Any("error", err))
		}
	}
}

func developmentError(err error) *kernelhttp.Response {
	body := map[string]any{
		"error":   http.StatusText(http.StatusInternalServerError),
		"message": err.Error(),
	}
	var me *middleware.MiddlewareError
	if errors.As(err, &me) && me.Middleware != "" {
		body["middleware"] = me.Middleware
	}
	return kernelhttp.JSON(http.StatusInternalServerError, body)
}

// ── Routes ───────────────────────────────────────────────────────────────────

// Route is a registered route.
type Route struct {
	Methods []string
	Pattern string

	middleware []any
}

// Middleware adds named middleware to this route only.
func (rt *Route) Middleware(names ...string) *Route {
	for _, n := range names {
		rt.middleware = append(rt.middleware, n)
	}
	return rt
}

// Use adds middleware values to this route only.
func (rt *Route) Use(mw ...middleware.Middleware) *Route {
	for _, m := range mw {
		rt.middleware = append(rt.middleware, m)
	}
	return rt
}

// MiddlewareNames lists the route middleware, values shown by type.
func (rt *Route) MiddlewareNames() []string {
	out := make([]string, len(rt.middleware))
	for i, m := range rt.middleware {
		if s, ok := m.(string); ok {
			out[i] = s
		} else {
			out[i] = fmt.Sprintf("%T", m)
		}
	}
	return out
}

// Routes is a set of routes sharing route-level middleware.
type Routes []*Route

// Middleware adds named middleware to every route in the set.
func (rs Routes) Middleware(names ...string) Routes {
	for _, rt := range rs {
		rt.Middleware(names...)
	}
	return rs
}

type table struct {
	mu     sync.Mutex
	routes []*Route
}

func (t *table) add(rt *Route) {
	t.mu.Lock()
	t.routes = append(t.routes, rt)
	t.mu.Unlock()
}

func (t *table) list() Routes {
	t.mu.Lock()
	out := slices.Clone(t.routes)
	t.mu.Unlock()
	slices.SortStableFunc(out, func(a, b *Route) int {
		return strings.Compare(a.Pattern, b.Pattern)
	})
	return out
}
