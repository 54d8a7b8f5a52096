package container

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
)

// ── Binding types ─────────────────────────────────────────────────────────────

// Factory is a function that builds a concrete value from the container.
type Factory func(c *Container) any

// ParamFactory is a Factory that also receives the explicit parameters given
// to MakeWith and may fail.
type ParamFactory func(c *Container, params Params) (any, error)

// Invoker is implemented by concretes that know how to produce a value
// themselves.
type Invoker interface {
	Invoke(c *Container, params Params) (any, error)
}

// Params are explicit values for named dependencies, passed to MakeWith.
// Struct dependencies are matched by field name, constructor parameters by
// the TypeKey of the parameter type.
type Params map[string]any

// Extender decorates a resolved instance.
type Extender func(instance any, c *Container) any

// binding holds a registered concrete and whether it is a singleton.
type binding struct {
	concrete  any
	singleton bool

	// serialises construction of singleton instances
	mu sync.Mutex
}

// BindOption configures Bind and Singleton.
type BindOption func(*bindOptions)

type bindOptions struct {
	overwrite bool
}

// WithOverwrite replaces an existing binding instead of keeping it.
func WithOverwrite() BindOption {
	return func(o *bindOptions) { o.overwrite = true }
}

// ── Container ─────────────────────────────────────────────────────────────────

// Container is the IoC container.
//
// It supports:
//   - Bind / Singleton / Instance / Alias
//   - Make / MakeWith / Build and the generic Resolve helpers
//   - struct and constructor auto-wiring
//   - Tags, Extend, contextual binding
//   - Rebound and resolved callbacks
//   - Child containers
type Container struct {
	*state

	// set on the view handed to a factory while it runs, so resolutions
	// started by the factory extend the caller's stack
	active atomic.Pointer[resolution]
}

// state is shared between a container and the views of it given to factories.
type state struct {
	mu sync.RWMutex

	parent *Container
	logger *slog.Logger

	// abstract → binding
	bindings map[string]*binding

	// abstract → resolved singleton instance
	instances map[string]any

	// alias → abstract (canonical key)
	aliases map[string]string

	// class name → struct type
	classes map[string]reflect.Type

	// abstract → extender funcs
	extenders map[string][]Extender

	// tag → []abstract
	tags map[string][]string

	// contextual: when[concrete][abstract] = factory
	contextual map[string]map[string]Factory

	// rebound callbacks: abstract → []func(any)
	reboundCallbacks map[string][]func(any)

	// resolved callbacks: []func(abstract, instance)
	afterResolving []func(string, any)
}

// New creates an empty container.
func New() *Container {
	c := newContainer(nil, slog.New(slog.DiscardHandler))
	c.Instance("container", c)
	return c
}

func newContainer(parent *Container, logger *slog.Logger) *Container {
	return &Container{state: &state{
		parent:           parent,
		logger:           logger,
		bindings:         make(map[string]*binding),
		instances:        make(map[string]any),
		aliases:          make(map[string]string),
		classes:          make(map[string]reflect.Type),
		extenders:        make(map[string][]Extender),
		tags:             make(map[string][]string),
		contextual:       make(map[string]map[string]Factory),
		reboundCallbacks: make(map[string][]func(any)),
	}}
}

// view returns c bound to res for the duration of a factory call.
func (c *Container) view(res *resolution) *Container {
	v := &Container{state: c.state}
	v.active.Store(res)
	return v
}

// begin returns the resolution a new Make on c extends: the enclosing
// factory's while one runs, otherwise a fresh one.
func (c *Container) begin() *resolution {
	if res := c.active.Load(); res != nil {
		return res
	}
	return &resolution{}
}

// Child returns a nested container. Lookups fall through to c; bindings,
// instances and classes registered on the child stay in the child.
func (c *Container) Child() *Container {
	c.mu.RLock()
	logger := c.logger
	c.mu.RUnlock()
	child := newContainer(c, logger)
	child.Instance("container", child)
	return child
}

// Parent returns the container c was created from, or nil.
func (c *Container) Parent() *Container { return c.parent }

// SetLogger replaces the logger used for debug output.
func (c *Container) SetLogger(l *slog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = l
}

// ── Registration ──────────────────────────────────────────────────────────────

// Bind registers a transient binding: every Make builds a new instance.
//
// concrete may be a Factory, a ParamFactory, an Invoker, a struct type
// (see Class), the name of a registered class, a constructor function, or
// any other value, which is returned as-is. A nil concrete binds the
// abstract to the class of the same name.
//
// An existing binding is kept unless WithOverwrite is given.
//
//	c.Bind("UserRepository", container.Class[*SQLUserRepository]())
//	c.Bind("clock", func(c *container.Container) any { return time.Now })
func (c *Container) Bind(abstract string, concrete any, opts ...BindOption) error {
	return c.bind(abstract, concrete, false, opts)
}

// Singleton registers a binding whose instance is built once and reused.
//
//	c.Singleton("cache", func(c *container.Container) any {
//	    return cache.NewRedis(container.MustResolve[*config.Config](c, "config"))
//	})
func (c *Container) Singleton(abstract string, concrete any, opts ...BindOption) error {
	return c.bind(abstract, concrete, true, opts)
}

// MustBind is Bind that panics on error, for bootstrap code.
func (c *Container) MustBind(abstract string, concrete any, opts ...BindOption) {
	if err := c.Bind(abstract, concrete, opts...); err != nil {
		panic(err)
	}
}

// MustSingleton is Singleton that panics on error.
func (c *Container) MustSingleton(abstract string, concrete any, opts ...BindOption) {
	if err := c.Singleton(abstract, concrete, opts...); err != nil {
		panic(err)
	}
}

func (c *Container) bind(abstract string, concrete any, singleton bool, opts []BindOption) error {
	var o bindOptions
	for _, opt := range opts {
		opt(&o)
	}

	if concrete == nil {
		concrete = abstract
	}
	normalized, err := c.normalize(concrete)
	if err != nil {
		return fmt.Errorf("binding [%s]: %w", abstract, err)
	}

	c.mu.Lock()
	key := c.canonicalLocked(abstract)
	_, hasBinding := c.bindings[key]
	_, hasInstance := c.instances[key]
	if (hasBinding || hasInstance) && !o.overwrite {
		logger := c.logger
		c.mu.Unlock()
		logger.Debug("container: binding kept, overwrite not requested", "abstract", key)
		return nil
	}

	wasResolved := hasInstance
	delete(c.instances, key)
	c.bindings[key] = &binding{concrete: normalized, singleton: singleton}
	rebound := len(c.reboundCallbacks[key]) > 0
	c.mu.Unlock()

	if wasResolved && rebound {
		instance, err := c.Make(key)
		if err != nil {
			return err
		}
		c.fireRebound(key, instance)
	}
	return nil
}

// normalize turns the accepted concrete shapes into the ones build switches on.
func (c *Container) normalize(concrete any) (any, error) {
	switch cc := concrete.(type) {
	case Factory, ParamFactory, Invoker:
		return cc, nil
	case func(*Container) any:
		return Factory(cc), nil
	case func(*Container, Params) (any, error):
		return ParamFactory(cc), nil
	case reflect.Type:
		if !isClass(cc) {
			return nil, fmt.Errorf("%w: %s is not a struct type", ErrInvalidConcrete, cc)
		}
		c.RegisterClass(cc)
		return cc, nil
	case string:
		t, ok := c.class(cc)
		if !ok {
			return nil, fmt.Errorf("%w: [%s]", ErrClassNotFound, cc)
		}
		return t, nil
	}

	rv := reflect.ValueOf(concrete)
	if rv.Kind() == reflect.Func {
		if err := checkConstructor(rv.Type()); err != nil {
			return nil, err
		}
	}
	return concrete, nil
}

// Instance registers a pre-built value as a singleton.
//
//	c.Instance("config", myConfig)
func (c *Container) Instance(abstract string, instance any) {
	c.mu.Lock()
	key := c.canonicalLocked(abstract)
	delete(c.bindings, key)
	c.instances[key] = instance
	c.mu.Unlock()
	c.fireRebound(key, instance)
}

// Alias registers an alternative name for an abstract.
//
//	c.Alias("cache", "cacheManager")
func (c *Container) Alias(abstract, alias string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if abstract == alias {
		panic(fmt.Sprintf("container: [%s] is aliased to itself", abstract))
	}
	c.aliases[alias] = c.canonicalLocked(abstract)
}

// ── Extend ────────────────────────────────────────────────────────────────────

// Extend decorates the resolved instance of an abstract.
//
//	c.Extend("logger", func(instance any, c *container.Container) any {
//	    return &TimestampLogger{Inner: instance.(*Logger)}
//	})
func (c *Container) Extend(abstract string, fn Extender) {
	c.mu.Lock()
	key := c.canonicalLocked(abstract)
	c.extenders[key] = append(c.extenders[key], fn)
	inst, resolved := c.instances[key]
	c.mu.Unlock()

	// already resolved singletons are decorated in place
	if resolved {
		extended := fn(inst, c)
		c.mu.Lock()
		c.instances[key] = extended
		c.mu.Unlock()
		c.fireRebound(key, extended)
	}
}

func (c *Container) applyExtenders(key string, instance any) any {
	c.mu.RLock()
	exts := slices.Clone(c.extenders[key])
	c.mu.RUnlock()
	for _, ext := range exts {
		instance = ext(instance, c)
	}
	return instance
}

// ── Tags ──────────────────────────────────────────────────────────────────────

// Tag associates multiple abstracts under a named group.
//
//	c.Tag([]string{"CpuReport", "MemoryReport"}, "reports")
func (c *Container) Tag(abstracts []string, tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags[tag] = append(c.tags[tag], abstracts...)
}

// Tagged resolves all abstracts registered under a tag, in tag order.
func (c *Container) Tagged(tag string) ([]any, error) {
	c.mu.RLock()
	abstracts := slices.Clone(c.tags[tag])
	c.mu.RUnlock()

	result := make([]any, 0, len(abstracts))
	for _, abs := range abstracts {
		inst, err := c.Make(abs)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, nil
}

// ── Resolution ────────────────────────────────────────────────────────────────

// Make resolves an abstract from the container.
//
//	repo, err := c.Make("UserRepository")
func (c *Container) Make(abstract string) (any, error) {
	return c.MakeWith(abstract, nil)
}

// MakeWith resolves an abstract, using params for the dependencies of the
// concrete being built. Explicit params win over auto-wiring.
//
//	svc, err := c.MakeWith("ReportService", container.Params{"Format": "csv"})
func (c *Container) MakeWith(abstract string, params Params) (any, error) {
	inst, err := c.make(abstract, c.begin(), params)
	if err != nil {
		c.mu.RLock()
		logger := c.logger
		c.mu.RUnlock()
		logger.Debug("container: resolution failed", "abstract", abstract, "error", err)
		return nil, err
	}
	return inst, nil
}

// make is the internal resolver. It holds no lock across factory calls so
// factories may resolve other abstracts. The cycle check runs before the
// singleton lock is taken, so a factory cycle fails instead of blocking.
func (c *Container) make(abstract string, res *resolution, params Params) (any, error) {
	key := c.canonical(abstract)

	owner, b, inst, found := c.locate(key)
	if !found {
		return nil, res.fail(key, ErrAbstractNotFound)
	}
	if b == nil {
		return inst, nil
	}
	if owner != c {
		return owner.make(key, res, params)
	}
	if res.contains(key) {
		return nil, res.fail(key, ErrCircularDependency)
	}
	if !b.singleton {
		return c.produce(key, b, res, params)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c.mu.RLock()
	inst, ok := c.instances[key]
	c.mu.RUnlock()
	if ok {
		return inst, nil
	}

	inst, err := c.produce(key, b, res, params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// a concurrent overwrite replaced the binding; do not cache a stale build
	if c.bindings[key] == b {
		c.instances[key] = inst
	}
	c.mu.Unlock()
	return inst, nil
}

// locate walks the container chain for key and reports where it lives.
// A found key has either a binding or a bare instance.
func (c *Container) locate(key string) (owner *Container, b *binding, inst any, found bool) {
	for cc := c; cc != nil; cc = cc.parent {
		cc.mu.RLock()
		if i, ok := cc.instances[key]; ok {
			cc.mu.RUnlock()
			return cc, nil, i, true
		}
		if bb, ok := cc.bindings[key]; ok {
			cc.mu.RUnlock()
			return cc, bb, nil, true
		}
		cc.mu.RUnlock()
	}
	return nil, nil, nil, false
}

// produce builds the binding's concrete, applies extenders and fires callbacks.
func (c *Container) produce(key string, b *binding, res *resolution, params Params) (any, error) {
	instance, err := c.buildFrame(key, b.concrete, res, params)
	if err != nil {
		return nil, res.fail(key, err)
	}

	instance = c.applyExtenders(key, instance)
	c.fireAfterResolving(key, instance)
	return instance, nil
}

func (c *Container) buildFrame(key string, concrete any, res *resolution, params Params) (any, error) {
	res.push(key)
	defer res.pop()
	return c.build(concrete, res, params)
}

// build dispatches on the shape of the concrete. Factories get a view of c
// carrying res. A factory panicking with an error, as MustResolve does,
// fails the resolution with that error.
func (c *Container) build(concrete any, res *resolution, params Params) (instance any, err error) {
	switch cc := concrete.(type) {
	case Factory, ParamFactory, Invoker:
		v := c.view(res)
		defer v.active.Store(nil)
		defer func() {
			if r := recover(); r != nil {
				e, ok := r.(error)
				if !ok {
					panic(r)
				}
				instance, err = nil, e
			}
		}()
		switch f := cc.(type) {
		case Factory:
			return f(v), nil
		case ParamFactory:
			return f(v, params)
		case Invoker:
			return f.Invoke(v, params)
		}
	case reflect.Type:
		return c.buildClass(cc, res, params)
	}

	rv := reflect.ValueOf(concrete)
	if rv.Kind() == reflect.Func {
		return c.call(rv, res, params)
	}
	return concrete, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// Has reports whether an abstract has a binding or instance in c or a parent.
func (c *Container) Has(abstract string) bool {
	_, _, _, found := c.locate(c.canonical(abstract))
	return found
}

// Bound is an alias of Has.
func (c *Container) Bound(abstract string) bool { return c.Has(abstract) }

// Resolved returns true if the abstract has a cached instance.
func (c *Container) Resolved(abstract string) bool {
	_, b, _, found := c.locate(c.canonical(abstract))
	return found && b == nil
}

// IsShared reports whether the abstract resolves to one shared instance.
func (c *Container) IsShared(abstract string) bool {
	_, b, _, found := c.locate(c.canonical(abstract))
	return found && (b == nil || b.singleton)
}

// Forget removes the binding and cached instance of an abstract.
func (c *Container) Forget(abstract string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.canonicalLocked(abstract)
	delete(c.bindings, key)
	delete(c.instances, key)
}

// ForgetInstance drops a cached singleton so the next Make rebuilds it.
func (c *Container) ForgetInstance(abstract string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.canonicalLocked(abstract)
	if _, ok := c.bindings[key]; ok {
		delete(c.instances, key)
	}
}

// Flush resets the container, keeping only its self binding.
func (c *Container) Flush() {
	c.mu.Lock()
	c.bindings = make(map[string]*binding)
	c.instances = make(map[string]any)
	c.aliases = make(map[string]string)
	c.classes = make(map[string]reflect.Type)
	c.extenders = make(map[string][]Extender)
	c.tags = make(map[string][]string)
	c.contextual = make(map[string]map[string]Factory)
	c.reboundCallbacks = make(map[string][]func(any))
	c.afterResolving = nil
	c.mu.Unlock()
	c.Instance("container", c)
}

// Bindings returns the sorted abstract keys registered on c (for debugging).
func (c *Container) Bindings() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.bindings)+len(c.instances))
	for k := range c.bindings {
		out = append(out, k)
	}
	for k := range c.instances {
		if _, already := c.bindings[k]; !already {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// canonical resolves an alias to its canonical key, walking parents.
func (c *Container) canonical(abstract string) string {
	for cc := c; cc != nil; cc = cc.parent {
		cc.mu.RLock()
		target, ok := cc.aliases[abstract]
		cc.mu.RUnlock()
		if ok {
			return target
		}
	}
	return abstract
}

// canonicalLocked is canonical for callers holding c.mu.
func (c *Container) canonicalLocked(abstract string) string {
	if target, ok := c.aliases[abstract]; ok {
		return target
	}
	if c.parent != nil {
		return c.parent.canonical(abstract)
	}
	return abstract
}

// ── Callbacks ─────────────────────────────────────────────────────────────────

// Rebinding registers a callback called with the new instance whenever a
// resolved abstract is re-bound or replaced by Instance.
func (c *Container) Rebinding(abstract string, cb func(any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.canonicalLocked(abstract)
	c.reboundCallbacks[key] = append(c.reboundCallbacks[key], cb)
}

// AfterResolving registers a callback fired after any binding is built.
// Cached singletons and plain instances do not fire it again.
func (c *Container) AfterResolving(cb func(abstract string, instance any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterResolving = append(c.afterResolving, cb)
}

func (c *Container) fireRebound(abstract string, instance any) {
	c.mu.RLock()
	cbs := slices.Clone(c.reboundCallbacks[abstract])
	c.mu.RUnlock()
	for _, cb := range cbs {
		cb(instance)
	}
}

func (c *Container) fireAfterResolving(abstract string, instance any) {
	var cbs []func(string, any)
	for cc := c; cc != nil; cc = cc.parent {
		cc.mu.RLock()
		cbs = append(cbs, cc.afterResolving...)
		cc.mu.RUnlock()
	}
	for _, cb := range cbs {
		cb(abstract, instance)
	}
}

// ── Generics helpers ──────────────────────────────────────────────────────────

// Resolve calls Make and type-asserts the result.
//
//	db, err := container.Resolve[*sql.DB](c, "db")
func Resolve[T any](c *Container, abstract string) (T, error) {
	return ResolveWith[T](c, abstract, nil)
}

// ResolveWith calls MakeWith and type-asserts the result.
func ResolveWith[T any](c *Container, abstract string, params Params) (T, error) {
	var zero T
	instance, err := c.MakeWith(abstract, params)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("container: Resolve[%s]: [%s] resolved to %T", typeKey(reflect.TypeOf((*T)(nil)).Elem()), abstract, instance)
	}
	return typed, nil
}

// MustResolve is like Resolve but panics on failure. Meant for factories and
// bootstrap code where a missing binding is a programming error.
func MustResolve[T any](c *Container, abstract string) T {
	typed, err := Resolve[T](c, abstract)
	if err != nil {
		panic(err)
	}
	return typed
}

// IsNotFound reports whether err means an abstract was never registered.
func IsNotFound(err error) bool { return errors.Is(err, ErrAbstractNotFound) }
