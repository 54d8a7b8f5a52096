package container

import (
	"slices"
	"sync"
)

// ── ServiceProvider interface ─────────────────────────────────────────────────

// ServiceProvider groups related bindings.
//
// Register is called as soon as the provider is added; Boot runs after every
// provider has registered, so it is safe to resolve other bindings there.
//
//	type AppServiceProvider struct{ container.BaseProvider }
//
//	func (p *AppServiceProvider) Register(app *container.Container) {
//	    app.MustSingleton("reports", container.Class[*reports.Service]())
//	}
//
//	func (p *AppServiceProvider) Boot(app *container.Container) {
//	    logger := container.MustResolve[*slog.Logger](app, "log")
//	    logger.Info("application booted")
//	}
type ServiceProvider interface {
	// Register binds services into the container.
	// Do NOT resolve other bindings here; use Boot() for that.
	Register(app *Container)

	// Boot is called after all providers are registered.
	Boot(app *Container)

	// Provides lists the abstracts a deferred provider registers.
	Provides() []string

	// IsDeferred returns true if the provider should only be registered when
	// one of its Provides() abstracts is first resolved.
	IsDeferred() bool
}

// ── BaseProvider ──────────────────────────────────────────────────────────────

// BaseProvider is an embeddable struct that provides no-op implementations
// of Boot(), Provides(), and IsDeferred().
type BaseProvider struct{}

func (p *BaseProvider) Boot(_ *Container)  {}
func (p *BaseProvider) Provides() []string { return nil }
func (p *BaseProvider) IsDeferred() bool   { return false }

// ── ProviderRegistry ──────────────────────────────────────────────────────────

// ProviderRegistry manages registration and booting of ServiceProviders,
// including deferred providers.
type ProviderRegistry struct {
	app *Container

	mu         sync.Mutex
	eager      []ServiceProvider
	deferred   map[string]ServiceProvider // abstract → provider
	loaded     map[ServiceProvider]bool   // deferred providers already registered
	registered map[ServiceProvider]bool
	booted     bool
}

// NewProviderRegistry creates a registry bound to app.
func NewProviderRegistry(app *Container) *ProviderRegistry {
	return &ProviderRegistry{
		app:        app,
		deferred:   make(map[string]ServiceProvider),
		loaded:     make(map[ServiceProvider]bool),
		registered: make(map[ServiceProvider]bool),
	}
}

// Register adds a provider and calls its Register() method unless it is
// deferred. Registering the same provider twice is a no-op.
func (r *ProviderRegistry) Register(provider ServiceProvider) {
	r.mu.Lock()
	if r.registered[provider] {
		r.mu.Unlock()
		return
	}
	r.registered[provider] = true

	if provider.IsDeferred() {
		for _, abstract := range provider.Provides() {
			r.deferred[abstract] = provider
		}
		r.mu.Unlock()
		r.interceptDeferred(provider)
		return
	}

	r.eager = append(r.eager, provider)
	booted := r.booted
	r.mu.Unlock()

	provider.Register(r.app)
	// late registrations boot immediately
	if booted {
		provider.Boot(r.app)
	}
}

// interceptDeferred binds a placeholder for each deferred abstract. The first
// resolution drops the placeholders, registers the provider for real and
// resolves again.
func (r *ProviderRegistry) interceptDeferred(provider ServiceProvider) {
	for _, abstract := range provider.Provides() {
		abs := abstract
		r.app.MustBind(abs, func(_ *Container, params Params) (any, error) {
			r.load(provider)
			// a fresh resolution: the placeholder's own frame is still on
			// the caller's stack
			return r.app.MakeWith(abs, params)
		}, WithOverwrite())
	}
}

// load registers a deferred provider once.
func (r *ProviderRegistry) load(provider ServiceProvider) {
	r.mu.Lock()
	if r.loaded[provider] {
		r.mu.Unlock()
		return
	}
	r.loaded[provider] = true
	for _, abs := range provider.Provides() {
		delete(r.deferred, abs)
	}
	booted := r.booted
	r.mu.Unlock()

	for _, abs := range provider.Provides() {
		r.app.Forget(abs)
	}
	provider.Register(r.app)
	if booted {
		provider.Boot(r.app)
	}
}

// Boot calls Boot() on all eager providers, once.
func (r *ProviderRegistry) Boot() {
	r.mu.Lock()
	if r.booted {
		r.mu.Unlock()
		return
	}
	r.booted = true
	providers := append([]ServiceProvider(nil), r.eager...)
	r.mu.Unlock()

	for _, provider := range providers {
		provider.Boot(r.app)
	}
}

// Booted returns true if Boot() has been called.
func (r *ProviderRegistry) Booted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.booted
}

// Providers returns all registered eager providers.
func (r *ProviderRegistry) Providers() []ServiceProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ServiceProvider(nil), r.eager...)
}

// Deferred returns the abstracts still waiting on a deferred provider, sorted.
func (r *ProviderRegistry) Deferred() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.deferred))
	for abs := range r.deferred {
		out = append(out, abs)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}
