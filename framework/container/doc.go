// Package container provides an IoC (Inversion of Control) container and a
// Service Provider system.
//
// # Overview
//
// The container maps abstract keys to concretes and manages their lifetime.
// It supports transient bindings, singletons, pre-built instances, aliases,
// tags, contextual bindings, extension (decoration) and nested child
// containers.
//
// # Container Lifecycle
//
//  1. Create: c := container.New()
//  2. Register providers: registry.Register(&MyProvider{})
//  3. Boot: registry.Boot()       : safe to resolve everything after this
//  4. Serve requests
//
// # Bindings
//
//	// Transient: new instance every Make()
//	c.Bind("Foo", func(c *container.Container) any { return &Foo{} })
//
//	// Singleton: created once, reused
//	c.Singleton("cache", container.Class[*RedisCache]())
//
//	// Constructor: parameters resolved by type
//	c.Singleton(container.KeyOf[*Mailer](), NewMailer) // func NewMailer(cfg *config.Config) (*Mailer, error)
//
//	// Pre-built value
//	c.Instance("config", myConfig)
//
//	// Alias
//	c.Alias("cache", "cacheManager")
//
// Re-binding an abstract keeps the first binding unless WithOverwrite is
// passed.
//
// # Auto-wiring
//
// Struct concretes are built field by field. Fields tagged `inject` are
// resolved from explicit params (by field name), contextual bindings, the
// container (by tag value or TypeKey), auto-built structs, or a `default`
// tag, in that order:
//
//	type ReportService struct {
//	    Repo   ReportRepository `inject:""`
//	    Logger *slog.Logger     `inject:"log"`
//	    Format string           `inject:"" default:"json"`
//	}
//
//	svc, err := c.MakeWith("reports", container.Params{"Format": "csv"})
//
// # Resolving
//
//	raw, err := c.Make("cache")
//	cache, err := container.Resolve[*RedisCache](c, "cache")
//	cache := container.MustResolve[*RedisCache](c, "cache") // bootstrap code only
//
// # Contextual Binding
//
//	c.When("PhotoController").
//	    Needs("Filesystem").
//	    Give(func(c *container.Container) any { return &S3Filesystem{} })
//
// # Tags
//
//	c.Tag([]string{"CpuReport", "MemReport"}, "reports")
//	reports, err := c.Tagged("reports")
//
// # Extend / Decorate
//
//	c.Extend("logger", func(instance any, c *container.Container) any {
//	    return &TimestampLogger{Inner: instance.(*Logger)}
//	})
//
// # Classes
//
// Struct types can be registered by name and built fresh with Build, which is
// how configuration refers to middleware:
//
//	c.RegisterClassAs("Authenticate", container.Class[*Authenticate]())
//	mw, err := c.Child().Build("Authenticate", nil)
//
// # Service Providers
//
//	type AppServiceProvider struct{ container.BaseProvider }
//
//	func (p *AppServiceProvider) Register(app *container.Container) {
//	    app.MustSingleton("mailer", NewMailer)
//	}
//
//	registry := container.NewProviderRegistry(c)
//	registry.Register(&AppServiceProvider{})
//	registry.Boot()
//
// Deferred providers return true from IsDeferred and list their abstracts in
// Provides; they are registered on the first Make of one of those abstracts.
package container
