package container_test

import (
	"slices"
	"testing"

	"github.com/km-arc/go-kernel/framework/container"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

// journal records provider lifecycle events in order.
type journal []string

func (j *journal) add(event string) { *j = append(*j, event) }

// Greeter is built by auto-wiring from a deferred provider.
type Greeter struct {
	Prefix string `inject:"greeting.prefix"`
}

// recordingProvider binds one abstract and records its lifecycle.
type recordingProvider struct {
	container.BaseProvider
	name     string
	abstract string
	value    any
	log      *journal
}

func (p *recordingProvider) Register(app *container.Container) {
	p.log.add(p.name + ".register")
	app.MustSingleton(p.abstract, func(*container.Container) any { return p.value })
}

func (p *recordingProvider) Boot(app *container.Container) {
	p.log.add(p.name + ".boot")
}

// greetingProvider is deferred and provides two abstracts.
type greetingProvider struct {
	container.BaseProvider
	log *journal
}

func (p *greetingProvider) Register(app *container.Container) {
	p.log.add("greeting.register")
	app.Instance("greeting.prefix", "hello")
	app.MustSingleton("greeter", container.Class[*Greeter]())
}

func (p *greetingProvider) Boot(app *container.Container) { p.log.add("greeting.boot") }
func (p *greetingProvider) IsDeferred() bool              { return true }
func (p *greetingProvider) Provides() []string            { return []string{"greeter", "greeting.prefix"} }

// lookupProvider resolves another provider's binding during Boot.
type lookupProvider struct {
	container.BaseProvider
	seen string
}

func (p *lookupProvider) Register(*container.Container) {}

func (p *lookupProvider) Boot(app *container.Container) {
	p.seen = container.MustResolve[string](app, "dsn")
}

func newRegistry() (*container.Container, *container.ProviderRegistry, *journal) {
	c := container.New()
	return c, container.NewProviderRegistry(c), &journal{}
}

// ── Eager providers ───────────────────────────────────────────────────────────

func TestRegistry_RegisterNowBootLaterInOrder(t *testing.T) {
	c, reg, log := newRegistry()
	reg.Register(&recordingProvider{name: "db", abstract: "dsn", value: "postgres://", log: log})
	reg.Register(&recordingProvider{name: "cache", abstract: "cache.driver", value: "memory", log: log})

	if want := (journal{"db.register", "cache.register"}); !slices.Equal(*log, want) {
		t.Fatalf("before Boot: got %v want %v", *log, want)
	}
	if reg.Booted() {
		t.Error("Booted() should be false before Boot()")
	}

	reg.Boot()
	reg.Boot()

	want := journal{"db.register", "cache.register", "db.boot", "cache.boot"}
	if !slices.Equal(*log, want) {
		t.Errorf("after Boot: got %v want %v", *log, want)
	}
	if !reg.Booted() {
		t.Error("Booted() should be true after Boot()")
	}
	if got := container.MustResolve[string](c, "cache.driver"); got != "memory" {
		t.Errorf("cache.driver: got %q", got)
	}
}

func TestRegistry_SameProviderRegisteredOnce(t *testing.T) {
	_, reg, log := newRegistry()
	p := &recordingProvider{name: "db", abstract: "dsn", value: "x", log: log}
	reg.Register(p)
	reg.Register(p)

	if len(*log) != 1 {
		t.Errorf("events: got %v, want a single register", *log)
	}
	if len(reg.Providers()) != 1 {
		t.Errorf("Providers(): got %d want 1", len(reg.Providers()))
	}
}

func TestRegistry_BootSeesEveryRegistration(t *testing.T) {
	_, reg, log := newRegistry()
	lookup := &lookupProvider{}
	// registered before the provider whose binding it reads
	reg.Register(lookup)
	reg.Register(&recordingProvider{name: "db", abstract: "dsn", value: "sqlite://", log: log})
	reg.Boot()

	if lookup.seen != "sqlite://" {
		t.Errorf("Boot resolved %q, want sqlite://", lookup.seen)
	}
}

func TestRegistry_RegisterAfterBootBootsImmediately(t *testing.T) {
	_, reg, log := newRegistry()
	reg.Boot()
	reg.Register(&recordingProvider{name: "late", abstract: "late", value: 1, log: log})

	if want := (journal{"late.register", "late.boot"}); !slices.Equal(*log, want) {
		t.Errorf("got %v want %v", *log, want)
	}
}

// ── Deferred providers ────────────────────────────────────────────────────────

func TestRegistry_DeferredLoadsOnFirstMake(t *testing.T) {
	c, reg, log := newRegistry()
	reg.Register(&greetingProvider{log: log})
	reg.Boot()

	if len(*log) != 0 {
		t.Fatalf("deferred provider touched before Make: %v", *log)
	}
	if got := reg.Deferred(); !slices.Equal(got, []string{"greeter", "greeting.prefix"}) {
		t.Errorf("Deferred(): got %v", got)
	}
	if len(reg.Providers()) != 0 {
		t.Errorf("Providers() should list eager providers only, got %d", len(reg.Providers()))
	}

	g, err := container.Resolve[*Greeter](c, "greeter")
	if err != nil {
		t.Fatalf("Resolve greeter: %v", err)
	}
	if g.Prefix != "hello" {
		t.Errorf("Greeter.Prefix: got %q want hello", g.Prefix)
	}
	if want := (journal{"greeting.register", "greeting.boot"}); !slices.Equal(*log, want) {
		t.Errorf("events: got %v want %v", *log, want)
	}
}

func TestRegistry_DeferredLoadsOnceForAllAbstracts(t *testing.T) {
	c, reg, log := newRegistry()
	reg.Register(&greetingProvider{log: log})

	if got := container.MustResolve[string](c, "greeting.prefix"); got != "hello" {
		t.Errorf("greeting.prefix: got %q", got)
	}
	first := container.MustResolve[*Greeter](c, "greeter")
	second := container.MustResolve[*Greeter](c, "greeter")

	if first != second {
		t.Error("greeter should be a singleton once the provider is loaded")
	}
	if want := (journal{"greeting.register"}); !slices.Equal(*log, want) {
		t.Errorf("events: got %v want %v (not booted yet)", *log, want)
	}
	if len(reg.Deferred()) != 0 {
		t.Errorf("Deferred(): got %v, want none left", reg.Deferred())
	}
}

// ── BaseProvider ──────────────────────────────────────────────────────────────

func TestBaseProvider_Defaults(t *testing.T) {
	var p container.BaseProvider
	p.Boot(container.New())

	if p.IsDeferred() || len(p.Provides()) != 0 {
		t.Error("BaseProvider should be eager and provide nothing")
	}
}
