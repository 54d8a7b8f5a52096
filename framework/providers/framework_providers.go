package providers

import (
	"io"
	"log/slog"
	"os"

	"github.com/km-arc/go-kernel/framework/config"
	"github.com/km-arc/go-kernel/framework/container"
	"github.com/km-arc/go-kernel/framework/http/middleware"
	"github.com/km-arc/go-kernel/framework/logging"
	"github.com/km-arc/go-kernel/framework/metrics"
	"github.com/km-arc/go-kernel/framework/routing"
	"github.com/km-arc/go-kernel/framework/telemetry"
)

// ── ConfigServiceProvider ─────────────────────────────────────────────────────

// ConfigServiceProvider loads the application configuration from .env and
// the YAML files under APP_CONFIG_PATH.
//
// Bound abstracts:
//   - "config"             → *config.Config
//   - "configuration"      → alias of "config"
//   - "config.repository"  → *config.Repository
type ConfigServiceProvider struct {
	container.BaseProvider
	EnvFiles []string
}

func (p *ConfigServiceProvider) Register(app *container.Container) {
	envFiles := p.EnvFiles
	app.MustSingleton("config", func(c *container.Container) any {
		return config.Load(envFiles...)
	})
	app.Alias("config", "configuration")

	app.MustSingleton("config.repository", func(c *container.Container, _ container.Params) (any, error) {
		cfg := container.MustResolve[*config.Config](c, "config")
		return config.LoadRepository(cfg.App.ConfigPath)
	})
}

// ── LoggingServiceProvider ────────────────────────────────────────────────────

// LoggingServiceProvider registers the structured logger and hands it to the
// container for its own debug output.
//
// Bound abstracts:
//   - "log"  → *slog.Logger
type LoggingServiceProvider struct {
	container.BaseProvider
	Writer io.Writer // default: os.Stderr
}

func (p *LoggingServiceProvider) Register(app *container.Container) {
	w := p.Writer
	if w == nil {
		w = os.Stderr
	}
	app.MustSingleton("log", func(c *container.Container) any {
		cfg := container.MustResolve[*config.Config](c, "config")
		return logging.New(cfg.Log, cfg.App.IsProduction(), w)
	})
}

func (p *LoggingServiceProvider) Boot(app *container.Container) {
	app.SetLogger(container.MustResolve[*slog.Logger](app, "log"))
}

// ── TelemetryServiceProvider ──────────────────────────────────────────────────

// TelemetryServiceProvider registers the OpenTelemetry tracer provider and
// installs it globally on boot.
//
// Bound abstracts:
//   - "telemetry"  → *telemetry.Provider
type TelemetryServiceProvider struct {
	container.BaseProvider
	Writer io.Writer // span output for the stdout exporter, default: os.Stdout
}

func (p *TelemetryServiceProvider) Register(app *container.Container) {
	w := p.Writer
	if w == nil {
		w = os.Stdout
	}
	app.MustSingleton("telemetry", func(c *container.Container, _ container.Params) (any, error) {
		cfg := container.MustResolve[*config.Config](c, "config")
		logger := container.MustResolve[*slog.Logger](c, "log")
		return telemetry.New(cfg.Telemetry, w, logger)
	})
}

func (p *TelemetryServiceProvider) Boot(app *container.Container) {
	container.MustResolve[*telemetry.Provider](app, "telemetry").Install()
}

// ── MetricsServiceProvider ────────────────────────────────────────────────────

// MetricsServiceProvider registers the Prometheus registry and counts every
// container resolution.
//
// Bound abstracts:
//   - "metrics"  → *metrics.Metrics
type MetricsServiceProvider struct {
	container.BaseProvider
	Namespace string // default: "kernel"
}

func (p *MetricsServiceProvider) Register(app *container.Container) {
	ns := p.Namespace
	if ns == "" {
		ns = "kernel"
	}
	app.MustSingleton("metrics", func(c *container.Container) any {
		return metrics.New(ns)
	})
}

func (p *MetricsServiceProvider) Boot(app *container.Container) {
	m := container.MustResolve[*metrics.Metrics](app, "metrics")
	app.AfterResolving(m.ObserveResolution)
}

// ── MiddlewareServiceProvider ─────────────────────────────────────────────────

// MiddlewareServiceProvider registers the built-in middleware classes and the
// handler that runs them.
//
// Bound abstracts:
//   - "middleware"  → *middleware.Handler
//   - "auth.guard"  → middleware.StaticTokens from auth.tokens
//
// Configuration keys read from "config.repository":
//   - middleware.global, middleware.aliases, middleware.groups
//   - auth.tokens (token → subject)
type MiddlewareServiceProvider struct {
	container.BaseProvider
}

func (p *MiddlewareServiceProvider) Register(app *container.Container) {
	middleware.Register(app)

	app.MustSingleton("auth.guard", func(c *container.Container) any {
		repo := container.MustResolve[*config.Repository](c, "config.repository")
		return middleware.StaticTokens(repo.StringMap("auth.tokens"))
	})

	app.MustSingleton("middleware", func(c *container.Container) any {
		cfg := container.MustResolve[*config.Config](c, "config")
		repo := container.MustResolve[*config.Repository](c, "config.repository")
		tp := container.MustResolve[*telemetry.Provider](c, "telemetry")

		return middleware.NewHandler(c, middleware.RepositoryLoader{Repo: repo},
			middleware.WithProduction(cfg.App.IsProduction()),
			middleware.WithLogger(container.MustResolve[*slog.Logger](c, "log")),
			middleware.WithTracer(tp.Tracer()),
			middleware.WithMetrics(container.MustResolve[*metrics.Metrics](c, "metrics")),
		)
	})
}

// ── RoutingServiceProvider ────────────────────────────────────────────────────

// RoutingServiceProvider registers the HTTP router and, on boot, the metrics
// endpoint.
//
// Bound abstracts:
//   - "router"  → *routing.Router
//
// Configuration keys read from "config.repository":
//   - metrics.path (default: "/metrics"; "off" disables the endpoint)
type RoutingServiceProvider struct {
	container.BaseProvider
}

func (p *RoutingServiceProvider) Register(app *container.Container) {
	app.MustSingleton("router", func(c *container.Container) any {
		m := container.MustResolve[*metrics.Metrics](c, "metrics")
		return routing.New(c,
			container.MustResolve[*middleware.Handler](c, "middleware"),
			routing.WithLogger(container.MustResolve[*slog.Logger](c, "log")),
			routing.WithInstrumentation(m.Instrument),
		)
	})
}

func (p *RoutingServiceProvider) Boot(app *container.Container) {
	repo := container.MustResolve[*config.Repository](app, "config.repository")
	path := repo.String("metrics.path", "/metrics")
	if path == "off" {
		return
	}
	router := container.MustResolve[*routing.Router](app, "router")
	router.Handle(path, container.MustResolve[*metrics.Metrics](app, "metrics").Handler())
}
