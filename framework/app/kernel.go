package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/km-arc/go-kernel/framework/config"
	"github.com/km-arc/go-kernel/framework/container"
	"github.com/km-arc/go-kernel/framework/http/middleware"
	"github.com/km-arc/go-kernel/framework/metrics"
	"github.com/km-arc/go-kernel/framework/providers"
	"github.com/km-arc/go-kernel/framework/routing"
	"github.com/km-arc/go-kernel/framework/telemetry"
)

// Version is the framework version.
const Version = "0.2.0"

// Application is the top-level application container.
// It embeds the IoC Container and ProviderRegistry so user code can
// call app.Bind(), app.Singleton(), app.Register() directly.
type Application struct {
	*container.Container
	Providers *container.ProviderRegistry
}

// New creates the application and registers the framework providers.
// Nothing is resolved until Boot.
func New(envFiles ...string) *Application {
	c := container.New()
	registry := container.NewProviderRegistry(c)

	app := &Application{
		Container: c,
		Providers: registry,
	}
	c.Instance("app", app)

	registry.Register(&providers.ConfigServiceProvider{EnvFiles: envFiles})
	registry.Register(&providers.LoggingServiceProvider{})
	registry.Register(&providers.TelemetryServiceProvider{})
	registry.Register(&providers.MetricsServiceProvider{})
	registry.Register(&providers.MiddlewareServiceProvider{})
	registry.Register(&providers.RoutingServiceProvider{})

	return app
}

// Register adds a ServiceProvider to the application.
func (a *Application) Register(provider container.ServiceProvider) {
	a.Providers.Register(provider)
}

// Boot runs the Boot() phase on all providers.
func (a *Application) Boot() {
	a.Providers.Boot()
}

// ── Services ─────────────────────────────────────────────────────────────────

func (a *Application) Config() *config.Config {
	return container.MustResolve[*config.Config](a.Container, "config")
}

func (a *Application) Repository() *config.Repository {
	return container.MustResolve[*config.Repository](a.Container, "config.repository")
}

func (a *Application) Logger() *slog.Logger {
	return container.MustResolve[*slog.Logger](a.Container, "log")
}

func (a *Application) Router() *routing.Router {
	return container.MustResolve[*routing.Router](a.Container, "router")
}

func (a *Application) Middleware() *middleware.Handler {
	return container.MustResolve[*middleware.Handler](a.Container, "middleware")
}

func (a *Application) Metrics() *metrics.Metrics {
	return container.MustResolve[*metrics.Metrics](a.Container, "metrics")
}

func (a *Application) Telemetry() *telemetry.Provider {
	return container.MustResolve[*telemetry.Provider](a.Container, "telemetry")
}

// ── HTTP ─────────────────────────────────────────────────────────────────────

// Handler is the router wrapped in a server span per request.
func (a *Application) Handler() http.Handler {
	return otelhttp.NewHandler(a.Router(), a.Config().App.Name,
		otelhttp.WithTracerProvider(a.Telemetry().TracerProvider()),
	)
}

// Server builds the http.Server for the configured address and timeouts.
func (a *Application) Server() *http.Server {
	cfg := a.Config()
	return &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      a.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(a.Logger().Handler(), slog.LevelError),
	}
}

// Run boots the application (if needed) and serves HTTP on the configured
// port until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if !a.Providers.Booted() {
		a.Boot()
	}
	ln, err := net.Listen("tcp", a.Config().HTTP.Addr())
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. On cancellation the server drains
// for HTTP_SHUTDOWN_TIMEOUT and the tracer provider is flushed.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	if !a.Providers.Booted() {
		a.Boot()
	}
	cfg := a.Config()
	logger := a.Logger()
	srv := a.Server()

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			slog.String("app", cfg.App.Name),
			slog.String("addr", ln.Addr().String()),
			slog.String("env", cfg.App.Env),
		)
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return errors.Join(srv.Shutdown(shutdownCtx), a.Telemetry().Shutdown(shutdownCtx))
}

// ── Environment ──────────────────────────────────────────────────────────────

// Environment returns APP_ENV value.
func (a *Application) Environment() string { return a.Config().App.Env }
func (a *Application) IsLocal() bool       { return a.Environment() == "local" }
func (a *Application) IsProduction() bool  { return a.Config().App.IsProduction() }
func (a *Application) IsTesting() bool     { return a.Environment() == "testing" }
func (a *Application) IsDebug() bool       { return a.Config().App.Debug }
func (a *Application) Version() string     { return Version }
