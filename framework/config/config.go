package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the typed process configuration read from the environment.
// Structured settings (middleware, routes) live in the Repository instead.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

type AppConfig struct {
	Name  string
	Env   string // local | production | testing
	Debug bool
	URL   string
	Key   string
	// ConfigPath is the directory holding the YAML config files.
	ConfigPath string
}

// IsProduction reports whether the application runs in production.
func (a AppConfig) IsProduction() bool { return a.Env == "production" }

type HTTPConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr is the listen address.
func (h HTTPConfig) Addr() string { return ":" + h.Port }

type LogConfig struct {
	Level  string // debug | info | warn | error
	Format string // text | json; empty picks json in production
}

type TelemetryConfig struct {
	Enabled     bool
	ServiceName string
	// Exporter is "stdout" or "none".
	Exporter string
}

// Load reads .env (if present) and populates a Config from environment variables.
// Call once at bootstrap: cfg := config.Load()
func Load(envFiles ...string) *Config {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	// .env may not exist in production
	_ = godotenv.Load(files...)

	name := envOr("APP_NAME", "GoKernel")
	return &Config{
		App: AppConfig{
			Name:       name,
			Env:        envOr("APP_ENV", "local"),
			Debug:      envBool("APP_DEBUG", true),
			URL:        envOr("APP_URL", "http://localhost"),
			Key:        envOr("APP_KEY", ""),
			ConfigPath: envOr("APP_CONFIG_PATH", "config"),
		},
		HTTP: HTTPConfig{
			Port:            envOr("APP_PORT", "8000"),
			ReadTimeout:     envDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    envDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: envDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			ServiceName: envOr("OTEL_SERVICE_NAME", name),
			Exporter:    envOr("OTEL_EXPORTER", "stdout"),
		},
	}
}

// Get returns a raw env value, falling back to defaultVal.
func Get(key, defaultVal string) string {
	return envOr(key, defaultVal)
}

// GetInt returns an int env value.
func GetInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// GetBool returns a bool env value.
func GetBool(key string, defaultVal bool) bool {
	return envBool(key, defaultVal)
}

// ── helpers ─────────────────────────────────────────────────────────────────

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return d
}
