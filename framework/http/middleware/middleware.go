// Package middleware runs HTTP requests through configured middleware classes
// on top of the generic pipeline.
//
// Middleware is declared in config/middleware.yaml:
//
//	global:
//	  - RequestID
//	aliases:
//	  auth: Authenticate
//	groups:
//	  api: [auth]
//
// Names are resolved to classes registered in the container and each class is
// built fresh for every request.
package middleware

import (
	"errors"
	"fmt"

	"github.com/km-arc/go-kernel/framework/config"
	kernelhttp "github.com/km-arc/go-kernel/framework/http"
	"github.com/km-arc/go-kernel/framework/pipeline"
)

var (
	// ErrInvalidMiddleware is returned when a configured name does not build
	// a value implementing Middleware.
	ErrInvalidMiddleware = errors.New("middleware: invalid middleware")

	// ErrMustReturnResponse is returned when the chain finishes without a
	// response.
	ErrMustReturnResponse = errors.New("middleware: pipeline must return a response")

	// ErrPanic marks a recovered panic inside a stage.
	ErrPanic = errors.New("middleware: panic")
)

// MiddlewareError wraps any failure of the middleware chain. Middleware names
// the stage that failed; it is empty for failures of the destination or of
// the chain as a whole.
type MiddlewareError struct {
	Middleware string
	Err        error
}

func (e *MiddlewareError) Error() string {
	if e.Middleware == "" {
		return fmt.Sprintf("middleware pipeline: %v", e.Err)
	}
	return fmt.Sprintf("middleware [%s]: %v", e.Middleware, e.Err)
}

func (e *MiddlewareError) Unwrap() error { return e.Err }

// Next passes the request to the rest of the chain.
type Next = pipeline.Next[*kernelhttp.Request, *kernelhttp.Response]

// Middleware is the contract every middleware class implements.
type Middleware interface {
	Handle(req *kernelhttp.Request, next Next) (*kernelhttp.Response, error)
}

// Func adapts a function to Middleware.
type Func func(req *kernelhttp.Request, next Next) (*kernelhttp.Response, error)

func (f Func) Handle(req *kernelhttp.Request, next Next) (*kernelhttp.Response, error) {
	return f(req, next)
}

// ── Configuration ────────────────────────────────────────────────────────────

// Config lists the middleware applied to every request and the names routes
// may refer to.
type Config struct {
	Global  []string            `koanf:"global"`
	Aliases map[string]string   `koanf:"aliases"`
	Groups  map[string][]string `koanf:"groups"`
}

// Expand turns global plus route names into class names: groups are
// flattened, aliases replaced and duplicates dropped. Arguments after ":"
// are kept.
func (c Config) Expand(route []string) []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(names []string, groups map[string]bool)
	walk = func(names []string, groups map[string]bool) {
		for _, name := range names {
			if members, ok := c.Groups[name]; ok {
				if groups[name] {
					continue
				}
				groups[name] = true
				walk(members, groups)
				delete(groups, name)
				continue
			}
			class := c.resolveAlias(name)
			if !seen[class] {
				seen[class] = true
				out = append(out, class)
			}
		}
	}
	walk(c.Global, map[string]bool{})
	walk(route, map[string]bool{})
	return out
}

func (c Config) resolveAlias(name string) string {
	base, args := pipeline.ParsePipeString(name)
	class, ok := c.Aliases[base]
	if !ok {
		return name
	}
	if len(args) == 0 {
		return class
	}
	classBase, _ := pipeline.ParsePipeString(class)
	return classBase + name[len(base):]
}

// Loader supplies the middleware configuration.
type Loader interface {
	Load() (Config, error)
}

// StaticLoader always returns the same configuration.
type StaticLoader Config

func (l StaticLoader) Load() (Config, error) { return Config(l), nil }

// RepositoryLoader reads the configuration from a config repository key,
// re-reading the underlying files on every Load.
type RepositoryLoader struct {
	Repo *config.Repository
	Key  string // defaults to "middleware"
}

func (l RepositoryLoader) Load() (Config, error) {
	key := l.Key
	if key == "" {
		key = "middleware"
	}
	if err := l.Repo.Reload(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := l.Repo.Unmarshal(key, &cfg); err != nil {
		return Config{}, fmt.Errorf("middleware config [%s]: %w", key, err)
	}
	// scalar values come from the environment overlay
	if l.Repo.Has(key + ".global") {
		cfg.Global = l.Repo.Strings(key + ".global")
	}
	return cfg, nil
}
