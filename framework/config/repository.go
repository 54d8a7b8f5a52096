package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override file settings.
// APP__MIDDLEWARE__ALIASES__AUTH=Authenticate sets middleware.aliases.auth.
const EnvPrefix = "APP__"

// Repository holds the structured configuration loaded from a directory of
// YAML files. Each file is mounted under its base name: config/middleware.yaml
// becomes the "middleware" key.
type Repository struct {
	dir string
	// built from a map by NewRepository; Reload leaves it alone
	static bool

	mu sync.RWMutex
	k  *koanf.Koanf
}

// LoadRepository reads every *.yaml / *.yml file in dir and applies the
// APP__ environment overlay. A missing dir yields an env-only repository.
func LoadRepository(dir string) (*Repository, error) {
	r := &Repository{dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRepository creates a repository from an in-memory map, for tests and
// programmatic setups.
func NewRepository(values map[string]any) *Repository {
	k := koanf.New(".")
	for key, v := range values {
		_ = k.Set(key, v)
	}
	return &Repository{k: k, static: true}
}

// Dir returns the directory the repository was loaded from.
func (r *Repository) Dir() string { return r.dir }

// Reload re-reads the files and environment. In-memory repositories are left
// untouched.
func (r *Repository) Reload() error {
	if r.static {
		return nil
	}

	k := koanf.New(".")
	files, err := configFiles(r.dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		sub := koanf.New(".")
		if err := sub.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("config: loading %s: %w", path, err)
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if err := k.MergeAt(sub, name); err != nil {
			return fmt.Errorf("config: merging %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("config: loading environment: %w", err)
	}

	r.mu.Lock()
	r.k = k
	r.mu.Unlock()
	return nil
}

func configFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", dir, err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}

// envKey maps APP__MIDDLEWARE__GLOBAL to middleware.global.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func (r *Repository) store() *koanf.Koanf {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.k
}

// Has reports whether a dotted key is set.
func (r *Repository) Has(key string) bool { return r.store().Exists(key) }

// Get returns the raw value at a dotted key.
func (r *Repository) Get(key string) any { return r.store().Get(key) }

// String returns the string at key, or fallback when unset.
func (r *Repository) String(key string, fallback ...string) string {
	k := r.store()
	if !k.Exists(key) {
		return first(fallback)
	}
	return k.String(key)
}

// Bool returns the bool at key.
func (r *Repository) Bool(key string) bool { return r.store().Bool(key) }

// Strings returns a string list. A scalar string (as set from the environment)
// is split on commas.
func (r *Repository) Strings(key string) []string {
	switch v := r.store().Get(key).(type) {
	case nil:
		return nil
	case string:
		return splitList(v)
	default:
		return r.store().Strings(key)
	}
}

// StringMap returns a flat string map at key.
func (r *Repository) StringMap(key string) map[string]string {
	return r.store().StringMap(key)
}

// Keys returns the immediate child keys under key.
func (r *Repository) Keys(key string) []string {
	m := r.store().Cut(key).Raw()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Unmarshal decodes the subtree at key into out using `koanf` struct tags.
func (r *Repository) Unmarshal(key string, out any) error {
	return r.store().Unmarshal(key, out)
}

// All returns every value as a flat dotted-key map.
func (r *Repository) All() map[string]any { return r.store().All() }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func first(ss []string) string {
	if len(ss) > 0 {
		return ss[0]
	}
	return ""
}
