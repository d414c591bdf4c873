package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Validator is implemented by config structs that check their own values after parsing.
type Validator interface {
	Validate() error
}

type cache struct {
	mu     sync.Mutex
	values map[string]any
}

var (
	loaded = &cache{values: make(map[string]any)}

	defaultEnvOnce sync.Once
)

// Option adjusts how a single Load call parses the environment.
type Option func(*env.Options)

// WithPrefix prepends prefix to every env key of the struct.
func WithPrefix(prefix string) Option {
	return func(o *env.Options) { o.Prefix = prefix }
}

// WithEnvironment parses from vars instead of the process environment.
// Results are not cached.
func WithEnvironment(vars map[string]string) Option {
	return func(o *env.Options) { o.Environment = vars }
}

// Load parses environment variables into v. The default .env file is read once
// per process when present. Each (type, prefix) pair is parsed once and served
// from cache afterwards. When *T implements Validator it is called before caching.
//
//	var cfg webhook.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T, opts ...Option) error {
	if v == nil {
		return ErrNilPointer
	}
	defaultEnvOnce.Do(func() {
		// A missing .env is fine.
		_ = godotenv.Load()
	})

	var o env.Options
	for _, opt := range opts {
		opt(&o)
	}
	cacheable := o.Environment == nil
	key := cacheKey[T](o.Prefix)

	if cacheable {
		loaded.mu.Lock()
		defer loaded.mu.Unlock()
		if cached, ok := loaded.values[key]; ok {
			*v = cached.(T)
			return nil
		}
	}

	var parsed T
	if err := env.ParseWithOptions(&parsed, o); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	if val, ok := any(&parsed).(Validator); ok {
		if err := val.Validate(); err != nil {
			return errors.Join(ErrInvalidConfig, err)
		}
	}

	if cacheable {
		loaded.values[key] = parsed
	}
	*v = parsed
	return nil
}

// MustLoad is Load that panics. Use it for settings a process cannot start without.
func MustLoad[T any](v *T, opts ...Option) {
	if err := Load(v, opts...); err != nil {
		panic(fmt.Sprintf("config: load %s: %v", cacheKey[T](""), err))
	}
}

// LoadEnv reads the given .env files into the process environment, later files
// overriding earlier ones. With no paths it reads .env from the working directory.
// Cached configs are dropped so the next Load sees the new values.
func LoadEnv(paths ...string) error {
	if err := godotenv.Overload(paths...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	Reset()
	return nil
}

// Reset drops every cached config.
func Reset() {
	loaded.mu.Lock()
	defer loaded.mu.Unlock()
	clear(loaded.values)
}

func cacheKey[T any](prefix string) string {
	t := reflect.TypeFor[T]()
	return prefix + t.PkgPath() + "." + t.String()
}
