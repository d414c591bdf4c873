package signature

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Factory builds a Validator for a provider.
type Factory func() Validator

var builtin = map[string]Factory{
	"default": func() Validator { return HMAC{} },
	"hmac":    func() Validator { return HMAC{} },
	"github": func() Validator {
		return HMAC{Header: "X-Hub-Signature-256", Prefix: "sha256="}
	},
	"stripe": func() Validator { return Stripe{} },
	"shopify": func() Validator {
		return HMAC{Header: "X-Shopify-Hmac-Sha256", Encoding: Base64}
	},
	"slack": func() Validator {
		return HMAC{
			Header:          "X-Slack-Signature",
			Prefix:          "v0=",
			TimestampHeader: "X-Slack-Request-Timestamp",
			Base: func(ts string, body []byte) []byte {
				return append([]byte("v0:"+ts+":"), body...)
			},
		}
	},
	"api_key": func() Validator { return APIKey{} },
	"basic":   func() Validator { return Basic{} },
	"jwt":     func() Validator { return JWT{} },
}

// Registry maps provider names to validator factories.
// A new Registry starts with the built-in providers.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry seeded with the built-in providers.
func NewRegistry() *Registry {
	return &Registry{factories: maps.Clone(builtin)}
}

// Register adds or replaces a provider.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Validator returns a validator for the named provider. An empty name resolves to "default".
func (r *Registry) Validator(name string) (Validator, error) {
	if name == "" {
		name = "default"
	}
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return f(), nil
}

// Providers lists registered provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// ForProvider resolves a built-in provider.
func ForProvider(name string) (Validator, error) {
	if name == "" {
		name = "default"
	}
	f, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return f(), nil
}
