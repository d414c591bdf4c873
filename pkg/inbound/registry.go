package inbound

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
)

// Handler processes a stored inbound event.
type Handler func(ctx context.Context, e *Event) error

// Hook runs around handlers. A Before hook error stops processing.
type Hook func(ctx context.Context, e *Event) error

// AllSources registers hooks that run for every source.
const AllSources = "*"

type patternHandler struct {
	prefix  string
	handler Handler
}

// Registry holds the handlers of one Receiver. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]map[string]Handler
	patterns map[string][]patternHandler
	any      map[string]Handler
	before   map[string][]Hook
	after    map[string][]Hook
}

func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]map[string]Handler),
		patterns: make(map[string][]patternHandler),
		any:      make(map[string]Handler),
		before:   make(map[string][]Hook),
		after:    make(map[string][]Hook),
	}
}

// On registers h for event from source. An event ending in "*" is a prefix
// pattern: "invoice.*" handles "invoice.paid". A later registration for the
// same key replaces the earlier one.
func (r *Registry) On(source, event string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prefix, ok := strings.CutSuffix(event, "*"); ok && prefix != "" {
		list := slices.DeleteFunc(r.patterns[source], func(p patternHandler) bool { return p.prefix == prefix })
		list = append(list, patternHandler{prefix: prefix, handler: h})
		// Longest prefix wins.
		slices.SortStableFunc(list, func(a, b patternHandler) int { return cmp.Compare(len(b.prefix), len(a.prefix)) })
		r.patterns[source] = list
		return
	}
	if event == "*" {
		r.any[source] = h
		return
	}
	if r.exact[source] == nil {
		r.exact[source] = make(map[string]Handler)
	}
	r.exact[source][event] = h
}

// OnAny registers the fallback handler for source.
func (r *Registry) OnAny(source string, h Handler) {
	r.On(source, "*", h)
}

// Before adds a hook that runs before the handler. Use AllSources for a global hook.
func (r *Registry) Before(source string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.before[source] = append(r.before[source], h)
}

// After adds a hook that runs after the handler succeeds. Errors are logged only.
func (r *Registry) After(source string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.after[source] = append(r.after[source], h)
}

// Lookup finds the handler for event from source: the exact name first, then the
// source's catch-all, then prefix patterns.
func (r *Registry) Lookup(source, event string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.exact[source][event]; ok {
		return h, true
	}
	if h, ok := r.any[source]; ok {
		return h, true
	}
	for _, p := range r.patterns[source] {
		if len(event) > len(p.prefix) && strings.HasPrefix(event, p.prefix) {
			return p.handler, true
		}
	}
	return nil, false
}

func (r *Registry) hooks(source string, before bool) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.after
	if before {
		m = r.before
	}
	return slices.Concat(m[AllSources], m[source])
}
