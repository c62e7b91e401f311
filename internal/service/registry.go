// internal/service/registry.go
package service

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"arrowhead-go/internal/common/registry"
	"arrowhead-go/internal/protocol"
)

// Match is the outcome of a successful lookup.
type Match struct {
	Definition *Definition
	PathParams []string
}

// Registry holds the services of one provider. Registration happens at
// startup; once frozen the registry is read-only and lookups take no lock.
type Registry struct {
	modules *registry.Registry[string, Module]
	names   *registry.Registry[string, *Definition]

	mu     sync.RWMutex
	defs   []*Definition // most specific pattern first
	frozen atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{
		modules: registry.New[string, Module](),
		names:   registry.New[string, *Definition](),
	}
}

func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(def)
}

func (r *Registry) registerLocked(defs ...*Definition) error {
	if r.frozen.Load() {
		return fmt.Errorf("register service: registry is frozen")
	}
	seen := make([]*Definition, 0, len(r.defs)+len(defs))
	seen = append(seen, r.defs...)
	for _, def := range defs {
		if def == nil {
			return fmt.Errorf("register service: nil definition")
		}
		for _, other := range seen {
			if other.name == def.name {
				return fmt.Errorf("%w: name %q already registered", protocol.ErrConflict, def.name)
			}
			if def.conflictsWith(other) {
				return fmt.Errorf("%w: %s overlaps %s", protocol.ErrConflict, def, other)
			}
		}
		seen = append(seen, def)
	}
	for _, def := range defs {
		_ = r.names.Register(def.name, def)
		r.defs = append(r.defs, def)
	}
	sort.SliceStable(r.defs, func(i, j int) bool {
		return r.defs[i].pattern.moreSpecific(r.defs[j].pattern)
	})
	return nil
}

// RegisterModule initializes m and registers all of its services, or none
// of them.
func (r *Registry) RegisterModule(m Module) error {
	name := m.Name()
	if _, exists := r.modules.Get(name); exists {
		return fmt.Errorf("module %s already registered", name)
	}

	if err := m.Init(); err != nil {
		return fmt.Errorf("init module %s failed: %w", name, err)
	}

	defs, err := m.Services()
	if err != nil {
		return fmt.Errorf("module %s services: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.registerLocked(defs...); err != nil {
		return fmt.Errorf("module %s: %w", name, err)
	}
	return r.modules.Register(name, m)
}

// Freeze ends registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool { return r.frozen.Load() }

// Lookup finds the most specific service whose pattern matches path and
// whose method set admits method.
func (r *Registry) Lookup(method protocol.Method, path string) (Match, error) {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	segments := splitPath(path)
	for _, def := range r.defs {
		if !def.Admits(method) {
			continue
		}
		if params, ok := def.pattern.match(segments); ok {
			return Match{Definition: def, PathParams: params}, nil
		}
	}
	return Match{}, fmt.Errorf("%w: %s %s", protocol.ErrNoService, method, path)
}

func (r *Registry) Get(name string) (*Definition, bool) {
	return r.names.Get(name)
}

// Definitions returns the registered services sorted by pattern.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, len(r.defs))
	copy(out, r.defs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern() != out[j].Pattern() {
			return out[i].Pattern() < out[j].Pattern()
		}
		return out[i].name < out[j].name
	})
	return out
}

func (r *Registry) Modules() []Module {
	return r.modules.Snapshot(func(a, b string) bool { return a < b })
}
