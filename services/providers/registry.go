package providers

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/upb/context-engine/config"
)

var (
	// ErrProviderAlreadyRegistered is returned when a name is reused within a scope
	ErrProviderAlreadyRegistered = errors.New("provider already registered")

	// ErrUnknownKind is returned by the builder for a kind with no factory
	ErrUnknownKind = errors.New("unknown provider kind")
)

// Scope selects where a provider is registered: globally or for one tenant
type Scope struct {
	Tenant string
}

// GlobalScope is the scope shared by every caller
var GlobalScope = Scope{}

// TenantScope returns the scope for one tenant
func TenantScope(id string) Scope {
	return Scope{Tenant: id}
}

// IsGlobal reports whether the scope is the global scope
func (s Scope) IsGlobal() bool {
	return s.Tenant == ""
}

// Registration is a named provider in a scope
type Registration struct {
	Name     string
	Tenant   string // empty for global providers
	Provider ContextProvider
}

// Registry holds global and per-tenant providers in registration order.
// It is populated at startup and only read afterwards.
type Registry struct {
	mu      sync.RWMutex
	global  []Registration
	tenants map[string][]Registration
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		tenants: make(map[string][]Registration),
	}
}

// Register adds a provider under name in scope
func (r *Registry) Register(scope Scope, name string, p ContextProvider) error {
	if p == nil {
		return errors.New("provider cannot be nil")
	}
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.global
	if !scope.IsGlobal() {
		list = r.tenants[scope.Tenant]
	}
	for _, reg := range list {
		if reg.Name == name {
			return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, name)
		}
	}

	reg := Registration{Name: name, Tenant: scope.Tenant, Provider: p}
	if scope.IsGlobal() {
		r.global = append(r.global, reg)
	} else {
		r.tenants[scope.Tenant] = append(list, reg)
	}
	return nil
}

// Resolve returns the effective providers for a tenant: the tenant's own
// providers in order, then every global provider whose name the tenant does
// not shadow. An empty or unknown tenant gets the global list.
func (r *Registry) Resolve(tenantID string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	own := r.tenants[tenantID]
	if tenantID == "" || len(own) == 0 {
		return append([]Registration(nil), r.global...)
	}

	shadowed := make(map[string]bool, len(own))
	out := make([]Registration, 0, len(own)+len(r.global))
	for _, reg := range own {
		shadowed[reg.Name] = true
		out = append(out, reg)
	}
	for _, reg := range r.global {
		if !shadowed[reg.Name] {
			out = append(out, reg)
		}
	}
	return out
}

// Global returns the global providers in registration order
func (r *Registry) Global() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]Registration(nil), r.global...)
}

// Tenants returns the IDs of tenants with at least one provider, sorted
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tenants))
	for id, regs := range r.tenants {
		if len(regs) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// TenantProviders returns only the providers registered for the tenant
func (r *Registry) TenantProviders(tenantID string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]Registration(nil), r.tenants[tenantID]...)
}

// All returns every registration: globals first, then each tenant in ID order
func (r *Registry) All() []Registration {
	all := r.Global()
	for _, id := range r.Tenants() {
		all = append(all, r.TenantProviders(id)...)
	}
	return all
}

// Count returns the total number of registrations across scopes
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.global)
	for _, regs := range r.tenants {
		n += len(regs)
	}
	return n
}

// Lookup finds a provider by name within a resolved list
func Lookup(regs []Registration, name string) (ContextProvider, bool) {
	for _, reg := range regs {
		if reg.Name == name {
			return reg.Provider, true
		}
	}
	return nil, false
}

// Factory creates a provider from its configuration block
type Factory func(cfg config.ProviderConfig) (ContextProvider, error)

// Builder builds a registry from configuration using a fixed table of factories
type Builder struct {
	factories map[string]Factory
	logger    *zap.Logger
}

// NewBuilder creates a new registry builder
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// WithFactory registers the factory for a provider kind
func (b *Builder) WithFactory(kind string, f Factory) *Builder {
	b.factories[kind] = f
	return b
}

// Kinds returns the registered provider kinds, sorted
func (b *Builder) Kinds() []string {
	kinds := make([]string, 0, len(b.factories))
	for k := range b.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build creates every configured provider and returns the populated registry
func (b *Builder) Build(pf *config.ProvidersFile) (*Registry, error) {
	registry := NewRegistry()
	if pf == nil {
		return registry, nil
	}

	for _, pc := range pf.Providers {
		if err := b.add(registry, GlobalScope, pc); err != nil {
			return nil, err
		}
	}
	for _, tenant := range pf.Tenants {
		for _, pc := range tenant.Providers {
			if err := b.add(registry, TenantScope(tenant.ID), pc); err != nil {
				return nil, err
			}
		}
	}

	b.logger.Info("provider registry built",
		zap.Int("global", len(registry.Global())),
		zap.Int("tenants", len(registry.Tenants())),
		zap.Int("total", registry.Count()),
	)
	return registry, nil
}

func (b *Builder) add(registry *Registry, scope Scope, pc config.ProviderConfig) error {
	factory, ok := b.factories[pc.Kind]
	if !ok {
		return fmt.Errorf("failed to build provider %s: %w: %q", pc.Name, ErrUnknownKind, pc.Kind)
	}
	p, err := factory(pc)
	if err != nil {
		return fmt.Errorf("failed to build provider %s: %w", pc.Name, err)
	}
	if err := registry.Register(scope, pc.Name, p); err != nil {
		return fmt.Errorf("failed to register provider %s: %w", pc.Name, err)
	}
	return nil
}
