package tramite

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// HierarchyProvider resolves which actors are eligible for a node. Params
// come from the node's auth-filter, with ref-typed params already resolved
// to concrete actor identifiers.
type HierarchyProvider interface {
	ValidateUser(ctx context.Context, identifier string, params map[string]string) (bool, error)
	FindUsers(ctx context.Context, params map[string]string) ([]string, error)
}

// Authenticator verifies credentials and returns the actor identifier. It
// is consumed by the API surface, not the handler, but lives in the same
// registry so deployments configure both in one place.
type Authenticator interface {
	Authenticate(ctx context.Context, credentials map[string]string) (string, error)
}

// HierarchyFactory builds a provider from its configuration block.
type HierarchyFactory func(config map[string]any) (HierarchyProvider, error)

// AuthenticatorFactory builds an authenticator from its configuration block.
type AuthenticatorFactory func(config map[string]any) (Authenticator, error)

// ProviderRegistry maps provider names to factories. It is populated at
// process startup from configuration; lookups of unknown names or factories
// that fail to construct report ErrMisconfiguredProvider.
type ProviderRegistry struct {
	mutex         sync.RWMutex
	hierarchies   map[string]HierarchyFactory
	authFactories map[string]AuthenticatorFactory
	built         map[string]HierarchyProvider
	builtAuth     map[string]Authenticator
	configs       map[string]map[string]any
}

// NewProviderRegistry returns a registry with the built-in static backend
// registered.
func NewProviderRegistry() *ProviderRegistry {
	r := &ProviderRegistry{
		hierarchies:   map[string]HierarchyFactory{},
		authFactories: map[string]AuthenticatorFactory{},
		built:         map[string]HierarchyProvider{},
		builtAuth:     map[string]Authenticator{},
		configs:       map[string]map[string]any{},
	}
	r.RegisterHierarchy("static", NewStaticProvider)
	return r
}

// RegisterHierarchy adds a hierarchy provider factory under a name.
func (r *ProviderRegistry) RegisterHierarchy(name string, factory HierarchyFactory) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.hierarchies[name] = factory
}

// RegisterAuthenticator adds an authenticator factory under a name.
func (r *ProviderRegistry) RegisterAuthenticator(name string, factory AuthenticatorFactory) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.authFactories[name] = factory
}

// Configure records per-provider configuration blocks, normally from the
// runtime Config.
func (r *ProviderRegistry) Configure(configs []ProviderConfig) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, pc := range configs {
		r.configs[pc.Name] = pc.Params
	}
}

// Hierarchy returns the named provider, constructing it on first use.
func (r *ProviderRegistry) Hierarchy(name string) (HierarchyProvider, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if p, ok := r.built[name]; ok {
		return p, nil
	}
	factory, ok := r.hierarchies[name]
	if !ok {
		return nil, fmt.Errorf("%w: no hierarchy provider named %q", ErrMisconfiguredProvider, name)
	}
	p, err := factory(r.configs[name])
	if err != nil {
		return nil, fmt.Errorf("%w: provider %q: %s", ErrMisconfiguredProvider, name, err)
	}
	r.built[name] = p
	return p, nil
}

// Auth returns the named authenticator, constructing it on first use.
func (r *ProviderRegistry) Auth(name string) (Authenticator, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if a, ok := r.builtAuth[name]; ok {
		return a, nil
	}
	factory, ok := r.authFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: no authenticator named %q", ErrMisconfiguredProvider, name)
	}
	a, err := factory(r.configs[name])
	if err != nil {
		return nil, fmt.Errorf("%w: authenticator %q: %s", ErrMisconfiguredProvider, name, err)
	}
	r.builtAuth[name] = a
	return a, nil
}

// StaticProvider resolves candidates from its filter params: the "users"
// param is a comma-separated identifier list. Useful for tests and small
// deployments without a directory service.
type StaticProvider struct{}

// NewStaticProvider builds the static backend; it takes no configuration.
func NewStaticProvider(map[string]any) (HierarchyProvider, error) {
	return &StaticProvider{}, nil
}

func (p *StaticProvider) FindUsers(ctx context.Context, params map[string]string) ([]string, error) {
	raw, ok := params["users"]
	if !ok {
		return nil, fmt.Errorf("static backend requires a users param")
	}
	var users []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	return users, nil
}

func (p *StaticProvider) ValidateUser(ctx context.Context, identifier string, params map[string]string) (bool, error) {
	users, err := p.FindUsers(ctx, params)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u == identifier {
			return true, nil
		}
	}
	return false, nil
}
