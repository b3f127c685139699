// Package provider hosts the Git hosting implementations of domain.Provider
// and the registry used to construct and select them.
package provider

import (
	"fmt"

	"github.com/rios0rios0/depflow/domain"
)

// Factory is a constructor function that creates a Provider given an auth token.
type Factory func(token string) domain.Provider

// Registry manages all registered Git provider implementations.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a provider factory under the given name (e.g. "github").
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Get returns a configured provider instance for the given name and token.
func (r *Registry) Get(name, token string) (domain.Provider, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %q", name)
	}
	return factory(token), nil
}

// Names returns the list of registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Resolver selects a configured provider by repository URL.
type Resolver struct {
	providers []domain.Provider
}

// NewResolver creates a resolver over the given provider instances.
func NewResolver(providers ...domain.Provider) *Resolver {
	return &Resolver{providers: providers}
}

// ForRepository returns the provider whose host matches the repository URL.
func (r *Resolver) ForRepository(repoURI string) (domain.Provider, error) {
	for _, p := range r.providers {
		if p.MatchesURL(repoURI) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no provider configured for repository %q", repoURI)
}
