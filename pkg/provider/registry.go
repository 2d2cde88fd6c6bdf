package provider

import "sort"

// Registry maps backend names to constructed providers. It is populated at
// startup and read-only afterwards; there is no dynamic plugin loading.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its own name.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Resolve returns the provider registered under name. An unregistered name
// is a fatal configuration error for the run, not retried.
func (r *Registry) Resolve(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, Errorf(KindUnknownProvider, name, "no provider registered for %q", name)
	}
	return p, nil
}

// Names lists the registered backends in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
