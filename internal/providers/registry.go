package providers

import "fmt"

// Registry holds the configured providers and implements the failover
// policy: the first two attempts at any operation go to the primary
// rail, the third goes to the secondary.
type Registry struct {
	primary   Provider
	secondary Provider
	byName    map[string]Provider
}

// NewRegistry builds a registry from the configured failover order.
func NewRegistry(primaryName, secondaryName string, available ...Provider) (*Registry, error) {
	byName := make(map[string]Provider, len(available))
	for _, p := range available {
		byName[p.Name()] = p
	}

	primary, ok := byName[primaryName]
	if !ok {
		return nil, fmt.Errorf("primary provider %q not configured", primaryName)
	}
	secondary, ok := byName[secondaryName]
	if !ok {
		return nil, fmt.Errorf("secondary provider %q not configured", secondaryName)
	}

	return &Registry{primary: primary, secondary: secondary, byName: byName}, nil
}

// Select returns the provider for the given 1-based attempt number.
func (r *Registry) Select(attempt int) Provider {
	if attempt >= 3 {
		return r.secondary
	}
	return r.primary
}

// Primary returns the first-choice provider.
func (r *Registry) Primary() Provider { return r.primary }

// ByName resolves a provider from a stored name or webhook path.
func (r *Registry) ByName(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Names lists the configured provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
