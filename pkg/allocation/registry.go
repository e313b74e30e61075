package allocation

import "sort"

// Registry maps strategy labels to strategies. It is injected into callers
// instead of living in package-level state, so hosts can extend or replace the
// table at runtime without hidden globals. A Registry is not safe for
// concurrent mutation; populate it during startup.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// NewDefaultRegistry builds a registry with the built-in strategies:
// equal, price, mass, and manual_allocation.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Equal())
	r.Register(Property("price"))
	r.Register(Property("mass"))
	r.Register(Manual())
	return r
}

// Register adds a strategy under its own name, replacing any previous entry.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get returns the strategy registered under label.
func (r *Registry) Get(label string) (Strategy, bool) {
	s, ok := r.strategies[label]
	return s, ok
}

// Resolve returns the registered strategy for label, falling back to a
// property-based strategy reading the label as a function property. Unknown
// labels therefore stay usable as long as every function carries the property.
func (r *Registry) Resolve(label string) Strategy {
	if s, ok := r.strategies[label]; ok {
		return s
	}
	return Property(label)
}

// Labels returns the registered strategy names in sorted order.
func (r *Registry) Labels() []string {
	out := make([]string, 0, len(r.strategies))
	for label := range r.strategies {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// ResolveLabel picks the effective strategy label for a process: the
// process-level override wins over the database default. When neither is set
// a ConfigurationError is returned.
func ResolveLabel(databaseDefault, processOverride string) (string, error) {
	if processOverride != "" {
		return processOverride, nil
	}
	if databaseDefault != "" {
		return databaseDefault, nil
	}
	return "", ConfigurationError{}
}
