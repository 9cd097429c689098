package exchange

import (
	"fmt"
	"sort"
	"sync"
)

// Credentials holds the API key material an adapter needs to authenticate.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Factory constructs a venue adapter from its credentials. Factories are
// registered by each venue package and resolved once at startup; there is no
// per-call dynamic lookup.
type Factory func(creds Credentials) (Exchange, error)

// Registry maps venue identifiers to constructed adapters. It is populated at
// startup from the configured exchange list and is safe for concurrent use.
type Registry struct {
	exchanges map[string]Exchange
	mu        sync.RWMutex
}

// NewRegistry returns an empty registry. Call Add for each enabled venue.
func NewRegistry() *Registry {
	return &Registry{exchanges: make(map[string]Exchange)}
}

// Add registers a constructed adapter under its own name.
func (r *Registry) Add(ex Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges[ex.Name()] = ex
}

// Get returns the adapter for a venue name, or an error if the venue was not
// enabled at startup.
func (r *Registry) Get(name string) (Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.exchanges[name]
	if !ok {
		return nil, fmt.Errorf("exchange %q not registered", name)
	}
	return ex, nil
}

// Names returns all registered venue names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.exchanges))
	for n := range r.exchanges {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// factories is the package-level table of known venue constructors, filled in
// by RegisterFactory from each adapter package.
var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a venue constructor available under the given name.
// Adapter packages call this from an init function.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Build constructs the adapter for a known venue name.
func Build(name string, creds Credentials) (Exchange, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("exchange %q has no registered factory", name)
	}
	return f(creds)
}
