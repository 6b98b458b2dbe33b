package platform

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the known platforms
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Platform
}

// NewRegistry creates a registry with every built-in platform registered
func NewRegistry() *Registry {
	r := &Registry{platforms: make(map[string]Platform)}
	r.Register(NewAmazon())
	r.Register(NewAliExpress())
	r.Register(NewBing())
	r.Register(NewThieve())
	return r
}

// Register adds a platform, replacing any with the same name
func (r *Registry) Register(p Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[p.Name()] = p
}

// Get retrieves a platform by name
func (r *Registry) Get(name string) (Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, name)
	}
	return p, nil
}

// Names returns the sorted platform names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
