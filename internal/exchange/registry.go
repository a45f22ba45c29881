package exchange

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the exchange clients built for this process.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register adds a client under its name.
func (r *Registry) Register(c *Client) error {
	if c == nil {
		return fmt.Errorf("client is required")
	}
	name := strings.ToLower(c.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("exchange %s already registered", name)
	}
	r.clients[name] = c
	return nil
}

// Get returns the named client.
func (r *Registry) Get(name string) (*Client, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Names lists registered exchanges in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
