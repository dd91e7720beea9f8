package realtime

import (
	"sort"
	"sync"
)

// Registry is the process-wide directory from identity to live connection.
// It is created once at startup and shared by pointer between connection
// sessions and request handlers. A lookup always returns the most recently
// registered connection for an identity.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register maps identity to conn, superseding any previous mapping. The
// superseded connection, if any, is returned so the caller can log it; it is
// not closed.
func (r *Registry) Register(identity string, conn *Connection) (previous *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous = r.conns[identity]
	r.conns[identity] = conn
	if previous == conn {
		return nil
	}
	return previous
}

// Lookup returns the connection registered for identity.
func (r *Registry) Lookup(identity string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[identity]
	return c, ok
}

// Unregister removes the mapping for identity regardless of which
// connection it points at.
func (r *Registry) Unregister(identity string) {
	r.mu.Lock()
	delete(r.conns, identity)
	r.mu.Unlock()
}

// UnregisterIf removes the mapping for identity only if it still points at
// conn. It reports whether an entry was removed.
func (r *Registry) UnregisterIf(identity string, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[identity]; ok && current == conn {
		delete(r.conns, identity)
		return true
	}
	return false
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Identities returns the registered identities in sorted order.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// IsConnected reports whether identity has a registered connection.
func (r *Registry) IsConnected(identity string) bool {
	_, ok := r.Lookup(identity)
	return ok
}
