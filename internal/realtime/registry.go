package realtime

import "sync"

// Registry maps a user id to the single connection that currently receives
// that user's events. Registering a second connection for the same user
// replaces the entry; the previous connection is returned but left open.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register stores conn for userID and returns the connection it replaced, if any.
func (r *Registry) Register(userID string, conn *Connection) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.conns[userID]
	r.conns[userID] = conn
	if previous == conn {
		return nil
	}
	return previous
}

// Unregister removes whatever connection is stored for userID.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, userID)
}

// UnregisterIf removes the entry for userID only while it still points at
// conn. It reports whether the entry was removed.
func (r *Registry) UnregisterIf(userID string, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.conns[userID]; ok && current == conn {
		delete(r.conns, userID)
		return true
	}
	return false
}

// Lookup returns the registered connection for userID.
func (r *Registry) Lookup(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// AllUserIDs returns a snapshot of every registered user id.
func (r *Registry) AllUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
