package realtime

import "sync"

// Conn is a non-owning handle to a live client connection. The transport
// layer owns the handle's lifetime; the registry only looks it up.
type Conn interface {
	// Push delivers a server-initiated event to the connection. Delivery is
	// best-effort: a slow or gone consumer drops the frame.
	Push(event string, data interface{})
}

// Registry tracks which user currently has an active connection.
// It holds at most one handle per user: a new registration for the same
// user replaces the previous one (last-connection-wins).
type Registry struct {
	mu    sync.Mutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register installs conn as the active connection for userID, replacing any
// prior handle. The replaced handle is returned so the caller can observe
// the supersession; nil when the user had no connection.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[userID]
	r.conns[userID] = conn
	return prev
}

// Unregister removes the mapping for userID only if the stored handle is
// the same one being unregistered. A stale disconnect for a handle already
// superseded by a newer registration is a no-op. Reports whether a removal
// actually happened.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[userID] != conn {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Lookup returns the current handle for userID, or nil
func (r *Registry) Lookup(userID string) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.conns[userID]
}

// Snapshot returns a copy of the current userID -> handle mapping
func (r *Registry) Snapshot() map[string]Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Conn, len(r.conns))
	for id, c := range r.conns {
		out[id] = c
	}
	return out
}
