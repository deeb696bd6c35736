// Package registry tracks the volatile, in-memory side of connection state:
// which room a connection is bound to and which display names a connection
// has announced. Durable membership lives in persistence; this index only
// answers "where is this connection right now" and "which connections answer
// to this name".
package registry

import "sync"

// Binding is a connection's current room attachment.
type Binding struct {
	RoomId string
	Name   string
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Binding
	names map[string]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]Binding),
		names: make(map[string]map[string]struct{}),
	}
}

// Bind records that a connection is now attached to a room under a display
// name, replacing any previous binding. It also registers the name, so a
// joined connection is reachable by name without a separate announcement.
func (r *Registry) Bind(connId, roomId, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connId] = Binding{RoomId: roomId, Name: name}
	r.addName(connId, name)
}

// RegisterName announces a display name for a connection that may not be in
// any room yet. A connection can answer to several names over its lifetime.
func (r *Registry) RegisterName(connId, name string) {
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addName(connId, name)
}

func (r *Registry) addName(connId, name string) {
	if name == "" {
		return
	}
	set, ok := r.names[name]
	if !ok {
		set = make(map[string]struct{})
		r.names[name] = set
	}
	set[connId] = struct{}{}
}

// Binding returns the connection's current room attachment.
func (r *Registry) Binding(connId string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.conns[connId]
	return b, ok
}

// Unbind drops only the room attachment, keeping name registrations so the
// connection stays reachable for notifications. Returns the previous
// binding, if any.
func (r *Registry) Unbind(connId string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[connId]
	if ok {
		delete(r.conns, connId)
	}
	return b, ok
}

// DropNames removes the connection from every name entry, garbage
// collecting entries whose last connection disappeared.
func (r *Registry) DropNames(connId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, set := range r.names {
		if _, ok := set[connId]; !ok {
			continue
		}
		delete(set, connId)
		if len(set) == 0 {
			delete(r.names, name)
		}
	}
}

// LookupByName returns the ids of all connections registered under name.
func (r *Registry) LookupByName(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.names[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
