package hub

import (
	"errors"
	"sync"

	"github.com/parleyhq/parley/internal/auth"
)

// ErrUnknownConnection indicates an operation referenced a connection id that
// is not (or no longer) registered.
var ErrUnknownConnection = errors.New("hub: unknown connection")

type registryEntry struct {
	claims        auth.Claims
	authenticated bool
	rooms         map[string]struct{}
}

// Registry tracks live connections, their authenticated identity, and their
// room memberships. All mutations go through the registry mutex; callers
// receive snapshots, never live map references, so an in-flight broadcast
// observes membership as of the moment it started.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*registryEntry
}

// NewRegistry constructs an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*registryEntry)}
}

// Register adds a connection with no identity and no rooms.
func (r *Registry) Register(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connectionID]; ok {
		return
	}
	r.conns[connectionID] = &registryEntry{rooms: make(map[string]struct{})}
}

// AttachIdentity binds validated claims to a registered connection. The
// identity is immutable for the connection's lifetime.
func (r *Registry) AttachIdentity(connectionID string, claims auth.Claims) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[connectionID]
	if !ok {
		return ErrUnknownConnection
	}
	entry.claims = claims
	entry.authenticated = true
	return nil
}

// Identity returns the claims attached to the connection.
func (r *Registry) Identity(connectionID string) (auth.Claims, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[connectionID]
	if !ok || !entry.authenticated {
		return auth.Claims{}, false
	}
	return entry.claims, true
}

// JoinRoom adds the connection to the named room. Joining a room already
// joined is a no-op, not an error.
func (r *Registry) JoinRoom(connectionID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[connectionID]
	if !ok {
		return ErrUnknownConnection
	}
	entry.rooms[room] = struct{}{}
	return nil
}

// LeaveRoom removes the connection from the named room. Leaving a room not
// joined is a no-op, not an error.
func (r *Registry) LeaveRoom(connectionID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[connectionID]
	if !ok {
		return ErrUnknownConnection
	}
	delete(entry.rooms, room)
	return nil
}

// MembersOf returns a snapshot of the connection ids currently joined to the
// room.
func (r *Registry) MembersOf(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var members []string
	for connectionID, entry := range r.conns {
		if _, joined := entry.rooms[room]; joined {
			members = append(members, connectionID)
		}
	}
	return members
}

// Rooms returns a snapshot of the rooms the connection has joined.
func (r *Registry) Rooms(connectionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[connectionID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(entry.rooms))
	for room := range entry.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Unregister removes the connection and clears its room memberships.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connectionID)
}
