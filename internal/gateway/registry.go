package gateway

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cory-johannsen/floe/internal/datamodel"
	"github.com/cory-johannsen/floe/internal/protocol/xt"
)

var (
	// ErrDuplicatePlayer is returned when a player id is already registered.
	ErrDuplicatePlayer = errors.New("player already connected")
	// ErrUnknownPlayer is returned when pushing to an unregistered player id.
	ErrUnknownPlayer = errors.New("player not connected")
)

// Registry maps authenticated player ids to their outbound queues. An
// entry exists exactly while the player's connection is live. All methods
// are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	writers map[datamodel.PlayerID]*Outbox
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{writers: make(map[datamodel.PlayerID]*Outbox)}
}

// Insert registers w for id.
//
// Postcondition: Returns ErrDuplicatePlayer, leaving the existing entry in
// place, if id is already registered.
func (r *Registry) Insert(id datamodel.PlayerID, w *Outbox) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.writers[id]; exists {
		return fmt.Errorf("registering player %d: %w", id, ErrDuplicatePlayer)
	}
	r.writers[id] = w
	return nil
}

// Remove deletes the entry for id if it still belongs to w.
//
// Postcondition: Returns true if an entry was removed.
func (r *Registry) Remove(id datamodel.PlayerID, w *Outbox) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, exists := r.writers[id]; exists && cur == w {
		delete(r.writers, id)
		return true
	}
	return false
}

// Push encodes p and queues it on id's connection without blocking. A
// full or closed queue is returned to the caller; the entry is left in
// place for the read side to clean up.
func (r *Registry) Push(id datamodel.PlayerID, p xt.Packet) error {
	r.mu.RLock()
	w, exists := r.writers[id]
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("pushing %s to player %d: %w", p.PacketID, id, ErrUnknownPlayer)
	}

	s, err := xt.Encode(p)
	if err != nil {
		return fmt.Errorf("encoding %s for player %d: %w", p.PacketID, id, err)
	}
	if err := w.Enqueue(s); err != nil {
		return fmt.Errorf("delivering %s to player %d: %w", p.PacketID, id, err)
	}
	return nil
}

// Connected reports whether id has a registered connection.
func (r *Registry) Connected(id datamodel.PlayerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.writers[id]
	return exists
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.writers)
}
