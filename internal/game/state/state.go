// Package state holds the in-memory directory of players in the world and
// the rooms they occupy.
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cory-johannsen/floe/internal/datamodel"
)

var (
	// ErrDuplicatePlayer is returned when inserting a player id that is already present.
	ErrDuplicatePlayer = errors.New("player already in server")
	// ErrPlayerNotFound is returned when operating on an absent player id.
	ErrPlayerNotFound = errors.New("player not in server")
	// ErrRoomFull is returned by MoveToRoom when the room is at capacity.
	ErrRoomFull = errors.New("room is full")
)

// Player is a player present in the world.
type Player struct {
	ID       datamodel.PlayerID
	Nickname string
	Color    datamodel.ItemID
	// Room is meaningful only when InRoom is true.
	Room   datamodel.RoomID
	InRoom bool
	X      int
	Y      int
}

// Gist returns the public appearance broadcast to other room members.
func (p Player) Gist() datamodel.PlayerGist {
	return datamodel.PlayerGist{
		ID:       p.ID,
		Nickname: p.Nickname,
		Color:    p.Color,
		X:        p.X,
		Y:        p.Y,
		Frame:    1,
	}
}

// ServerState is the lock-guarded set of players and the room index.
// All methods are safe for concurrent use and return copies.
type ServerState struct {
	mu      sync.RWMutex
	players map[datamodel.PlayerID]*Player
	rooms   map[datamodel.RoomID]map[datamodel.PlayerID]struct{}
}

// New creates an empty ServerState.
func New() *ServerState {
	return &ServerState{
		players: make(map[datamodel.PlayerID]*Player, 256),
		rooms:   make(map[datamodel.RoomID]map[datamodel.PlayerID]struct{}),
	}
}

// Insert adds p to the world.
//
// Postcondition: Returns ErrDuplicatePlayer, leaving the existing entry
// untouched, if p.ID is already present.
func (s *ServerState) Insert(p Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.players[p.ID]; exists {
		return fmt.Errorf("inserting player %d: %w", p.ID, ErrDuplicatePlayer)
	}
	cp := p
	s.players[p.ID] = &cp
	if cp.InRoom {
		s.join(cp.Room, cp.ID)
	}
	return nil
}

// Remove deletes a player and its room membership.
//
// Postcondition: Returns the removed player, or ErrPlayerNotFound.
func (s *ServerState) Remove(id datamodel.PlayerID) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.players[id]
	if !exists {
		return Player{}, fmt.Errorf("removing player %d: %w", id, ErrPlayerNotFound)
	}
	if p.InRoom {
		s.leave(p.Room, id)
	}
	delete(s.players, id)
	return *p, nil
}

// MoveToRoom places a player in room at (x, y). capacity <= 0 means
// unlimited. Moving into the room the player already occupies only updates
// the position.
//
// Postcondition: Returns the previous room and whether there was one, or
// ErrPlayerNotFound / ErrRoomFull with state unchanged.
func (s *ServerState) MoveToRoom(id datamodel.PlayerID, room datamodel.RoomID, x, y, capacity int) (datamodel.RoomID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.players[id]
	if !exists {
		return 0, false, fmt.Errorf("moving player %d: %w", id, ErrPlayerNotFound)
	}
	prev, hadPrev := p.Room, p.InRoom
	sameRoom := hadPrev && prev == room
	if !sameRoom && capacity > 0 && len(s.rooms[room]) >= capacity {
		return 0, false, fmt.Errorf("moving player %d to room %d: %w", id, room, ErrRoomFull)
	}

	if hadPrev && !sameRoom {
		s.leave(prev, id)
	}
	p.Room, p.InRoom = room, true
	p.X, p.Y = x, y
	s.join(room, id)
	return prev, hadPrev, nil
}

// SetPosition updates a player's coordinates.
//
// Postcondition: Returns the updated player, or ErrPlayerNotFound.
func (s *ServerState) SetPosition(id datamodel.PlayerID, x, y int) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.players[id]
	if !exists {
		return Player{}, fmt.Errorf("positioning player %d: %w", id, ErrPlayerNotFound)
	}
	p.X, p.Y = x, y
	return *p, nil
}

// Player returns a copy of the player with the given id.
func (s *ServerState) Player(id datamodel.PlayerID) (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.players[id]
	if !exists {
		return Player{}, false
	}
	return *p, true
}

// RoomMembers returns copies of every player in room, ordered by id.
//
// Postcondition: Returns a non-nil slice (may be empty).
func (s *ServerState) RoomMembers(room datamodel.RoomID) []Player {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.rooms[room]
	out := make([]Player, 0, len(ids))
	for id := range ids {
		if p, ok := s.players[id]; ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomCount returns the number of players in room.
func (s *ServerState) RoomCount(room datamodel.RoomID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[room])
}

// PlayerIDs returns the ids of every player in the world.
func (s *ServerState) PlayerIDs() []datamodel.PlayerID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]datamodel.PlayerID, 0, len(s.players))
	for id := range s.players {
		out = append(out, id)
	}
	return out
}

// Count returns the number of players in the world.
func (s *ServerState) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// join and leave require s.mu held for writing.
func (s *ServerState) join(room datamodel.RoomID, id datamodel.PlayerID) {
	if s.rooms[room] == nil {
		s.rooms[room] = make(map[datamodel.PlayerID]struct{})
	}
	s.rooms[room][id] = struct{}{}
}

func (s *ServerState) leave(room datamodel.RoomID, id datamodel.PlayerID) {
	if members, ok := s.rooms[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(s.rooms, room)
		}
	}
}
