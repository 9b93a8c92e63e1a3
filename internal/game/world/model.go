// Package world provides the static room catalogue players move between.
package world

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/cory-johannsen/floe/internal/datamodel"
)

// ErrNoSpawnRooms is returned when a catalogue has no room flagged as a spawn.
var ErrNoSpawnRooms = errors.New("catalogue has no spawn rooms")

// Room is one entry in the catalogue.
type Room struct {
	ID   datamodel.RoomID
	Key  string
	Name string
	// Capacity is the maximum number of occupants.
	Capacity int
	// Spawn rooms are candidates for a player's first room after JoinServer.
	Spawn bool
	// X and Y are the entry coordinates used when none are requested.
	X int
	Y int
}

// Validate checks the room's invariants.
//
// Postcondition: Returns nil if valid, or an error describing the first violation.
func (r Room) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("room id must be positive, got %d", r.ID)
	}
	if r.Name == "" {
		return fmt.Errorf("room %d: name must not be empty", r.ID)
	}
	if r.Capacity < 1 {
		return fmt.Errorf("room %d: capacity must be >= 1, got %d", r.ID, r.Capacity)
	}
	return nil
}

// Catalogue is the immutable set of rooms. It is safe for concurrent use.
type Catalogue struct {
	rooms  map[datamodel.RoomID]Room
	spawns []Room
}

// NewCatalogue validates rooms and builds a catalogue.
//
// Postcondition: Returns a catalogue with at least one spawn room, or an error.
func NewCatalogue(rooms []Room) (*Catalogue, error) {
	c := &Catalogue{rooms: make(map[datamodel.RoomID]Room, len(rooms))}
	for _, r := range rooms {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.rooms[r.ID]; dup {
			return nil, fmt.Errorf("duplicate room id %d", r.ID)
		}
		c.rooms[r.ID] = r
		if r.Spawn {
			c.spawns = append(c.spawns, r)
		}
	}
	if len(c.spawns) == 0 {
		return nil, ErrNoSpawnRooms
	}
	sort.Slice(c.spawns, func(i, j int) bool { return c.spawns[i].ID < c.spawns[j].ID })
	return c, nil
}

// Room looks up a room by id.
func (c *Catalogue) Room(id datamodel.RoomID) (Room, bool) {
	r, ok := c.rooms[id]
	return r, ok
}

// SpawnRooms returns the spawn rooms ordered by id.
func (c *Catalogue) SpawnRooms() []Room {
	return append([]Room(nil), c.spawns...)
}

// RandomSpawn picks a spawn room uniformly at random.
func (c *Catalogue) RandomSpawn() Room {
	return c.spawns[rand.IntN(len(c.spawns))]
}

// Len returns the number of rooms.
func (c *Catalogue) Len() int {
	return len(c.rooms)
}
