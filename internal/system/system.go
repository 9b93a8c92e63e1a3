// Package system defines the uniform lifecycle of the gateway's
// independently running components.
package system

import (
	"context"
	"fmt"

	"github.com/cory-johannsen/floe/internal/bus"
	"github.com/cory-johannsen/floe/internal/game/state"
)

// System is a component that consumes and produces bus events.
type System interface {
	// Name identifies the system in logs.
	Name() string
	// Instantiate starts the system's background work and returns without
	// blocking. The goroutines it spawns must exit when ctx is done or sub
	// reports the bus closed.
	Instantiate(ctx context.Context, st *state.ServerState, pub bus.Publisher, sub *bus.Subscription) error
}

// Boot instantiates each system in order with its own subscription and a
// shared publisher.
//
// Postcondition: Returns nil once every system is running, or the first
// instantiation error. Systems started before the failure keep running
// until ctx is cancelled.
func Boot(ctx context.Context, st *state.ServerState, b *bus.Bus, systems ...System) error {
	pub := b.Publisher()
	for _, s := range systems {
		sub := b.Subscribe()
		if err := s.Instantiate(ctx, st, pub, sub); err != nil {
			sub.Close()
			return fmt.Errorf("instantiating %s system: %w", s.Name(), err)
		}
	}
	return nil
}
