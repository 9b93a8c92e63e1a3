// Package bus implements the broadcast event bus connecting the gateway's
// systems. Every subscriber owns a bounded queue; a subscriber that falls
// behind loses its oldest events and is told how many it missed.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultCapacity is the per-subscriber queue length used when New is given
// a non-positive capacity.
const DefaultCapacity = 1024

// ErrClosed is returned by Receive once the bus is closed and the
// subscription's queue has drained.
var ErrClosed = errors.New("event bus closed")

// LaggedError reports that a subscriber overflowed and Dropped events were
// discarded. It is never terminal; the next Receive resumes with the oldest
// retained event.
type LaggedError struct {
	Dropped int
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("event bus lagged: %d events dropped", e.Dropped)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used by Subscription.Poll.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// WithLagObserver registers fn to be called with the number of dropped
// events whenever Poll observes lag.
func WithLagObserver(fn func(dropped int)) Option {
	return func(b *Bus) { b.onLag = fn }
}

// Bus is the owning handle of the event bus. Only the component that
// created it may Close it; everyone else holds a Publisher.
type Bus struct {
	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	closed   bool
	capacity int
	logger   *zap.Logger
	onLag    func(int)
}

// New creates a bus whose subscribers each buffer up to capacity events.
//
// Postcondition: Returns an open bus with no subscribers.
func New(capacity int, opts ...Option) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{
		subs:     make(map[*Subscription]struct{}),
		capacity: capacity,
		logger:   zap.NewNop(),
		onLag:    func(int) {},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publisher returns a publish handle that degrades to a no-op once the bus
// is closed.
func (b *Bus) Publisher() Publisher {
	return Publisher{bus: b}
}

// Publish delivers e to every live subscriber. Publishing on a closed bus
// does nothing.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.push(e)
	}
}

// Subscribe creates a subscription that receives every event published
// after this call returns.
//
// Postcondition: On a closed bus the returned subscription is already closed.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:    b,
		ring:   make([]Event, b.capacity),
		notify: make(chan struct{}, 1),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Close shuts the bus down. Subscribers drain what is already queued and
// then observe ErrClosed. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.close()
	}
	b.subs = nil
}

// Closed reports whether Close has been called.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs != nil {
		delete(b.subs, s)
	}
}

// Publisher is the non-owning publish handle shared by systems. The zero
// value is a valid no-op publisher.
type Publisher struct {
	bus *Bus
}

// Publish is fire-and-forget: it never blocks on slow subscribers and is a
// silent no-op after the bus has been closed.
func (p Publisher) Publish(e Event) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(e)
}

// Subscription is one subscriber's bounded queue. A Subscription must be
// consumed from a single goroutine.
type Subscription struct {
	bus    *Bus
	notify chan struct{}

	mu      sync.Mutex
	ring    []Event
	head    int
	size    int
	dropped int
	closed  bool
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.size == len(s.ring) {
		s.ring[s.head] = nil
		s.head = (s.head + 1) % len(s.ring)
		s.size--
		s.dropped++
	}
	s.ring[(s.head+s.size)%len(s.ring)] = e
	s.size++
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Receive blocks for the next event.
//
// Postcondition: Returns (event, nil); (nil, *LaggedError) once after an
// overflow; (nil, ErrClosed) after the bus closed and the queue drained; or
// (nil, ctx.Err()) on cancellation.
func (s *Subscription) Receive(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.dropped > 0 {
			n := s.dropped
			s.dropped = 0
			s.mu.Unlock()
			return nil, &LaggedError{Dropped: n}
		}
		if s.size > 0 {
			e := s.ring[s.head]
			s.ring[s.head] = nil
			s.head = (s.head + 1) % len(s.ring)
			s.size--
			s.mu.Unlock()
			return e, nil
		}
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		}
	}
}

// Poll is Receive with lag handled: a lag is logged, reported to the lag
// observer, and skipped.
//
// Postcondition: Returns (event, true), or (nil, false) when the bus is
// closed or ctx is done.
func (s *Subscription) Poll(ctx context.Context) (Event, bool) {
	for {
		e, err := s.Receive(ctx)
		if err == nil {
			return e, true
		}
		var lagged *LaggedError
		if errors.As(err, &lagged) {
			s.bus.logger.Warn("event bus lag", zap.Int("dropped", lagged.Dropped))
			s.bus.onLag(lagged.Dropped)
			continue
		}
		return nil, false
	}
}

// Len returns the number of queued events.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Close detaches the subscription from the bus. Queued events are discarded.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
	s.mu.Lock()
	s.closed = true
	s.size = 0
	s.dropped = 0
	s.mu.Unlock()
	s.signal()
}
