package gateway

import (
	"errors"
	"sync"

	"github.com/cory-johannsen/floe/internal/protocol/frame"
)

// DefaultOutboxSize is the per-connection queue length used when none is configured.
const DefaultOutboxSize = 256

var (
	// ErrOutboxFull is returned when a connection's queue has no room left.
	ErrOutboxFull = errors.New("outbound queue full")
	// ErrOutboxClosed is returned once a connection's queue stopped accepting frames.
	ErrOutboxClosed = errors.New("outbound queue closed")
)

// Outbox is a connection's bounded queue of outbound frames. A single
// goroutine running Run owns the writes, so a peer that stops reading
// stalls only its own queue.
type Outbox struct {
	w     *frame.Writer
	queue chan string
	done  chan struct{}

	mu       sync.Mutex
	stopped  bool
	shutdown bool
}

// NewOutbox creates a queue draining into w. size <= 0 selects DefaultOutboxSize.
func NewOutbox(w *frame.Writer, size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		w:     w,
		queue: make(chan string, size),
		done:  make(chan struct{}),
	}
}

// Enqueue hands text to the writer goroutine without blocking.
//
// Postcondition: Returns nil if queued; ErrOutboxFull if the queue is at
// capacity; ErrOutboxClosed after Close or a failed write.
func (o *Outbox) Enqueue(text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return ErrOutboxClosed
	}
	select {
	case o.queue <- text:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Run writes queued frames until Close is called or a write fails. Each
// frame is written once; onErr receives the failing write's error.
func (o *Outbox) Run(onErr func(error)) {
	defer close(o.done)
	for text := range o.queue {
		if err := o.w.WriteText(text); err != nil {
			o.mu.Lock()
			o.stopped = true
			o.mu.Unlock()
			onErr(err)
			return
		}
	}
}

// Close stops accepting frames. Frames already queued are still handed to
// the writer. Close is idempotent.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = true
	if !o.shutdown {
		o.shutdown = true
		close(o.queue)
	}
}

// Done is closed when Run has returned.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Len returns the number of frames waiting to be written.
func (o *Outbox) Len() int {
	return len(o.queue)
}
