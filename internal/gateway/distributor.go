// Package gateway accepts XT client connections, authenticates them, and
// bridges authenticated sessions onto the event bus.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/floe/internal/auth"
	"github.com/cory-johannsen/floe/internal/datamodel"
	"github.com/cory-johannsen/floe/internal/observability"
	"github.com/cory-johannsen/floe/internal/protocol/as2"
	"github.com/cory-johannsen/floe/internal/protocol/frame"
	"github.com/cory-johannsen/floe/internal/protocol/xt"
)

// EventKind enumerates the notifications a Distributor emits.
type EventKind int

const (
	// Connected follows a successful handshake and registration.
	Connected EventKind = iota + 1
	// Packet carries one decoded client packet.
	Packet
	// Disconnected is emitted exactly once per Connected.
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Packet:
		return "packet"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a per-player notification read through Distributor.Poll.
type Event struct {
	Kind     EventKind
	PlayerID datamodel.PlayerID
	// Identity is set for Connected.
	Identity auth.Identity
	// Packet is set for Packet.
	Packet xt.Packet
}

// DistributorConfig holds per-connection limits.
type DistributorConfig struct {
	// HandshakeTimeout bounds the whole handshake. Zero disables it.
	HandshakeTimeout time.Duration
	// IdleTimeout is the per-read deadline after authentication. Zero disables it.
	IdleTimeout time.Duration
	// WriteTimeout is the per-write deadline.
	WriteTimeout time.Duration
	// MaxFrameSize is the largest accepted inbound frame.
	MaxFrameSize int
	// OutboxSize is the per-connection outbound queue length.
	OutboxSize int
}

// Distributor owns the listener, runs the accept loop, and maintains the
// registry of authenticated connections.
type Distributor struct {
	cfg      DistributorConfig
	gate     *Gate
	registry *Registry
	logger   *zap.Logger
	metrics  *observability.Metrics

	listener net.Listener
	events   chan Event
	done     chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// Listen binds addr and returns a Distributor ready to Run. The gate is
// created from gateCfg with the bound port as its policy port.
//
// Precondition: validator and logger must be non-nil; metrics may be nil.
// Postcondition: Returns a Distributor owning a bound listener, or an error.
func Listen(addr string, cfg DistributorConfig, gateCfg GateConfig, validator auth.CredentialValidator, logger *zap.Logger, metrics *observability.Metrics) (*Distributor, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	if tcp, ok := listener.Addr().(*net.TCPAddr); ok && gateCfg.PolicyPort == 0 {
		gateCfg.PolicyPort = tcp.Port
	}
	return NewDistributor(listener, cfg, NewGate(gateCfg, validator, logger), logger, metrics), nil
}

// NewDistributor wraps an already bound listener.
//
// Precondition: listener, gate, and logger must be non-nil.
func NewDistributor(listener net.Listener, cfg DistributorConfig, gate *Gate, logger *zap.Logger, metrics *observability.Metrics) *Distributor {
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	return &Distributor{
		cfg:      cfg,
		gate:     gate,
		registry: NewRegistry(),
		logger:   logger,
		metrics:  metrics,
		listener: listener,
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
	}
}

// Run accepts connections until ctx is cancelled. Each connection is served
// on its own goroutine. Cancellation stops accepting, closes every
// connection after its in-flight write, and waits for the connection
// goroutines to finish.
//
// Precondition: Run must be called at most once.
// Postcondition: The listener is closed, every Disconnected has been
// emitted, and the event channel is closed.
func (d *Distributor) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("distributor already running")
	}
	d.running = true
	d.mu.Unlock()

	defer func() {
		d.wg.Wait()
		close(d.events)
		close(d.done)
		d.logger.Info("distributor stopped")
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = d.listener.Close()
	}()

	d.logger.Info("distributor listening", zap.String("addr", d.Addr()))

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.logger.Error("accepting connection", zap.Error(err))
			continue
		}

		d.metrics.ConnectionsAccepted.Inc()
		d.wg.Add(1)
		go d.serve(ctx, conn)
	}
}

// serve gates one connection and, once authenticated, runs its read loop.
func (d *Distributor) serve(ctx context.Context, raw net.Conn) {
	defer d.wg.Done()
	start := time.Now()
	logger := d.logger.With(
		zap.String("session_id", uuid.NewString()),
		zap.String("remote_addr", raw.RemoteAddr().String()),
	)
	logger.Debug("client connected")

	r, w := frame.Split(raw, d.cfg.MaxFrameSize, d.cfg.WriteTimeout)
	defer w.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Closing the writer waits for an in-flight write, then unblocks the reader.
	go func() {
		<-connCtx.Done()
		_ = w.Close()
	}()

	if d.cfg.HandshakeTimeout > 0 {
		_ = raw.SetReadDeadline(time.Now().Add(d.cfg.HandshakeTimeout))
	}
	id, err := d.gate.Run(connCtx, r, w)
	if err != nil {
		reason := "error"
		var rejected *RejectedError
		switch {
		case errors.As(err, &rejected):
			reason = rejected.Code.String()
		case errors.Is(err, ErrHandshakeClosed):
			reason = "closed"
		}
		d.metrics.HandshakesRejected.WithLabelValues(reason).Inc()
		logger.Info("handshake failed",
			zap.String("reason", reason),
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		return
	}
	_ = raw.SetReadDeadline(time.Time{})
	r.SetTimeout(d.cfg.IdleTimeout)

	logger = logger.With(zap.Int64("player_id", int64(id.PlayerID)))
	out := NewOutbox(w, d.cfg.OutboxSize)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		out.Run(func(err error) {
			logger.Debug("outbound write failed", zap.Error(err))
		})
	}()
	defer out.Close()

	if err := d.registry.Insert(id.PlayerID, out); err != nil {
		logger.Error("rejecting second connection for registered player", zap.Error(err))
		if werr := writePacket(w, as2.Error{Code: as2.ErrMultiConnections}); werr != nil {
			logger.Debug("writing multi-connection error", zap.Error(werr))
		}
		d.metrics.HandshakesRejected.WithLabelValues(as2.ErrMultiConnections.String()).Inc()
		return
	}
	d.metrics.ConnectionsOpen.Inc()

	defer func() {
		d.registry.Remove(id.PlayerID, out)
		d.metrics.ConnectionsOpen.Dec()
		d.emit(Event{Kind: Disconnected, PlayerID: id.PlayerID})
		logger.Info("player disconnected", zap.Duration("session", time.Since(start)))
	}()

	logger.Info("player authenticated", zap.String("nickname", id.Nickname))
	d.emit(Event{Kind: Connected, PlayerID: id.PlayerID, Identity: id})

	d.readLoop(id.PlayerID, r, logger)
}

// readLoop forwards client packets until the connection fails. Any decode
// fault ends the session.
func (d *Distributor) readLoop(id datamodel.PlayerID, r *frame.Reader, logger *zap.Logger) {
	for {
		text, err := r.ReadText()
		if err != nil {
			var perr *frame.ParseError
			switch {
			case errors.As(err, &perr):
				d.metrics.DecodeErrors.WithLabelValues("frame").Inc()
				logger.Warn("protocol violation: undecodable frame", zap.Error(err))
			case errors.Is(err, io.EOF):
				logger.Debug("connection closed by peer")
			default:
				logger.Debug("connection read ended", zap.Error(err))
			}
			return
		}

		p, err := xt.Decode(text, xt.Client)
		if err != nil {
			d.metrics.DecodeErrors.WithLabelValues("xt").Inc()
			logger.Warn("protocol violation: malformed xt packet",
				zap.String("frame", text),
				zap.Error(err),
			)
			return
		}
		d.metrics.PacketsReceived.Inc()
		d.emit(Event{Kind: Packet, PlayerID: id, Packet: p})
	}
}

func (d *Distributor) emit(e Event) {
	d.events <- e
}

// Poll returns the next connection event.
//
// Postcondition: Returns (event, true), or (Event{}, false) when ctx is
// done or the distributor has stopped and every event was consumed.
func (d *Distributor) Poll(ctx context.Context) (Event, bool) {
	select {
	case e, ok := <-d.events:
		return e, ok
	case <-ctx.Done():
		return Event{}, false
	}
}

// Push delivers p to id's connection. See Registry.Push.
func (d *Distributor) Push(id datamodel.PlayerID, p xt.Packet) error {
	return d.registry.Push(id, p)
}

// Registry exposes the connection registry.
func (d *Distributor) Registry() *Registry {
	return d.registry
}

// Addr returns the listening address.
func (d *Distributor) Addr() string {
	return d.listener.Addr().String()
}

// Done is closed when Run has returned.
func (d *Distributor) Done() <-chan struct{} {
	return d.done
}
