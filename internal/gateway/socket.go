package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/cory-johannsen/floe/internal/bus"
	"github.com/cory-johannsen/floe/internal/game/state"
	"github.com/cory-johannsen/floe/internal/observability"
	"github.com/cory-johannsen/floe/internal/protocol/as2"
)

// SocketSystem bridges a Distributor and the event bus: connection events
// become bus events, and PacketSent events become writes.
type SocketSystem struct {
	dist    *Distributor
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewSocketSystem creates the bridge for dist.
//
// Precondition: dist and logger must be non-nil; metrics may be nil.
func NewSocketSystem(dist *Distributor, logger *zap.Logger, metrics *observability.Metrics) *SocketSystem {
	if metrics == nil {
		metrics = dist.metrics
	}
	return &SocketSystem{dist: dist, logger: logger, metrics: metrics}
}

// Name implements system.System.
func (s *SocketSystem) Name() string { return "socket" }

// Instantiate starts the distributor and both bridge directions.
func (s *SocketSystem) Instantiate(ctx context.Context, _ *state.ServerState, pub bus.Publisher, sub *bus.Subscription) error {
	go func() {
		if err := s.dist.Run(ctx); err != nil {
			s.logger.Error("distributor stopped with error", zap.Error(err))
		}
	}()

	// Inbound keeps draining after ctx is cancelled so that every
	// Disconnected reaches the bus before the distributor finishes.
	go s.inbound(context.WithoutCancel(ctx), pub)
	go s.outbound(ctx, pub, sub)
	return nil
}

func (s *SocketSystem) inbound(ctx context.Context, pub bus.Publisher) {
	for {
		ev, ok := s.dist.Poll(ctx)
		if !ok {
			return
		}
		switch ev.Kind {
		case Connected:
			pub.Publish(bus.PlayerConnected{PlayerID: ev.PlayerID, Nickname: ev.Identity.Nickname})
		case Disconnected:
			pub.Publish(bus.PlayerDisconnected{PlayerID: ev.PlayerID})
		case Packet:
			cp, err := as2.FromXT(ev.Packet)
			if err != nil {
				s.metrics.DecodeErrors.WithLabelValues("as2").Inc()
				s.logger.Warn("dropping unrecognized packet",
					zap.Int64("player_id", int64(ev.PlayerID)),
					zap.String("packet_id", ev.Packet.PacketID),
					zap.Error(err),
				)
				pub.Publish(bus.Error{PlayerID: ev.PlayerID, Err: err})
				continue
			}
			pub.Publish(bus.PacketReceived{PlayerID: ev.PlayerID, Packet: cp})
		}
	}
}

func (s *SocketSystem) outbound(ctx context.Context, pub bus.Publisher, sub *bus.Subscription) {
	defer sub.Close()
	for {
		e, ok := sub.Poll(ctx)
		if !ok {
			return
		}
		sent, ok := e.(bus.PacketSent)
		if !ok {
			continue
		}
		if err := s.dist.Push(sent.PlayerID, sent.Packet.ToXT()); err != nil {
			s.metrics.DeliveryErrors.Inc()
			s.logger.Warn("delivery failed",
				zap.Int64("player_id", int64(sent.PlayerID)),
				zap.Error(err),
			)
			pub.Publish(bus.Error{PlayerID: sent.PlayerID, Err: err})
			continue
		}
		s.metrics.PacketsSent.Inc()
	}
}
