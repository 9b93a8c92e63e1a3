package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/floe/internal/bus"
	"github.com/cory-johannsen/floe/internal/game/state"
)

// DefaultHeartbeatInterval is used when Heartbeat.Interval is not positive.
const DefaultHeartbeatInterval = time.Second

// Heartbeat publishes a bus.Heartbeat on every tick. OnTick, when set, is
// called on each tick with the number of players in the world.
type Heartbeat struct {
	Interval time.Duration
	Logger   *zap.Logger
	OnTick   func(players int)
}

// Name implements System.
func (h *Heartbeat) Name() string { return "heartbeat" }

// Instantiate implements System.
func (h *Heartbeat) Instantiate(ctx context.Context, st *state.ServerState, pub bus.Publisher, sub *bus.Subscription) error {
	interval := h.Interval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				pub.Publish(bus.Heartbeat{At: now})
				if h.OnTick != nil {
					h.OnTick(st.Count())
				}
			}
		}
	}()

	// The heartbeat system has no inbound work, but its subscription must
	// be drained so it never lags.
	go func() {
		defer sub.Close()
		for {
			if _, ok := sub.Poll(ctx); !ok {
				logger.Debug("heartbeat subscription closed")
				return
			}
		}
	}()
	return nil
}
