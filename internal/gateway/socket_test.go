package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/floe/internal/bus"
	"github.com/cory-johannsen/floe/internal/game/state"
	"github.com/cory-johannsen/floe/internal/observability"
	"github.com/cory-johannsen/floe/internal/protocol/as2"
	"github.com/cory-johannsen/floe/internal/system"
	"github.com/cory-johannsen/floe/internal/testutil"
)

type socketHarness struct {
	dist    *Distributor
	bus     *bus.Bus
	tap     *bus.Subscription
	metrics *observability.Metrics
}

func startSocket(t *testing.T) *socketHarness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics()
	dist, err := Listen("127.0.0.1:0", DistributorConfig{WriteTimeout: time.Second},
		GateConfig{RandomKey: "key"}, testAccounts(), logger, metrics)
	require.NoError(t, err)

	b := bus.New(64)
	tap := b.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, system.Boot(ctx, state.New(), b, NewSocketSystem(dist, logger, nil)))
	t.Cleanup(func() {
		cancel()
		<-dist.Done()
		b.Close()
	})
	return &socketHarness{dist: dist, bus: b, tap: tap, metrics: metrics}
}

// next returns the next event of type T, skipping others.
func next[T bus.Event](t *testing.T, sub *bus.Subscription) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		e, ok := sub.Poll(ctx)
		require.True(t, ok, "timed out waiting for %T", *new(T))
		if typed, ok := e.(T); ok {
			return typed
		}
	}
}

func TestSocketSystem_Inbound(t *testing.T) {
	h := startSocket(t)
	c := testutil.NewXTClient(t, h.dist.Addr())
	require.Equal(t, "%xt%l%-1%%", c.Login("kirill", "secret"))

	assert.Equal(t, bus.PlayerConnected{PlayerID: 101, Nickname: "Kirill"}, next[bus.PlayerConnected](t, h.tap))

	c.Send("%xt%s%j#jr%-1%100%395%384%")
	got := next[bus.PacketReceived](t, h.tap)
	assert.Equal(t, playerID(101), got.PlayerID)
	assert.Equal(t, as2.JoinRoom{Room: 100, X: 395, Y: 384}, got.Packet)

	c.Close()
	assert.Equal(t, bus.PlayerDisconnected{PlayerID: 101}, next[bus.PlayerDisconnected](t, h.tap))
}

func TestSocketSystem_UnrecognizedPacketKeepsSession(t *testing.T) {
	h := startSocket(t)
	c := testutil.NewXTClient(t, h.dist.Addr())
	require.Equal(t, "%xt%l%-1%%", c.Login("sam", ""))
	next[bus.PlayerConnected](t, h.tap)

	c.Send("%xt%s%zz#top%-1%")
	errEvent := next[bus.Error](t, h.tap)
	var unrecognized *as2.UnrecognizedError
	assert.ErrorAs(t, errEvent.Err, &unrecognized)
	assert.Equal(t, 1.0, counterValue(t, h.metrics.DecodeErrors.WithLabelValues("as2")))

	c.Send("%xt%s%u#h%-1%")
	assert.Equal(t, as2.Heartbeat{}, next[bus.PacketReceived](t, h.tap).Packet)
}

func TestSocketSystem_Outbound(t *testing.T) {
	h := startSocket(t)
	c := testutil.NewXTClient(t, h.dist.Addr())
	require.Equal(t, "%xt%l%-1%%", c.Login("kirill", "secret"))
	next[bus.PlayerConnected](t, h.tap)

	h.bus.Publish(bus.PacketSent{PlayerID: 101, Packet: as2.PlayerMoved{PlayerID: 5, X: 395, Y: 384}})
	assert.Equal(t, "%xt%sp%-1%5%395%384%", c.Read(2*time.Second))
	assert.Eventually(t, func() bool {
		return counterValue(t, h.metrics.PacketsSent) == 1
	}, time.Second, 10*time.Millisecond)

	h.bus.Publish(bus.PacketSent{PlayerID: 999, Packet: as2.HeartbeatReply{}})
	errEvent := next[bus.Error](t, h.tap)
	assert.Equal(t, playerID(999), errEvent.PlayerID)
	assert.ErrorIs(t, errEvent.Err, ErrUnknownPlayer)
	assert.Equal(t, 1.0, counterValue(t, h.metrics.DeliveryErrors))
}
