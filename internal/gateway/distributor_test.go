package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/floe/internal/observability"
	"github.com/cory-johannsen/floe/internal/protocol/as2"
	"github.com/cory-johannsen/floe/internal/testutil"
)

type distHarness struct {
	dist    *Distributor
	metrics *observability.Metrics
	cancel  context.CancelFunc
}

func startDistributor(t *testing.T) *distHarness {
	t.Helper()
	metrics := observability.NewMetrics()
	dist, err := Listen("127.0.0.1:0", DistributorConfig{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     time.Second,
	}, GateConfig{RandomKey: "key"}, testAccounts(), zaptest.NewLogger(t), metrics)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = dist.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		// Drain so that connection goroutines can finish emitting.
		for {
			if _, ok := dist.Poll(context.Background()); !ok {
				break
			}
		}
		<-dist.Done()
	})
	return &distHarness{dist: dist, metrics: metrics, cancel: cancel}
}

func (h *distHarness) next(t *testing.T) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e, ok := h.dist.Poll(ctx)
	require.True(t, ok, "timed out waiting for distributor event")
	return e
}

func TestDistributor_SessionLifecycle(t *testing.T) {
	h := startDistributor(t)
	c := testutil.NewXTClient(t, h.dist.Addr())

	require.Equal(t, "%xt%l%-1%%", c.Login("kirill", "secret"))

	e := h.next(t)
	assert.Equal(t, Connected, e.Kind)
	assert.Equal(t, playerID(101), e.PlayerID)
	assert.Equal(t, "Kirill", e.Identity.Nickname)
	assert.True(t, h.dist.Registry().Connected(101))

	c.Send("%xt%s%u#sp%-1%395%384%")
	e = h.next(t)
	assert.Equal(t, Packet, e.Kind)
	assert.Equal(t, "u#sp", e.Packet.PacketID)
	assert.Equal(t, []string{"395", "384"}, e.Packet.Args)

	require.NoError(t, h.dist.Push(101, as2.HeartbeatReply{}.ToXT()))
	assert.Equal(t, "%xt%h%-1%", c.Read(2*time.Second))

	c.Close()
	e = h.next(t)
	assert.Equal(t, Disconnected, e.Kind)
	assert.Equal(t, playerID(101), e.PlayerID)
	assert.False(t, h.dist.Registry().Connected(101))

	assert.Equal(t, 1.0, counterValue(t, h.metrics.ConnectionsAccepted))
	assert.Equal(t, 1.0, counterValue(t, h.metrics.PacketsReceived))
	assert.Equal(t, 0.0, gaugeValue(t, h.metrics.ConnectionsOpen))
}

func TestDistributor_RejectedLoginIsNeverRegistered(t *testing.T) {
	h := startDistributor(t)
	c := testutil.NewXTClient(t, h.dist.Addr())

	assert.Equal(t, "%xt%e%-1%100%", c.Login("nobody", "x"))
	_, err := c.TryRead(2 * time.Second)
	assert.Error(t, err, "connection should be closed")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, ok := h.dist.Poll(ctx)
	assert.False(t, ok)
	assert.Zero(t, h.dist.Registry().Count())
	assert.Equal(t, 1.0, counterValue(t, h.metrics.HandshakesRejected.WithLabelValues("name_not_found")))
}

func TestDistributor_SecondConnectionRejected(t *testing.T) {
	h := startDistributor(t)
	first := testutil.NewXTClient(t, h.dist.Addr())
	require.Equal(t, "%xt%l%-1%%", first.Login("kirill", "secret"))
	require.Equal(t, Connected, h.next(t).Kind)

	second := testutil.NewXTClient(t, h.dist.Addr())
	require.Equal(t, "%xt%l%-1%%", second.Login("kirill", "secret"))
	assert.Equal(t, "%xt%e%-1%3%", second.Read(2*time.Second))
	_, err := second.TryRead(2 * time.Second)
	assert.Error(t, err)

	// The first session is untouched.
	assert.True(t, h.dist.Registry().Connected(101))
	require.NoError(t, h.dist.Push(101, as2.HeartbeatReply{}.ToXT()))
	assert.Equal(t, "%xt%h%-1%", first.Read(2*time.Second))
	assert.Equal(t, 1.0, counterValue(t, h.metrics.HandshakesRejected.WithLabelValues("multi_connections")))
}

func TestDistributor_MalformedPacketEndsSession(t *testing.T) {
	h := startDistributor(t)
	c := testutil.NewXTClient(t, h.dist.Addr())
	require.Equal(t, "%xt%l%-1%%", c.Login("sam", ""))
	require.Equal(t, Connected, h.next(t).Kind)

	c.Send("%xt%s%u#h%not-a-number%")
	e := h.next(t)
	assert.Equal(t, Disconnected, e.Kind)
	assert.Equal(t, playerID(102), e.PlayerID)

	_, err := c.TryRead(2 * time.Second)
	assert.Error(t, err)
	assert.Equal(t, 1.0, counterValue(t, h.metrics.DecodeErrors.WithLabelValues("xt")))
}

func TestDistributor_EmptyFramesIgnored(t *testing.T) {
	h := startDistributor(t)
	c := testutil.NewXTClient(t, h.dist.Addr())
	require.Equal(t, "%xt%l%-1%%", c.Login("sam", ""))
	require.Equal(t, Connected, h.next(t).Kind)

	// Two packets and a liveness frame in one write.
	c.SendRaw([]byte("%xt%s%u#h%-1%\x00\x00%xt%s%i#gi%-1%\x00"))
	assert.Equal(t, "u#h", h.next(t).Packet.PacketID)
	assert.Equal(t, "i#gi", h.next(t).Packet.PacketID)
}

func TestDistributor_PolicyAdvertisesBoundPort(t *testing.T) {
	h := startDistributor(t)
	c := testutil.NewXTClient(t, h.dist.Addr())
	c.Send("<policy-file-request/>")

	_, port, found := strings.Cut(h.dist.Addr(), ":")
	require.True(t, found)
	assert.Contains(t, c.Read(2*time.Second), `to-ports="`+port+`"`)
}

func TestDistributor_ShutdownDisconnectsEveryone(t *testing.T) {
	h := startDistributor(t)
	a := testutil.NewXTClient(t, h.dist.Addr())
	b := testutil.NewXTClient(t, h.dist.Addr())
	require.Equal(t, "%xt%l%-1%%", a.Login("kirill", "secret"))
	require.Equal(t, "%xt%l%-1%%", b.Login("sam", ""))
	require.Equal(t, Connected, h.next(t).Kind)
	require.Equal(t, Connected, h.next(t).Kind)

	h.cancel()

	gone := map[string]bool{}
	for range 2 {
		e := h.next(t)
		require.Equal(t, Disconnected, e.Kind)
		gone[e.PlayerID.String()] = true
	}
	assert.Equal(t, map[string]bool{"101": true, "102": true}, gone)

	_, ok := h.dist.Poll(context.Background())
	assert.False(t, ok, "event stream closes after the last disconnect")
	select {
	case <-h.dist.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("distributor did not stop")
	}
}
