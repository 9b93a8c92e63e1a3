package gateway

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/floe/internal/protocol/frame"
	"github.com/cory-johannsen/floe/internal/protocol/xt"
)

// pipeOutbox registers a running outbox over one end of an in-memory pipe
// and returns the peer end.
func pipeOutbox(t *testing.T, r *Registry, id int, size int) net.Conn {
	t.Helper()
	local, peer := net.Pipe()
	out := NewOutbox(frame.NewWriter(local, 0), size)
	go out.Run(func(error) {})
	require.NoError(t, r.Insert(playerID(id), out))
	t.Cleanup(func() {
		out.Close()
		_ = peer.Close()
		_ = local.Close()
		<-out.Done()
	})
	return peer
}

func TestOutbox_StalledPeerDoesNotBlockOthers(t *testing.T) {
	r := NewRegistry()
	pipeOutbox(t, r, 1, 2) // never read
	healthy := pipeOutbox(t, r, 2, 2)

	heartbeat := xt.Packet{PacketID: "h", CorrelationID: -1}
	full := make(chan error, 1)
	go func() {
		for range 16 {
			if err := r.Push(1, heartbeat); err != nil {
				full <- err
				return
			}
		}
		full <- nil
	}()
	select {
	case err := <-full:
		assert.ErrorIs(t, err, ErrOutboxFull)
	case <-time.After(2 * time.Second):
		t.Fatal("push to a stalled player blocked")
	}

	require.NoError(t, r.Push(2, heartbeat))
	_ = healthy.SetReadDeadline(time.Now().Add(2 * time.Second))
	text, err := frame.NewReader(healthy, 0).ReadText()
	require.NoError(t, err)
	assert.Equal(t, "%xt%h%-1%", text)
}

func TestOutbox_CloseDrainsQueuedFrames(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutbox(frame.NewWriter(&buf, 0), 4)
	require.NoError(t, out.Enqueue("a"))
	require.NoError(t, out.Enqueue("b"))

	out.Close()
	out.Close()
	assert.ErrorIs(t, out.Enqueue("c"), ErrOutboxClosed)

	out.Run(func(err error) { t.Errorf("unexpected write error: %v", err) })
	assert.Equal(t, "a\x00b\x00", buf.String())
	select {
	case <-out.Done():
	default:
		t.Fatal("done not closed after Run returned")
	}
}

func TestOutbox_WriteFailureStopsQueue(t *testing.T) {
	local, peer := net.Pipe()
	require.NoError(t, peer.Close())
	out := NewOutbox(frame.NewWriter(local, 0), 4)

	failed := make(chan error, 1)
	go out.Run(func(err error) { failed <- err })
	require.NoError(t, out.Enqueue("a"))

	select {
	case err := <-failed:
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	case <-time.After(2 * time.Second):
		t.Fatal("write to a closed peer did not fail")
	}
	<-out.Done()
	assert.ErrorIs(t, out.Enqueue("b"), ErrOutboxClosed)
	out.Close()
}

func TestNewOutbox_DefaultSize(t *testing.T) {
	out := NewOutbox(frame.NewWriter(&bytes.Buffer{}, 0), 0)
	for range DefaultOutboxSize {
		require.NoError(t, out.Enqueue("h"))
	}
	assert.ErrorIs(t, out.Enqueue("h"), ErrOutboxFull)
}
