package observability

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.PacketsReceived.Inc()
	m.PacketsReceived.Inc()
	m.HandshakesRejected.WithLabelValues("name_not_found").Inc()
	m.PlayersOnline.Set(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PacketsReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandshakesRejected.WithLabelValues("name_not_found")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PlayersOnline))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.PacketsSent.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PacketsSent))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ConnectionsAccepted.Inc()
	m.DatabaseUp.Set(1)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "floe_connections_accepted_total 1")
	assert.Contains(t, string(body), "floe_database_up 1")
}
