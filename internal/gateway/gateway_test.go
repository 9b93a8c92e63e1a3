package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cory-johannsen/floe/internal/auth"
	"github.com/cory-johannsen/floe/internal/config"
	"github.com/cory-johannsen/floe/internal/datamodel"
)

func playerID(i int) datamodel.PlayerID { return datamodel.PlayerID(i) }

func testAccounts() *auth.StaticValidator {
	return auth.NewStaticValidator([]config.StaticAccount{
		{Username: "kirill", Password: "secret", PlayerID: 101, Nickname: "Kirill"},
		{Username: "sam", PlayerID: 102},
	})
}

type failingValidator struct{ err error }

func (f failingValidator) Validate(context.Context, string, string) (auth.Identity, error) {
	return auth.Identity{}, f.err
}

var errDatabaseDown = errors.New("database down")

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	return promtest.ToFloat64(c)
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	return promtest.ToFloat64(g)
}
