package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/rb-admission/internal/config"
	"github.com/signalsfoundry/rb-admission/internal/observability"
	"github.com/signalsfoundry/rb-admission/model"
	"github.com/signalsfoundry/rb-admission/timectrl"
)

const topology = `
admission:
  min_signal_dbm: -90
access_points:
  - id: ap-a
  - id: ap-b
    total_units: 20
  - id: ap-core
    unconstrained: true
stations:
  - id: sta-1
    signals:
      - {access_point: ap-b, signal_dbm: -60}
      - {access_point: ap-a, signal_dbm: -95}
`

func TestBuildWiresComponents(t *testing.T) {
	cfg, err := config.Parse(strings.NewReader(topology))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewAdmissionCollector(reg)
	require.NoError(t, err)
	clock := timectrl.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	eng, err := Build(cfg, nil, WithClock(clock), WithMetrics(metrics))
	require.NoError(t, err)

	assert.Equal(t, []string{"ap-a", "ap-b", "ap-core"}, eng.Registry.AccessPointIDs())
	assert.Equal(t, config.DefaultTotalUnits, eng.Registry.Pool("ap-a").TotalUnits())
	assert.True(t, eng.Registry.Pool("ap-core").Unconstrained())

	ctx := context.Background()
	// -60 dBm is class 12 (1.2 Mbps/unit): ceil(12/1.2) = 10 units on ap-b.
	// ap-a at -95 dBm is below the configured minimum signal.
	out, err := eng.Controller.AdmitStation(ctx, "sta-1", 12, 10*time.Second)
	require.NoError(t, err)
	require.True(t, out.Admitted)
	assert.Equal(t, "ap-b", out.AccessPointID)
	assert.Equal(t, 10, out.Units)
	assert.Len(t, out.Attempts, 1)
	assert.Equal(t, 10, eng.Fabric.ProvisionedUnits("ap-b"))

	clock.Advance(10 * time.Second)
	freed := eng.Sweeper.SweepOnce(ctx, clock.Now())
	require.Len(t, freed, 1)
	assert.Equal(t, "sta-1", freed[0].StationID)
	assert.Equal(t, 0, eng.Fabric.ProvisionedUnits("ap-b"))

	ok, bad := eng.Conserved()
	assert.True(t, ok, bad)

	journals := eng.Journals()
	require.Len(t, journals["ap-b"], 2)
	assert.Equal(t, model.EventExpired, journals["ap-b"][1].Event)
	assert.Empty(t, journals["ap-a"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SweepFreed))
	assert.Equal(t, 20.0, testutil.ToFloat64(metrics.AvailableUnits.WithLabelValues("ap-b")))
}

func TestBuildRejectsDuplicateAccessPoint(t *testing.T) {
	cfg := config.Default()
	cfg.AccessPoints = []model.AccessPointSpec{{ID: "ap"}, {ID: "ap"}}
	_, err := Build(cfg, nil)
	require.Error(t, err)

	_, err = Build(nil, nil)
	require.Error(t, err)
}
