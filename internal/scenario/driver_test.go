package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/rb-admission/internal/admission"
	"github.com/signalsfoundry/rb-admission/internal/fabric"
	"github.com/signalsfoundry/rb-admission/internal/sweeper"
	"github.com/signalsfoundry/rb-admission/kb"
	"github.com/signalsfoundry/rb-admission/model"
	"github.com/signalsfoundry/rb-admission/timectrl"
)

type rig struct {
	registry   *kb.KnowledgeBase
	fab        *fabric.Fabric
	controller *admission.Controller
}

// newRig registers ap-a with 52 units; every station sees only ap-a at
// -65 dBm (class 10, 1 Mbps per unit).
func newRig(t *testing.T, stations ...string) *rig {
	t.Helper()
	registry := kb.NewKnowledgeBase()
	_, err := registry.AddFromSpec(model.AccessPointSpec{ID: "ap-a", TotalUnits: 52}, 52)
	require.NoError(t, err)

	specs := make([]model.StationSpec, 0, len(stations))
	for _, s := range stations {
		specs = append(specs, model.StationSpec{ID: s, Signals: []model.SignalSample{{AccessPointID: "ap-a", SignalDBm: -65}}})
	}
	fab := fabric.New()
	return &rig{
		registry: registry,
		fab:      fab,
		controller: admission.NewController(registry,
			admission.WithPath(fab),
			admission.WithScanner(fabric.NewStaticScanner(specs)),
		),
	}
}

func runsFor(bw float64, hold time.Duration, stations ...string) []model.RunSpec {
	runs := make([]model.RunSpec, 0, len(stations))
	for _, s := range stations {
		runs = append(runs, model.RunSpec{StationID: s, BandwidthMbps: bw, Duration: time.Minute, Hold: hold})
	}
	return runs
}

func TestRunConcurrentContention(t *testing.T) {
	stations := []string{"sta-1", "sta-2", "sta-3"}
	r := newRig(t, stations...)
	d := New(r.controller, r.registry, WithStagger(0))

	results := d.RunConcurrent(context.Background(), runsFor(20, 50*time.Millisecond, stations...))
	require.Len(t, results, 3)

	admitted := 0
	for i, res := range results {
		assert.Equal(t, stations[i], res.StationID, "results keep input order")
		if res.Success {
			admitted++
			assert.Equal(t, "ap-a", res.AccessPointID)
			assert.Equal(t, 20, res.RequiredUnits)
			assert.Equal(t, 10, res.QualityClass)
			assert.Equal(t, model.EndingReleased, res.Ending)
			assert.Empty(t, res.Error)
		} else {
			assert.Contains(t, res.Error, "no capacity")
			require.Len(t, res.Attempts, 1)
			assert.False(t, res.Attempts[0].Admitted())
		}
	}
	assert.Equal(t, 2, admitted, "52 units fit two 20-unit leases")
	assert.Equal(t, 52, r.registry.Pool("ap-a").AvailableUnits())
	assert.Empty(t, r.fab.Links())
}

func TestRunSequentialReusesCapacity(t *testing.T) {
	stations := []string{"sta-1", "sta-2", "sta-3"}
	r := newRig(t, stations...)
	d := New(r.controller, r.registry, WithGap(0))

	results, err := d.Run(context.Background(), ModeSequential, runsFor(20, 5*time.Millisecond, stations...))
	require.NoError(t, err)
	for _, res := range results {
		assert.True(t, res.Success, "station %s: %s", res.StationID, res.Error)
		assert.Equal(t, 52, res.AvailableBefore)
		assert.Equal(t, 32, res.AvailableAfter)
		assert.False(t, res.EndedAt.Before(res.StartedAt))
	}

	journal := r.registry.Pool("ap-a").Journal().Entries()
	require.Len(t, journal, 6)
	for i, e := range journal {
		want := model.EventAdmitted
		if i%2 == 1 {
			want = model.EventReleased
		}
		assert.Equal(t, want, e.Event, "entry %d", i)
	}
}

func TestRunSequentialOnManualClock(t *testing.T) {
	stations := []string{"sta-1", "sta-2"}
	r := newRig(t, stations...)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := timectrl.NewManualClock(start)
	d := New(r.controller, r.registry, WithClock(clock), WithGap(2*time.Second))

	done := make(chan []model.RunResult, 1)
	go func() {
		done <- d.RunSequential(context.Background(), runsFor(20, 10*time.Second, stations...))
	}()

	var results []model.RunResult
	timeout := time.After(5 * time.Second)
	for results == nil {
		select {
		case results = <-done:
		case <-timeout:
			t.Fatal("runs did not finish while the manual clock advanced")
		default:
			clock.Advance(time.Second)
			time.Sleep(time.Millisecond)
		}
	}

	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.Success, res.Error)
		assert.Equal(t, model.EndingReleased, res.Ending)
		assert.GreaterOrEqual(t, res.HeldSeconds, 10.0, "hold waits on the manual clock")
		assert.False(t, res.StartedAt.Before(start))
	}
	assert.GreaterOrEqual(t, results[1].StartedAt.Sub(results[0].EndedAt), 2*time.Second, "gap waits on the manual clock")
	assert.Equal(t, 52, r.registry.Pool("ap-a").AvailableUnits())
}

func TestRunHoldBeyondDurationExpires(t *testing.T) {
	r := newRig(t, "sta-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := sweeper.New(r.registry, sweeper.WithInterval(5*time.Millisecond), sweeper.WithDetacher(r.controller.Detacher()))
	go sw.Run(ctx)

	d := New(r.controller, r.registry)
	results := d.RunSequential(ctx, []model.RunSpec{{
		StationID: "sta-1", BandwidthMbps: 10, Duration: 10 * time.Millisecond, Hold: 150 * time.Millisecond,
	}})
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, model.EndingExpired, results[0].Ending)
	assert.Equal(t, 52, r.registry.Pool("ap-a").AvailableUnits())
	assert.Len(t, r.registry.Pool("ap-a").Journal().Filter(model.EventExpired), 1)
}

func TestRunInterruptedHoldStillReleases(t *testing.T) {
	r := newRig(t, "sta-1")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	d := New(r.controller, r.registry)
	results := d.RunConcurrent(ctx, runsFor(10, time.Hour, "sta-1"))
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, model.EndingReleased, results[0].Ending)
	assert.Equal(t, 52, r.registry.Pool("ap-a").AvailableUnits())
}

func TestRunCancelledBeforeStart(t *testing.T) {
	r := newRig(t, "sta-1", "sta-2")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(r.controller, r.registry)
	for _, mode := range []Mode{ModeConcurrent, ModeSequential} {
		results, err := d.Run(ctx, mode, runsFor(10, time.Millisecond, "sta-1", "sta-2"))
		require.NoError(t, err)
		for _, res := range results {
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, "not started")
		}
	}
	assert.Equal(t, 0, r.registry.Pool("ap-a").Journal().Len())
}

func TestRunUnknownStationIsDenied(t *testing.T) {
	r := newRig(t)
	d := New(r.controller, r.registry)
	results := d.RunSequential(context.Background(), runsFor(10, time.Millisecond, "ghost"))
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Empty(t, results[0].Attempts)
	assert.Contains(t, results[0].Error, "no candidate")
}

func TestRunUnknownMode(t *testing.T) {
	d := New(newRig(t).controller, nil)
	_, err := d.Run(context.Background(), Mode("parallel"), nil)
	require.Error(t, err)
}
