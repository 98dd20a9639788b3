package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/rb-admission/core"
	"github.com/signalsfoundry/rb-admission/kb"
	"github.com/signalsfoundry/rb-admission/model"
	"github.com/signalsfoundry/rb-admission/timectrl"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T, units map[string]int) *kb.KnowledgeBase {
	t.Helper()
	store := kb.NewKnowledgeBase()
	clock := timectrl.NewManualClock(epoch)
	for id, n := range units {
		p, err := core.NewPool(id, n, core.WithClock(clock))
		require.NoError(t, err)
		require.NoError(t, store.AddAccessPoint(p))
	}
	return store
}

func samples(pairs ...any) []model.SignalSample {
	out := make([]model.SignalSample, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, model.SignalSample{AccessPointID: pairs[i].(string), SignalDBm: pairs[i+1].(float64)})
	}
	return out
}

type scriptedScanner map[string][]model.SignalSample

func (s scriptedScanner) Scan(_ context.Context, station string) ([]model.SignalSample, error) {
	if station == "broken" {
		return nil, errors.New("radio off")
	}
	return s[station], nil
}

type failingPath struct {
	fail     map[string]bool
	mu       sync.Mutex
	detached int
}

func (f *failingPath) Attach(_ context.Context, _, ap string, _ int) (core.PathHandle, error) {
	if f.fail[ap] {
		return "", fmt.Errorf("no route to %s", ap)
	}
	return core.PathHandle("h-" + ap), nil
}

func (f *failingPath) Detach(context.Context, core.PathHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached++
	return nil
}

func TestAdmitPicksStrongestCandidate(t *testing.T) {
	store := newRegistry(t, map[string]int{"ap-a": 52, "ap-b": 52})
	c := NewController(store)

	out, err := c.Admit(context.Background(), Request{
		StationID:     "sta-1",
		BandwidthMbps: 10,
		Duration:      10 * time.Second,
		Candidates:    samples("ap-b", -75.0, "ap-a", -55.0),
	})
	require.NoError(t, err)
	require.True(t, out.Admitted)
	assert.Equal(t, "ap-a", out.AccessPointID)
	assert.Equal(t, core.QualityClass(12), out.QualityClass)
	assert.Equal(t, 9, out.Units)
	require.NotNil(t, out.Reservation)
	assert.Equal(t, epoch.Add(10*time.Second), out.Reservation.EndTime)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, 52, out.Attempts[0].AvailableBefore)
	assert.Equal(t, 52, out.Attempts[0].TotalUnits)
	assert.True(t, out.Attempts[0].Admitted())
	assert.NoError(t, out.Err())
	assert.Equal(t, 43, store.Pool("ap-a").AvailableUnits())
}

func TestAdmitFallsBackThenFails(t *testing.T) {
	// ap-a needs 9 units at class 12, ap-b needs 17 at class 7.
	store := newRegistry(t, map[string]int{"ap-a": 8, "ap-b": 16})
	c := NewController(store)

	out, err := c.Admit(context.Background(), Request{
		StationID:     "sta-1",
		BandwidthMbps: 10,
		Duration:      time.Second,
		Candidates:    samples("ap-a", -55.0, "ap-b", -75.0),
	})
	require.NoError(t, err)
	assert.False(t, out.Admitted)
	require.ErrorIs(t, out.Err(), core.ErrNoCapacityAvailable)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, "ap-a", out.Attempts[0].AccessPointID)
	assert.Equal(t, 9, out.Attempts[0].RequiredUnits)
	assert.Equal(t, "ap-b", out.Attempts[1].AccessPointID)
	assert.Equal(t, 7, out.Attempts[1].QualityClass)
	assert.Equal(t, 17, out.Attempts[1].RequiredUnits)
	for _, a := range out.Attempts {
		assert.Equal(t, model.AttemptDenied, a.Outcome)
		assert.Contains(t, a.Error, "insufficient capacity")
	}
	assert.Equal(t, 8, store.Pool("ap-a").AvailableUnits())
	assert.Equal(t, 16, store.Pool("ap-b").AvailableUnits())
}

func TestAdmitSecondCandidateWins(t *testing.T) {
	store := newRegistry(t, map[string]int{"ap-a": 5, "ap-b": 52})
	c := NewController(store)

	out, err := c.Admit(context.Background(), Request{
		StationID:     "sta-1",
		BandwidthMbps: 10,
		Duration:      time.Second,
		Candidates:    samples("ap-a", -55.0, "ap-b", -75.0),
	})
	require.NoError(t, err)
	require.True(t, out.Admitted)
	assert.Equal(t, "ap-b", out.AccessPointID)
	require.Len(t, out.Attempts, 2)
	assert.False(t, out.Attempts[0].Admitted())
	assert.True(t, out.Attempts[1].Admitted())
	assert.Equal(t, 52-17, store.Pool("ap-b").AvailableUnits())
}

func TestAdmitEmptyCandidates(t *testing.T) {
	c := NewController(newRegistry(t, map[string]int{"ap-a": 52}))
	out, err := c.Admit(context.Background(), Request{StationID: "sta", BandwidthMbps: 1, Duration: time.Second})
	require.NoError(t, err)
	assert.False(t, out.Admitted)
	assert.Empty(t, out.Attempts)
	assert.ErrorIs(t, out.Reason, core.ErrNoCapacityAvailable)
}

func TestAdmitRejectsInvalidInput(t *testing.T) {
	store := newRegistry(t, map[string]int{"ap-a": 52})
	c := NewController(store)
	ctx := context.Background()

	cases := map[string]Request{
		"zero bandwidth":     {StationID: "s", BandwidthMbps: 0, Duration: time.Second, Candidates: samples("ap-a", -50.0)},
		"negative bandwidth": {StationID: "s", BandwidthMbps: -3, Duration: time.Second, Candidates: samples("ap-a", -50.0)},
		"zero duration":      {StationID: "s", BandwidthMbps: 1, Candidates: samples("ap-a", -50.0)},
		"empty station":      {BandwidthMbps: 1, Duration: time.Second, Candidates: samples("ap-a", -50.0)},
		"empty candidate id": {StationID: "s", BandwidthMbps: 1, Duration: time.Second, Candidates: samples("", -50.0)},
		"duplicate ap":       {StationID: "s", BandwidthMbps: 1, Duration: time.Second, Candidates: samples("ap-a", -50.0, "ap-a", -60.0)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := c.Admit(ctx, req)
			require.ErrorIs(t, err, core.ErrInvalidRequest)
			assert.Nil(t, out)
		})
	}
	assert.Equal(t, 0, store.Pool("ap-a").Journal().Len())
}

func TestAdmitTiesKeepScanOrder(t *testing.T) {
	store := newRegistry(t, map[string]int{"ap-x": 52, "ap-y": 52})
	c := NewController(store)
	for i := 0; i < 5; i++ {
		out, err := c.Admit(context.Background(), Request{
			StationID:     fmt.Sprintf("sta-%d", i),
			BandwidthMbps: 1,
			Duration:      time.Second,
			Candidates:    samples("ap-y", -60.0, "ap-x", -60.0),
		})
		require.NoError(t, err)
		assert.Equal(t, "ap-y", out.AccessPointID)
	}
}

func TestAdmitSkipsUnknownAccessPoint(t *testing.T) {
	store := newRegistry(t, map[string]int{"ap-b": 52})
	c := NewController(store)
	out, err := c.Admit(context.Background(), Request{
		StationID:     "sta",
		BandwidthMbps: 2,
		Duration:      time.Second,
		Candidates:    samples("ap-gone", -40.0, "ap-b", -80.0),
	})
	require.NoError(t, err)
	require.True(t, out.Admitted)
	assert.Equal(t, "ap-b", out.AccessPointID)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, core.ErrUnknownAccessPoint.Error(), out.Attempts[0].Error)
}

func TestAdmitMinSignalFilter(t *testing.T) {
	store := newRegistry(t, map[string]int{"ap-a": 52, "ap-b": 52})
	c := NewController(store, WithMinSignal(-90))
	out, err := c.Admit(context.Background(), Request{
		StationID:     "sta",
		BandwidthMbps: 1,
		Duration:      time.Second,
		Candidates:    samples("ap-a", -95.0),
	})
	require.NoError(t, err)
	assert.False(t, out.Admitted)
	assert.Empty(t, out.Attempts)
}

func TestAdmitPathFailureFallsBack(t *testing.T) {
	store := newRegistry(t, map[string]int{"ap-a": 52, "ap-b": 52})
	path := &failingPath{fail: map[string]bool{"ap-a": true}}
	c := NewController(store, WithPath(path))

	out, err := c.Admit(context.Background(), Request{
		StationID:     "sta",
		BandwidthMbps: 5,
		Duration:      time.Second,
		Candidates:    samples("ap-a", -50.0, "ap-b", -70.0),
	})
	require.NoError(t, err)
	require.True(t, out.Admitted)
	assert.Equal(t, "ap-b", out.AccessPointID)
	assert.Equal(t, "h-ap-b", out.Reservation.PathHandle)
	assert.Equal(t, 52, store.Pool("ap-a").AvailableUnits())
	assert.Contains(t, out.Attempts[0].Error, "no route to ap-a")
}

func TestAdmitPathFailureCauseSurfaced(t *testing.T) {
	store := newRegistry(t, map[string]int{"ap-a": 52})
	c := NewController(store, WithPath(&failingPath{fail: map[string]bool{"ap-a": true}}))

	out, err := c.Admit(context.Background(), Request{
		StationID:     "sta",
		BandwidthMbps: 5,
		Duration:      time.Second,
		Candidates:    samples("ap-a", -50.0),
	})
	require.NoError(t, err)
	assert.False(t, out.Admitted)
	assert.ErrorIs(t, out.Reason, core.ErrNoCapacityAvailable)
	assert.ErrorIs(t, out.Reason, core.ErrCapacityPathFailure)
}

func TestAdmitCancelledBetweenCandidates(t *testing.T) {
	store := newRegistry(t, map[string]int{"ap-a": 52})
	c := NewController(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Admit(ctx, Request{
		StationID:     "sta",
		BandwidthMbps: 5,
		Duration:      time.Second,
		Candidates:    samples("ap-a", -50.0),
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 52, store.Pool("ap-a").AvailableUnits())
}

func TestAdmitDeterministic(t *testing.T) {
	req := Request{
		StationID:     "sta",
		BandwidthMbps: 12,
		Duration:      time.Second,
		Candidates:    samples("ap-a", -65.0, "ap-b", -58.0, "ap-c", -58.0),
	}
	var picks []string
	for i := 0; i < 3; i++ {
		store := newRegistry(t, map[string]int{"ap-a": 52, "ap-b": 9, "ap-c": 52})
		out, err := NewController(store).Admit(context.Background(), req)
		require.NoError(t, err)
		picks = append(picks, out.AccessPointID)
	}
	assert.Equal(t, []string{"ap-c", "ap-c", "ap-c"}, picks)
}

func TestAdmitStationUsesScanner(t *testing.T) {
	store := newRegistry(t, map[string]int{"ap-a": 52})
	scanner := scriptedScanner{"sta-1": samples("ap-a", -45.0)}
	c := NewController(store, WithScanner(scanner))

	out, err := c.AdmitStation(context.Background(), "sta-1", 14, time.Minute)
	require.NoError(t, err)
	require.True(t, out.Admitted)
	assert.Equal(t, 10, out.Units)

	out, err = c.AdmitStation(context.Background(), "sta-2", 14, time.Minute)
	require.NoError(t, err)
	assert.False(t, out.Admitted)

	_, err = c.AdmitStation(context.Background(), "broken", 14, time.Minute)
	require.ErrorContains(t, err, "radio off")

	_, err = NewController(store).AdmitStation(context.Background(), "sta-1", 1, time.Second)
	require.ErrorIs(t, err, ErrNoScanner)
}

func TestReleaseThroughController(t *testing.T) {
	store := newRegistry(t, map[string]int{"ap-a": 52})
	path := &failingPath{}
	c := NewController(store, WithPath(path))
	ctx := context.Background()

	out, err := c.Admit(ctx, Request{StationID: "sta", BandwidthMbps: 10, Duration: time.Minute, Candidates: samples("ap-a", -65.0)})
	require.NoError(t, err)
	require.True(t, out.Admitted)

	ok, err := c.Release(ctx, "ap-a", "sta")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Release(ctx, "ap-a", "sta")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, path.detached)
	assert.Equal(t, 52, store.Pool("ap-a").AvailableUnits())

	_, err = c.Release(ctx, "ap-missing", "sta")
	assert.ErrorIs(t, err, core.ErrUnknownAccessPoint)
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *countingMetrics) ObserveAdmission(outcome string, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}

func TestAbandonedAdmissionIsObserved(t *testing.T) {
	store := newRegistry(t, map[string]int{"ap-a": 52, "ap-b": 52})
	metrics := &countingMetrics{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ap-a's attach fails and cancels the caller, so ap-b is never tried.
	attach := core.AttachFunc(func(_ context.Context, _, ap string, _ int) (core.PathHandle, error) {
		cancel()
		return "", fmt.Errorf("link to %s dropped", ap)
	})
	c := NewController(store, WithAttacher(attach), WithMetricsRecorder(metrics))

	out, err := c.Admit(ctx, Request{
		StationID:     "sta",
		BandwidthMbps: 5,
		Duration:      time.Second,
		Candidates:    samples("ap-a", -50.0, "ap-b", -60.0),
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, 1, metrics.outcomes[OutcomeAbandoned])
	assert.Zero(t, metrics.outcomes["denied"])
	assert.Equal(t, 52, store.Pool("ap-a").AvailableUnits())
	assert.Equal(t, 52, store.Pool("ap-b").AvailableUnits())

	_, err = c.Admit(ctx, Request{
		StationID:     "sta-2",
		BandwidthMbps: 5,
		Duration:      time.Second,
		Candidates:    samples("ap-b", -60.0),
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, metrics.outcomes[OutcomeAbandoned])
}

func TestConcurrentStationsConserveUnits(t *testing.T) {
	store := newRegistry(t, map[string]int{"ap-a": 52, "ap-b": 52})
	metrics := &countingMetrics{}
	c := NewController(store, WithMetricsRecorder(metrics))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Admit(context.Background(), Request{
				StationID:     fmt.Sprintf("sta-%d", i),
				BandwidthMbps: 6,
				Duration:      time.Minute,
				Candidates:    samples("ap-a", -62.0, "ap-b", -72.0),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, p := range store.ListPools() {
		snap := p.Snapshot()
		assert.True(t, snap.Conserved(), "pool %s not conserved", p.ID())
		assert.GreaterOrEqual(t, snap.AvailableUnits, 0)
	}
	// ap-a grants 6 units per station (8 fit), ap-b grants 10 (5 fit).
	assert.Equal(t, 13, metrics.outcomes["admitted"])
	assert.Equal(t, 7, metrics.outcomes["denied"])
}
