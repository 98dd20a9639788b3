// Package scenario drives test runs against the admission controller: one
// worker per station that admits, holds the lease, then releases it.
package scenario

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/rb-admission/internal/admission"
	"github.com/signalsfoundry/rb-admission/internal/logging"
	"github.com/signalsfoundry/rb-admission/model"
	"github.com/signalsfoundry/rb-admission/timectrl"
)

// Mode selects how a batch of runs is scheduled.
type Mode string

const (
	ModeConcurrent Mode = "concurrent"
	ModeSequential Mode = "sequential"
)

const (
	DefaultStagger = 500 * time.Millisecond
	DefaultGap     = 2 * time.Second
)

// Admitter is the slice of admission.Controller a driver needs.
type Admitter interface {
	AdmitStation(ctx context.Context, stationID string, bandwidthMbps float64, d time.Duration) (*admission.Outcome, error)
	Release(ctx context.Context, accessPointID, stationID string) (bool, error)
}

// Driver executes RunSpecs.
type Driver struct {
	admitter Admitter
	pools    admission.PoolLookup
	clock    timectrl.SimClock
	log      logging.Logger
	stagger  time.Duration
	gap      time.Duration
}

type Option func(*Driver)

// WithClock sets the clock used for holds, staggers and gaps.
func WithClock(c timectrl.SimClock) Option {
	return func(d *Driver) {
		if c != nil {
			d.clock = c
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(d *Driver) { d.log = logging.OrNoop(l) }
}

// WithStagger sets the delay between consecutive concurrent starts.
func WithStagger(s time.Duration) Option {
	return func(d *Driver) {
		if s >= 0 {
			d.stagger = s
		}
	}
}

// WithGap sets the pause between sequential runs.
func WithGap(g time.Duration) Option {
	return func(d *Driver) {
		if g >= 0 {
			d.gap = g
		}
	}
}

// New builds a driver. pools is used only to read available units after an
// admission; it may be nil.
func New(admitter Admitter, pools admission.PoolLookup, opts ...Option) *Driver {
	d := &Driver{
		admitter: admitter,
		pools:    pools,
		clock:    timectrl.WallClock{},
		log:      logging.Noop(),
		stagger:  DefaultStagger,
		gap:      DefaultGap,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run dispatches to RunConcurrent or RunSequential.
func (d *Driver) Run(ctx context.Context, mode Mode, runs []model.RunSpec) ([]model.RunResult, error) {
	switch mode {
	case ModeConcurrent, "":
		return d.RunConcurrent(ctx, runs), nil
	case ModeSequential:
		return d.RunSequential(ctx, runs), nil
	default:
		return nil, fmt.Errorf("scenario: unknown run mode %q", mode)
	}
}

// RunConcurrent starts one worker per run. Run i starts after i*stagger
// unless it sets its own StartDelay. Results are in input order.
func (d *Driver) RunConcurrent(ctx context.Context, runs []model.RunSpec) []model.RunResult {
	results := make([]model.RunResult, len(runs))
	var wg sync.WaitGroup
	for i, run := range runs {
		delay := time.Duration(i) * d.stagger
		if run.StartDelay > 0 {
			delay = run.StartDelay
		}
		wg.Add(1)
		go func(i int, run model.RunSpec, delay time.Duration) {
			defer wg.Done()
			if err := d.wait(ctx, delay); err != nil {
				results[i] = notStarted(run, d.clock.Now(), err)
				return
			}
			results[i] = d.runOne(ctx, run)
		}(i, run, delay)
	}
	wg.Wait()

	d.log.Info(ctx, "concurrent runs finished", logging.Int("runs", len(runs)), logging.Int("admitted", countAdmitted(results)))
	return results
}

// RunSequential runs one station at a time with gap between runs. Runs not
// reached before ctx is done are recorded as not started.
func (d *Driver) RunSequential(ctx context.Context, runs []model.RunSpec) []model.RunResult {
	results := make([]model.RunResult, len(runs))
	for i, run := range runs {
		if i > 0 {
			if err := d.wait(ctx, d.gap); err != nil {
				results[i] = notStarted(run, d.clock.Now(), err)
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			results[i] = notStarted(run, d.clock.Now(), err)
			continue
		}
		results[i] = d.runOne(ctx, run)
	}

	d.log.Info(ctx, "sequential runs finished", logging.Int("runs", len(runs)), logging.Int("admitted", countAdmitted(results)))
	return results
}

// runOne admits, holds, then releases in a deferred cleanup so the lease is
// returned even when the hold is interrupted.
func (d *Driver) runOne(ctx context.Context, run model.RunSpec) (res model.RunResult) {
	log := d.log.With(logging.String("station", run.StationID))
	res = model.RunResult{
		StationID:       run.StationID,
		BandwidthMbps:   run.BandwidthMbps,
		DurationSeconds: run.Duration.Seconds(),
		StartedAt:       d.clock.Now(),
		Attempts:        []model.AllocationAttempt{},
	}
	defer func() { res.EndedAt = d.clock.Now() }()

	out, err := d.admitter.AdmitStation(ctx, run.StationID, run.BandwidthMbps, run.Duration)
	if out != nil {
		res.Attempts = append(res.Attempts, out.Attempts...)
	}
	if err != nil {
		res.Error = err.Error()
		log.Warn(ctx, "run failed", logging.Err(err))
		return res
	}
	if !out.Admitted {
		res.Error = out.Reason.Error()
		log.Info(ctx, "run denied", logging.Int("attempts", len(out.Attempts)))
		return res
	}

	res.Success = true
	res.AccessPointID = out.AccessPointID
	res.RequiredUnits = out.Units
	res.QualityClass = int(out.QualityClass)
	if n := len(out.Attempts); n > 0 {
		res.AvailableBefore = out.Attempts[n-1].AvailableBefore
	}
	if d.pools != nil {
		if p := d.pools.Pool(out.AccessPointID); p != nil {
			res.AvailableAfter = p.AvailableUnits()
		}
	}

	heldFrom := d.clock.Now()
	defer func() {
		res.HeldSeconds = d.clock.Now().Sub(heldFrom).Seconds()
		released, err := d.admitter.Release(context.WithoutCancel(ctx), out.AccessPointID, run.StationID)
		switch {
		case err != nil:
			res.Error = fmt.Sprintf("release: %v", err)
			log.Error(ctx, "release failed", logging.Err(err))
		case released:
			res.Ending = model.EndingReleased
		default:
			res.Ending = model.EndingExpired
		}
		log.Info(ctx, "run finished",
			logging.String("access_point", out.AccessPointID),
			logging.String("ending", string(res.Ending)),
			logging.Float64("held_seconds", res.HeldSeconds),
		)
	}()

	if err := d.wait(ctx, run.HoldFor()); err != nil {
		log.Warn(ctx, "hold interrupted", logging.Err(err))
	}
	return res
}

func (d *Driver) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.clock.After(delay):
		return nil
	}
}

func notStarted(run model.RunSpec, now time.Time, err error) model.RunResult {
	return model.RunResult{
		StationID:       run.StationID,
		BandwidthMbps:   run.BandwidthMbps,
		DurationSeconds: run.Duration.Seconds(),
		Attempts:        []model.AllocationAttempt{},
		Error:           fmt.Sprintf("not started: %v", err),
		StartedAt:       now,
		EndedAt:         now,
	}
}

func countAdmitted(results []model.RunResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
