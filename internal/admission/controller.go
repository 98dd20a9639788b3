// Package admission selects an access point for a station's capacity
// request and reserves resource blocks on it.
package admission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/signalsfoundry/rb-admission/core"
	"github.com/signalsfoundry/rb-admission/internal/logging"
	"github.com/signalsfoundry/rb-admission/model"
)

// ErrNoScanner is returned by AdmitStation when no scan oracle is configured.
var ErrNoScanner = errors.New("admission: no scanner configured")

// PoolLookup resolves an access point ID to its pool. kb.KnowledgeBase
// satisfies it.
type PoolLookup interface {
	Pool(id string) *core.Pool
}

// Scanner is the signal-scan oracle. It returns the access points visible
// to a station in scan order; the result may be empty.
type Scanner interface {
	Scan(ctx context.Context, stationID string) ([]model.SignalSample, error)
}

// MetricsRecorder receives one observation per Admit call.
type MetricsRecorder interface {
	ObserveAdmission(outcome string, attempts int, d time.Duration)
}

// Request is a station's capacity request against a ranked candidate list.
type Request struct {
	StationID     string
	BandwidthMbps float64
	Duration      time.Duration
	Candidates    []model.SignalSample
}

// Outcome is the result of one Admit call. Denials are outcomes, not errors:
// Admitted is false and Reason carries ErrNoCapacityAvailable joined with
// any capacity path failures met along the way.
type Outcome struct {
	StationID     string
	Admitted      bool
	AccessPointID string
	QualityClass  core.QualityClass
	Units         int
	Reservation   *model.Reservation
	Attempts      []model.AllocationAttempt
	Reason        error
}

// Err returns Reason. It is nil when the request was admitted.
func (o *Outcome) Err() error {
	if o == nil || o.Admitted {
		return nil
	}
	return o.Reason
}

// Controller runs admission across the pools of a registry.
type Controller struct {
	pools    PoolLookup
	attacher core.PathAttacher
	detacher core.PathDetacher
	scanner  Scanner
	log      logging.Logger
	metrics  MetricsRecorder

	minSignal    float64
	hasMinSignal bool
}

// Option customises Controller construction.
type Option func(*Controller)

// WithPath sets the capacity path primitive used on admit and release.
func WithPath(p core.CapacityPath) Option {
	return func(c *Controller) {
		if p != nil {
			c.attacher = p
			c.detacher = p
		}
	}
}

// WithAttacher overrides only the attach half, e.g. with a retrying wrapper.
func WithAttacher(a core.PathAttacher) Option {
	return func(c *Controller) { c.attacher = a }
}

// WithScanner sets the oracle used by AdmitStation.
func WithScanner(s Scanner) Option {
	return func(c *Controller) { c.scanner = s }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Controller) { c.log = logging.OrNoop(l) }
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithMinSignal drops candidates weaker than dBm before ranking.
func WithMinSignal(dBm float64) Option {
	return func(c *Controller) {
		c.minSignal = dBm
		c.hasMinSignal = true
	}
}

// NewController builds a controller over pools.
func NewController(pools PoolLookup, opts ...Option) *Controller {
	c := &Controller{
		pools: pools,
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Admit tries the candidates strongest first until one pool grants the
// request. Only invalid input and context cancellation are returned as
// errors; a request every candidate denies yields an Outcome with Admitted
// false.
//
// Cancellation is observed between candidates. A reservation already
// granted is never rolled back by cancellation; callers release it.
func (c *Controller) Admit(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()
	if err := validate(req); err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx, c.log).With(
		logging.String("station", req.StationID),
		logging.Float64("bandwidth_mbps", req.BandwidthMbps),
	)

	out := &Outcome{StationID: req.StationID}
	candidates := c.rank(req.Candidates)
	if len(candidates) == 0 {
		out.Reason = fmt.Errorf("%w: station %q has no candidate access points", core.ErrNoCapacityAvailable, req.StationID)
		log.Info(ctx, "admission failed: no candidates")
		c.observe(out, start)
		return out, nil
	}

	var pathErrs []error
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			log.Warn(ctx, "admission abandoned", logging.Int("attempts", len(out.Attempts)), logging.Err(err))
			c.observeAbandoned(out, start)
			return out, err
		}

		class := core.QualityClassFor(cand.SignalDBm)
		units, err := core.RequiredUnits(req.BandwidthMbps, class)
		if err != nil {
			return nil, err
		}
		attempt := model.AllocationAttempt{
			AccessPointID: cand.AccessPointID,
			SignalDBm:     cand.SignalDBm,
			QualityClass:  int(class),
			RequiredUnits: units,
			Outcome:       model.AttemptDenied,
		}

		pool := c.pools.Pool(cand.AccessPointID)
		if pool == nil {
			attempt.Error = core.ErrUnknownAccessPoint.Error()
			out.Attempts = append(out.Attempts, attempt)
			log.Warn(ctx, "candidate access point not registered", logging.String("access_point", cand.AccessPointID))
			continue
		}
		// Diagnostic only: another admission may change the pool before TryAdmit locks it.
		attempt.AvailableBefore, attempt.TotalUnits = pool.Capacity()

		res, err := pool.TryAdmit(ctx, core.AdmitRequest{
			StationID:     req.StationID,
			Units:         units,
			BandwidthMbps: req.BandwidthMbps,
			Duration:      req.Duration,
		}, c.attacher)
		if err != nil {
			attempt.Error = err.Error()
			out.Attempts = append(out.Attempts, attempt)
			switch {
			case errors.Is(err, core.ErrCapacityPathFailure):
				pathErrs = append(pathErrs, err)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				c.observeAbandoned(out, start)
				return out, err
			}
			log.Debug(ctx, "candidate denied",
				logging.String("access_point", cand.AccessPointID),
				logging.Int("required_units", units),
				logging.Int("available_before", attempt.AvailableBefore),
				logging.Err(err),
			)
			continue
		}

		attempt.Outcome = model.AttemptAdmitted
		out.Attempts = append(out.Attempts, attempt)
		out.Admitted = true
		out.AccessPointID = cand.AccessPointID
		out.QualityClass = class
		out.Units = units
		out.Reservation = &res
		log.Info(ctx, "station admitted",
			logging.String("access_point", cand.AccessPointID),
			logging.Int("quality_class", int(class)),
			logging.Int("units", units),
			logging.Int("attempts", len(out.Attempts)),
		)
		c.observe(out, start)
		return out, nil
	}

	out.Reason = errors.Join(append([]error{
		fmt.Errorf("%w: station %q denied by %d access point(s)", core.ErrNoCapacityAvailable, req.StationID, len(out.Attempts)),
	}, pathErrs...)...)
	log.Info(ctx, "admission failed: all candidates denied", logging.Int("attempts", len(out.Attempts)))
	c.observe(out, start)
	return out, nil
}

// AdmitStation scans for the station's visible access points and admits
// against them.
func (c *Controller) AdmitStation(ctx context.Context, stationID string, bandwidthMbps float64, d time.Duration) (*Outcome, error) {
	if c.scanner == nil {
		return nil, ErrNoScanner
	}
	samples, err := c.scanner.Scan(ctx, stationID)
	if err != nil {
		return nil, fmt.Errorf("scan station %q: %w", stationID, err)
	}
	return c.Admit(ctx, Request{
		StationID:     stationID,
		BandwidthMbps: bandwidthMbps,
		Duration:      d,
		Candidates:    samples,
	})
}

// Release frees the station's lease on accessPointID. It returns false when
// there is nothing to release.
func (c *Controller) Release(ctx context.Context, accessPointID, stationID string) (bool, error) {
	pool := c.pools.Pool(accessPointID)
	if pool == nil {
		return false, fmt.Errorf("%w: %q", core.ErrUnknownAccessPoint, accessPointID)
	}
	return pool.Release(ctx, stationID, c.detacher), nil
}

// Detacher returns the detach half of the configured capacity path. The
// sweeper uses the same one so both removal paths tear down alike.
func (c *Controller) Detacher() core.PathDetacher {
	return c.detacher
}

// rank filters by minimum signal and orders strongest first. The sort is
// stable so equal signals keep scan order.
func (c *Controller) rank(in []model.SignalSample) []model.SignalSample {
	out := make([]model.SignalSample, 0, len(in))
	for _, s := range in {
		if c.hasMinSignal && s.SignalDBm < c.minSignal {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SignalDBm > out[j].SignalDBm
	})
	return out
}

// OutcomeAbandoned labels admissions cut short by context cancellation.
const OutcomeAbandoned = "abandoned"

func (c *Controller) observe(out *Outcome, start time.Time) {
	outcome := string(model.AttemptDenied)
	if out.Admitted {
		outcome = string(model.AttemptAdmitted)
	}
	c.record(outcome, out, start)
}

func (c *Controller) observeAbandoned(out *Outcome, start time.Time) {
	c.record(OutcomeAbandoned, out, start)
}

func (c *Controller) record(outcome string, out *Outcome, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveAdmission(outcome, len(out.Attempts), time.Since(start))
}

func validate(req Request) error {
	switch {
	case req.StationID == "":
		return fmt.Errorf("%w: empty station id", core.ErrInvalidRequest)
	case math.IsNaN(req.BandwidthMbps) || math.IsInf(req.BandwidthMbps, 0) || req.BandwidthMbps <= 0:
		return fmt.Errorf("%w: bandwidth must be positive, got %v", core.ErrInvalidRequest, req.BandwidthMbps)
	case req.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive, got %s", core.ErrInvalidRequest, req.Duration)
	}
	seen := make(map[string]struct{}, len(req.Candidates))
	for i, cand := range req.Candidates {
		if cand.AccessPointID == "" {
			return fmt.Errorf("%w: candidate %d has empty access point id", core.ErrInvalidRequest, i)
		}
		if math.IsNaN(cand.SignalDBm) {
			return fmt.Errorf("%w: candidate %q has NaN signal", core.ErrInvalidRequest, cand.AccessPointID)
		}
		if _, dup := seen[cand.AccessPointID]; dup {
			return fmt.Errorf("%w: duplicate candidate %q", core.ErrInvalidRequest, cand.AccessPointID)
		}
		seen[cand.AccessPointID] = struct{}{}
	}
	return nil
}
