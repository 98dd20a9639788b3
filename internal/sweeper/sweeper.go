// Package sweeper reclaims resource blocks from expired leases.
package sweeper

import (
	"context"
	"time"

	"github.com/signalsfoundry/rb-admission/core"
	"github.com/signalsfoundry/rb-admission/internal/logging"
	"github.com/signalsfoundry/rb-admission/timectrl"
)

// DefaultInterval is the polling period used when none is configured.
const DefaultInterval = time.Second

// Registry lists the access points to sweep. kb.KnowledgeBase satisfies it.
type Registry interface {
	AccessPointIDs() []string
	Pool(id string) *core.Pool
}

// MetricsRecorder receives one observation per sweep pass.
type MetricsRecorder interface {
	ObserveSweep(d time.Duration, freed int)
}

// Freed names one lease released by a sweep pass.
type Freed struct {
	AccessPointID string
	StationID     string
}

// Sweeper periodically frees expired leases from every registered pool.
type Sweeper struct {
	registry Registry
	detacher core.PathDetacher
	clock    timectrl.Clock
	interval time.Duration
	log      logging.Logger
	metrics  MetricsRecorder
}

// Option customises Sweeper construction.
type Option func(*Sweeper)

// WithInterval sets the polling period. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock sets the clock whose Now is compared against lease deadlines.
func WithClock(c timectrl.Clock) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithDetacher sets the capacity path teardown used for freed leases.
func WithDetacher(d core.PathDetacher) Option {
	return func(s *Sweeper) { s.detacher = d }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Sweeper) { s.log = logging.OrNoop(l) }
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// New constructs a sweeper over registry.
func New(registry Registry, opts ...Option) *Sweeper {
	s := &Sweeper{
		registry: registry,
		clock:    timectrl.WallClock{},
		interval: DefaultInterval,
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the polling period.
func (s *Sweeper) Interval() time.Duration { return s.interval }

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info(ctx, "expiry sweeper started", logging.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "expiry sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx, s.clock.Now())
		}
	}
}

// SweepOnce runs one pass over every registered pool at time now. Access
// points removed after the ID listing are skipped.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) []Freed {
	start := time.Now()
	var freed []Freed
	for _, id := range s.registry.AccessPointIDs() {
		pool := s.registry.Pool(id)
		if pool == nil {
			continue
		}
		for _, station := range pool.SweepExpired(ctx, now, s.detacher) {
			freed = append(freed, Freed{AccessPointID: id, StationID: station})
		}
	}

	s.log.Debug(ctx, "sweep tick",
		logging.String("now", now.Format(time.RFC3339Nano)),
		logging.Int("freed", len(freed)),
	)
	if s.metrics != nil {
		s.metrics.ObserveSweep(time.Since(start), len(freed))
	}
	return freed
}

// Follow sweeps on every step of a simulated clock instead of a wall ticker.
func (s *Sweeper) Follow(ctx context.Context, tc *timectrl.TimeController) {
	tc.AddListener(func(now time.Time) {
		if ctx.Err() != nil {
			return
		}
		s.SweepOnce(ctx, now)
	})
}
