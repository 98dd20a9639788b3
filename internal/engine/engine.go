// Package engine assembles the admission engine from configuration: pool
// registry, capacity path fabric, scan oracle, controller and sweeper.
package engine

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/rb-admission/core"
	"github.com/signalsfoundry/rb-admission/internal/admission"
	"github.com/signalsfoundry/rb-admission/internal/config"
	"github.com/signalsfoundry/rb-admission/internal/fabric"
	"github.com/signalsfoundry/rb-admission/internal/logging"
	"github.com/signalsfoundry/rb-admission/internal/observability"
	"github.com/signalsfoundry/rb-admission/internal/sweeper"
	"github.com/signalsfoundry/rb-admission/kb"
	"github.com/signalsfoundry/rb-admission/model"
	"github.com/signalsfoundry/rb-admission/timectrl"
)

// Engine holds the wired components.
type Engine struct {
	Registry   *kb.KnowledgeBase
	Fabric     *fabric.Fabric
	Scanner    *fabric.StaticScanner
	Controller *admission.Controller
	Sweeper    *sweeper.Sweeper
}

// Option customises Build.
type Option func(*buildOptions)

type buildOptions struct {
	clock   timectrl.Clock
	metrics *observability.AdmissionCollector
}

// WithClock drives pools, fabric and sweeper from c.
func WithClock(c timectrl.Clock) Option {
	return func(o *buildOptions) { o.clock = c }
}

// WithMetrics reports pool, admission and sweep metrics to m.
func WithMetrics(m *observability.AdmissionCollector) Option {
	return func(o *buildOptions) { o.metrics = m }
}

// Build registers every configured access point and wires the controller
// and sweeper to the same fabric.
func Build(cfg *config.Config, log logging.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: nil config")
	}
	log = logging.OrNoop(log)
	o := buildOptions{clock: timectrl.WallClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	poolOpts := []core.PoolOption{core.WithClock(o.clock), core.WithLogger(log)}
	if o.metrics != nil {
		poolOpts = append(poolOpts, core.WithMetricsRecorder(o.metrics))
	}

	registry := kb.NewKnowledgeBase()
	for _, ap := range cfg.AccessPoints {
		p, err := registry.AddFromSpec(ap, cfg.Admission.DefaultTotalUnits, poolOpts...)
		if err != nil {
			return nil, fmt.Errorf("engine: access point %q: %w", ap.ID, err)
		}
		log.Info(context.Background(), "access point registered",
			logging.String("access_point", p.ID()),
			logging.Int("total_units", p.TotalUnits()),
			logging.Bool("unconstrained", p.Unconstrained()),
		)
	}

	fab := fabric.New(
		fabric.WithClock(o.clock),
		fabric.WithLogger(log),
		fabric.WithAttachLatency(cfg.Fabric.AttachLatency),
	)
	policy := fabric.DefaultRetryPolicy()
	policy.MaxTries = cfg.Fabric.AttachRetries
	if cfg.Fabric.RetryInitialInterval > 0 {
		policy.InitialInterval = cfg.Fabric.RetryInitialInterval
	}
	scanner := fabric.NewStaticScanner(cfg.Stations)

	ctrlOpts := []admission.Option{
		admission.WithPath(fab),
		admission.WithAttacher(fabric.NewRetryingAttacher(fab, policy, log)),
		admission.WithScanner(scanner),
		admission.WithLogger(log),
	}
	if cfg.Admission.MinSignalDBm != nil {
		ctrlOpts = append(ctrlOpts, admission.WithMinSignal(*cfg.Admission.MinSignalDBm))
	}
	if o.metrics != nil {
		ctrlOpts = append(ctrlOpts, admission.WithMetricsRecorder(o.metrics))
	}
	controller := admission.NewController(registry, ctrlOpts...)

	swOpts := []sweeper.Option{
		sweeper.WithInterval(cfg.Sweeper.Interval),
		sweeper.WithClock(o.clock),
		sweeper.WithDetacher(controller.Detacher()),
		sweeper.WithLogger(log),
	}
	if o.metrics != nil {
		swOpts = append(swOpts, sweeper.WithMetricsRecorder(o.metrics))
	}

	return &Engine{
		Registry:   registry,
		Fabric:     fab,
		Scanner:    scanner,
		Controller: controller,
		Sweeper:    sweeper.New(registry, swOpts...),
	}, nil
}

// Journals returns every access point's journal keyed by ID.
func (e *Engine) Journals() map[string][]model.JournalEntry {
	out := make(map[string][]model.JournalEntry, e.Registry.Len())
	for _, p := range e.Registry.ListPools() {
		out[p.ID()] = p.Journal().Entries()
	}
	return out
}

// Conserved reports whether every pool satisfies available + reserved ==
// total, and the first access point that does not.
func (e *Engine) Conserved() (bool, string) {
	for _, p := range e.Registry.ListPools() {
		if !p.Snapshot().Conserved() {
			return false, p.ID()
		}
	}
	return true, ""
}
