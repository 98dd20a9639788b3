package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/rb-admission/internal/logging"
	"github.com/signalsfoundry/rb-admission/model"
	"github.com/signalsfoundry/rb-admission/timectrl"
)

// UnconstrainedUnits is the capacity given to access points that do no RB
// accounting of their own.
const UnconstrainedUnits = math.MaxInt32

// PoolMetricsRecorder receives pool state changes for export.
type PoolMetricsRecorder interface {
	RecordPoolEvent(accessPointID string, kind model.EventKind, units int)
	SetPoolUnits(accessPointID string, available, total, activeReservations int)
	ObservePathAttach(accessPointID string, d time.Duration, err error)
}

// AdmitRequest asks a pool for units on behalf of a station.
type AdmitRequest struct {
	StationID     string
	Units         int
	BandwidthMbps float64
	Duration      time.Duration
}

// PoolSnapshot is a consistent view of a pool taken under its lock.
type PoolSnapshot struct {
	AccessPointID  string
	TotalUnits     int
	AvailableUnits int
	Unconstrained  bool
	Reservations   []model.Reservation
}

// ReservedUnits sums the units held by the snapshot's active reservations.
func (s PoolSnapshot) ReservedUnits() int {
	sum := 0
	for _, r := range s.Reservations {
		sum += r.Units
	}
	return sum
}

// Conserved reports whether available plus reserved units equals the total.
func (s PoolSnapshot) Conserved() bool {
	return s.AvailableUnits >= 0 &&
		s.AvailableUnits <= s.TotalUnits &&
		s.AvailableUnits+s.ReservedUnits() == s.TotalUnits
}

// Pool accounts the resource blocks of one access point and owns its
// reservations and journal. Every mutation holds mu for its whole duration,
// including the external attach/detach call, so operations on one access
// point are strictly serialized while different pools never contend.
type Pool struct {
	id            string
	total         int
	unconstrained bool

	clock   timectrl.Clock
	log     logging.Logger
	metrics PoolMetricsRecorder
	journal *Journal

	mu           sync.Mutex
	available    int
	reservations map[string]*model.Reservation
}

// PoolOption customises Pool construction.
type PoolOption func(*Pool)

// WithClock sets the clock used for lease start times. Defaults to the wall clock.
func WithClock(c timectrl.Clock) PoolOption {
	return func(p *Pool) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) PoolOption {
	return func(p *Pool) {
		p.log = logging.OrNoop(l)
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m PoolMetricsRecorder) PoolOption {
	return func(p *Pool) {
		p.metrics = m
	}
}

// NewPool creates a pool with totalUnits resource blocks, all available.
func NewPool(id string, totalUnits int, opts ...PoolOption) (*Pool, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty access point id", ErrInvalidRequest)
	}
	if totalUnits <= 0 {
		return nil, fmt.Errorf("%w: access point %q total units must be positive, got %d", ErrInvalidRequest, id, totalUnits)
	}
	p := &Pool{
		id:           id,
		total:        totalUnits,
		available:    totalUnits,
		clock:        timectrl.WallClock{},
		log:          logging.Noop(),
		journal:      NewJournal(),
		reservations: make(map[string]*model.Reservation),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(logging.String("access_point", id))
	p.mu.Lock()
	p.recordUnitsLocked()
	p.mu.Unlock()
	return p, nil
}

// NewUnconstrainedPool creates a pool for an access point without RB
// accounting. It goes through the same admission path as any other pool.
func NewUnconstrainedPool(id string, opts ...PoolOption) (*Pool, error) {
	p, err := NewPool(id, UnconstrainedUnits, opts...)
	if err != nil {
		return nil, err
	}
	p.unconstrained = true
	return p, nil
}

// ID returns the access point identifier.
func (p *Pool) ID() string { return p.id }

// TotalUnits returns the fixed capacity.
func (p *Pool) TotalUnits() int { return p.total }

// Unconstrained reports whether the pool was built without RB accounting.
func (p *Pool) Unconstrained() bool { return p.unconstrained }

// Journal returns the pool's event log.
func (p *Pool) Journal() *Journal { return p.journal }

// AvailableUnits returns the currently unreserved capacity.
func (p *Pool) AvailableUnits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// Capacity returns available and total units read together.
func (p *Pool) Capacity() (available, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available, p.total
}

// Reservation returns a copy of the active lease held by stationID.
func (p *Pool) Reservation(stationID string) (model.Reservation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.reservations[stationID]
	if !ok {
		return model.Reservation{}, false
	}
	return *r, true
}

// Snapshot returns a consistent view of capacity and active leases, ordered
// by station ID.
func (p *Pool) Snapshot() PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := PoolSnapshot{
		AccessPointID:  p.id,
		TotalUnits:     p.total,
		AvailableUnits: p.available,
		Unconstrained:  p.unconstrained,
		Reservations:   make([]model.Reservation, 0, len(p.reservations)),
	}
	for _, r := range p.reservations {
		snap.Reservations = append(snap.Reservations, *r)
	}
	sort.Slice(snap.Reservations, func(i, j int) bool {
		return snap.Reservations[i].StationID < snap.Reservations[j].StationID
	})
	return snap
}

// TryAdmit grants req.Units to the station or denies the request outright.
// There are no partial grants.
//
// On success the units are debited, attacher establishes the capacity path,
// and the new lease is returned. A denial returns ErrInsufficientCapacity or
// ErrReservationExists. If the attach fails the debit is rolled back and the
// error wraps ErrCapacityPathFailure. A nil attacher skips the path step.
func (p *Pool) TryAdmit(ctx context.Context, req AdmitRequest, attacher PathAttacher) (model.Reservation, error) {
	if err := validateAdmit(req); err != nil {
		return model.Reservation{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Reservation{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	log := p.log.With(logging.String("station", req.StationID), logging.Int("units", req.Units))

	if _, exists := p.reservations[req.StationID]; exists {
		p.appendLocked(model.JournalEntry{
			StationID: req.StationID,
			Event:     model.EventDenied,
			Units:     req.Units,
			Reason:    ErrReservationExists.Error(),
		})
		log.Info(ctx, "RB allocation denied: station already holds a lease")
		return model.Reservation{}, fmt.Errorf("%w: station %q on %q", ErrReservationExists, req.StationID, p.id)
	}

	if p.available < req.Units {
		p.appendLocked(model.JournalEntry{
			StationID: req.StationID,
			Event:     model.EventDenied,
			Units:     req.Units,
			Reason:    "insufficient resources",
		})
		log.Info(ctx, "RB allocation denied",
			logging.Int("available_units", p.available),
			logging.Int("shortage", req.Units-p.available),
		)
		return model.Reservation{}, fmt.Errorf("%w: requested %d, available %d on %q",
			ErrInsufficientCapacity, req.Units, p.available, p.id)
	}

	p.available -= req.Units

	var handle PathHandle
	if attacher != nil {
		start := time.Now()
		h, err := attacher.Attach(ctx, req.StationID, p.id, req.Units)
		if p.metrics != nil {
			p.metrics.ObservePathAttach(p.id, time.Since(start), err)
		}
		if err != nil {
			p.available += req.Units
			p.appendLocked(model.JournalEntry{
				StationID: req.StationID,
				Event:     model.EventDenied,
				Units:     req.Units,
				Reason:    "capacity path attach failed: " + err.Error(),
			})
			log.Error(ctx, "capacity path attach failed; debit rolled back",
				logging.Err(err),
				logging.Int("available_units", p.available),
			)
			return model.Reservation{}, fmt.Errorf("%w: attach %q to %q: %w", ErrCapacityPathFailure, req.StationID, p.id, err)
		}
		handle = h
	}

	now := p.clock.Now()
	res := &model.Reservation{
		ID:            uuid.NewString(),
		StationID:     req.StationID,
		AccessPointID: p.id,
		Units:         req.Units,
		BandwidthMbps: req.BandwidthMbps,
		StartTime:     now,
		EndTime:       now.Add(req.Duration),
		PathHandle:    string(handle),
	}
	p.reservations[req.StationID] = res

	p.appendLocked(model.JournalEntry{
		Time:          now,
		StationID:     req.StationID,
		Event:         model.EventAdmitted,
		Units:         req.Units,
		BandwidthMbps: req.BandwidthMbps,
		Planned:       req.Duration,
	})
	log.Info(ctx, "RB allocation approved",
		logging.Int("available_units", p.available),
		logging.Int("total_units", p.total),
		logging.Duration("duration", req.Duration),
		logging.String("expires", res.EndTime.Format(time.RFC3339)),
	)
	return *res, nil
}

// Release frees the station's lease. It returns false, and does nothing,
// when the station holds no active lease here. A failed detach is logged
// and journaled but the units are still returned to the pool.
func (p *Pool) Release(ctx context.Context, stationID string, detacher PathDetacher) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, ok := p.reservations[stationID]
	if !ok {
		return false
	}
	now := p.clock.Now()
	reason := p.removeLocked(ctx, res, detacher)

	p.appendLocked(model.JournalEntry{
		Time:          now,
		StationID:     stationID,
		Event:         model.EventReleased,
		Units:         res.Units,
		BandwidthMbps: res.BandwidthMbps,
		Planned:       res.Duration(),
		Actual:        now.Sub(res.StartTime),
		Reason:        reason,
	})
	p.log.Info(ctx, "manual release",
		logging.String("station", stationID),
		logging.Int("units", res.Units),
		logging.Int("available_units", p.available),
		logging.Int("total_units", p.total),
	)
	return true
}

// SweepExpired frees every lease whose deadline is at or before now, in one
// pass under the pool lock, and returns the freed station IDs in deadline
// order. A concurrent Release for the same station either ran first (and the
// lease is gone) or runs after and finds nothing.
func (p *Pool) SweepExpired(ctx context.Context, now time.Time, detacher PathDetacher) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []*model.Reservation
	for _, r := range p.reservations {
		if r.ExpiredAt(now) {
			expired = append(expired, r)
		}
	}
	if len(expired) == 0 {
		return nil
	}
	sort.Slice(expired, func(i, j int) bool {
		if !expired[i].EndTime.Equal(expired[j].EndTime) {
			return expired[i].EndTime.Before(expired[j].EndTime)
		}
		return expired[i].StationID < expired[j].StationID
	})

	freed := make([]string, 0, len(expired))
	for _, res := range expired {
		reason := p.removeLocked(ctx, res, detacher)
		actual := now.Sub(res.StartTime)
		p.appendLocked(model.JournalEntry{
			Time:          now,
			StationID:     res.StationID,
			Event:         model.EventExpired,
			Units:         res.Units,
			BandwidthMbps: res.BandwidthMbps,
			Planned:       res.Duration(),
			Actual:        actual,
			Reason:        reason,
		})
		p.log.Info(ctx, "RB allocation expired",
			logging.String("station", res.StationID),
			logging.Int("units", res.Units),
			logging.Duration("actual_duration", actual),
			logging.Duration("planned_duration", res.Duration()),
			logging.Int("available_units", p.available),
		)
		freed = append(freed, res.StationID)
	}
	return freed
}

// removeLocked drops res, restores its units and detaches its path. It
// returns a journal reason when the detach failed. Caller must hold p.mu.
func (p *Pool) removeLocked(ctx context.Context, res *model.Reservation, detacher PathDetacher) string {
	delete(p.reservations, res.StationID)
	p.available += res.Units

	if detacher == nil || res.PathHandle == "" {
		return ""
	}
	if err := detacher.Detach(ctx, PathHandle(res.PathHandle)); err != nil {
		p.log.Warn(ctx, "capacity path detach failed",
			logging.String("station", res.StationID),
			logging.String("path", res.PathHandle),
			logging.Err(fmt.Errorf("%w: %w", ErrCapacityPathFailure, err)),
		)
		return "capacity path detach failed: " + err.Error()
	}
	return ""
}

// appendLocked fills the pool-scoped fields and appends e. Entry times never
// go backwards: a sweep stamped with a now read before it took the lock is
// clamped to the previous entry. Caller must hold p.mu.
func (p *Pool) appendLocked(e model.JournalEntry) {
	if e.Time.IsZero() {
		e.Time = p.clock.Now()
	}
	if last := p.journal.lastTime(); e.Time.Before(last) {
		e.Time = last
	}
	e.AccessPointID = p.id
	e.RemainingUnits = p.available
	p.journal.append(e)

	if p.metrics != nil {
		p.metrics.RecordPoolEvent(p.id, e.Event, e.Units)
	}
	p.recordUnitsLocked()
}

func (p *Pool) recordUnitsLocked() {
	if p.metrics != nil {
		p.metrics.SetPoolUnits(p.id, p.available, p.total, len(p.reservations))
	}
}

func validateAdmit(req AdmitRequest) error {
	switch {
	case req.StationID == "":
		return fmt.Errorf("%w: empty station id", ErrInvalidRequest)
	case req.Units <= 0:
		return fmt.Errorf("%w: units must be positive, got %d", ErrInvalidRequest, req.Units)
	case req.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive, got %s", ErrInvalidRequest, req.Duration)
	}
	return nil
}
