// Package fabric is the in-process capacity path layer: every granted lease
// is backed by a link record sized to its resource blocks.
package fabric

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/rb-admission/core"
	"github.com/signalsfoundry/rb-admission/internal/logging"
	"github.com/signalsfoundry/rb-admission/timectrl"
)

var (
	ErrLinkNotFound         = errors.New("link not found")
	ErrLinkBadInput         = errors.New("invalid link")
	ErrAccessPointImpaired  = errors.New("access point impaired")
	ErrInjectedAttachFailed = errors.New("injected attach failure")
)

// LinkStatus is the control-plane state of a link.
type LinkStatus int

const (
	LinkStatusUnknown LinkStatus = iota
	LinkStatusActive
	LinkStatusImpaired
)

func (s LinkStatus) String() string {
	switch s {
	case LinkStatusActive:
		return "active"
	case LinkStatusImpaired:
		return "impaired"
	default:
		return "unknown"
	}
}

// Link connects a station to an access point for the lifetime of a lease.
// Its rate is the granted RB count, one Mbps per block, as the shaping
// ceiling the path is provisioned with.
type Link struct {
	ID            string     `json:"ID"`
	StationID     string     `json:"StationID"`
	AccessPointID string     `json:"AccessPointID"`
	Units         int        `json:"Units"`
	RateMbps      float64    `json:"RateMbps"`
	Status        LinkStatus `json:"Status"`
	LatencyMs     float64    `json:"LatencyMs,omitempty"`
	CreatedAt     time.Time  `json:"CreatedAt"`
}

// Fabric stores the live links and implements core.CapacityPath.
type Fabric struct {
	clock   timectrl.Clock
	log     logging.Logger
	latency time.Duration

	mu            sync.RWMutex
	links         map[string]*Link
	linksByAP     map[string]map[string]*Link
	impaired      map[string]bool
	failNext      int
	detachFailure error
}

// Option customises Fabric construction.
type Option func(*Fabric)

// WithClock sets the clock stamped on new links.
func WithClock(c timectrl.Clock) Option {
	return func(f *Fabric) {
		if c != nil {
			f.clock = c
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(f *Fabric) { f.log = logging.OrNoop(l) }
}

// WithAttachLatency makes every attach take at least d, bounded by ctx.
func WithAttachLatency(d time.Duration) Option {
	return func(f *Fabric) { f.latency = d }
}

// New creates an empty fabric.
func New(opts ...Option) *Fabric {
	f := &Fabric{
		clock:     timectrl.WallClock{},
		log:       logging.Noop(),
		links:     make(map[string]*Link),
		linksByAP: make(map[string]map[string]*Link),
		impaired:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Attach creates a link for stationID on accessPointID and returns its ID
// as the path handle.
func (f *Fabric) Attach(ctx context.Context, stationID, accessPointID string, units int) (core.PathHandle, error) {
	if stationID == "" || accessPointID == "" || units <= 0 {
		return "", fmt.Errorf("%w: station=%q access_point=%q units=%d", ErrLinkBadInput, stationID, accessPointID, units)
	}
	if f.latency > 0 {
		t := time.NewTimer(f.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext > 0 {
		f.failNext--
		return "", fmt.Errorf("%w: %s -> %s", ErrInjectedAttachFailed, stationID, accessPointID)
	}
	if f.impaired[accessPointID] {
		return "", fmt.Errorf("%w: %q", ErrAccessPointImpaired, accessPointID)
	}

	link := &Link{
		ID:            uuid.NewString(),
		StationID:     stationID,
		AccessPointID: accessPointID,
		Units:         units,
		RateMbps:      float64(units),
		Status:        LinkStatusActive,
		LatencyMs:     float64(f.latency) / float64(time.Millisecond),
		CreatedAt:     f.clock.Now(),
	}
	f.links[link.ID] = link
	byAP, ok := f.linksByAP[accessPointID]
	if !ok {
		byAP = make(map[string]*Link)
		f.linksByAP[accessPointID] = byAP
	}
	byAP[link.ID] = link

	f.log.Debug(ctx, "capacity path attached",
		logging.String("link", link.ID),
		logging.String("station", stationID),
		logging.String("access_point", accessPointID),
		logging.Float64("rate_mbps", link.RateMbps),
	)
	return core.PathHandle(link.ID), nil
}

// Detach removes the link behind handle.
func (f *Fabric) Detach(ctx context.Context, handle core.PathHandle) error {
	id := string(handle)
	if id == "" {
		return fmt.Errorf("%w: empty handle", ErrLinkBadInput)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.detachFailure != nil {
		return f.detachFailure
	}
	link, ok := f.links[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrLinkNotFound, id)
	}
	delete(f.links, id)
	if byAP := f.linksByAP[link.AccessPointID]; byAP != nil {
		delete(byAP, id)
		if len(byAP) == 0 {
			delete(f.linksByAP, link.AccessPointID)
		}
	}
	f.log.Debug(ctx, "capacity path detached", logging.String("link", id), logging.String("station", link.StationID))
	return nil
}

// Link returns a copy of the link with the given ID.
func (f *Fabric) Link(id string) (Link, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	l, ok := f.links[id]
	if !ok {
		return Link{}, false
	}
	return *l, true
}

// Links returns copies of all live links ordered by access point then station.
func (f *Fabric) Links() []Link {
	f.mu.RLock()
	out := make([]Link, 0, len(f.links))
	for _, l := range f.links {
		out = append(out, *l)
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AccessPointID != out[j].AccessPointID {
			return out[i].AccessPointID < out[j].AccessPointID
		}
		return out[i].StationID < out[j].StationID
	})
	return out
}

// LinksForAccessPoint returns copies of the links terminating at apID.
func (f *Fabric) LinksForAccessPoint(apID string) []Link {
	f.mu.RLock()
	defer f.mu.RUnlock()
	byAP := f.linksByAP[apID]
	out := make([]Link, 0, len(byAP))
	for _, l := range byAP {
		out = append(out, *l)
	}
	return out
}

// ProvisionedUnits sums the units of the live links at apID.
func (f *Fabric) ProvisionedUnits(apID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	sum := 0
	for _, l := range f.linksByAP[apID] {
		sum += l.Units
	}
	return sum
}

// SetAccessPointImpaired makes attaches to apID fail until cleared. Links
// already up at apID are marked impaired but kept.
func (f *Fabric) SetAccessPointImpaired(apID string, impaired bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if impaired {
		f.impaired[apID] = true
	} else {
		delete(f.impaired, apID)
	}
	status := LinkStatusActive
	if impaired {
		status = LinkStatusImpaired
	}
	for _, l := range f.linksByAP[apID] {
		l.Status = status
	}
}

// FailNextAttaches makes the next n attaches fail regardless of target.
func (f *Fabric) FailNextAttaches(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

// FailDetaches makes every detach return err until called with nil.
func (f *Fabric) FailDetaches(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detachFailure = err
}
