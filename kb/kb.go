package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/rb-admission/core"
	"github.com/signalsfoundry/rb-admission/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventAccessPointAdded EventType = iota
	EventAccessPointRemoved
)

func (t EventType) String() string {
	switch t {
	case EventAccessPointAdded:
		return "added"
	case EventAccessPointRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when the set of access points changes.
type Event struct {
	Type          EventType
	AccessPointID string
	TotalUnits    int
}

// KnowledgeBase is an in-memory, thread-safe registry of access point pools.
// The registry lock only guards the map; each pool serializes its own
// mutations.
type KnowledgeBase struct {
	mu    sync.RWMutex
	pools map[string]*core.Pool
	subs  map[int]func(Event)
	next  int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		pools: make(map[string]*core.Pool),
		subs:  make(map[int]func(Event)),
	}
}

// AddAccessPoint registers p. It returns ErrAccessPointExists if the ID is
// already taken.
func (kb *KnowledgeBase) AddAccessPoint(p *core.Pool) error {
	if p == nil {
		return fmt.Errorf("%w: nil pool", core.ErrInvalidRequest)
	}
	kb.mu.Lock()
	if _, exists := kb.pools[p.ID()]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", core.ErrAccessPointExists, p.ID())
	}
	kb.pools[p.ID()] = p
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventAccessPointAdded, AccessPointID: p.ID(), TotalUnits: p.TotalUnits()})
	return nil
}

// AddFromSpec builds a pool from spec and registers it. Specs with
// Unconstrained set, or without a positive unit count when defaultUnits is
// zero, become unconstrained pools.
func (kb *KnowledgeBase) AddFromSpec(spec model.AccessPointSpec, defaultUnits int, opts ...core.PoolOption) (*core.Pool, error) {
	units := spec.TotalUnits
	if units <= 0 {
		units = defaultUnits
	}

	var (
		p   *core.Pool
		err error
	)
	if spec.Unconstrained || units <= 0 {
		p, err = core.NewUnconstrainedPool(spec.ID, opts...)
	} else {
		p, err = core.NewPool(spec.ID, units, opts...)
	}
	if err != nil {
		return nil, err
	}
	if err := kb.AddAccessPoint(p); err != nil {
		return nil, err
	}
	return p, nil
}

// RemoveAccessPoint drops the pool from the registry. Leases it still holds
// are not released; the pool stays usable by callers that already hold it.
func (kb *KnowledgeBase) RemoveAccessPoint(id string) error {
	kb.mu.Lock()
	p, ok := kb.pools[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", core.ErrUnknownAccessPoint, id)
	}
	delete(kb.pools, id)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventAccessPointRemoved, AccessPointID: id, TotalUnits: p.TotalUnits()})
	return nil
}

// Pool returns the pool for id, or nil if not found.
func (kb *KnowledgeBase) Pool(id string) *core.Pool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.pools[id]
}

// ListPools returns a snapshot slice of all pools ordered by ID.
func (kb *KnowledgeBase) ListPools() []*core.Pool {
	kb.mu.RLock()
	res := make([]*core.Pool, 0, len(kb.pools))
	for _, p := range kb.pools {
		res = append(res, p)
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].ID() < res[j].ID() })
	return res
}

// AccessPointIDs returns the registered IDs in sorted order.
func (kb *KnowledgeBase) AccessPointIDs() []string {
	kb.mu.RLock()
	ids := make([]string, 0, len(kb.pools))
	for id := range kb.pools {
		ids = append(ids, id)
	}
	kb.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of registered access points.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.pools)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.next
	kb.next++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	if len(kb.subs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}

// notify runs outside the lock to avoid deadlocks with subscribers that
// read the KB.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
