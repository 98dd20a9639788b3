package fabric

import (
	"context"
	"sync"

	"github.com/signalsfoundry/rb-admission/model"
)

// StaticScanner returns configured signal samples for each station, in
// configured order. Unknown stations see no access points.
type StaticScanner struct {
	mu      sync.RWMutex
	signals map[string][]model.SignalSample
}

// NewStaticScanner builds a scanner from station specs.
func NewStaticScanner(stations []model.StationSpec) *StaticScanner {
	s := &StaticScanner{signals: make(map[string][]model.SignalSample, len(stations))}
	for _, st := range stations {
		s.Set(st.ID, st.Signals)
	}
	return s
}

// Set replaces the samples visible to stationID.
func (s *StaticScanner) Set(stationID string, samples []model.SignalSample) {
	cp := append([]model.SignalSample(nil), samples...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[stationID] = cp
}

// Scan implements admission.Scanner.
func (s *StaticScanner) Scan(ctx context.Context, stationID string) ([]model.SignalSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.SignalSample(nil), s.signals[stationID]...), nil
}
