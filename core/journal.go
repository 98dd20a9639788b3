package core

import (
	"sync"
	"time"

	"github.com/signalsfoundry/rb-admission/model"
)

// Journal is the append-only event log of one access point. Entries are
// kept in insertion order and never removed.
//
// Appends are made by the owning Pool while it holds its own lock, so the
// journal order is the pool's linearization order. The journal keeps a
// separate lock so readers never wait on a slow attach.
type Journal struct {
	mu      sync.RWMutex
	entries []model.JournalEntry
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// append stamps the sequence number and stores e.
func (j *Journal) append(e model.JournalEntry) model.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.Seq = uint64(len(j.entries)) + 1
	j.entries = append(j.entries, e)
	return e
}

// lastTime returns the time of the newest entry, or the zero time.
func (j *Journal) lastTime() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.entries) == 0 {
		return time.Time{}
	}
	return j.entries[len(j.entries)-1].Time
}

// Entries returns a copy of every entry in insertion order.
func (j *Journal) Entries() []model.JournalEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]model.JournalEntry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Since returns entries with Seq greater than seq. Reporters use it to
// export incrementally.
func (j *Journal) Since(seq uint64) []model.JournalEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if seq >= uint64(len(j.entries)) {
		return nil
	}
	out := make([]model.JournalEntry, len(j.entries)-int(seq))
	copy(out, j.entries[seq:])
	return out
}

// Len returns the number of entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Filter returns the entries of the given kind, in order.
func (j *Journal) Filter(kind model.EventKind) []model.JournalEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []model.JournalEntry
	for _, e := range j.entries {
		if e.Event == kind {
			out = append(out, e)
		}
	}
	return out
}
