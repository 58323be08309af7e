// Package store provides the append-only, memory-resident event log.
//
// The Store is the single source of truth for event history. It keeps:
//   - the log, in arrival order
//   - a type index from event type to log positions
//   - one snapshot per stream identifier (last write wins)
//
// All mutations go through one RWMutex-guarded owner. Readers observe a
// consistent view at call time; no reader can see the log and the index
// disagree, including during Cleanup.
package store

import (
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
	"github.com/randalmurphal/eventcore/pkg/eventcore/snapshot"
)

// DefaultBytesPerEvent is the fixed per-event size used by FootprintEstimate.
const DefaultBytesPerEvent = 1024

// Store is an in-memory event store.
type Store struct {
	mu        sync.RWMutex
	log       []event.Event
	byType    map[string][]int
	snapshots map[string]any

	watchMu  sync.RWMutex
	watchers map[int]func(event.Event)
	nextWID  int

	// snapMu orders snapshot writes so memory and backend agree on the
	// last writer.
	snapMu        sync.Mutex
	backend       snapshot.Store
	bytesPerEvent int
	logger        *slog.Logger
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		byType:        make(map[string][]int),
		snapshots:     make(map[string]any),
		watchers:      make(map[int]func(event.Event)),
		bytesPerEvent: DefaultBytesPerEvent,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds evt to the log and the type index, then notifies watchers.
// Nil events are ignored.
func (s *Store) Append(evt event.Event) {
	if evt == nil {
		return
	}

	s.mu.Lock()
	s.appendLocked(evt)
	s.mu.Unlock()

	s.notify(evt)
}

// AppendBatch appends events in input order.
// The batch is applied under one lock acquisition, so readers observe either
// none or all of it.
func (s *Store) AppendBatch(events []event.Event) {
	appended := make([]event.Event, 0, len(events))

	s.mu.Lock()
	for _, evt := range events {
		if evt == nil {
			continue
		}
		s.appendLocked(evt)
		appended = append(appended, evt)
	}
	s.mu.Unlock()

	for _, evt := range appended {
		s.notify(evt)
	}
}

func (s *Store) appendLocked(evt event.Event) {
	s.byType[evt.Type()] = append(s.byType[evt.Type()], len(s.log))
	s.log = append(s.log, evt)
}

// Watch registers fn to be called after every append.
// fn runs on the appending goroutine, outside the store lock.
// The returned function removes the watcher.
func (s *Store) Watch(fn func(event.Event)) (cancel func()) {
	s.watchMu.Lock()
	id := s.nextWID
	s.nextWID++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) notify(evt event.Event) {
	s.watchMu.RLock()
	if len(s.watchers) == 0 {
		s.watchMu.RUnlock()
		return
	}
	fns := make([]func(event.Event), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.RUnlock()

	for _, fn := range fns {
		fn(evt)
	}
}

// view returns the current log with its capacity clipped, so later appends
// never write into the returned slice's visible range.
func (s *Store) view() []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clip(s.log)
}

// Len returns the number of events in the log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

// All returns a copy of the whole log in order.
func (s *Store) All() []event.Event {
	return slices.Clone(s.view())
}

// ByType returns the events of the given type in log order.
func (s *Store) ByType(eventType string) []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := s.byType[eventType]
	result := make([]event.Event, 0, len(positions))
	for _, pos := range positions {
		result = append(result, s.log[pos])
	}
	return result
}

// BySource returns the events from the given source in log order.
func (s *Store) BySource(source string) []event.Event {
	return collect(s.view(), func(evt event.Event) bool {
		return evt.Source() == source
	})
}

// ByTimeRange returns events with from <= timestamp <= to, in log order.
func (s *Store) ByTimeRange(from, to time.Time) []event.Event {
	return collect(s.view(), func(evt event.Event) bool {
		ts := evt.Timestamp()
		return !ts.Before(from) && !ts.After(to)
	})
}

// ByID returns the event with the given ID.
func (s *Store) ByID(id string) (event.Event, bool) {
	for _, evt := range s.view() {
		if evt.ID() == id {
			return evt, true
		}
	}
	return nil, false
}

// Latest returns the n most recent events, oldest first.
// n <= 0 returns an empty slice.
func (s *Store) Latest(n int) []event.Event {
	if n <= 0 {
		return []event.Event{}
	}
	log := s.view()
	if n > len(log) {
		n = len(log)
	}
	return slices.Clone(log[len(log)-n:])
}

func collect(log []event.Event, match func(event.Event) bool) []event.Event {
	result := make([]event.Event, 0)
	for _, evt := range log {
		if match(evt) {
			result = append(result, evt)
		}
	}
	return result
}

// Filter selects events for Stream. Zero fields match everything.
type Filter struct {
	From    time.Time
	To      time.Time
	Types   []string
	Sources []string
}

func (f Filter) matches(evt event.Event) bool {
	ts := evt.Timestamp()
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, evt.Type()) {
		return false
	}
	if len(f.Sources) > 0 && !slices.Contains(f.Sources, evt.Source()) {
		return false
	}
	return true
}

// Stream returns a lazy, finite sequence of matching events.
// The sequence covers the log as it was when Stream was called; events
// appended afterwards are not included. Ordering is log order.
func (s *Store) Stream(f Filter) iter.Seq[event.Event] {
	log := s.view()
	return func(yield func(event.Event) bool) {
		for _, evt := range log {
			if !f.matches(evt) {
				continue
			}
			if !yield(evt) {
				return
			}
		}
	}
}

// Stats summarizes the log. It is computed on demand.
type Stats struct {
	TotalEvents int
	ByType      map[string]int
	BySource    map[string]int
	Earliest    time.Time
	Latest      time.Time
}

// Stats computes statistics over the current log.
func (s *Store) Stats() Stats {
	log := s.view()
	stats := Stats{
		TotalEvents: len(log),
		ByType:      make(map[string]int),
		BySource:    make(map[string]int),
	}
	for _, evt := range log {
		stats.ByType[evt.Type()]++
		stats.BySource[evt.Source()]++

		ts := evt.Timestamp()
		if stats.Earliest.IsZero() || ts.Before(stats.Earliest) {
			stats.Earliest = ts
		}
		if stats.Latest.IsZero() || ts.After(stats.Latest) {
			stats.Latest = ts
		}
	}
	return stats
}

// Cleanup removes events with a timestamp before cutoff and rebuilds the
// type index. Returns the number of removed events.
func (s *Store) Cleanup(cutoff time.Time) int {
	s.mu.Lock()

	kept := make([]event.Event, 0, len(s.log))
	for _, evt := range s.log {
		if !evt.Timestamp().Before(cutoff) {
			kept = append(kept, evt)
		}
	}
	removed := len(s.log) - len(kept)
	if removed > 0 {
		s.log = kept
		s.rebuildIndexLocked()
	}
	remaining := len(s.log)

	s.mu.Unlock()

	if removed > 0 {
		observability.LogCleanup(s.logger, cutoff, removed, remaining)
	}
	return removed
}

func (s *Store) rebuildIndexLocked() {
	s.byType = make(map[string][]int, len(s.byType))
	for pos, evt := range s.log {
		s.byType[evt.Type()] = append(s.byType[evt.Type()], pos)
	}
}

// FootprintEstimate returns a coarse size estimate of the log in bytes.
// It is count times a fixed per-event size and must not drive correctness
// decisions.
func (s *Store) FootprintEstimate() int64 {
	return int64(s.Len()) * int64(s.bytesPerEvent)
}

// indexPositions returns a copy of the type index. Test hook.
func (s *Store) indexPositions() map[string][]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]int, len(s.byType))
	for t, positions := range s.byType {
		out[t] = slices.Clone(positions)
	}
	return out
}
