package store

import (
	"encoding/json"
	"errors"
	"reflect"

	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
	"github.com/randalmurphal/eventcore/pkg/eventcore/snapshot"
)

// SaveSnapshot stores value under streamID, replacing any previous snapshot.
// When a snapshot backend is configured the value is also persisted as JSON.
// Backend failures are logged and never fail the in-memory save.
// Concurrent saves to one stream leave memory and backend holding the same
// value.
func (s *Store) SaveSnapshot(streamID string, value any) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	s.mu.Lock()
	s.snapshots[streamID] = value
	s.mu.Unlock()

	if s.backend == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		observability.LogSnapshotError(s.logger, streamID, "marshal", err)
		return
	}
	if err := s.backend.Save(streamID, typeName(reflect.TypeOf(value)), data); err != nil {
		observability.LogSnapshotError(s.logger, streamID, "save", err)
	}
}

// DeleteSnapshot removes the snapshot for streamID, if any.
func (s *Store) DeleteSnapshot(streamID string) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	s.mu.Lock()
	delete(s.snapshots, streamID)
	s.mu.Unlock()

	if s.backend == nil {
		return
	}
	if err := s.backend.Delete(streamID); err != nil && !errors.Is(err, snapshot.ErrNotFound) {
		observability.LogSnapshotError(s.logger, streamID, "delete", err)
	}
}

// GetSnapshot returns the snapshot for streamID as a T.
// It reports false when there is no snapshot or when the stored value is not
// a T; a type mismatch is never a panic.
func GetSnapshot[T any](s *Store, streamID string) (T, bool) {
	var zero T

	s.mu.RLock()
	value, ok := s.snapshots[streamID]
	s.mu.RUnlock()

	if ok {
		typed, match := value.(T)
		return typed, match
	}
	if s.backend == nil {
		return zero, false
	}

	rec, err := s.backend.Load(streamID)
	if err != nil {
		if !errors.Is(err, snapshot.ErrNotFound) {
			observability.LogSnapshotError(s.logger, streamID, "load", err)
		}
		return zero, false
	}
	if rec.TypeName != typeName(reflect.TypeFor[T]()) {
		return zero, false
	}

	var typed T
	if err := json.Unmarshal(rec.Data, &typed); err != nil {
		observability.LogSnapshotError(s.logger, streamID, "unmarshal", err)
		return zero, false
	}

	s.mu.Lock()
	if _, exists := s.snapshots[streamID]; !exists {
		s.snapshots[streamID] = typed
	}
	s.mu.Unlock()

	return typed, true
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
