// Package snapshot provides backends that persist event-store snapshots
// outside process memory.
//
// The event store keeps its snapshots in memory and can mirror every save
// to a Store from this package. A mirrored snapshot records the Go type name
// of the saved value so retrieval can refuse a mismatched type.
package snapshot

import (
	"errors"
	"time"
)

// Store persists snapshots keyed by stream identifier.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a snapshot for a stream, replacing any previous one.
	Save(streamID, typeName string, data []byte) error

	// Load retrieves the snapshot for a stream.
	// Returns ErrNotFound if the stream has no snapshot.
	Load(streamID string) (Record, error)

	// List returns metadata for all snapshots, ordered by sequence.
	List() ([]Info, error)

	// Delete removes a stream's snapshot. Returns nil if none exists.
	Delete(streamID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Record is a persisted snapshot.
type Record struct {
	StreamID string
	TypeName string
	Data     []byte
	Sequence int
	SavedAt  time.Time
}

// Info provides metadata without loading the snapshot body.
type Info struct {
	StreamID string
	TypeName string
	Sequence int
	SavedAt  time.Time
	Size     int64
}

// Sentinel errors for snapshot operations.
var (
	// ErrNotFound indicates a snapshot doesn't exist.
	ErrNotFound = errors.New("snapshot not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("snapshot store closed")
)
