package store

import (
	"log/slog"

	"github.com/randalmurphal/eventcore/pkg/eventcore/config"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
	"github.com/randalmurphal/eventcore/pkg/eventcore/snapshot"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = observability.EnrichLogger(logger, "store")
		}
	}
}

// WithSnapshotBackend mirrors snapshots into a persistent snapshot store.
func WithSnapshotBackend(backend snapshot.Store) Option {
	return func(s *Store) {
		s.backend = backend
	}
}

// WithBytesPerEvent sets the per-event size used by FootprintEstimate.
// Non-positive values are ignored.
func WithBytesPerEvent(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.bytesPerEvent = n
		}
	}
}

// OptionsFromConfig builds options from the "store" configuration section.
//
//	store:
//	  bytes_per_event: 1024
func OptionsFromConfig(cfg config.Config) []Option {
	var opts []Option
	if cfg.Has("bytes_per_event") {
		opts = append(opts, WithBytesPerEvent(cfg.Int("bytes_per_event", DefaultBytesPerEvent)))
	}
	return opts
}
