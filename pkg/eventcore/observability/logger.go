// Package observability provides structured logging, metrics, and tracing
// for eventcore components.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds a component name to a logger.
func EnrichLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("component", component))
}

// LogPublish logs a completed publish.
func LogPublish(logger *slog.Logger, eventID, eventType string, handlers int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event published",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.Int("handlers", handlers),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogInvalidEvent logs an event that failed catalog validation.
func LogInvalidEvent(logger *slog.Logger, eventID, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event failed validation",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogHandlerFailure logs a handler that reported failure.
func LogHandlerFailure(logger *slog.Logger, eventID, eventType, handler, detail string) {
	if logger == nil {
		return
	}
	logger.Warn("event handler failed",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("handler", handler),
		slog.String("error", detail),
	)
}

// LogHandlerIgnored logs a handler that ignored an event.
func LogHandlerIgnored(logger *slog.Logger, eventID, eventType, handler, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("event ignored by handler",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("handler", handler),
		slog.String("reason", reason),
	)
}

// LogTransition logs a committed state transition.
func LogTransition(logger *slog.Logger, from, to, input string) {
	if logger == nil {
		return
	}
	logger.Info("state transition",
		slog.String("from", from),
		slog.String("to", to),
		slog.String("input", input),
	)
}

// LogTransitionRejected logs a structurally invalid transition attempt.
func LogTransitionRejected(logger *slog.Logger, from, to, input string) {
	if logger == nil {
		return
	}
	logger.Warn("state transition rejected",
		slog.String("from", from),
		slog.String("to", to),
		slog.String("input", input),
	)
}

// LogUnhandledInput logs an input with no transition from the current state.
func LogUnhandledInput(logger *slog.Logger, state, input string) {
	if logger == nil {
		return
	}
	logger.Debug("input not handled in state",
		slog.String("state", state),
		slog.String("input", input),
	)
}

// LogRecoveryScheduled logs a scheduled recovery attempt.
func LogRecoveryScheduled(logger *slog.Logger, kind string, attempt int, delay, timeout time.Duration) {
	if logger == nil {
		return
	}
	logger.Info("recovery scheduled",
		slog.String("error_kind", kind),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.Duration("timeout", timeout),
	)
}

// LogRecoveryOutcome logs the result of a recovery procedure.
func LogRecoveryOutcome(logger *slog.Logger, kind string, success bool, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("recovery attempt finished",
		slog.String("error_kind", kind),
		slog.Bool("success", success),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogCleanup logs a retention cleanup.
func LogCleanup(logger *slog.Logger, cutoff time.Time, removed, remaining int) {
	if logger == nil {
		return
	}
	logger.Info("event log cleaned up",
		slog.Time("cutoff", cutoff),
		slog.Int("removed", removed),
		slog.Int("remaining", remaining),
	)
}

// LogSnapshotError logs a snapshot backend failure (non-fatal).
func LogSnapshotError(logger *slog.Logger, streamID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("snapshot backend failed",
		slog.String("stream_id", streamID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
