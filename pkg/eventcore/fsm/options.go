package fsm

import (
	"log/slog"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = observability.EnrichLogger(logger, "fsm")
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(c *Controller) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithPolicy sets the retry and recovery policy. Zero fields take their
// DefaultPolicy values.
func WithPolicy(p Policy) Option {
	return func(c *Controller) {
		c.policy = p
	}
}

// WithScheduler replaces the timer source.
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) {
		if s != nil {
			c.sched = s
		}
	}
}

// WithRecoveryProcedure installs the recovery procedure for one error
// classification.
func WithRecoveryProcedure(kind ecerrors.Kind, proc RecoveryProcedure) Option {
	return func(c *Controller) {
		if proc != nil {
			c.procedures[kind] = proc
		}
	}
}

// WithFallbackRecovery installs the procedure used for classifications with
// no dedicated procedure.
func WithFallbackRecovery(proc RecoveryProcedure) Option {
	return func(c *Controller) {
		if proc != nil {
			c.fallback = proc
		}
	}
}
