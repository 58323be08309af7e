package bus

import (
	"log/slog"

	"github.com/randalmurphal/eventcore/pkg/eventcore/config"
	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = observability.EnrichLogger(logger, "bus")
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(b *Bus) {
		if s != nil {
			b.spans = s
		}
	}
}

// WithCatalog validates published events against c.
// Invalid events are logged and counted but still persisted and dispatched.
func WithCatalog(c *event.Catalog) Option {
	return func(b *Bus) {
		b.catalog = c
		b.validate = c != nil
	}
}

// WithValidation toggles catalog validation. It has no effect without a
// catalog.
func WithValidation(enabled bool) Option {
	return func(b *Bus) {
		b.validate = enabled
	}
}

// OptionsFromConfig builds options from the "bus" configuration section.
//
//	bus:
//	  validate_events: true
//	  metrics: true
//	  tracing: true
func OptionsFromConfig(cfg config.Config) []Option {
	var opts []Option
	if cfg.Has("validate_events") {
		opts = append(opts, WithValidation(cfg.Bool("validate_events", true)))
	}
	if cfg.Bool("metrics", false) {
		opts = append(opts, WithMetrics(observability.NewMetricsRecorder()))
	}
	if cfg.Bool("tracing", false) {
		opts = append(opts, WithSpans(observability.NewSpanManager()))
	}
	return opts
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*entry)

// WithName names the handler in logs and receipts.
func WithName(name string) SubscribeOption {
	return func(e *entry) {
		e.name = name
	}
}
