package bus

import (
	"context"
	"fmt"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// Status classifies a handler outcome.
type Status int

const (
	// StatusSuccess means the handler processed the event.
	StatusSuccess Status = iota
	// StatusFailure means the handler tried and failed.
	StatusFailure
	// StatusIgnored means the handler chose not to process the event.
	StatusIgnored
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is what a handler reports for one event.
// Outcomes are aggregated into statistics and logs; they never fail Publish.
type Outcome struct {
	Status Status
	Reason string
	Err    error
}

// Success reports that the handler processed the event.
func Success() Outcome {
	return Outcome{Status: StatusSuccess}
}

// Failure reports a handler-local failure.
func Failure(err error) Outcome {
	o := Outcome{Status: StatusFailure, Err: err}
	if err != nil {
		o.Reason = err.Error()
	}
	return o
}

// Ignored reports that the handler skipped the event.
func Ignored(reason string) Outcome {
	return Outcome{Status: StatusIgnored, Reason: reason}
}

// Handler reacts to published events.
type Handler interface {
	Handle(ctx context.Context, evt event.Event) Outcome
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt event.Event) Outcome

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, evt event.Event) Outcome {
	return f(ctx, evt)
}

// Typed returns a handler that only invokes fn for events carrying a P
// payload. Any other event is reported as ignored without calling fn.
func Typed[P any](fn func(ctx context.Context, evt event.Event, payload P) Outcome) Handler {
	return HandlerFunc(func(ctx context.Context, evt event.Event) Outcome {
		payload, ok := event.PayloadAs[P](evt)
		if !ok {
			var zero P
			return Ignored(fmt.Sprintf("payload %T does not match %T", evt.Data(), zero))
		}
		return fn(ctx, evt, payload)
	})
}

// MiddlewareFunc wraps handlers to add cross-cutting concerns.
type MiddlewareFunc func(next Handler) Handler

// Chain applies middleware in order, with the first middleware outermost.
func Chain(handler Handler, middleware ...MiddlewareFunc) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}

// Recover converts a handler panic into a failure outcome.
// The bus always installs it innermost; it is exported for handlers that are
// invoked outside a bus.
func Recover() MiddlewareFunc {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt event.Event) (out Outcome) {
			defer func() {
				if r := recover(); r != nil {
					out = Failure(fmt.Errorf("handler panic: %v", r))
				}
			}()
			return next.Handle(ctx, evt)
		})
	}
}

// Filter returns middleware that reports ignored for events keep rejects.
func Filter(reason string, keep func(event.Event) bool) MiddlewareFunc {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt event.Event) Outcome {
			if !keep(evt) {
				return Ignored(reason)
			}
			return next.Handle(ctx, evt)
		})
	}
}
