// Package bus provides in-process publish/subscribe over the event store.
//
// Publish persists an event in the store before any handler observes it,
// then fans out to every matching handler concurrently and waits for all of
// them. Handlers report an Outcome; a failing or panicking handler never
// affects other handlers or the publisher.
//
//	b := bus.New(st, bus.WithLogger(logger))
//	bus.SubscribeTyped(b, func(ctx context.Context, evt event.Event, p fsm.PermissionChanged) bus.Outcome {
//	    return bus.Success()
//	})
//	receipt := b.Publish(ctx, event.New("platform", fsm.PermissionChanged{Status: fsm.PermissionStatusGranted}))
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
	"github.com/randalmurphal/eventcore/pkg/eventcore/store"
)

// Wildcard is the subscription key that matches every event type.
const Wildcard = "*"

// Receipt summarizes one publish.
type Receipt struct {
	EventID   string
	EventType string

	// Invalid is set when catalog validation failed. The event was still
	// persisted and dispatched.
	Invalid error

	Outcomes []HandlerOutcome
	Duration time.Duration
}

// HandlerOutcome pairs a handler's name with what it reported.
type HandlerOutcome struct {
	Handler string
	Outcome
}

// Count returns the number of outcomes with the given status.
func (r Receipt) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

type entry struct {
	name    string
	handler Handler
}

// Bus dispatches events to subscribed handlers.
type Bus struct {
	store *store.Store

	mu         sync.RWMutex
	handlers   map[string][]entry
	middleware []MiddlewareFunc

	catalog  *event.Catalog
	validate bool

	stats   *statsRecorder
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// New creates a bus that persists into st.
func New(st *store.Store, opts ...Option) *Bus {
	b := &Bus{
		store:    st,
		handlers: make(map[string][]entry),
		stats:    newStatsRecorder(),
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Store returns the store the bus persists into.
func (b *Bus) Store() *store.Store {
	return b.store
}

// Subscribe registers handler for eventType. Subscribing to Wildcard is the
// same as SubscribeAll. Registration order is kept for diagnostics only;
// handlers for one event run concurrently.
func (b *Bus) Subscribe(eventType string, handler Handler, opts ...SubscribeOption) {
	e := entry{name: fmt.Sprintf("%T", handler), handler: handler}
	for _, opt := range opts {
		opt(&e)
	}

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], e)
	b.mu.Unlock()
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler, opts ...SubscribeOption) {
	b.Subscribe(Wildcard, handler, opts...)
}

// SubscribeTyped registers fn for the event type of payload P. Events of that
// type whose payload is not a P are reported ignored without calling fn.
func SubscribeTyped[P event.Payload](b *Bus, fn func(ctx context.Context, evt event.Event, payload P) Outcome, opts ...SubscribeOption) {
	b.Subscribe(event.TypeOf[P](), Typed(fn), opts...)
}

// Unsubscribe removes all handlers for eventType. In-flight dispatches keep
// the handler set they already gathered.
func (b *Bus) Unsubscribe(eventType string) {
	b.mu.Lock()
	delete(b.handlers, eventType)
	b.mu.Unlock()
}

// UnsubscribeAll removes every handler, including wildcard handlers.
func (b *Bus) UnsubscribeAll() {
	b.mu.Lock()
	b.handlers = make(map[string][]entry)
	b.mu.Unlock()
}

// SubscriberCount returns the number of handlers registered under eventType.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Subscribers returns handler names for eventType in registration order.
func (b *Bus) Subscribers(eventType string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.handlers[eventType]))
	for _, e := range b.handlers[eventType] {
		names = append(names, e.name)
	}
	return names
}

// Use adds middleware applied to every handler at dispatch time.
// The first middleware added is outermost.
func (b *Bus) Use(mw MiddlewareFunc) {
	b.mu.Lock()
	b.middleware = append(b.middleware, mw)
	b.mu.Unlock()
}

// Stats returns a copy of the bus counters.
func (b *Bus) Stats() Stats {
	return b.stats.snapshot()
}

// Publish persists evt and dispatches it to every matching handler.
// It returns after all handlers have finished. A nil event is a no-op.
func (b *Bus) Publish(ctx context.Context, evt event.Event) Receipt {
	if evt == nil {
		return Receipt{}
	}

	start := time.Now()
	invalid := b.check(evt)
	b.store.Append(evt)
	return b.dispatch(ctx, evt, invalid, start)
}

// PublishBatch persists the whole batch, then dispatches each event in order.
// Nil events are skipped and get no receipt.
func (b *Bus) PublishBatch(ctx context.Context, events []event.Event) []Receipt {
	start := time.Now()

	batch := make([]event.Event, 0, len(events))
	invalid := make([]error, 0, len(events))
	for _, evt := range events {
		if evt == nil {
			continue
		}
		batch = append(batch, evt)
		invalid = append(invalid, b.check(evt))
	}

	b.store.AppendBatch(batch)
	b.stats.recordBatch()

	receipts := make([]Receipt, 0, len(batch))
	for i, evt := range batch {
		receipts = append(receipts, b.dispatch(ctx, evt, invalid[i], start))
		start = time.Now()
	}
	return receipts
}

// check validates evt against the catalog when validation is enabled.
func (b *Bus) check(evt event.Event) error {
	if !b.validate || b.catalog == nil {
		return nil
	}
	err := b.catalog.Validate(evt)
	if err != nil {
		observability.LogInvalidEvent(b.logger, evt.ID(), evt.Type(), err)
	}
	return err
}

func (b *Bus) gather(eventType string) ([]entry, []MiddlewareFunc) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := make([]entry, 0, len(b.handlers[eventType])+len(b.handlers[Wildcard]))
	entries = append(entries, b.handlers[eventType]...)
	if eventType != Wildcard {
		entries = append(entries, b.handlers[Wildcard]...)
	}

	middleware := make([]MiddlewareFunc, 0, len(b.middleware)+1)
	middleware = append(middleware, b.middleware...)
	middleware = append(middleware, Recover())
	return entries, middleware
}

func (b *Bus) dispatch(ctx context.Context, evt event.Event, invalid error, start time.Time) Receipt {
	ctx, span := b.spans.StartPublishSpan(ctx, evt.ID(), evt.Type())

	entries, middleware := b.gather(evt.Type())
	outcomes := make([]HandlerOutcome, len(entries))

	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = b.invoke(ctx, evt, e, middleware)
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	b.stats.recordPublish(evt.Type(), len(entries), invalid == nil, elapsed)
	b.metrics.RecordPublish(ctx, evt.Type(), len(entries), elapsed)
	observability.LogPublish(b.logger, evt.ID(), evt.Type(), len(entries), float64(elapsed.Microseconds())/1000)
	b.spans.EndSpanWithError(span, invalid)

	return Receipt{
		EventID:   evt.ID(),
		EventType: evt.Type(),
		Invalid:   invalid,
		Outcomes:  outcomes,
		Duration:  elapsed,
	}
}

func (b *Bus) invoke(ctx context.Context, evt event.Event, e entry, middleware []MiddlewareFunc) HandlerOutcome {
	start := time.Now()
	handler := Chain(e.handler, middleware...)

	// Panics raised by middleware itself are caught here.
	out := Recover()(handler).Handle(ctx, evt)
	elapsed := time.Since(start)

	b.stats.recordHandler(out.Status, elapsed)
	b.metrics.RecordHandler(ctx, evt.Type(), out.Status.String(), elapsed)

	switch out.Status {
	case StatusFailure:
		observability.LogHandlerFailure(b.logger, evt.ID(), evt.Type(), e.name, out.Reason)
	case StatusIgnored:
		observability.LogHandlerIgnored(b.logger, evt.ID(), evt.Type(), e.name, out.Reason)
	}

	return HandlerOutcome{Handler: e.name, Outcome: out}
}
