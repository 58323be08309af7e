// Package event defines the immutable facts that flow through eventcore.
//
// Every event carries identity, a type tag, an origin, a timestamp, a schema
// version, optional string metadata and a typed payload. Payload types name
// their own discriminant through the Payload interface, so the type tag of an
// event is derived from its shape:
//
//	type SampleFetched struct{ Count int }
//
//	func (SampleFetched) EventType() string { return "samples.fetched" }
//
//	evt := event.New("fetcher", SampleFetched{Count: 12})
//	// evt.Type() == "samples.fetched"
//
// Events are immutable once constructed. Accessors return copies of any
// mutable state.
package event

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Event is the core interface for all events in the system.
type Event interface {
	// Identity
	ID() string     // Unique event identifier, never reused
	Type() string   // Event type tag (e.g., "permission.changed")
	Source() string // Origin of the event (e.g., "fetcher", "fsm")

	// Correlation
	CorrelationID() string // Groups related events
	CausationID() string   // ID of event that directly caused this one

	// Metadata
	Timestamp() time.Time        // When the fact occurred
	Version() int                // Schema version
	Metadata() map[string]string // Optional metadata, returned as a copy

	// Payload
	Data() any
}

// Payload is implemented by typed event payloads.
// EventType returns the discriminant under which the payload is published
// and subscribed.
type Payload interface {
	EventType() string
}

// Metadata contains the common event header fields.
type Metadata struct {
	EventID       string            `json:"id"`
	EventType     string            `json:"type"`
	EventSource   string            `json:"source"`
	CorrelationID string            `json:"correlation_id"`
	CausationID   string            `json:"causation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion int               `json:"schema_version"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// BaseEvent is the generic event implementation.
// T is the payload type for type-safe access.
type BaseEvent[T any] struct {
	meta    Metadata
	payload T
}

// ID returns the unique event identifier.
func (e *BaseEvent[T]) ID() string {
	return e.meta.EventID
}

// Type returns the event type.
func (e *BaseEvent[T]) Type() string {
	return e.meta.EventType
}

// Source returns the event source.
func (e *BaseEvent[T]) Source() string {
	return e.meta.EventSource
}

// CorrelationID returns the correlation ID.
func (e *BaseEvent[T]) CorrelationID() string {
	return e.meta.CorrelationID
}

// CausationID returns the ID of the event that caused this one.
func (e *BaseEvent[T]) CausationID() string {
	return e.meta.CausationID
}

// Timestamp returns when the event occurred.
func (e *BaseEvent[T]) Timestamp() time.Time {
	return e.meta.Timestamp
}

// Version returns the schema version.
func (e *BaseEvent[T]) Version() int {
	return e.meta.SchemaVersion
}

// Metadata returns a copy of the event labels.
func (e *BaseEvent[T]) Metadata() map[string]string {
	return maps.Clone(e.meta.Labels)
}

// Header returns a copy of the event header.
func (e *BaseEvent[T]) Header() Metadata {
	m := e.meta
	m.Labels = maps.Clone(e.meta.Labels)
	return m
}

// Data returns the event payload.
func (e *BaseEvent[T]) Data() any {
	return e.payload
}

// TypedData returns the strongly-typed payload.
func (e *BaseEvent[T]) TypedData() T {
	return e.payload
}

// envelope is the wire shape of an event.
type envelope[T any] struct {
	Meta    Metadata `json:"metadata"`
	Payload T        `json:"payload"`
}

// MarshalJSON implements json.Marshaler.
// There is no UnmarshalJSON: events are rebuilt with Catalog.Decode or
// Restore, never decoded into an existing value.
func (e *BaseEvent[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope[T]{Meta: e.meta, Payload: e.payload})
}

// Option configures event creation.
type Option func(*eventConfig)

type eventConfig struct {
	id            string
	correlationID string
	causationID   string
	timestamp     time.Time
	version       int
	labels        map[string]string
}

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithCorrelationID sets the correlation ID.
func WithCorrelationID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.correlationID = id
	}
}

// WithCausationID sets the ID of the causing event.
func WithCausationID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.causationID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(cfg *eventConfig) {
		cfg.timestamp = t
	}
}

// WithSchemaVersion sets the schema version.
func WithSchemaVersion(v int) Option {
	return func(cfg *eventConfig) {
		cfg.version = v
	}
}

// WithMetadata adds a metadata label. May be given multiple times.
func WithMetadata(key, value string) Option {
	return func(cfg *eventConfig) {
		if cfg.labels == nil {
			cfg.labels = make(map[string]string)
		}
		cfg.labels[key] = value
	}
}

func build[T any](eventType, source string, payload T, opts []Option) *BaseEvent[T] {
	cfg := &eventConfig{
		id:        uuid.New().String(),
		timestamp: time.Now(),
		version:   1,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// If no correlation ID, the event is the root of its chain
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	return &BaseEvent[T]{
		meta: Metadata{
			EventID:       cfg.id,
			EventType:     eventType,
			EventSource:   source,
			CorrelationID: cfg.correlationID,
			CausationID:   cfg.causationID,
			Timestamp:     cfg.timestamp,
			SchemaVersion: cfg.version,
			Labels:        cfg.labels,
		},
		payload: payload,
	}
}

// New creates an event whose type tag is the payload's discriminant.
func New[P Payload](source string, payload P, opts ...Option) *BaseEvent[P] {
	return build(payload.EventType(), source, payload, opts)
}

// NewFromParent creates an event caused by parent.
// It inherits the parent's correlation ID and records the parent as cause.
func NewFromParent[P Payload](parent Event, source string, payload P, opts ...Option) *BaseEvent[P] {
	parentOpts := []Option{
		WithCorrelationID(parent.CorrelationID()),
		WithCausationID(parent.ID()),
	}
	return New(source, payload, append(parentOpts, opts...)...)
}

// NewAny creates an event with an explicit type tag and an untyped payload.
func NewAny(eventType, source string, payload any, opts ...Option) *BaseEvent[any] {
	return build(eventType, source, payload, opts)
}

// Restore rebuilds an event from a decoded header and payload.
// Used by Catalog decoders; the header is taken verbatim.
func Restore[T any](meta Metadata, payload T) *BaseEvent[T] {
	meta.Labels = maps.Clone(meta.Labels)
	return &BaseEvent[T]{meta: meta, payload: payload}
}

// TypeOf returns the discriminant of payload type P.
func TypeOf[P Payload]() string {
	var zero P
	return zero.EventType()
}

// PayloadAs extracts a typed payload from evt.
func PayloadAs[T any](evt Event) (T, bool) {
	if evt == nil {
		var zero T
		return zero, false
	}
	v, ok := evt.Data().(T)
	return v, ok
}
