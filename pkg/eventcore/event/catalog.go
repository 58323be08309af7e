package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ErrUnknownType indicates an event type with no registered schema.
var ErrUnknownType = errors.New("unknown event type")

// Decoder rebuilds a typed event from its header and raw payload.
type Decoder func(meta Metadata, payload json.RawMessage) (Event, error)

// Schema describes one event type in the catalog.
type Schema struct {
	// Type is the discriminant (e.g., "permission.changed").
	Type string

	// Source is the expected origin. Empty accepts any source.
	Source string

	// Version is the schema version number.
	Version int

	// Description explains the event's purpose.
	Description string

	// PayloadType is the Go type carried by events of this type.
	// Nil disables payload type checking.
	PayloadType reflect.Type

	// Decode rebuilds events of this type from JSON.
	Decode Decoder

	// Validator is an optional custom validation function.
	Validator func(Event) error
}

// Validate checks whether evt conforms to the schema.
func (s *Schema) Validate(evt Event) error {
	if evt.Type() != s.Type {
		return fmt.Errorf("event type mismatch: expected %s, got %s", s.Type, evt.Type())
	}

	if evt.Version() > s.Version {
		return fmt.Errorf("unsupported version: schema %d, event %d", s.Version, evt.Version())
	}

	if s.Source != "" && evt.Source() != s.Source {
		return fmt.Errorf("unexpected source %q for %s", evt.Source(), s.Type)
	}

	if s.PayloadType != nil {
		got := reflect.TypeOf(evt.Data())
		if got != s.PayloadType {
			return fmt.Errorf("payload type mismatch for %s: expected %s, got %v", s.Type, s.PayloadType, got)
		}
	}

	if s.Validator != nil {
		if err := s.Validator(evt); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}

	return nil
}

// Catalog maps event discriminants to their schemas and decoders.
// It keeps the event set closed for matching while letting new packages
// contribute their own types.
type Catalog struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		schemas: make(map[string]*Schema),
	}
}

// Register adds a schema. A schema with the same type is replaced if its
// version is not lower than the registered one.
func (c *Catalog) Register(schema *Schema) error {
	if schema == nil || schema.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if schema.Version <= 0 {
		return fmt.Errorf("version must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.schemas[schema.Type]; ok && current.Version > schema.Version {
		return fmt.Errorf("schema %s already registered at version %d", schema.Type, current.Version)
	}
	c.schemas[schema.Type] = schema
	return nil
}

// RegisterPayload registers payload type P with a JSON decoder.
func RegisterPayload[P Payload](c *Catalog, source string, version int, description string) error {
	return c.Register(&Schema{
		Type:        TypeOf[P](),
		Source:      source,
		Version:     version,
		Description: description,
		PayloadType: reflect.TypeFor[P](),
		Decode: func(meta Metadata, raw json.RawMessage) (Event, error) {
			var payload P
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &payload); err != nil {
					return nil, fmt.Errorf("decode %s payload: %w", meta.EventType, err)
				}
			}
			return Restore(meta, payload), nil
		},
	})
}

// Get returns the schema for an event type.
func (c *Catalog) Get(eventType string) (*Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	schema, ok := c.schemas[eventType]
	return schema, ok
}

// Has returns true if a schema exists for the event type.
func (c *Catalog) Has(eventType string) bool {
	_, ok := c.Get(eventType)
	return ok
}

// Types returns all registered event types, sorted.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]string, 0, len(c.schemas))
	for t := range c.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks evt against its registered schema.
func (c *Catalog) Validate(evt Event) error {
	schema, ok := c.Get(evt.Type())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, evt.Type())
	}
	return schema.Validate(evt)
}

// Decode rebuilds an event from its JSON envelope.
func (c *Catalog) Decode(data []byte) (Event, error) {
	var env envelope[json.RawMessage]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	schema, ok := c.Get(env.Meta.EventType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Meta.EventType)
	}
	if schema.Decode == nil {
		return nil, fmt.Errorf("no decoder registered for %s", schema.Type)
	}
	if env.Meta.EventID == "" {
		return nil, fmt.Errorf("decode %s: missing event id", schema.Type)
	}

	return schema.Decode(env.Meta, env.Payload)
}
