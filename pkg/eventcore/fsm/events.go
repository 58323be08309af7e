package fsm

import (
	"errors"
	"time"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// Source is the origin of events published by the controller.
const Source = "fsm"

// Phase is the progress reported by fetch and processing events.
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// PermissionStatus is the platform's answer to a data access request.
type PermissionStatus string

const (
	PermissionStatusRequested PermissionStatus = "requested"
	PermissionStatusGranted   PermissionStatus = "granted"
	PermissionStatusDenied    PermissionStatus = "denied"
)

// PermissionChanged reports progress of a data access request.
type PermissionChanged struct {
	Status PermissionStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`
}

// EventType implements event.Payload.
func (PermissionChanged) EventType() string { return "permission.changed" }

// DataFetchOutcome reports progress of a data fetch.
type DataFetchOutcome struct {
	Phase Phase               `json:"phase"`
	Error *ecerrors.DataError `json:"error,omitempty"`
}

// EventType implements event.Payload.
func (DataFetchOutcome) EventType() string { return "data.fetch" }

// ProcessingOutcome reports progress of data processing.
type ProcessingOutcome struct {
	Phase Phase               `json:"phase"`
	Error *ecerrors.DataError `json:"error,omitempty"`
}

// EventType implements event.Payload.
func (ProcessingOutcome) EventType() string { return "data.processing" }

// Command names accepted in LifecycleCommand.
const (
	CommandInitialize = "initialize"
	CommandReset      = "reset"
	CommandRecover    = "recover"
	CommandDegrade    = "degrade"
	CommandTransition = "transition"
)

// LifecycleCommand asks the controller to act on its lifecycle directly.
type LifecycleCommand struct {
	Command string `json:"command"`
	// Target names the destination state for CommandTransition.
	Target string `json:"target,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// EventType implements event.Payload.
func (LifecycleCommand) EventType() string { return "lifecycle.command" }

// SystemFault reports an error outside fetch and processing.
type SystemFault struct {
	Error *ecerrors.DataError `json:"error"`
}

// EventType implements event.Payload.
func (SystemFault) EventType() string { return "system.error" }

// StateChanged announces a committed transition. It is the only channel
// through which other components learn about lifecycle changes.
// The reasons are copies; changing them does not affect the controller.
type StateChanged struct {
	From       string              `json:"from"`
	To         string              `json:"to"`
	FromReason *ecerrors.DataError `json:"from_reason,omitempty"`
	ToReason   *ecerrors.DataError `json:"to_reason,omitempty"`
	Input      string              `json:"input"`
	TriggerID  string              `json:"trigger_id,omitempty"`
	At         time.Time           `json:"at"`
}

// EventType implements event.Payload.
func (StateChanged) EventType() string { return "lifecycle.state_changed" }

// FromKind parses From.
func (s StateChanged) FromKind() (Kind, bool) { return ParseKind(s.From) }

// ToKind parses To.
func (s StateChanged) ToKind() (Kind, bool) { return ParseKind(s.To) }

// RegisterEvents registers the lifecycle payloads in c.
func RegisterEvents(c *event.Catalog) error {
	return errors.Join(
		event.RegisterPayload[PermissionChanged](c, "", 1, "data access request progress"),
		event.RegisterPayload[DataFetchOutcome](c, "", 1, "data fetch progress"),
		event.RegisterPayload[ProcessingOutcome](c, "", 1, "data processing progress"),
		event.RegisterPayload[LifecycleCommand](c, "", 1, "direct lifecycle command"),
		event.RegisterPayload[SystemFault](c, "", 1, "system error report"),
		event.RegisterPayload[StateChanged](c, Source, 1, "committed state transition"),
	)
}

// InputEventTypes lists the event types InputFromEvent understands.
func InputEventTypes() []string {
	return []string{
		event.TypeOf[PermissionChanged](),
		event.TypeOf[DataFetchOutcome](),
		event.TypeOf[ProcessingOutcome](),
		event.TypeOf[LifecycleCommand](),
		event.TypeOf[SystemFault](),
	}
}

// InputFromEvent maps a published event to a lifecycle input. The input's
// trigger is set to evt. It reports false for events that carry no input.
func InputFromEvent(evt event.Event) (Input, bool) {
	if evt == nil {
		return Input{}, false
	}
	in, ok := inputFor(evt.Data())
	if !ok {
		return Input{}, false
	}
	return in.WithTrigger(evt), true
}

func inputFor(data any) (Input, bool) {
	switch p := data.(type) {
	case PermissionChanged:
		switch p.Status {
		case PermissionStatusRequested:
			return RequestPermission(), true
		case PermissionStatusGranted:
			return GrantPermission(), true
		case PermissionStatusDenied:
			return DenyPermission(p.Reason), true
		}
	case DataFetchOutcome:
		switch p.Phase {
		case PhaseStarted:
			return StartDataFetch(), true
		case PhaseCompleted:
			return CompleteDataFetch(), true
		case PhaseFailed:
			return FailDataFetch(errOrNil(p.Error)), true
		}
	case ProcessingOutcome:
		switch p.Phase {
		case PhaseStarted:
			return StartProcessing(), true
		case PhaseCompleted:
			return CompleteProcessing(), true
		case PhaseFailed:
			return FailProcessing(errOrNil(p.Error)), true
		}
	case LifecycleCommand:
		switch p.Command {
		case CommandInitialize:
			return Initialize(), true
		case CommandReset:
			return ResetInput(), true
		case CommandRecover:
			return RequestRecovery(), true
		case CommandDegrade:
			return RequestDegrade(p.Reason), true
		case CommandTransition:
			if target, ok := ParseKind(p.Target); ok {
				return TransitionTo(target), true
			}
		}
	case SystemFault:
		return ReportError(errOrNil(p.Error)), true
	}
	return Input{}, false
}

// errOrNil keeps a nil *DataError from becoming a non-nil error interface.
func errOrNil(e *ecerrors.DataError) error {
	if e == nil {
		return nil
	}
	return e
}
