// Package fsm implements the data-lifecycle state machine.
//
// A Controller owns the current State, a bounded transition history, and
// per-classification retry counters. Inputs are matched against the current
// state to compute a candidate next state; the candidate is then checked
// against a static reachability table. Committed transitions run entry
// actions (recovery scheduling, counter resets) and are announced on the bus
// as StateChanged events.
//
// Neither error nor degraded is terminal. Reset returns the machine to
// uninitialized from any state.
package fsm

import (
	"fmt"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
)

// Kind is the variant of a State.
type Kind int

const (
	Uninitialized Kind = iota
	Initializing
	WaitingForPermission
	PermissionDenied
	Authorized
	FetchingInitialData
	Ready
	FetchingData
	ProcessingData
	Error
	Recovering
	Degraded
)

var kindNames = [...]string{
	Uninitialized:        "uninitialized",
	Initializing:         "initializing",
	WaitingForPermission: "waiting_for_permission",
	PermissionDenied:     "permission_denied",
	Authorized:           "authorized",
	FetchingInitialData:  "fetching_initial_data",
	Ready:                "ready",
	FetchingData:         "fetching_data",
	ProcessingData:       "processing_data",
	Error:                "error",
	Recovering:           "recovering",
	Degraded:             "degraded",
}

// Kinds returns every state kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, len(kindNames))
	for i := range kindNames {
		kinds[i] = Kind(i)
	}
	return kinds
}

// String returns the snake_case state name.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind looks up a state kind by name.
func ParseKind(name string) (Kind, bool) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), true
		}
	}
	return 0, false
}

// State is a lifecycle state. Error, Recovering, Degraded and
// PermissionDenied may carry the DataError that led there.
//
// Two states are the same destination when their kinds match; Reason is
// informational and never affects transition legality.
type State struct {
	Kind   Kind
	Reason *ecerrors.DataError
}

// At returns a State of kind k without a reason.
func At(k Kind) State {
	return State{Kind: k}
}

// SameKind reports whether s and other are the same variant.
func (s State) SameKind(other State) bool {
	return s.Kind == other.Kind
}

// String renders the state, including its reason when present.
func (s State) String() string {
	if s.Reason == nil {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Reason)
}

// IsOperational reports whether data can be served in this state.
func (s State) IsOperational() bool {
	switch s.Kind {
	case Ready, FetchingData, ProcessingData, Degraded:
		return true
	}
	return false
}

// CanFetch reports whether a data fetch may start.
func (s State) CanFetch() bool {
	switch s.Kind {
	case Authorized, Ready, Degraded:
		return true
	}
	return false
}

// CanProcess reports whether processing may start.
func (s State) CanProcess() bool {
	switch s.Kind {
	case Ready, FetchingInitialData, FetchingData, Degraded:
		return true
	}
	return false
}

// CanRequestPermission reports whether a permission request may be issued.
func (s State) CanRequestPermission() bool {
	switch s.Kind {
	case Initializing, PermissionDenied, Authorized, Ready, Degraded:
		return true
	}
	return false
}

// CanRecover reports whether a manual recovery may be requested.
func (s State) CanRecover() bool {
	return s.Kind == Error || s.Kind == Degraded
}

// Operation is a capability checked with Controller.CanPerform.
type Operation int

const (
	OpFetchData Operation = iota
	OpProcessData
	OpRequestPermission
	OpRecover
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpFetchData:
		return "fetch_data"
	case OpProcessData:
		return "process_data"
	case OpRequestPermission:
		return "request_permission"
	case OpRecover:
		return "recover"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// Allows reports whether op is permitted in s.
func (s State) Allows(op Operation) bool {
	switch op {
	case OpFetchData:
		return s.CanFetch()
	case OpProcessData:
		return s.CanProcess()
	case OpRequestPermission:
		return s.CanRequestPermission()
	case OpRecover:
		return s.CanRecover()
	}
	return false
}
