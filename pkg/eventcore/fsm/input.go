package fsm

import (
	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// InputKind identifies a lifecycle input.
type InputKind string

const (
	InputInitialize          InputKind = "initialize"
	InputPermissionRequested InputKind = "permission_requested"
	InputPermissionGranted   InputKind = "permission_granted"
	InputPermissionDenied    InputKind = "permission_denied"
	InputStartDataFetch      InputKind = "start_data_fetch"
	InputDataFetchCompleted  InputKind = "data_fetch_completed"
	InputDataFetchFailed     InputKind = "data_fetch_failed"
	InputStartProcessing     InputKind = "start_processing"
	InputProcessingCompleted InputKind = "processing_completed"
	InputProcessingFailed    InputKind = "processing_failed"
	InputErrorOccurred       InputKind = "error_occurred"
	InputRecoveryRequested   InputKind = "recovery_requested"
	InputRecoverySucceeded   InputKind = "recovery_succeeded"
	InputRecoveryFailed      InputKind = "recovery_failed"
	InputRecoveryTimeout     InputKind = "recovery_timeout"
	InputDegradeRequested    InputKind = "degrade_requested"
	InputReset               InputKind = "reset"
	InputTransitionTo        InputKind = "transition_to"
)

// String returns the input name.
func (k InputKind) String() string {
	return string(k)
}

// Input drives the state machine.
type Input struct {
	Kind InputKind

	// Err is the classified failure for *_failed, error and degrade inputs.
	Err *ecerrors.DataError

	// Target is the destination of a TransitionTo input.
	Target Kind

	// Trigger is the event that produced this input, if any. It becomes the
	// cause of the resulting StateChanged event.
	Trigger event.Event

	// epoch ties timer-originated inputs to the recovery cycle that
	// scheduled them. Zero means the input did not come from a timer.
	epoch uint64
}

// WithTrigger returns a copy of in caused by evt.
func (in Input) WithTrigger(evt event.Event) Input {
	in.Trigger = evt
	return in
}

func (in Input) triggerID() string {
	if in.Trigger == nil {
		return ""
	}
	return in.Trigger.ID()
}

// reason classifies err for use as a state reason. A nil error becomes a
// generic system error. The result never aliases a caller's DataError.
func reason(err error, fallback string) *ecerrors.DataError {
	if err == nil {
		return ecerrors.System(nil, fallback)
	}
	return detach(ecerrors.Classify(err))
}

// detach returns a private copy of e, so a reason held in controller state
// cannot be changed through an event payload or a caller's pointer.
func detach(e *ecerrors.DataError) *ecerrors.DataError {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

func (s State) detached() State {
	s.Reason = detach(s.Reason)
	return s
}

// Initialize starts the lifecycle.
func Initialize() Input { return Input{Kind: InputInitialize} }

// RequestPermission records that data access was requested from the platform.
func RequestPermission() Input { return Input{Kind: InputPermissionRequested} }

// GrantPermission records that data access was granted.
func GrantPermission() Input { return Input{Kind: InputPermissionGranted} }

// DenyPermission records that data access was refused.
func DenyPermission(message string) Input {
	return Input{Kind: InputPermissionDenied, Err: ecerrors.PermissionDenied(message)}
}

// StartDataFetch begins a fetch.
func StartDataFetch() Input { return Input{Kind: InputStartDataFetch} }

// CompleteDataFetch reports a successful fetch.
func CompleteDataFetch() Input { return Input{Kind: InputDataFetchCompleted} }

// FailDataFetch reports a failed fetch.
func FailDataFetch(err error) Input {
	return Input{Kind: InputDataFetchFailed, Err: reason(err, "data fetch failed")}
}

// StartProcessing begins processing fetched data.
func StartProcessing() Input { return Input{Kind: InputStartProcessing} }

// CompleteProcessing reports successful processing.
func CompleteProcessing() Input { return Input{Kind: InputProcessingCompleted} }

// FailProcessing reports failed processing. Unclassified errors are treated
// as processing errors.
func FailProcessing(err error) Input {
	if err == nil {
		return Input{Kind: InputProcessingFailed, Err: ecerrors.Processing(nil, "processing failed")}
	}
	classified := detach(ecerrors.Classify(err))
	if classified.Kind == ecerrors.KindSystem && classified.Message == "" {
		classified = ecerrors.Processing(err, "")
	}
	return Input{Kind: InputProcessingFailed, Err: classified}
}

// ReportError moves the machine to error from any initialized state.
func ReportError(err error) Input {
	return Input{Kind: InputErrorOccurred, Err: reason(err, "error reported")}
}

// RequestRecovery asks the machine to leave error or degraded.
func RequestRecovery() Input { return Input{Kind: InputRecoveryRequested} }

// RecoverySucceeded reports a successful recovery attempt.
func RecoverySucceeded() Input { return Input{Kind: InputRecoverySucceeded} }

// RecoveryFailed reports a failed recovery attempt.
func RecoveryFailed() Input { return Input{Kind: InputRecoveryFailed} }

// RecoveryTimedOut reports that recovery took too long.
func RecoveryTimedOut() Input { return Input{Kind: InputRecoveryTimeout} }

// RequestDegrade moves the machine to degraded mode.
func RequestDegrade(message string) Input {
	var err *ecerrors.DataError
	if message != "" {
		err = ecerrors.System(nil, message)
	}
	return Input{Kind: InputDegradeRequested, Err: err}
}

// ResetInput returns the machine to uninitialized.
func ResetInput() Input { return Input{Kind: InputReset} }

// TransitionTo forces a transition to target. The reachability table still
// applies.
func TransitionTo(target Kind) Input {
	return Input{Kind: InputTransitionTo, Target: target}
}
