// Package errors provides the data-error taxonomy used across eventcore.
//
// Failures in eventcore are payloads, not thrown faults. A DataError carries
// enough context (its Kind) for the state machine to pick a recovery strategy:
//   - Classification: Kind identifies what went wrong
//   - Categorization: Category says whether retrying can help
//   - Backoff: Backoff computes per-classification recovery delays
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a data error for recovery purposes.
type Kind int

const (
	// KindSystem is a generic system failure with no specific recovery path.
	KindSystem Kind = iota

	// KindPermissionDenied indicates the platform refused access to data.
	KindPermissionDenied

	// KindDataUnavailable indicates the requested data does not exist yet.
	KindDataUnavailable

	// KindNetwork indicates a connectivity failure.
	KindNetwork

	// KindProcessing indicates a failure while processing fetched data.
	KindProcessing

	// KindRecoveryTimeout indicates a recovery attempt did not finish in time.
	KindRecoveryTimeout
)

var kindNames = map[Kind]string{
	KindSystem:           "system",
	KindPermissionDenied: "permission_denied",
	KindDataUnavailable:  "data_unavailable",
	KindNetwork:          "network",
	KindProcessing:       "processing",
	KindRecoveryTimeout:  "recovery_timeout",
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindSystem,
		KindPermissionDenied,
		KindDataUnavailable,
		KindNetwork,
		KindProcessing,
		KindRecoveryTimeout,
	}
}

// String returns the kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, ok := ParseKind(string(text))
	if !ok {
		return fmt.Errorf("unknown error kind %q", text)
	}
	*k = parsed
	return nil
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return KindSystem, false
}

// Category represents whether retrying can help.
type Category int

const (
	// CategoryTransient indicates a retry will likely help.
	CategoryTransient Category = iota

	// CategoryPermanent indicates a retry won't help without outside action.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// DataError is a classified failure reported by a collaborator or raised by
// the state machine itself.
type DataError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`

	// Cause is the underlying error. It is not serialized.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *DataError) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the underlying error.
func (e *DataError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DataError of the same kind.
// A target with an empty message matches any error of that kind.
func (e *DataError) Is(target error) bool {
	t, ok := target.(*DataError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New creates a DataError of the given kind.
func New(kind Kind, message string) *DataError {
	return &DataError{Kind: kind, Message: message}
}

// Wrap classifies err under kind. Wrapping nil returns nil.
func Wrap(err error, kind Kind, message string) *DataError {
	if err == nil {
		return nil
	}
	return &DataError{Kind: kind, Message: message, Cause: err}
}

// PermissionDenied creates a permission-denied error.
func PermissionDenied(message string) *DataError {
	return New(KindPermissionDenied, message)
}

// DataUnavailable creates a data-unavailable error.
func DataUnavailable(message string) *DataError {
	return New(KindDataUnavailable, message)
}

// Network creates a network error.
func Network(err error, message string) *DataError {
	return &DataError{Kind: KindNetwork, Message: message, Cause: err}
}

// Processing creates a processing error.
func Processing(err error, message string) *DataError {
	return &DataError{Kind: KindProcessing, Message: message, Cause: err}
}

// System creates a generic system error.
func System(err error, message string) *DataError {
	return &DataError{Kind: KindSystem, Message: message, Cause: err}
}

// RecoveryTimeout creates a recovery-timeout error for the interrupted cause.
func RecoveryTimeout(cause *DataError) *DataError {
	e := &DataError{Kind: KindRecoveryTimeout, Message: "recovery did not complete in time"}
	if cause != nil {
		e.Cause = cause
	}
	return e
}

// Classify converts any error into a DataError.
// DataErrors pass through; context deadlines are treated as network
// failures; everything else is a system error.
func Classify(err error) *DataError {
	if err == nil {
		return nil
	}

	var dataErr *DataError
	if errors.As(err, &dataErr) {
		return dataErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &DataError{Kind: KindNetwork, Message: "deadline exceeded", Cause: err}
	}

	return &DataError{Kind: KindSystem, Cause: err}
}

// KindOf returns the classification of err.
func KindOf(err error) Kind {
	if err == nil {
		return KindSystem
	}
	return Classify(err).Kind
}

// Categorize determines whether retrying err can help.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	switch KindOf(err) {
	case KindNetwork, KindDataUnavailable, KindProcessing, KindRecoveryTimeout:
		return CategoryTransient
	default:
		return CategoryPermanent
	}
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
