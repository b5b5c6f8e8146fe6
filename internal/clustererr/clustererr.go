// Package clustererr defines the error taxonomy shared by every layer of
// the controller: transport, dispatcher, proxy, lifecycle and process
// management all fail with one of these kinds so callers can pattern-match
// without reaching into package-private error types.
package clustererr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies which taxonomy bucket an Error belongs to.
type Kind int

const (
	// Unknown is the zero value and should never be returned deliberately.
	Unknown Kind = iota
	// CommunicationError means the transport could not deliver a message
	// or lost the connection. Retryable by the dispatcher.
	CommunicationError
	// Timeout means no reply arrived within the per-attempt deadline.
	// Retryable once by the dispatcher, thereafter surfaced.
	Timeout
	// NoMaster means a ClusterView has no usable targets at all.
	NoMaster
	// ClusterUnreachable means every target failed and the reprobe also
	// failed.
	ClusterUnreachable
	// RemoteError wraps a verbatim error payload returned by the cluster
	// side. Never retried.
	RemoteError
	// PreconditionFailed means a lifecycle precondition was not met before
	// any side effect was attempted.
	PreconditionFailed
	// NoSuchProcess means a ProcessId is unknown to the cluster.
	NoSuchProcess
	// ProcessKilled means AwaitResult observed a Killed status.
	ProcessKilled
	// AwaitTimeout means AwaitResult's own timeout elapsed without the
	// process reaching a terminal status.
	AwaitTimeout
	// CompilationError means ComputationPackager produced fatal
	// diagnostics.
	CompilationError
	// ComputationNotSerializable means an image could not be serialized
	// before any network traffic was attempted.
	ComputationNotSerializable
	// Configuration means a Settings value was missing or invalid
	// (executable path, directory, unknown store provider).
	Configuration
	// NoEligibleMaster means MasterBoot's candidate list contained no node
	// with Master permissions.
	NoEligibleMaster
	// ObjectDisposed means an operation was attempted on a controller that
	// has already been closed.
	ObjectDisposed
)

func (k Kind) String() string {
	switch k {
	case CommunicationError:
		return "CommunicationError"
	case Timeout:
		return "Timeout"
	case NoMaster:
		return "NoMaster"
	case ClusterUnreachable:
		return "ClusterUnreachable"
	case RemoteError:
		return "RemoteError"
	case PreconditionFailed:
		return "PreconditionFailed"
	case NoSuchProcess:
		return "NoSuchProcess"
	case ProcessKilled:
		return "ProcessKilled"
	case AwaitTimeout:
		return "AwaitTimeout"
	case CompilationError:
		return "CompilationError"
	case ComputationNotSerializable:
		return "ComputationNotSerializable"
	case Configuration:
		return "Configuration"
	case NoEligibleMaster:
		return "NoEligibleMaster"
	case ObjectDisposed:
		return "ObjectDisposed"
	default:
		return "Unknown"
	}
}

// Error is the single error type returned by every public operation in this
// module. Message carries a human-readable summary; Payload, when non-nil,
// is the verbatim detail from a RemoteError and must not be altered by
// intermediate layers.
type Error struct {
	Kind    Kind
	Message string
	Payload []byte
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error whose cause is annotated with message via
// pkg/errors.WithMessage and stays reachable through Unwrap, so
// errors.Is/errors.As still find the original error. No stack is recorded.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, cause: errors.WithMessage(cause, message)}
}

// Remote builds a RemoteError preserving the cluster-side payload verbatim.
func Remote(message string, payload []byte) *Error {
	return &Error{Kind: RemoteError, Message: message, Payload: payload}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or Unknown if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Retryable reports whether the dispatcher should move to the next target
// on this error, per spec: only CommunicationError and Timeout are retried.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == CommunicationError || k == Timeout
}
