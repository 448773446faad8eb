package entities

import (
	"context"
	"errors"
)

var (
	// ErrUnsupported means the device has no usable notification API. It is a mode, not a fault.
	ErrUnsupported = errors.New("notifications unsupported on this device")
	// ErrPermissionDenied is terminal for the session; the prompt must not be shown again.
	ErrPermissionDenied = errors.New("notification permission denied")
	// ErrNetwork is transient; callers fall back to the last local value and retry on the next trigger.
	ErrNetwork = errors.New("network error")
	// ErrSubscription covers push channel and subscription table failures.
	ErrSubscription = errors.New("subscription error")
	// ErrStorage covers local state read/write failures.
	ErrStorage = errors.New("storage error")
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidScope is returned when a scope lacks the id its role filters on.
	ErrInvalidScope = errors.New("invalid scope")
)

// FailureKind is the typed status every failure path resolves to
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureUnsupported      FailureKind = "unsupported"
	FailurePermissionDenied FailureKind = "permission_denied"
	FailureNetwork          FailureKind = "network"
	FailureSubscription     FailureKind = "subscription"
	FailureStorage          FailureKind = "storage"
	FailureCancelled        FailureKind = "cancelled"
)

// Classify maps an error onto the failure taxonomy.
// Unknown errors are treated as network failures since they are retried on the next trigger.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrUnsupported):
		return FailureUnsupported
	case errors.Is(err, ErrPermissionDenied):
		return FailurePermissionDenied
	case errors.Is(err, ErrSubscription):
		return FailureSubscription
	case errors.Is(err, ErrStorage):
		return FailureStorage
	case errors.Is(err, context.Canceled):
		return FailureCancelled
	default:
		return FailureNetwork
	}
}
