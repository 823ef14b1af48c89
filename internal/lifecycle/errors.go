package lifecycle

import (
	"errors"
	"fmt"
)

// Error kinds. The orchestrator treats the kind programmatically (retry,
// back off, or abort) and surfaces the message to a human.
const (
	KindValidation             = "ValidationError"
	KindCreateFailed           = "CreateFailed"
	KindUpdateFailed           = "UpdateFailed"
	KindDeleteFailed           = "DeleteFailed"
	KindConcurrentModification = "ConcurrentModification"
	KindUnknownResourceType    = "UnknownResourceType"
)

// Error is the structured error returned by every lifecycle operation.
// External-system errors are never swallowed: they are wrapped as the cause
// and remain reachable through errors.Is / errors.As.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Validationf reports malformed input. Never retryable; raised before any
// side effect.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// CreateFailed wraps a failed side-effecting create. The caller must assume
// the resource is absent or unknown, never present, and retry the create.
func CreateFailed(address string, cause error) *Error {
	return &Error{Kind: KindCreateFailed, Message: fmt.Sprintf("create failed for %s", address), Cause: cause}
}

// UpdateFailed wraps a failed in-place update. The prior state remains
// authoritative.
func UpdateFailed(address string, cause error) *Error {
	return &Error{Kind: KindUpdateFailed, Message: fmt.Sprintf("update failed for %s", address), Cause: cause}
}

// DeleteFailed wraps a failed delete for any cause other than the target
// already being gone.
func DeleteFailed(address string, cause error) *Error {
	return &Error{Kind: KindDeleteFailed, Message: fmt.Sprintf("delete failed for %s", address), Cause: cause}
}

// ConcurrentModification reports a second operation attempted against an id
// that already has one in flight. The caller should back off, not retry
// immediately.
func ConcurrentModification(id string) *Error {
	return &Error{Kind: KindConcurrentModification, Message: fmt.Sprintf("resource %s is already being modified", id)}
}

// UnknownResourceType reports a registry miss. Terminal: it indicates a
// registration bug, never retried.
func UnknownResourceType(typeName string) *Error {
	return &Error{Kind: KindUnknownResourceType, Message: fmt.Sprintf("no provider registered for type %q", typeName)}
}

// KindOf extracts the error kind, or "" for errors raised outside the
// lifecycle contract.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether re-invoking the same operation with the same
// arguments may succeed. The idempotency contract of the controller makes
// this safe for the three side-effecting kinds.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindCreateFailed, KindUpdateFailed, KindDeleteFailed, KindConcurrentModification:
		return true
	default:
		return false
	}
}
