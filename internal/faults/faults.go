// Package faults defines the error taxonomy shared by every mcpilot
// component. A fault wraps an underlying error with a Kind the caller can
// branch on without string matching.
package faults

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and recovery decisions.
type Kind string

const (
	// PreconditionFailed covers invalid input and missing records; never retried.
	PreconditionFailed Kind = "precondition_failed"
	// Unreachable covers network, VCS, and runtime connectivity failures.
	Unreachable Kind = "unreachable"
	// Corrupt covers unparseable config documents and backup manifests.
	Corrupt Kind = "corrupt"
	// NameCollision covers directory and container name collisions.
	NameCollision Kind = "name_collision"
	// PermissionDenied covers filesystem and runtime ACL refusals.
	PermissionDenied Kind = "permission_denied"
	// Timeout marks a step that exceeded its budget.
	Timeout Kind = "timeout"
	// UpgradeFailed marks an in-place upgrade that failed after mutation
	// began; the rollback outcome travels alongside.
	UpgradeFailed Kind = "upgrade_failed"
	// Cancelled marks cooperative cancellation.
	Cancelled Kind = "cancelled"
	// Fatal is the default when no other kind applies.
	Fatal Kind = "fatal"
)

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a fault of the given kind from a message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap attaches a kind to an existing error. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, unwrapping as needed. Context errors map
// to Cancelled and Timeout; anything unclassified is Fatal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Fatal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
