package state

import (
	"errors"
	"fmt"
	"strings"
)

// #region sentinels
var (
	// ErrSessionExists is returned when initializing an id that is still live.
	ErrSessionExists = errors.New("session already exists")
	// ErrUnsupported is returned when the active policy lacks a capability.
	ErrUnsupported = errors.New("operation not supported by policy")
	// ErrNotFound is returned by byte stores for an unknown handle.
	ErrNotFound = errors.New("checkpoint not found")
)

// #endregion sentinels

// #region validation-error
// ValidationError rejects a malformed StateVector or argument. Session state is unchanged.
type ValidationError struct {
	Missing []string
	Invalid []string
	Reason  string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing keys: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid values: "+strings.Join(e.Invalid, ", "))
	}
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	return "validation: " + strings.Join(parts, "; ")
}

// #endregion validation-error

// #region unknown-policy-error
// UnknownPolicyError reports a policy name with no registered constructor.
type UnknownPolicyError struct {
	Name  string
	Known []string
}

func (e *UnknownPolicyError) Error() string {
	return fmt.Sprintf("unknown policy %q (registered: %s)", e.Name, strings.Join(e.Known, ", "))
}

// #endregion unknown-policy-error

// #region session-not-found-error
// SessionNotFoundError reports an operation on an unknown or ended session.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.SessionID)
}

// #endregion session-not-found-error

// #region persistence-error
// PersistenceError wraps a checkpoint I/O or decode failure.
// In-memory state keeps serving decisions after one of these.
type PersistenceError struct {
	Op     string // "save" | "load"
	Handle string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint %s %q: %v", e.Op, e.Handle, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// #endregion persistence-error
