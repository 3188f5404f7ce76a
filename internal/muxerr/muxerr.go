// Package muxerr implements the tagged error taxonomy shared by every
// component of the session/pane runtime.
package muxerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of failure. Callers branch on Kind rather
// than matching error strings.
type Kind string

const (
	NotFound       Kind = "not_found"
	ResourceLimit  Kind = "resource_limit"
	InvalidState   Kind = "invalid_state"
	BackendError   Kind = "backend_error"
	BackendTimeout Kind = "backend_timeout"
	Validation     Kind = "validation"
	Persistence    Kind = "persistence"
	Plugin         Kind = "plugin"
	Internal       Kind = "internal"
)

// Error is the single tagged-variant error type crossing every component
// boundary in this module. It never carries a bare string from the leaf
// up — conversions from OS/IO errors happen once, at the leaf.
type Error struct {
	Kind Kind

	// Resource identifies what was missing/limited, e.g. "session", "pane", "plugin".
	Resource string
	// ID is the offending entity ID, when applicable.
	ID string
	// Limit is the configured cap, for ResourceLimit.
	Limit int
	// Field/Reason describe a Validation or InvalidState failure.
	Field  string
	Reason string
	// Op names the failing operation, for BackendError/Persistence.
	Op string
	// PluginID names the offending plugin, for Plugin.
	PluginID string

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case NotFound:
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	case ResourceLimit:
		return fmt.Sprintf("resource limit reached: %s (limit %d)", e.Resource, e.Limit)
	case InvalidState:
		return fmt.Sprintf("invalid state: %s", e.Reason)
	case BackendError:
		return fmt.Sprintf("backend error in %s: %s", e.Op, e.unwrapMsg())
	case BackendTimeout:
		return fmt.Sprintf("backend timeout in %s", e.Op)
	case Validation:
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
	case Persistence:
		return fmt.Sprintf("persistence error in %s: %s", e.Op, e.unwrapMsg())
	case Plugin:
		return fmt.Sprintf("plugin %s failed in %s: %s", e.PluginID, e.Op, e.unwrapMsg())
	default:
		return fmt.Sprintf("internal error: %s", e.unwrapMsg())
	}
}

func (e *Error) unwrapMsg() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, muxerr.NotFoundKind) style checks via sentinel
// kind values matched by Kind equality rather than identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func NewNotFound(resource, id string) *Error {
	return &Error{Kind: NotFound, Resource: resource, ID: id}
}

func NewResourceLimit(resource string, limit int) *Error {
	return &Error{Kind: ResourceLimit, Resource: resource, Limit: limit}
}

func NewInvalidState(reason string) *Error {
	return &Error{Kind: InvalidState, Reason: reason}
}

func NewBackendError(op string, err error) *Error {
	return &Error{Kind: BackendError, Op: op, Err: err}
}

func NewBackendTimeout(op string) *Error {
	return &Error{Kind: BackendTimeout, Op: op}
}

func NewValidation(field, reason string) *Error {
	return &Error{Kind: Validation, Field: field, Reason: reason}
}

func NewPersistence(op string, err error) *Error {
	return &Error{Kind: Persistence, Op: op, Err: err}
}

func NewPlugin(pluginID, op string, err error) *Error {
	return &Error{Kind: Plugin, PluginID: pluginID, Op: op, Err: err}
}

func NewInternal(context string, err error) *Error {
	return &Error{Kind: Internal, Reason: context, Err: err}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and
// reports whether it found one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
