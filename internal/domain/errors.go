package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrorCode categorizes domain errors. Codes are stable and surface unchanged
// at the HTTP and CLI boundaries.
type ErrorCode string

const (
	// CodeNotFound indicates an unknown session, order or item.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeInvalidState indicates an operation attempted from a state that does
	// not permit it.
	CodeInvalidState ErrorCode = "INVALID_STATE"

	// CodeConflict indicates a version mismatch or a duplicate identifier.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeInsufficientStock indicates an approval aborted because an item has
	// fewer units available than requested.
	CodeInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"

	// CodeIntegrity indicates a payment amount that disagrees with the cart.
	CodeIntegrity ErrorCode = "INTEGRITY_VIOLATION"

	// CodeInvalidArgument indicates malformed input.
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// CodeChannelUnavailable indicates the realtime channel could not be
	// reached. It is logged and never returned to callers.
	CodeChannelUnavailable ErrorCode = "CHANNEL_UNAVAILABLE"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrInvalidState       = &Error{Code: CodeInvalidState}
	ErrConflict           = &Error{Code: CodeConflict}
	ErrInsufficientStock  = &Error{Code: CodeInsufficientStock}
	ErrIntegrity          = &Error{Code: CodeIntegrity}
	ErrInvalidArgument    = &Error{Code: CodeInvalidArgument}
	ErrChannelUnavailable = &Error{Code: CodeChannelUnavailable}
)

// Error is the structured error returned by every tillsync operation.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Resource names the kind of entity involved ("session", "order", "item").
	Resource string

	// ID identifies the entity involved.
	ID string

	// Details contains additional context.
	Details map[string]string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.Resource != "" && e.ID != "" {
		msg = fmt.Sprintf("%s (%s=%s)", msg, e.Resource, e.ID)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "" when err
// carries none.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// NotFound creates an error for an unknown entity.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:     CodeNotFound,
		Message:  resource + " not found",
		Resource: resource,
		ID:       id,
	}
}

// InvalidState creates an error for a transition the current state forbids.
func InvalidState(resource, id, current, operation string) *Error {
	return &Error{
		Code:     CodeInvalidState,
		Message:  fmt.Sprintf("cannot %s %s in state %s", operation, resource, current),
		Resource: resource,
		ID:       id,
		Details: map[string]string{
			"state":     current,
			"operation": operation,
		},
	}
}

// Conflict creates an error for a concurrent modification or duplicate id.
func Conflict(resource, id, message string) *Error {
	return &Error{
		Code:     CodeConflict,
		Message:  message,
		Resource: resource,
		ID:       id,
	}
}

// VersionConflict creates a Conflict carrying the expected and actual versions.
func VersionConflict(resource, id string, expected, actual int64) *Error {
	return &Error{
		Code:     CodeConflict,
		Message:  fmt.Sprintf("version mismatch (expected %d, found %d)", expected, actual),
		Resource: resource,
		ID:       id,
		Details: map[string]string{
			"expected_version": strconv.FormatInt(expected, 10),
			"actual_version":   strconv.FormatInt(actual, 10),
		},
	}
}

// InsufficientStock creates an error naming the item that could not be filled.
func InsufficientStock(itemID int64, requested, available int64) *Error {
	id := strconv.FormatInt(itemID, 10)
	return &Error{
		Code:     CodeInsufficientStock,
		Message:  fmt.Sprintf("requested %d, only %d available", requested, available),
		Resource: "item",
		ID:       id,
		Details: map[string]string{
			"item_id":   id,
			"requested": strconv.FormatInt(requested, 10),
			"available": strconv.FormatInt(available, 10),
		},
	}
}

// Integrity creates an error for a payment amount that does not match the
// cart total.
func Integrity(sessionID string, supplied, computed int64) *Error {
	return &Error{
		Code:     CodeIntegrity,
		Message:  fmt.Sprintf("gross amount %d does not match cart total %d", supplied, computed),
		Resource: "session",
		ID:       sessionID,
		Details: map[string]string{
			"supplied": strconv.FormatInt(supplied, 10),
			"computed": strconv.FormatInt(computed, 10),
		},
	}
}

// InvalidArgument creates an error for malformed input.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{
		Code:    CodeInvalidArgument,
		Message: fmt.Sprintf(format, args...),
	}
}

// ChannelUnavailable wraps a realtime transport failure.
func ChannelUnavailable(key string, cause error) *Error {
	return &Error{
		Code:     CodeChannelUnavailable,
		Message:  "realtime channel unavailable",
		Resource: "channel",
		ID:       key,
		cause:    cause,
	}
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsInvalidState reports whether err is an INVALID_STATE error.
func IsInvalidState(err error) bool { return CodeOf(err) == CodeInvalidState }

// IsConflict reports whether err is a CONFLICT error.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }
