// Package errs provides the unified error type used across tessera.
//
// Every driver adapter (SQL Server, MySQL, Postgres) and every cache backend
// wraps its native errors into *errs.Error before returning them. The
// session layer decides retries and transaction doom purely from the Kind,
// and uses Code (the engine's native error number or SQLSTATE) for the
// benign allow-list.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.WrapCode(errs.ErrKindIntegrityViolation, "2627", "duplicate key", nativeErr)
//
//	// In a caller, check error kind:
//	if errs.IsDoomedTransaction(err) {
//	    // roll back and start over
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing driver-specific codes.
type ErrKind int

const (
	ErrKindUnknown            ErrKind = iota
	ErrKindConnectionFailed           // cannot open or reach the backend
	ErrKindConnectionDropped          // link lost mid-statement; safe to retry
	ErrKindIntegrityViolation         // unique / foreign key / check violation
	ErrKindDoomedTransaction          // transaction observed an unrecoverable error
	ErrKindSchemaNotFound             // table does not exist
	ErrKindConfiguration              // invalid setting value
	ErrKindDriver                     // catch-all engine error, native code preserved
	ErrKindObjectNotFound             // benign "does not exist"
	ErrKindObjectExists               // benign "already exists"
	ErrKindInvalidState               // operation not allowed in the current state
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindConnectionDropped:
		return "connection_dropped"
	case ErrKindIntegrityViolation:
		return "integrity_violation"
	case ErrKindDoomedTransaction:
		return "doomed_transaction"
	case ErrKindSchemaNotFound:
		return "schema_not_found"
	case ErrKindConfiguration:
		return "configuration"
	case ErrKindDriver:
		return "driver"
	case ErrKindObjectNotFound:
		return "object_not_found"
	case ErrKindObjectExists:
		return "object_exists"
	case ErrKindInvalidState:
		return "invalid_state"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all tessera subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Code    string // native engine code (error number or SQLSTATE), may be empty
	Cause   error  // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	code := ""
	if e.Code != "" {
		code = " (" + e.Code + ")"
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s]%s %s: %v", e.Kind, code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s]%s %s", e.Kind, code, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// WrapCode is Wrap with the engine's native error code attached.
func WrapCode(kind ErrKind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Code: code, Cause: cause}
}

// --- Predicates ---

// IsConnectionFailed reports whether err is a failure to open or reach the backend.
func IsConnectionFailed(err error) bool {
	return kindOf(err) == ErrKindConnectionFailed
}

// IsConnectionDropped reports whether the connection was lost while a
// statement was in flight.
func IsConnectionDropped(err error) bool {
	return kindOf(err) == ErrKindConnectionDropped
}

// IsConnection reports whether err is any connectivity failure.
func IsConnection(err error) bool {
	k := kindOf(err)
	return k == ErrKindConnectionFailed || k == ErrKindConnectionDropped
}

// IsIntegrityViolation reports whether err is an integrity-constraint violation.
func IsIntegrityViolation(err error) bool {
	return kindOf(err) == ErrKindIntegrityViolation
}

// IsDoomedTransaction reports whether err was raised because the active
// transaction can no longer be committed.
func IsDoomedTransaction(err error) bool {
	return kindOf(err) == ErrKindDoomedTransaction
}

// IsSchemaNotFound reports whether err signals a missing table.
func IsSchemaNotFound(err error) bool {
	return kindOf(err) == ErrKindSchemaNotFound
}

// IsConfiguration reports whether err was caused by an invalid setting.
func IsConfiguration(err error) bool {
	return kindOf(err) == ErrKindConfiguration
}

// IsObjectNotFound reports whether err is the engine's "does not exist" error.
func IsObjectNotFound(err error) bool {
	return kindOf(err) == ErrKindObjectNotFound
}

// IsObjectExists reports whether err is the engine's "already exists" error.
func IsObjectExists(err error) bool {
	return kindOf(err) == ErrKindObjectExists
}

// IsInvalidState reports whether err was an operation attempted in the wrong state.
func IsInvalidState(err error) bool {
	return kindOf(err) == ErrKindInvalidState
}

// KindOf returns the ErrKind of the first *Error in the chain.
func KindOf(err error) ErrKind {
	return kindOf(err)
}

// CodeOf returns the native code of the first *Error in the chain that has one.
func CodeOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Code != "" {
			return e.Code
		}
		err = e.Cause
	}
	return ""
}

// kindOf extracts the ErrKind from any error in the chain.
func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
