// Package shared contains common error types and utilities.
package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors shared by the storage layer and its consumers.
var (
	// ErrNotFound indicates that a requested row or file does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed configuration or input
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates that a write conflicts with current state
	ErrConflict = errors.New("conflict")

	// ErrClosed indicates use of a connection manager or handle after shutdown
	ErrClosed = errors.New("closed")

	// ErrMigrationFailed indicates that a schema script failed part way
	ErrMigrationFailed = errors.New("migration failed")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrInternal indicates an unexpected failure
	ErrInternal = errors.New("internal error")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindNotFound represents missing rows or files
	KindNotFound
	// KindValidation represents malformed input
	KindValidation
	// KindConflict represents conflicting writes
	KindConflict
	// KindClosed represents use after shutdown
	KindClosed
	// KindMigrationFailed represents a failed schema script
	KindMigrationFailed
	// KindTimeout represents timeout errors
	KindTimeout
	// KindInternal represents unexpected failures
	KindInternal
	// KindCanceled represents context cancellation
	KindCanceled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindConflict:
		return "Conflict"
	case KindClosed:
		return "Closed"
	case KindMigrationFailed:
		return "MigrationFailed"
	case KindTimeout:
		return "Timeout"
	case KindInternal:
		return "Internal"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

var kindToSentinel = map[Kind]error{
	KindNotFound:        ErrNotFound,
	KindValidation:      ErrValidation,
	KindConflict:        ErrConflict,
	KindClosed:          ErrClosed,
	KindMigrationFailed: ErrMigrationFailed,
	KindTimeout:         ErrTimeout,
	KindInternal:        ErrInternal,
}

// kindPriorities defines the deterministic order for error classification.
// A failed migration outranks everything except cancellation: it decides
// whether the process may keep running.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindMigrationFailed, ErrMigrationFailed},
	{KindTimeout, ErrTimeout},
	{KindClosed, ErrClosed},
	{KindNotFound, ErrNotFound},
	{KindValidation, ErrValidation},
	{KindConflict, ErrConflict},
	{KindInternal, ErrInternal},
}

// KindOf returns the Kind of the given error by checking against known sentinel errors.
// It walks the whole chain (including errors.Join) and returns the highest
// priority match. Returns KindUnknown for unrecognized errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	for _, priority := range kindPriorities {
		switch priority.kind {
		case KindCanceled:
			if IsCanceled(err) {
				return KindCanceled
			}
		case KindTimeout:
			if IsTimeout(err) {
				return KindTimeout
			}
		default:
			if errors.Is(err, priority.err) {
				return priority.kind
			}
		}
	}

	return KindUnknown
}

// HasKind reports whether the given error has the specified kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// SentinelOf returns the sentinel error for the given Kind.
// For KindUnknown and KindCanceled, it returns nil.
func SentinelOf(kind Kind) error {
	return kindToSentinel[kind]
}

// MarkKind wraps an error with the sentinel for kind, preserving the original
// error through wrapping. If err is nil the bare sentinel is returned.
// Marking an error with a kind it already has returns it unchanged.
func MarkKind(err error, kind Kind) error {
	sentinel := SentinelOf(kind)
	if err == nil {
		return sentinel
	}
	if sentinel == nil || KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context.
// It returns a new error that formats as "context: err".
// If err is nil, Wrap returns nil.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether the error indicates a canceled context.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsTimeout reports whether the error indicates a timeout.
// It checks for context.DeadlineExceeded, net.Error timeouts, and ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsNotFound reports whether the error indicates a missing row or file.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether the error indicates malformed input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsClosed reports whether the error indicates use after shutdown.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsMigrationFailed reports whether the error comes from a failed schema script.
func IsMigrationFailed(err error) bool {
	return errors.Is(err, ErrMigrationFailed)
}
