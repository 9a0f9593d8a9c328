// Package shared contains the error vocabulary used across the storage layer
// and its consumers.
//
// # Sentinel errors
//
//   - ErrNotFound: a requested row or file does not exist
//   - ErrValidation: configuration or a migration plan is malformed
//   - ErrConflict: a write conflicts with current state
//   - ErrClosed: the connection manager (or a handle of it) was shut down
//   - ErrMigrationFailed: a schema script failed; the schema is in an unknown state
//   - ErrTimeout: an operation did not finish in time
//   - ErrInternal: anything unexpected
//
// # Classification
//
// KindOf maps an error chain to a single Kind using a fixed priority order,
// so errors.Join of several failures classifies deterministically:
//
//	switch shared.KindOf(err) {
//	case shared.KindMigrationFailed:
//	    // refuse to serve traffic
//	case shared.KindClosed:
//	    // shutting down, drop the request
//	}
//
// MarkKind adapts a foreign error (driver, filesystem) into a Kind while
// keeping the original reachable through errors.Is / errors.As:
//
//	if errors.Is(err, sql.ErrNoRows) {
//	    return shared.MarkKind(err, shared.KindNotFound)
//	}
//
// Wrap and Wrapf add context in the "context: cause" form used throughout the
// repository.
package shared
