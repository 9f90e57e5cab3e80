/*
errors.go - Centralized error types for the hearts engine

PURPOSE:
  All error types in one place for consistency and discoverability.

ERROR CATEGORIES:
  1. Duplicate transaction - Benign, expected under retries and replay
  2. Invariant violations  - Programming errors, never user-triggerable
  3. Persistence failures  - Surfaced to the caller; state stays in memory
  4. Sync conflicts        - Remote data replay cannot resolve; local wins

USAGE:
  if errors.Is(err, hearts.ErrDuplicateTransaction) {
      // already processed, safe to ignore
  }

SEE ALSO:
  - ledger.go: Dedup behavior on append
  - pool.go: Invariant enforcement
  - sync.go: Conflict handling
*/
package hearts

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateTransaction is returned by stores when a transaction with
	// the same id already exists. Expected behavior for retries, redundant
	// scheduled jobs, and sync replay. Not a failure.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")

	// ErrInvariantViolation marks an attempted negative or overflowing pool
	// state. Always a programming error.
	ErrInvariantViolation = errors.New("heart pool invariant violated")

	// ErrPersistence marks an I/O failure saving state or ledger entries.
	// The in-memory state is already mutated; the caller decides retry policy.
	ErrPersistence = errors.New("persistence failure")

	// ErrSyncConflict marks remote data that replay cannot resolve (e.g. a
	// corrupted record). Local state wins; the conflict is surfaced for
	// inspection.
	ErrSyncConflict = errors.New("sync conflict")

	// ErrUnknownReason is returned when a collaborator passes a reason that
	// is not valid for the operation.
	ErrUnknownReason = errors.New("unknown reason for operation")

	// ErrUserNotFound is returned when a referenced user has no profile.
	ErrUserNotFound = errors.New("user not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvariantError provides details about a pool invariant violation.
type InvariantError struct {
	UserID  UserID
	Code    string // "hearts_out_of_range", "slot_count_mismatch"
	Hearts  int
	Maximum int
	Slots   int
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: user %s hearts=%d max=%d openSlots=%d",
		e.Code, e.UserID, e.Hearts, e.Maximum, e.Slots)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// PersistenceError wraps a store failure with the operation that hit it.
type PersistenceError struct {
	Op  string // "save_state", "append_transaction"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return ErrPersistence }

// SyncConflictError describes a remote record that could not be merged.
type SyncConflictError struct {
	UserID UserID
	TxID   TransactionID
	At     time.Time
	Detail string
}

func (e *SyncConflictError) Error() string {
	return fmt.Sprintf("sync conflict for user %s (tx %s at %s): %s",
		e.UserID, e.TxID, e.At.Format(time.RFC3339), e.Detail)
}

func (e *SyncConflictError) Unwrap() error { return ErrSyncConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsBenign reports whether the error is expected control flow rather than a
// failure (currently only duplicate transactions).
func IsBenign(err error) bool {
	return errors.Is(err, ErrDuplicateTransaction)
}

// IsRetryable reports whether retrying the operation might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsClientError reports whether the error is due to invalid collaborator
// input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownReason) || errors.Is(err, ErrUserNotFound)
}
