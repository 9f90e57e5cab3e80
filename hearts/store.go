/*
store.go - Persistence interfaces for the hearts engine

PURPOSE:
  Defines the interface between the pool and its durable stores. The core
  performs no blocking I/O of its own; persistence sits behind these
  interfaces and failures are surfaced, never retried internally.

KEY INTERFACES:
  TransactionStore: Append-only ledger persistence (append, query, exists)
  StateStore:       Key-value persistence for HeartState snapshots
  UserStore:        Per-user tier settings (cap, premium, timezone)
  CheckpointStore:  Last-synced watermark for cross-device reconciliation

APPEND-ONLY CONTRACT:
  TransactionStore has no Update or Delete. Every write carries a unique
  transaction id; a second write with the same id fails with
  ErrDuplicateTransaction, which callers treat as benign.

IMPLEMENTATIONS:
  - store/sqlite: Durable SQLite-backed stores
  - store/memory: In-memory stores for tests and dev

SEE ALSO:
  - ledger.go: Higher-level ledger using TransactionStore
  - pool.go: StateStore write-through usage
*/
package hearts

import (
	"context"
	"time"
)

// =============================================================================
// TRANSACTION STORE - Append-only ledger persistence
// =============================================================================

// TransactionStore persists ledger entries. APPEND-ONLY: no update, no
// delete. Dedup is by transaction id.
type TransactionStore interface {
	// Append persists one transaction. Returns ErrDuplicateTransaction if
	// the id already exists.
	Append(ctx context.Context, tx Transaction) error

	// Query returns a user's transactions ordered by (Timestamp, ID).
	// A nil since returns the full history.
	Query(ctx context.Context, userID UserID, since *time.Time) ([]Transaction, error)

	// Exists checks whether a transaction id is already recorded.
	Exists(ctx context.Context, id TransactionID) (bool, error)
}

// =============================================================================
// STATE STORE - HeartState snapshots
// =============================================================================

// StateStore persists the latest HeartState per user. The ledger remains the
// source of truth; the snapshot is the hot-path read model.
type StateStore interface {
	SaveState(ctx context.Context, state HeartState) error

	// LoadState returns nil (no error) when the user has no stored state.
	LoadState(ctx context.Context, userID UserID) (*HeartState, error)
}

// =============================================================================
// USER STORE - Tier settings
// =============================================================================

type UserStore interface {
	SaveUser(ctx context.Context, profile UserProfile) error

	// GetUser returns nil (no error) when the user is unknown.
	GetUser(ctx context.Context, userID UserID) (*UserProfile, error)

	ListUsers(ctx context.Context) ([]UserProfile, error)
}

// =============================================================================
// CHECKPOINT STORE - Sync watermarks
// =============================================================================

// CheckpointStore records, per user, the timestamp up to which local and
// remote ledgers are known to agree.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, userID UserID, at time.Time) error

	// LoadCheckpoint returns nil when the user has never synced.
	LoadCheckpoint(ctx context.Context, userID UserID) (*time.Time, error)
}
