/*
sync.go - Cross-device reconciliation

PURPOSE:
  Merges a locally mutated ledger with a remote copy when connectivity
  resumes. Two devices may independently process a midnight reset or a
  scheduled refill while offline; replaying the deduplicated union of both
  tails in the canonical total order is the one operation guaranteed to
  converge regardless of which device ran which scheduled job.

CONTRACT:
  - Push/pull are idempotent: both sides deduplicate by transaction id, so
    a partial transfer interrupted by cancellation is safe to repeat.
  - Network failure leaves local state authoritative; unsynced entries stay
    queued behind the checkpoint.
  - Malformed remote records are a SyncConflict: surfaced, skipped, local
    state never discarded.
  - Reconcile is commutative and idempotent: A-then-B equals B-then-A.

SEE ALSO:
  - ledger.go: Replay and the (Timestamp, ID) total order
  - store.go: CheckpointStore
*/
package hearts

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler exchanges ledger tails between the local store and a remote
// one. The remote side is just another TransactionStore; its idempotent
// append is the whole wire contract.
type Reconciler struct {
	Pool        *Pool
	Local       TransactionStore
	Remote      TransactionStore
	Checkpoints CheckpointStore
}

func NewReconciler(pool *Pool, local, remote TransactionStore, checkpoints CheckpointStore) *Reconciler {
	return &Reconciler{Pool: pool, Local: local, Remote: remote, Checkpoints: checkpoints}
}

// checkpointSlack widens every tail query below the checkpoint. Refill
// transactions are timestamped at slot maturity, which can precede the
// moment a device actually recorded them; re-sending the overlap costs
// nothing because append is idempotent.
const checkpointSlack = 48 * time.Hour

func syncHorizon(checkpoint *time.Time) *time.Time {
	if checkpoint == nil {
		return nil
	}
	t := checkpoint.Add(-checkpointSlack)
	return &t
}

// Push uploads local transactions past the checkpoint. Duplicates on the
// remote are benign. Returns how many entries the remote accepted.
func (r *Reconciler) Push(ctx context.Context, userID UserID) (int, error) {
	since, err := r.Checkpoints.LoadCheckpoint(ctx, userID)
	if err != nil {
		return 0, &PersistenceError{Op: "load_checkpoint", Err: err}
	}

	tail, err := r.Local.Query(ctx, userID, syncHorizon(since))
	if err != nil {
		return 0, &PersistenceError{Op: "query_local", Err: err}
	}

	pushed := 0
	for _, tx := range tail {
		if err := ctx.Err(); err != nil {
			// Cancelled mid-push: already-sent entries are durable remotely
			// and will dedup next time.
			return pushed, err
		}
		err := r.Remote.Append(ctx, tx)
		if IsBenign(err) {
			continue
		}
		if err != nil {
			return pushed, &PersistenceError{Op: "push_remote", Err: err}
		}
		pushed++
	}
	return pushed, nil
}

// Pull downloads remote transactions past the checkpoint into the local
// ledger and returns the ones the local side had not seen.
func (r *Reconciler) Pull(ctx context.Context, userID UserID) ([]Transaction, error) {
	since, err := r.Checkpoints.LoadCheckpoint(ctx, userID)
	if err != nil {
		return nil, &PersistenceError{Op: "load_checkpoint", Err: err}
	}

	tail, err := r.Remote.Query(ctx, userID, syncHorizon(since))
	if err != nil {
		return nil, &PersistenceError{Op: "query_remote", Err: err}
	}

	var pulled []Transaction
	for _, tx := range tail {
		if err := ctx.Err(); err != nil {
			return pulled, err
		}
		known, err := r.Local.Exists(ctx, tx.ID)
		if err != nil {
			return pulled, &PersistenceError{Op: "check_local", Err: err}
		}
		if known {
			// Checkpoint-slack overlap; already validated when first ledgered.
			continue
		}
		if err := validateRemote(userID, tx); err != nil {
			// Corrupted remote record: local state wins, conflict surfaced.
			return pulled, err
		}
		err = r.Local.Append(ctx, tx)
		if IsBenign(err) {
			continue
		}
		if err != nil {
			return pulled, &PersistenceError{Op: "append_local", Err: err}
		}
		pulled = append(pulled, tx)
	}
	return pulled, nil
}

// Reconcile exchanges both tails, replays the merged ledger, and installs
// the re-derived state. The replayed state wins everywhere the ledger is
// authoritative; the two fields the ledger cannot see (streak progress
// between bonuses, zero-deficit reset baselines) keep whichever side is
// further along, which is itself commutative.
func (r *Reconciler) Reconcile(ctx context.Context, userID UserID) (HeartState, error) {
	unlock := r.Pool.lockUser(userID)
	defer unlock()

	state, profile, err := r.Pool.loadLocked(ctx, userID)
	if err != nil {
		return HeartState{}, err
	}

	if _, err := r.Push(ctx, userID); err != nil {
		return state.Clone(), err
	}
	if _, err := r.Pull(ctx, userID); err != nil {
		return state.Clone(), err
	}

	merged, err := r.Local.Query(ctx, userID, nil)
	if err != nil {
		return state.Clone(), &PersistenceError{Op: "query_local", Err: err}
	}

	replayed := Replay(userID, profile.MaxHearts, merged)
	if replayed.PerfectStreakCount < state.PerfectStreakCount {
		replayed.PerfectStreakCount = state.PerfectStreakCount
	}
	replayed.LastMidnightReset = laterOf(replayed.LastMidnightReset, state.LastMidnightReset)

	if err := r.Pool.adoptStateLocked(ctx, replayed); err != nil {
		return replayed.Clone(), err
	}
	if err := r.Checkpoints.SaveCheckpoint(ctx, userID, r.Pool.clock.Now()); err != nil {
		return replayed.Clone(), &PersistenceError{Op: "save_checkpoint", Err: err}
	}
	return replayed.Clone(), nil
}

// validateRemote rejects records replay cannot absorb.
func validateRemote(userID UserID, tx Transaction) error {
	detail := ""
	switch {
	case tx.ID == "":
		detail = "missing transaction id"
	case tx.UserID != userID:
		detail = fmt.Sprintf("transaction belongs to user %s", tx.UserID)
	case tx.Amount < 1:
		detail = fmt.Sprintf("non-positive amount %d", tx.Amount)
	case tx.Type != TxLoss && tx.Type != TxGain && tx.Type != TxRefill:
		detail = fmt.Sprintf("unknown transaction type %q", tx.Type)
	case tx.Timestamp.IsZero():
		detail = "missing timestamp"
	default:
		return nil
	}
	return &SyncConflictError{
		UserID: userID,
		TxID:   tx.ID,
		At:     tx.Timestamp,
		Detail: detail,
	}
}

func laterOf(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.After(*b) {
		return a
	}
	return b
}
