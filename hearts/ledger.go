/*
ledger.go - Append-only transaction log and replay

PURPOSE:
  The Ledger is the immutable record of every heart-affecting event. The
  pool snapshot is a read model; when the two could ever disagree, the
  ledger wins: replaying the full transaction history reconstructs
  HeartState deterministically.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IDEMPOTENT: Same transaction id = one entry (duplicates are no-ops)
  3. DETERMINISTIC: Replay(Query(user)) == the live HeartState

DEDUPLICATION:
  Duplicates are expected, not exceptional: a retried network push, a
  redundant ProcessDue tick, or two devices running the same scheduled
  job all produce the same transaction id. Append reports them as a
  non-applied outcome, never as an error.

TOTAL ORDER:
  Transactions are ordered by (Timestamp, ID). The id tiebreak gives a
  total order, which is what makes reconciliation of divergent device
  tails commutative.

SEE ALSO:
  - store.go: TransactionStore persistence interface
  - sync.go: Reconciler built on replay
*/
package hearts

import (
	"context"
	"errors"
	"sort"
	"time"
)

// =============================================================================
// LEDGER - Append-only, deduplicated
// =============================================================================

type Ledger interface {
	// Append records a transaction. Returns (false, nil) when the id is
	// already present: a benign duplicate, not an error.
	Append(ctx context.Context, tx Transaction) (applied bool, err error)

	// Query returns a user's transactions ordered by (Timestamp, ID).
	Query(ctx context.Context, userID UserID, since *time.Time) ([]Transaction, error)
}

// DefaultLedger implements Ledger over a TransactionStore.
type DefaultLedger struct {
	Store TransactionStore
}

func NewLedger(store TransactionStore) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) (bool, error) {
	err := l.Store.Append(ctx, tx)
	if errors.Is(err, ErrDuplicateTransaction) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *DefaultLedger) Query(ctx context.Context, userID UserID, since *time.Time) ([]Transaction, error) {
	txs, err := l.Store.Query(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	SortTransactions(txs)
	return txs, nil
}

// SortTransactions orders txs by (Timestamp, ID), the canonical total order.
func SortTransactions(txs []Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.Before(txs[j].Timestamp)
		}
		return txs[i].ID < txs[j].ID
	})
}

// =============================================================================
// REPLAY - Pure fold from transactions to HeartState
// =============================================================================

// Replay reconstructs a HeartState from a transaction history. It is a pure
// fold used for consistency checks, disaster recovery, and reconciliation,
// never on the hot path.
//
// The input is re-sorted into the canonical total order, so callers may pass
// merged tails from several devices.
//
// PerfectStreakCount is the one field the ledger cannot fully reconstruct:
// only every third perfect completion is ledgered, so replay yields the
// post-bonus (or post-loss) value of the counter. Reconcile compensates by
// keeping the larger of the replayed and live counters.
func Replay(userID UserID, maxHearts int, txs []Transaction) HeartState {
	ordered := append([]Transaction(nil), txs...)
	SortTransactions(ordered)

	state := NewHeartState(userID, maxHearts)
	for _, tx := range ordered {
		if tx.UserID != userID {
			continue
		}
		switch tx.Type {
		case TxLoss:
			replayLoss(&state, tx)
		case TxGain:
			replayGain(&state, tx)
		case TxRefill:
			replayRefill(&state, tx)
		}
	}
	return state
}

func replayLoss(state *HeartState, tx Transaction) {
	for i := 0; i < tx.Amount; i++ {
		if state.CurrentHearts > 0 {
			state.CurrentHearts--
		}
		state.RefillSlots = append(state.RefillSlots, RefillSlot{
			ID:                  SlotIDForLoss(tx.ID),
			ScheduledRefillTime: tx.Timestamp.Add(RefillDelay),
		})
	}
	ts := tx.Timestamp
	state.LastHeartLost = &ts
	state.TotalHeartsLost += tx.Amount
	state.PerfectStreakCount = 0
}

func replayGain(state *HeartState, tx Transaction) {
	state.TotalHeartsGained += tx.Amount

	if tx.Reason == ReasonMidnightReset {
		state.CurrentHearts = state.MaxHearts
		state.RefillSlots = nil
		ts := tx.Timestamp
		state.LastMidnightReset = &ts
		return
	}

	// Gains are ledgered post-clamp, so the amount always fits; the clamp
	// here only guards against a corrupted record.
	for i := 0; i < tx.Amount && state.CurrentHearts < state.MaxHearts; i++ {
		state.CurrentHearts++
		consumeOldestOpen(state)
	}
	if tx.Reason == ReasonPerfectStreak {
		state.PerfectStreakCount = 0
	}
}

func replayRefill(state *HeartState, tx Transaction) {
	state.TotalHeartsGained += tx.Amount
	for i := 0; i < tx.Amount && state.CurrentHearts < state.MaxHearts; i++ {
		state.CurrentHearts++
		consumeOldestOpen(state)
	}
}

// consumeOldestOpen marks the oldest unrefilled slot, if any. Gains prefer
// retiring pending scheduled debt over leaving surplus bookkeeping behind.
func consumeOldestOpen(state *HeartState) {
	for i := range state.RefillSlots {
		if !state.RefillSlots[i].IsRefilled {
			state.RefillSlots[i].IsRefilled = true
			return
		}
	}
}
