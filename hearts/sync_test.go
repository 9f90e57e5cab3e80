package hearts_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/hearts-engine/hearts"
	"github.com/pulse/hearts-engine/store/memory"
)

// =============================================================================
// TEST SETUP - Two devices sharing one remote ledger
// =============================================================================

type device struct {
	pool  *hearts.Pool
	store *memory.Store
	rec   *hearts.Reconciler
}

func newDevice(t *testing.T, clock *hearts.FakeClock, remote *memory.Store, userID string) *device {
	t.Helper()
	store := memory.New()
	pool := hearts.NewPool(hearts.NewLedger(store), store, store, clock, nil)
	rec := hearts.NewReconciler(pool, store, remote, store)

	err := store.SaveUser(context.Background(), hearts.UserProfile{
		UserID:    hearts.UserID(userID),
		MaxHearts: 5,
		CreatedAt: clock.Now(),
	})
	require.NoError(t, err)
	return &device{pool: pool, store: store, rec: rec}
}

// =============================================================================
// CONVERGENCE
// =============================================================================

func TestReconcile_DivergentTails_Converge(t *testing.T) {
	// GIVEN: Device A lost 2 hearts offline, device B lost 1
	// WHEN: Both reconcile against the shared remote
	// THEN: Both end at 2 hearts with the full merged history

	clock := hearts.NewFakeClock(testStart)
	remote := memory.New()
	a := newDevice(t, clock, remote, "user-1")
	b := newDevice(t, clock, remote, "user-1")
	ctx := context.Background()

	_, err := a.pool.LoseHeart(ctx, "user-1", hearts.ReasonWrongTap, "")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = a.pool.LoseHeart(ctx, "user-1", hearts.ReasonFocusBreak, "")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = b.pool.LoseHeart(ctx, "user-1", hearts.ReasonTestFail, "")
	require.NoError(t, err)

	_, err = a.rec.Reconcile(ctx, "user-1")
	require.NoError(t, err)
	stateB, err := b.rec.Reconcile(ctx, "user-1")
	require.NoError(t, err)
	stateA, err := a.rec.Reconcile(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 2, stateA.CurrentHearts)
	assert.Equal(t, 2, stateB.CurrentHearts)
	assert.Equal(t, 3, stateA.TotalHeartsLost)
	assert.Equal(t, 3, stateB.TotalHeartsLost)
	assert.Equal(t, 3, stateA.OpenSlotCount())
	assert.Equal(t, 3, stateB.OpenSlotCount())

	txsA, err := a.store.Query(ctx, "user-1", nil)
	require.NoError(t, err)
	txsB, err := b.store.Query(ctx, "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, txsA, txsB, "both ledgers hold the identical merged history")
}

func TestReconcile_OrderIndependent(t *testing.T) {
	// A-then-B must equal B-then-A.

	run := func(firstA bool) hearts.HeartState {
		clock := hearts.NewFakeClock(testStart)
		remote := memory.New()
		a := newDevice(t, clock, remote, "user-1")
		b := newDevice(t, clock, remote, "user-1")
		ctx := context.Background()

		_, err := a.pool.LoseHeart(ctx, "user-1", hearts.ReasonWrongTap, "")
		require.NoError(t, err)
		clock.Advance(time.Minute)
		_, err = b.pool.LoseHeart(ctx, "user-1", hearts.ReasonEarlyQuit, "")
		require.NoError(t, err)

		order := []*device{a, b}
		if !firstA {
			order = []*device{b, a}
		}
		// Two rounds so the second device's push reaches the first.
		var last hearts.HeartState
		for round := 0; round < 2; round++ {
			for _, d := range order {
				last, err = d.rec.Reconcile(ctx, "user-1")
				require.NoError(t, err)
			}
		}
		return last
	}

	ab := run(true)
	ba := run(false)

	assert.Equal(t, ab.CurrentHearts, ba.CurrentHearts)
	assert.Equal(t, ab.TotalHeartsLost, ba.TotalHeartsLost)
	assert.Equal(t, ab.OpenSlotCount(), ba.OpenSlotCount())
	assert.Equal(t, 3, ab.CurrentHearts)
}

func TestReconcile_Idempotent(t *testing.T) {
	clock := hearts.NewFakeClock(testStart)
	remote := memory.New()
	a := newDevice(t, clock, remote, "user-1")
	ctx := context.Background()

	_, err := a.pool.LoseHeart(ctx, "user-1", hearts.ReasonWrongTap, "")
	require.NoError(t, err)

	first, err := a.rec.Reconcile(ctx, "user-1")
	require.NoError(t, err)
	second, err := a.rec.Reconcile(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, first.CurrentHearts, second.CurrentHearts)
	assert.Equal(t, first.TotalHeartsLost, second.TotalHeartsLost)

	remoteTxs, err := remote.Query(ctx, "user-1", nil)
	require.NoError(t, err)
	assert.Len(t, remoteTxs, 1, "re-pushing the overlap deduplicates")
}

func TestReconcile_ScheduledJobsDeduplicate(t *testing.T) {
	// GIVEN: Both devices processed the same matured slot offline
	// WHEN: They reconcile
	// THEN: The refill is counted once; deterministic ids collide on purpose

	clock := hearts.NewFakeClock(testStart)
	remote := memory.New()
	a := newDevice(t, clock, remote, "user-1")
	ctx := context.Background()

	_, err := a.pool.LoseHeart(ctx, "user-1", hearts.ReasonWrongTap, "")
	require.NoError(t, err)

	// Seed device B with A's history so both know the same loss.
	_, err = a.rec.Reconcile(ctx, "user-1")
	require.NoError(t, err)
	b := newDevice(t, clock, remote, "user-1")
	_, err = b.rec.Reconcile(ctx, "user-1")
	require.NoError(t, err)

	// Both devices independently mature the slot.
	clock.Advance(hearts.RefillDelay)
	_, err = a.pool.ProcessDue(ctx, "user-1", clock.Now())
	require.NoError(t, err)
	_, err = b.pool.ProcessDue(ctx, "user-1", clock.Now())
	require.NoError(t, err)

	stateA, err := a.rec.Reconcile(ctx, "user-1")
	require.NoError(t, err)
	stateB, err := b.rec.Reconcile(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 5, stateA.CurrentHearts)
	assert.Equal(t, 5, stateB.CurrentHearts)
	assert.Equal(t, 1, stateA.TotalHeartsGained, "one refill, not two")

	remoteTxs, err := remote.Query(ctx, "user-1", nil)
	require.NoError(t, err)
	assert.Len(t, remoteTxs, 2, "one loss plus one deduplicated refill")
}

// =============================================================================
// NON-REPLAYABLE FIELDS
// =============================================================================

func TestReconcile_KeepsStreakProgress(t *testing.T) {
	// Intermediate perfect completions are not ledgered; reconcile must not
	// erase them.

	clock := hearts.NewFakeClock(testStart)
	remote := memory.New()
	a := newDevice(t, clock, remote, "user-1")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := a.pool.RecordPerfect(ctx, "user-1")
		require.NoError(t, err)
	}

	state, err := a.rec.Reconcile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, state.PerfectStreakCount)
}

// =============================================================================
// CONFLICTS AND FAILURES
// =============================================================================

func TestReconcile_MalformedRemote_LocalWins(t *testing.T) {
	clock := hearts.NewFakeClock(testStart)
	remote := memory.New()
	a := newDevice(t, clock, remote, "user-1")
	ctx := context.Background()

	_, err := a.pool.LoseHeart(ctx, "user-1", hearts.ReasonWrongTap, "")
	require.NoError(t, err)

	// A corrupted record lands on the remote.
	require.NoError(t, remote.Append(ctx, hearts.Transaction{
		ID:        "corrupt-1",
		UserID:    "user-1",
		Timestamp: clock.Now(),
		Type:      "mystery",
		Amount:    1,
		Reason:    hearts.ReasonWrongTap,
	}))

	_, err = a.rec.Reconcile(ctx, "user-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, hearts.ErrSyncConflict)

	var conflict *hearts.SyncConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, hearts.TransactionID("corrupt-1"), conflict.TxID)

	// Local ledger never absorbed the corrupt record.
	txs, err := a.store.Query(ctx, "user-1", nil)
	require.NoError(t, err)
	for _, tx := range txs {
		assert.NotEqual(t, hearts.TransactionID("corrupt-1"), tx.ID)
	}
}

func TestReconcile_WrongUserRecord_Rejected(t *testing.T) {
	clock := hearts.NewFakeClock(testStart)
	remote := memory.New()
	a := newDevice(t, clock, remote, "user-1")
	ctx := context.Background()

	require.NoError(t, remote.Append(ctx, hearts.Transaction{
		ID:        "stray-1",
		UserID:    "user-1",
		Timestamp: clock.Now(),
		Type:      hearts.TxLoss,
		Amount:    0,
		Reason:    hearts.ReasonWrongTap,
	}))

	_, err := a.rec.Pull(ctx, "user-1")
	assert.ErrorIs(t, err, hearts.ErrSyncConflict, "non-positive amounts cannot replay")
}

func TestReconcile_Push_CountsNewEntriesOnly(t *testing.T) {
	clock := hearts.NewFakeClock(testStart)
	remote := memory.New()
	a := newDevice(t, clock, remote, "user-1")
	ctx := context.Background()

	_, err := a.pool.LoseHeart(ctx, "user-1", hearts.ReasonWrongTap, "")
	require.NoError(t, err)

	pushed, err := a.rec.Push(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, pushed)

	pushed, err = a.rec.Push(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, pushed, "duplicates are skipped, not re-counted")
}

func TestReconcile_Pull_SkipsKnownEntries(t *testing.T) {
	// The checkpoint-slack overlap always re-delivers recent entries; the
	// local ledger filters them by id before touching append.

	clock := hearts.NewFakeClock(testStart)
	remote := memory.New()
	a := newDevice(t, clock, remote, "user-1")
	ctx := context.Background()

	_, err := a.pool.LoseHeart(ctx, "user-1", hearts.ReasonWrongTap, "")
	require.NoError(t, err)
	pushed, err := a.rec.Push(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, pushed)

	pulled, err := a.rec.Pull(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, pulled, "entries the local ledger already holds are not re-pulled")
}
