package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/hearts-engine/hearts"
	"github.com/pulse/hearts-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var base = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func lossTx(id string, ts time.Time) hearts.Transaction {
	return hearts.Transaction{
		ID:          hearts.TransactionID(id),
		UserID:      "user-1",
		Timestamp:   ts,
		Type:        hearts.TxLoss,
		Amount:      1,
		Reason:      hearts.ReasonWrongTap,
		ChallengeID: "challenge-1",
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_Append_Roundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx := lossTx("tx-1", base)
	require.NoError(t, store.Append(ctx, tx))

	txs, err := store.Query(ctx, "user-1", nil)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, tx.ID, txs[0].ID)
	assert.Equal(t, tx.UserID, txs[0].UserID)
	assert.True(t, tx.Timestamp.Equal(txs[0].Timestamp))
	assert.Equal(t, tx.Type, txs[0].Type)
	assert.Equal(t, tx.Amount, txs[0].Amount)
	assert.Equal(t, tx.Reason, txs[0].Reason)
	assert.Equal(t, tx.ChallengeID, txs[0].ChallengeID)
}

func TestSQLite_Append_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, lossTx("tx-1", base)))

	err := store.Append(ctx, lossTx("tx-1", base.Add(time.Hour)))
	assert.ErrorIs(t, err, hearts.ErrDuplicateTransaction)

	exists, err := store.Exists(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLite_Query_OrderAndSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Appended out of order; queried in (ts, id) order.
	require.NoError(t, store.Append(ctx, lossTx("tx-c", base.Add(2*time.Hour))))
	require.NoError(t, store.Append(ctx, lossTx("tx-a", base)))
	require.NoError(t, store.Append(ctx, lossTx("tx-b", base.Add(time.Hour))))

	txs, err := store.Query(ctx, "user-1", nil)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, hearts.TransactionID("tx-a"), txs[0].ID)
	assert.Equal(t, hearts.TransactionID("tx-b"), txs[1].ID)
	assert.Equal(t, hearts.TransactionID("tx-c"), txs[2].ID)

	since := base.Add(time.Hour)
	tail, err := store.Query(ctx, "user-1", &since)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, hearts.TransactionID("tx-b"), tail[0].ID)
}

func TestSQLite_Query_IsolatesUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, lossTx("tx-1", base)))
	other := lossTx("tx-2", base)
	other.UserID = "user-2"
	require.NoError(t, store.Append(ctx, other))

	txs, err := store.Query(ctx, "user-1", nil)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

// =============================================================================
// HEART STATES
// =============================================================================

func TestSQLite_State_Roundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lost := base.Add(time.Hour)
	reset := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	state := hearts.HeartState{
		UserID:            "user-1",
		CurrentHearts:     3,
		MaxHearts:         5,
		LastHeartLost:     &lost,
		LastMidnightReset: &reset,
		RefillSlots: []hearts.RefillSlot{
			{ID: "slot-a", ScheduledRefillTime: base.Add(4 * time.Hour)},
			{ID: "slot-b", ScheduledRefillTime: base.Add(5 * time.Hour), IsRefilled: true},
			{ID: "slot-c", ScheduledRefillTime: base.Add(6 * time.Hour)},
		},
		PerfectStreakCount: 2,
		TotalHeartsLost:    7,
		TotalHeartsGained:  5,
	}
	require.NoError(t, store.SaveState(ctx, state))

	loaded, err := store.LoadState(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, state.CurrentHearts, loaded.CurrentHearts)
	assert.Equal(t, state.MaxHearts, loaded.MaxHearts)
	assert.True(t, lost.Equal(*loaded.LastHeartLost))
	assert.True(t, reset.Equal(*loaded.LastMidnightReset))
	assert.Equal(t, state.PerfectStreakCount, loaded.PerfectStreakCount)
	assert.Equal(t, state.TotalHeartsLost, loaded.TotalHeartsLost)
	assert.Equal(t, state.TotalHeartsGained, loaded.TotalHeartsGained)
	require.Len(t, loaded.RefillSlots, 3)
	assert.Equal(t, hearts.SlotID("slot-a"), loaded.RefillSlots[0].ID)
	assert.True(t, loaded.RefillSlots[1].IsRefilled)
	assert.Equal(t, 2, loaded.OpenSlotCount())
}

func TestSQLite_State_UpsertReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := hearts.NewHeartState("user-1", 5)
	require.NoError(t, store.SaveState(ctx, first))

	second := first
	second.CurrentHearts = 2
	second.RefillSlots = []hearts.RefillSlot{{ID: "slot-a", ScheduledRefillTime: base}}
	require.NoError(t, store.SaveState(ctx, second))

	loaded, err := store.LoadState(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 2, loaded.CurrentHearts)
	assert.Len(t, loaded.RefillSlots, 1)
}

func TestSQLite_State_MissingIsNil(t *testing.T) {
	store := newTestStore(t)

	loaded, err := store.LoadState(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

// =============================================================================
// USERS
// =============================================================================

func TestSQLite_User_Roundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	profile := hearts.UserProfile{
		UserID:    "user-1",
		MaxHearts: 5,
		Premium:   true,
		Timezone:  "America/New_York",
		CreatedAt: base,
	}
	require.NoError(t, store.SaveUser(ctx, profile))

	loaded, err := store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, profile.MaxHearts, loaded.MaxHearts)
	assert.True(t, loaded.Premium)
	assert.Equal(t, profile.Timezone, loaded.Timezone)
	assert.True(t, base.Equal(loaded.CreatedAt))

	missing, err := store.GetUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_User_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveUser(ctx, hearts.UserProfile{UserID: "b-user", MaxHearts: 5}))
	require.NoError(t, store.SaveUser(ctx, hearts.UserProfile{UserID: "a-user", MaxHearts: 5}))

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, hearts.UserID("a-user"), users[0].UserID)
}

// =============================================================================
// CHECKPOINTS
// =============================================================================

func TestSQLite_Checkpoint_Roundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	missing, err := store.LoadCheckpoint(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, missing, "never-synced user has no checkpoint")

	require.NoError(t, store.SaveCheckpoint(ctx, "user-1", base))
	loaded, err := store.LoadCheckpoint(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, base.Equal(*loaded))

	// Upsert moves the watermark.
	require.NoError(t, store.SaveCheckpoint(ctx, "user-1", base.Add(time.Hour)))
	loaded, err = store.LoadCheckpoint(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, base.Add(time.Hour).Equal(*loaded))
}

// =============================================================================
// INTEGRATION - Pool on SQLite
// =============================================================================

func TestSQLite_BacksThePool(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	clock := hearts.NewFakeClock(base)
	pool := hearts.NewPool(hearts.NewLedger(store), store, store, clock, hearts.DirectoryPremium{Users: store})

	require.NoError(t, store.SaveUser(ctx, hearts.UserProfile{UserID: "user-1", MaxHearts: 5, CreatedAt: base}))

	res, err := pool.LoseHeart(ctx, "user-1", hearts.ReasonWrongTap, "challenge-1")
	require.NoError(t, err)
	assert.Equal(t, 4, res.CurrentHearts)

	clock.Advance(hearts.RefillDelay)
	due, err := pool.ProcessDue(ctx, "user-1", clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, due.RefilledSlots)

	txs, err := store.Query(ctx, "user-1", nil)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}
