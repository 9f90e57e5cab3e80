/*
pool.go - The HeartPool state machine

PURPOSE:
  The only mutator of HeartState. Applies loss/gain operations, enforces
  the capped-pool invariants, delegates slot scheduling to RefillScheduler
  and record-keeping to the Ledger.

CONCURRENCY:
  Single writer per user: every operation acquires a per-user lock, so
  LoseHeart, GainHeart, RecordPerfect, and ProcessDue never interleave for
  the same user. Different users proceed in parallel.

PERSISTENCE:
  Operations mutate an in-memory write-through cache first and then persist
  (ledger append, then state snapshot). A persistence failure is returned
  as a PersistenceError alongside a valid result: gameplay keeps running
  from memory and the caller decides retry policy. The pool itself never
  retries I/O.

IDEMPOTENT SCHEDULING:
  ProcessDue may be invoked from any number of triggers (foreground tick,
  app resume, server cron). Scheduled transactions carry deterministic ids
  (derived from the slot or the local date), so redundant invocations and
  offline devices converge through ledger dedup.

SEE ALSO:
  - scheduler.go: Slot maturation rules
  - ledger.go: Append/replay semantics
  - sync.go: Cross-device reconciliation
*/
package hearts

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// POOL
// =============================================================================

type Pool struct {
	ledger  Ledger
	states  StateStore
	users   UserStore
	clock   Clock
	premium PremiumOverride
	sched   *RefillScheduler

	mu    sync.Mutex
	cache map[UserID]*HeartState
	locks map[UserID]*sync.Mutex
}

func NewPool(ledger Ledger, states StateStore, users UserStore, clock Clock, premium PremiumOverride) *Pool {
	if clock == nil {
		clock = SystemClock{}
	}
	if premium == nil {
		premium = NoPremium{}
	}
	return &Pool{
		ledger:  ledger,
		states:  states,
		users:   users,
		clock:   clock,
		premium: premium,
		sched:   NewRefillScheduler(),
		cache:   make(map[UserID]*HeartState),
		locks:   make(map[UserID]*sync.Mutex),
	}
}

// lockUser acquires the per-user mutex and returns its release func. The
// release must run on every exit path; a crashed persistence call must not
// leave the lock held.
func (p *Pool) lockUser(userID UserID) func() {
	p.mu.Lock()
	lock, ok := p.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[userID] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// loadLocked returns the cached state, loading or creating it on first use.
// Caller must hold the user lock.
func (p *Pool) loadLocked(ctx context.Context, userID UserID) (*HeartState, *UserProfile, error) {
	profile, err := p.users.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, &PersistenceError{Op: "load_user", Err: err}
	}
	if profile == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	p.mu.Lock()
	state, ok := p.cache[userID]
	p.mu.Unlock()
	if ok {
		return state, profile, nil
	}

	stored, err := p.states.LoadState(ctx, userID)
	if err != nil {
		return nil, nil, &PersistenceError{Op: "load_state", Err: err}
	}
	if stored == nil {
		fresh := NewHeartState(userID, profile.MaxHearts)
		stored = &fresh
	}

	p.mu.Lock()
	p.cache[userID] = stored
	p.mu.Unlock()
	return stored, profile, nil
}

// persistLocked appends transactions and saves the snapshot. The in-memory
// state is already mutated; a failure here is reported, not rolled back.
func (p *Pool) persistLocked(ctx context.Context, state *HeartState, txs ...Transaction) error {
	for _, tx := range txs {
		if _, err := p.ledger.Append(ctx, tx); err != nil {
			return &PersistenceError{Op: "append_transaction", Err: err}
		}
	}
	if err := p.states.SaveState(ctx, *state); err != nil {
		return &PersistenceError{Op: "save_state", Err: err}
	}
	return nil
}

// checkLocked validates invariants after a mutation. Violations are clamped
// defensively so a bug cannot wedge the pool, but the error is still
// surfaced: it is a programming error, never user-triggerable.
func (p *Pool) checkLocked(state *HeartState) error {
	err := state.validate()
	if err == nil {
		return nil
	}
	if state.CurrentHearts < 0 {
		state.CurrentHearts = 0
	}
	if state.CurrentHearts > state.MaxHearts {
		state.CurrentHearts = state.MaxHearts
	}
	return err
}

// =============================================================================
// OPERATIONS
// =============================================================================

// LoseHeart records one failure event. No-op when premium or already empty;
// otherwise decrements the pool, opens a refill slot 4h out, and ledgers a
// loss of 1. A loss always breaks the perfect streak.
func (p *Pool) LoseHeart(ctx context.Context, userID UserID, reason Reason, challengeID string) (LoseResult, error) {
	if !IsLossReason(reason) {
		return LoseResult{}, fmt.Errorf("%w: %q is not a loss reason", ErrUnknownReason, reason)
	}

	unlock := p.lockUser(userID)
	defer unlock()

	if p.premium.IsPremium(ctx, userID) {
		return LoseResult{Applied: false, CurrentHearts: UnlimitedHearts}, nil
	}

	state, _, err := p.loadLocked(ctx, userID)
	if err != nil {
		return LoseResult{}, err
	}
	now := p.clock.Now()

	if state.CurrentHearts == 0 {
		// Attempted while empty: pure no-op, nothing ledgered.
		return LoseResult{
			Applied:       false,
			CurrentHearts: 0,
			NextRefillIn:  p.sched.TimeUntilNext(state, now),
		}, nil
	}

	txID := NewTransactionID()
	state.CurrentHearts--
	ts := now
	state.LastHeartLost = &ts
	state.TotalHeartsLost++
	state.PerfectStreakCount = 0
	p.sched.OpenSlot(state, txID, now)

	if err := p.checkLocked(state); err != nil {
		return LoseResult{Applied: true, CurrentHearts: state.CurrentHearts}, err
	}

	err = p.persistLocked(ctx, state, Transaction{
		ID:          txID,
		UserID:      userID,
		Timestamp:   now,
		Type:        TxLoss,
		Amount:      1,
		Reason:      reason,
		ChallengeID: challengeID,
	})
	return LoseResult{
		Applied:       true,
		CurrentHearts: state.CurrentHearts,
		NextRefillIn:  p.sched.TimeUntilNext(state, now),
	}, err
}

// GainHeart credits hearts from a manual action, clamped to the cap. Each
// unit actually credited retires the oldest open refill slot. The ledger
// records the applied amount, never the requested one; the clamped-away
// remainder is only reported in the result.
func (p *Pool) GainHeart(ctx context.Context, userID UserID, reason Reason, amount int, challengeID string) (GainResult, error) {
	if !IsGainReason(reason) {
		return GainResult{}, fmt.Errorf("%w: %q is not a gain reason", ErrUnknownReason, reason)
	}
	if amount < 1 {
		amount = 1
	}

	unlock := p.lockUser(userID)
	defer unlock()

	if p.premium.IsPremium(ctx, userID) {
		return GainResult{Applied: false, CurrentHearts: UnlimitedHearts}, nil
	}

	state, _, err := p.loadLocked(ctx, userID)
	if err != nil {
		return GainResult{}, err
	}
	now := p.clock.Now()

	applied := p.creditLocked(state, amount)
	result := GainResult{
		Applied:       applied > 0,
		AppliedAmount: applied,
		ClampedAmount: amount - applied,
		CurrentHearts: state.CurrentHearts,
	}
	if err := p.checkLocked(state); err != nil {
		return result, err
	}
	if applied == 0 {
		// Fully clamped: nothing to ledger, nothing changed.
		return result, nil
	}

	err = p.persistLocked(ctx, state, Transaction{
		ID:          NewTransactionID(),
		UserID:      userID,
		Timestamp:   now,
		Type:        TxGain,
		Amount:      applied,
		Reason:      reason,
		ChallengeID: challengeID,
	})
	return result, err
}

// creditLocked applies up to amount hearts, consuming the oldest open slot
// per unit credited. Returns the amount actually applied.
func (p *Pool) creditLocked(state *HeartState, amount int) int {
	applied := 0
	for i := 0; i < amount && state.CurrentHearts < state.MaxHearts; i++ {
		state.CurrentHearts++
		p.sched.ConsumeOldestOpenSlot(state)
		applied++
	}
	state.TotalHeartsGained += applied
	return applied
}

// RecordPerfect counts a flawless completion. Every third consecutive one
// grants a bonus heart and resets the counter; the window is rolling and
// re-triggers indefinitely.
func (p *Pool) RecordPerfect(ctx context.Context, userID UserID) (PerfectResult, error) {
	unlock := p.lockUser(userID)
	defer unlock()

	if p.premium.IsPremium(ctx, userID) {
		return PerfectResult{CurrentHearts: UnlimitedHearts}, nil
	}

	state, _, err := p.loadLocked(ctx, userID)
	if err != nil {
		return PerfectResult{}, err
	}
	now := p.clock.Now()

	state.PerfectStreakCount++
	if state.PerfectStreakCount < PerfectStreakTarget {
		err = p.persistLocked(ctx, state)
		return PerfectResult{
			StreakCount:   state.PerfectStreakCount,
			CurrentHearts: state.CurrentHearts,
		}, err
	}

	// Streak complete: grant the bonus and restart the window. A full pool
	// clamps the credit to zero, in which case nothing is ledgered.
	state.PerfectStreakCount = 0
	applied := p.creditLocked(state, 1)
	if err := p.checkLocked(state); err != nil {
		return PerfectResult{BonusGranted: true, CurrentHearts: state.CurrentHearts}, err
	}

	var txs []Transaction
	if applied > 0 {
		txs = append(txs, Transaction{
			ID:        NewTransactionID(),
			UserID:    userID,
			Timestamp: now,
			Type:      TxGain,
			Amount:    applied,
			Reason:    ReasonPerfectStreak,
		})
	}
	err = p.persistLocked(ctx, state, txs...)
	return PerfectResult{
		StreakCount:   0,
		BonusGranted:  true,
		CurrentHearts: state.CurrentHearts,
	}, err
}

// ApplyMidnightReset refills the pool to the cap and clears every slot,
// matured or not, once per local calendar day. No-op for premium users or
// when no boundary has been crossed since the last reset.
func (p *Pool) ApplyMidnightReset(ctx context.Context, userID UserID, now time.Time) (DueResult, error) {
	unlock := p.lockUser(userID)
	defer unlock()

	if p.premium.IsPremium(ctx, userID) {
		return DueResult{CurrentHearts: UnlimitedHearts}, nil
	}

	state, profile, err := p.loadLocked(ctx, userID)
	if err != nil {
		return DueResult{}, err
	}

	applied, tx := p.midnightLocked(state, profile, now)
	result := DueResult{
		MidnightReset: applied,
		CurrentHearts: state.CurrentHearts,
	}
	if !applied {
		return result, nil
	}
	if err := p.checkLocked(state); err != nil {
		return result, err
	}
	if tx == nil {
		return result, p.persistLocked(ctx, state)
	}
	return result, p.persistLocked(ctx, state, *tx)
}

// midnightLocked applies the reset if a boundary was crossed. The baseline
// for an account that has never reset is its signup date, so day one never
// triggers. The transaction id is pinned to the local date, which lets every
// device that processes the same day dedup to one entry; the timestamp is
// the observation time, so in the canonical order the reset sorts after the
// losses it refunded and replay reproduces the live state exactly.
func (p *Pool) midnightLocked(state *HeartState, profile *UserProfile, now time.Time) (bool, *Transaction) {
	loc := profile.Location()
	last := state.LastMidnightReset
	if last == nil {
		created := profile.CreatedAt
		last = &created
	}
	if !CrossedMidnight(last, now, loc) {
		return false, nil
	}

	boundary := LocalDate(now, loc)
	deficit := state.MaxHearts - state.CurrentHearts
	state.CurrentHearts = state.MaxHearts
	p.sched.ClearSlots(state)
	ts := now
	state.LastMidnightReset = &ts

	if deficit == 0 {
		// Nothing to credit; the baseline still advances.
		return true, nil
	}
	state.TotalHeartsGained += deficit
	return true, &Transaction{
		ID:        MidnightTransactionID(state.UserID, boundary),
		UserID:    state.UserID,
		Timestamp: now,
		Type:      TxGain,
		Amount:    deficit,
		Reason:    ReasonMidnightReset,
	}
}

// ProcessDue applies everything the clock owes the user: the midnight reset
// first (it supersedes pending refills), then matured slots oldest-first.
// Safe to call redundantly from any trigger; deterministic transaction ids
// plus ledger dedup make repeat calls no-ops.
func (p *Pool) ProcessDue(ctx context.Context, userID UserID, now time.Time) (DueResult, error) {
	unlock := p.lockUser(userID)
	defer unlock()

	if p.premium.IsPremium(ctx, userID) {
		return DueResult{CurrentHearts: UnlimitedHearts}, nil
	}

	state, profile, err := p.loadLocked(ctx, userID)
	if err != nil {
		return DueResult{}, err
	}
	return p.processDueLocked(ctx, state, profile, now)
}

func (p *Pool) processDueLocked(ctx context.Context, state *HeartState, profile *UserProfile, now time.Time) (DueResult, error) {
	var txs []Transaction

	reset, resetTx := p.midnightLocked(state, profile, now)
	if resetTx != nil {
		txs = append(txs, *resetTx)
	}

	refilled := 0
	for _, slot := range p.sched.DueSlots(state, now) {
		if state.CurrentHearts >= state.MaxHearts {
			break
		}
		state.CurrentHearts++
		state.TotalHeartsGained++
		p.sched.ConsumeOldestOpenSlot(state)
		refilled++
		txs = append(txs, Transaction{
			ID:        RefillTransactionID(slot.ID),
			UserID:    state.UserID,
			Timestamp: slot.ScheduledRefillTime,
			Type:      TxRefill,
			Amount:    1,
			Reason:    ReasonHourlyRefill,
		})
	}

	result := DueResult{
		MidnightReset: reset,
		RefilledSlots: refilled,
		CurrentHearts: state.CurrentHearts,
	}
	if err := p.checkLocked(state); err != nil {
		return result, err
	}
	if !reset && refilled == 0 {
		return result, nil
	}
	return result, p.persistLocked(ctx, state, txs...)
}

// =============================================================================
// READS
// =============================================================================

// GetState returns a display snapshot. Due maturations are applied lazily
// first, so a caller that never ticks still sees a current pool. Premium
// users get the unlimited sentinel and no slots.
func (p *Pool) GetState(ctx context.Context, userID UserID) (HeartState, error) {
	unlock := p.lockUser(userID)
	defer unlock()

	if p.premium.IsPremium(ctx, userID) {
		profile, err := p.users.GetUser(ctx, userID)
		if err != nil {
			return HeartState{}, &PersistenceError{Op: "load_user", Err: err}
		}
		if profile == nil {
			return HeartState{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		snapshot := NewHeartState(userID, profile.MaxHearts)
		snapshot.CurrentHearts = UnlimitedHearts
		return snapshot, nil
	}

	state, profile, err := p.loadLocked(ctx, userID)
	if err != nil {
		return HeartState{}, err
	}
	if _, err := p.processDueLocked(ctx, state, profile, p.clock.Now()); err != nil {
		return state.Clone(), err
	}
	return state.Clone(), nil
}

// TimeUntilNextRefill returns the time to the next scheduled refill, nil for
// a full pool or a premium user.
func (p *Pool) TimeUntilNextRefill(ctx context.Context, userID UserID) (*time.Duration, error) {
	unlock := p.lockUser(userID)
	defer unlock()

	if p.premium.IsPremium(ctx, userID) {
		return nil, nil
	}
	state, _, err := p.loadLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.sched.TimeUntilNext(state, p.clock.Now()), nil
}

// Transactions returns the user's ledger history, oldest first.
func (p *Pool) Transactions(ctx context.Context, userID UserID, since *time.Time) ([]Transaction, error) {
	return p.ledger.Query(ctx, userID, since)
}

// adoptState replaces the cached and persisted state after reconciliation.
// Caller must hold the user lock.
func (p *Pool) adoptStateLocked(ctx context.Context, state HeartState) error {
	p.mu.Lock()
	p.cache[state.UserID] = &state
	p.mu.Unlock()
	if err := p.states.SaveState(ctx, state); err != nil {
		return &PersistenceError{Op: "save_state", Err: err}
	}
	return nil
}
