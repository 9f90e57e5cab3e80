/*
Package hearts provides the core lives-pool engine.

PURPOSE:
  This package contains the state machine for a capped pool of consumable
  "hearts" that deplete on failure events during training sessions and
  regenerate on a schedule. It owns the pool invariants, the per-heart
  refill scheduling, the append-only transaction ledger, and the
  cross-device reconciliation logic.

KEY CONCEPTS IN THIS FILE (types.go):
  - HeartState: The per-user aggregate (current/max hearts, slots, counters)
  - RefillSlot: A scheduled future credit for one lost heart
  - Transaction: An immutable ledger entry recording every gain/loss/refill
  - Reason: The enumerated cause attached to each transaction

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified after append
  2. Determinism: HeartState is reproducible by replaying the ledger
  3. Idempotency: Every transaction has a unique id; duplicates are no-ops
  4. Explicitness: Callers pass UserID; there is no ambient per-screen state

USAGE:
  pool := hearts.NewPool(ledger, states, users, clock, premium)
  res, err := pool.LoseHeart(ctx, "user-1", hearts.ReasonWrongTap, "challenge-9")

SEE ALSO:
  - pool.go: The HeartPool state machine
  - scheduler.go: Refill slot scheduling and maturation
  - ledger.go: Append-only ledger and replay
  - sync.go: Cross-device reconciliation
*/
package hearts

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TransactionID string
type SlotID string

// NewTransactionID returns a fresh random id for a user-initiated event.
// Scheduled events (refills, midnight resets) use deterministic ids instead,
// so that two devices running the same scheduled job produce the same
// transaction and deduplicate on sync. See RefillTransactionID and
// MidnightTransactionID.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.NewString())
}

// =============================================================================
// CONSTANTS - Product rules
// =============================================================================

const (
	// DefaultMaxHearts is the pool cap for the free tier.
	DefaultMaxHearts = 5

	// RefillDelay is how long after a loss the heart comes back on its own.
	// One slot per lost heart: losing 3 hearts in a burst yields 3 staggered
	// refills, not one batch.
	RefillDelay = 4 * time.Hour

	// PerfectStreakTarget is how many consecutive flawless completions grant
	// a bonus heart. The window is rolling: the counter resets and the bonus
	// can re-trigger indefinitely.
	PerfectStreakTarget = 3

	// UnlimitedHearts is the display sentinel reported for premium users.
	UnlimitedHearts = -1
)

// =============================================================================
// TRANSACTION - Atomic change to the pool
// =============================================================================

type TransactionType string

const (
	TxLoss   TransactionType = "loss"   // One heart lost to a failure event
	TxGain   TransactionType = "gain"   // Hearts credited (manual action, streak bonus, midnight reset)
	TxRefill TransactionType = "refill" // A scheduled slot matured
)

// Reason is the enumerated cause attached to every transaction.
type Reason string

const (
	// Loss reasons
	ReasonFocusBreak      Reason = "focus_break"
	ReasonWrongTap        Reason = "wrong_tap"
	ReasonDistractionFail Reason = "distraction_fail"
	ReasonEarlyQuit       Reason = "early_quit"
	ReasonTestFail        Reason = "test_fail"

	// Gain reasons
	ReasonDailySessionComplete Reason = "daily_session_complete"
	ReasonPerfectStreak        Reason = "perfect_streak_3"
	ReasonFocusReset           Reason = "focus_reset_animation"
	ReasonBreathingExercise    Reason = "breathing_exercise"
	ReasonMicroFocus           Reason = "micro_focus"
	ReasonInviteFriend         Reason = "invite_friend"
	ReasonWatchTip             Reason = "watch_tip"

	// Scheduled reasons (system-originated, never accepted from collaborators)
	ReasonMidnightReset Reason = "midnight_reset"
	ReasonHourlyRefill  Reason = "hourly_refill"
)

var lossReasons = map[Reason]bool{
	ReasonFocusBreak:      true,
	ReasonWrongTap:        true,
	ReasonDistractionFail: true,
	ReasonEarlyQuit:       true,
	ReasonTestFail:        true,
}

var gainReasons = map[Reason]bool{
	ReasonDailySessionComplete: true,
	ReasonPerfectStreak:        true,
	ReasonFocusReset:           true,
	ReasonBreathingExercise:    true,
	ReasonMicroFocus:           true,
	ReasonInviteFriend:         true,
	ReasonWatchTip:             true,
}

// IsLossReason reports whether r is a valid cause for LoseHeart.
func IsLossReason(r Reason) bool { return lossReasons[r] }

// IsGainReason reports whether r is a valid cause for a collaborator-driven
// GainHeart. Scheduled reasons (midnight_reset, hourly_refill) are excluded:
// only the pool itself writes those.
func IsGainReason(r Reason) bool { return gainReasons[r] }

// Transaction is an immutable ledger entry. The id is the deduplication key
// for retried appends, redundant scheduled jobs, and cross-device sync.
type Transaction struct {
	ID          TransactionID
	UserID      UserID
	Timestamp   time.Time
	Type        TransactionType
	Amount      int // always >= 1
	Reason      Reason
	ChallengeID string // optional reference to the triggering session
}

// =============================================================================
// REFILL SLOT - One scheduled credit per missing heart
// =============================================================================

type RefillSlot struct {
	ID                  SlotID
	ScheduledRefillTime time.Time
	IsRefilled          bool
}

// SlotIDForLoss derives the slot id from the loss transaction that opened it.
// Replay and the live path must agree on slot identity, so the id is a pure
// function of the loss.
func SlotIDForLoss(lossID TransactionID) SlotID {
	return SlotID("slot-" + string(lossID))
}

// RefillTransactionID derives the transaction id for a slot's maturation.
// Deterministic: redundant ProcessDue calls and offline devices credit the
// same slot under the same id and deduplicate.
func RefillTransactionID(slotID SlotID) TransactionID {
	return TransactionID("refill-" + string(slotID))
}

// MidnightTransactionID derives the transaction id for a midnight reset from
// the user and the local calendar date being reset into.
func MidnightTransactionID(userID UserID, localDate time.Time) TransactionID {
	return TransactionID("midnight-" + string(userID) + "-" + localDate.Format("2006-01-02"))
}

// =============================================================================
// HEART STATE - The per-user aggregate
// =============================================================================

// HeartState is owned exclusively by the Pool. Collaborators receive copies.
//
// INVARIANTS (non-premium):
//   - 0 <= CurrentHearts <= MaxHearts
//   - count(slots with IsRefilled == false) == MaxHearts - CurrentHearts
//   - TotalHeartsLost and TotalHeartsGained never decrease
type HeartState struct {
	UserID             UserID
	CurrentHearts      int
	MaxHearts          int
	LastHeartLost      *time.Time
	LastMidnightReset  *time.Time
	RefillSlots        []RefillSlot // insertion order == loss order
	PerfectStreakCount int
	TotalHeartsLost    int
	TotalHeartsGained  int
}

// NewHeartState is the signup state: full pool, zero counters, no slots.
func NewHeartState(userID UserID, maxHearts int) HeartState {
	if maxHearts <= 0 {
		maxHearts = DefaultMaxHearts
	}
	return HeartState{
		UserID:        userID,
		CurrentHearts: maxHearts,
		MaxHearts:     maxHearts,
	}
}

// OpenSlotCount returns the number of unrefilled slots.
func (s *HeartState) OpenSlotCount() int {
	n := 0
	for _, slot := range s.RefillSlots {
		if !slot.IsRefilled {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand to callers.
func (s *HeartState) Clone() HeartState {
	out := *s
	if s.LastHeartLost != nil {
		t := *s.LastHeartLost
		out.LastHeartLost = &t
	}
	if s.LastMidnightReset != nil {
		t := *s.LastMidnightReset
		out.LastMidnightReset = &t
	}
	out.RefillSlots = append([]RefillSlot(nil), s.RefillSlots...)
	return out
}

// validate checks the structural invariants. A failure here is a programming
// error, never user-triggerable.
func (s *HeartState) validate() error {
	if s.CurrentHearts < 0 || s.CurrentHearts > s.MaxHearts {
		return &InvariantError{
			UserID:  s.UserID,
			Code:    "hearts_out_of_range",
			Hearts:  s.CurrentHearts,
			Maximum: s.MaxHearts,
		}
	}
	if open := s.OpenSlotCount(); open != s.MaxHearts-s.CurrentHearts {
		return &InvariantError{
			UserID:  s.UserID,
			Code:    "slot_count_mismatch",
			Hearts:  s.CurrentHearts,
			Maximum: s.MaxHearts,
			Slots:   open,
		}
	}
	return nil
}

// =============================================================================
// RESULTS - Returned to collaborators
// =============================================================================

// LoseResult reports the outcome of LoseHeart.
type LoseResult struct {
	Applied       bool // false: premium, or pool already empty
	CurrentHearts int
	NextRefillIn  *time.Duration // nil when the pool is full or premium
}

// GainResult reports the outcome of GainHeart. ClampedAmount is the portion
// of the request lost to the cap; it is reported but never ledgered.
type GainResult struct {
	Applied       bool
	AppliedAmount int
	ClampedAmount int
	CurrentHearts int
}

// PerfectResult reports the outcome of RecordPerfect.
type PerfectResult struct {
	StreakCount   int
	BonusGranted  bool
	CurrentHearts int
}

// DueResult reports what a ProcessDue pass applied.
type DueResult struct {
	MidnightReset bool
	RefilledSlots int
	CurrentHearts int
}

// =============================================================================
// USER PROFILE - Tier settings consumed by the pool
// =============================================================================

// UserProfile holds the per-user tier configuration: the pool cap, the
// premium flag, and the IANA timezone used for the local-midnight boundary.
type UserProfile struct {
	UserID    UserID
	MaxHearts int
	Premium   bool
	Timezone  string // IANA name; empty means UTC
	CreatedAt time.Time
}

// Location resolves the profile's timezone, falling back to UTC on any
// unknown name so a bad record can never break scheduling.
func (p UserProfile) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
