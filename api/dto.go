/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/pulse/hearts-engine/hearts"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// UserDTO represents a user profile in API responses.
type UserDTO struct {
	ID        string `json:"id"`
	MaxHearts int    `json:"max_hearts"`
	Premium   bool   `json:"premium"`
	Timezone  string `json:"timezone"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateUserRequest is the request to register a user.
type CreateUserRequest struct {
	ID        string `json:"id"`
	MaxHearts int    `json:"max_hearts,omitempty"`
	Premium   bool   `json:"premium,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
}

// HeartStateDTO represents the current pool in API responses. For premium
// users current_hearts is -1 and unlimited is true.
type HeartStateDTO struct {
	UserID             string           `json:"user_id"`
	CurrentHearts      int              `json:"current_hearts"`
	MaxHearts          int              `json:"max_hearts"`
	Unlimited          bool             `json:"unlimited,omitempty"`
	LastHeartLost      *string          `json:"last_heart_lost,omitempty"`
	LastMidnightReset  *string          `json:"last_midnight_reset,omitempty"`
	RefillSlots        []RefillSlotDTO  `json:"refill_slots"`
	PerfectStreakCount int              `json:"perfect_streak_count"`
	TotalHeartsLost    int              `json:"total_hearts_lost"`
	TotalHeartsGained  int              `json:"total_hearts_gained"`
}

// RefillSlotDTO represents one pending refill.
type RefillSlotDTO struct {
	ID          string `json:"id"`
	ScheduledAt string `json:"scheduled_at"`
	Refilled    bool   `json:"refilled"`
}

// LoseHeartRequest is the body for a heart loss event.
type LoseHeartRequest struct {
	Reason      string `json:"reason"`
	ChallengeID string `json:"challenge_id,omitempty"`
}

// LoseHeartDTO reports the outcome of a loss.
type LoseHeartDTO struct {
	Applied          bool     `json:"applied"`
	CurrentHearts    int      `json:"current_hearts"`
	NextRefillInSecs *float64 `json:"next_refill_in_secs,omitempty"`
}

// GainHeartRequest is the body for a manual heart gain.
type GainHeartRequest struct {
	Reason      string `json:"reason"`
	Amount      int    `json:"amount,omitempty"`
	ChallengeID string `json:"challenge_id,omitempty"`
}

// GainHeartDTO reports the outcome of a gain, including the clamped portion.
type GainHeartDTO struct {
	Applied       bool `json:"applied"`
	AppliedAmount int  `json:"applied_amount"`
	ClampedAmount int  `json:"clamped_amount"`
	CurrentHearts int  `json:"current_hearts"`
}

// PerfectDTO reports a flawless-completion record.
type PerfectDTO struct {
	StreakCount   int  `json:"streak_count"`
	BonusGranted  bool `json:"bonus_granted"`
	CurrentHearts int  `json:"current_hearts"`
}

// NextRefillDTO reports the time to the next scheduled refill. Null seconds
// means the pool is full (or the user is premium).
type NextRefillDTO struct {
	NextRefillInSecs *float64 `json:"next_refill_in_secs"`
}

// TransactionDTO represents one ledger entry.
type TransactionDTO struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Timestamp   string `json:"timestamp"`
	Type        string `json:"type"`
	Amount      int    `json:"amount"`
	Reason      string `json:"reason"`
	ChallengeID string `json:"challenge_id,omitempty"`
}

// StatsDTO is the lifetime analytics report.
type StatsDTO struct {
	UserID            string         `json:"user_id"`
	TotalHeartsLost   int            `json:"total_hearts_lost"`
	TotalHeartsGained int            `json:"total_hearts_gained"`
	LossesByReason    map[string]int `json:"losses_by_reason"`
	GainsByReason     map[string]int `json:"gains_by_reason"`
	LossesPerDay      string         `json:"losses_per_day"`
	StreakBonusShare  string         `json:"streak_bonus_share"`
	FirstActivity     *string        `json:"first_activity,omitempty"`
	LastActivity      *string        `json:"last_activity,omitempty"`
}

// ProcessDueDTO summarizes an admin maturation sweep.
type ProcessDueDTO struct {
	UsersProcessed int `json:"users_processed"`
	MidnightResets int `json:"midnight_resets"`
	RefilledSlots  int `json:"refilled_slots"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toHeartStateDTO(state hearts.HeartState) HeartStateDTO {
	dto := HeartStateDTO{
		UserID:             string(state.UserID),
		CurrentHearts:      state.CurrentHearts,
		MaxHearts:          state.MaxHearts,
		Unlimited:          state.CurrentHearts == hearts.UnlimitedHearts,
		RefillSlots:        make([]RefillSlotDTO, 0, len(state.RefillSlots)),
		PerfectStreakCount: state.PerfectStreakCount,
		TotalHeartsLost:    state.TotalHeartsLost,
		TotalHeartsGained:  state.TotalHeartsGained,
	}
	dto.LastHeartLost = timeStr(state.LastHeartLost)
	dto.LastMidnightReset = timeStr(state.LastMidnightReset)
	for _, slot := range state.RefillSlots {
		dto.RefillSlots = append(dto.RefillSlots, RefillSlotDTO{
			ID:          string(slot.ID),
			ScheduledAt: slot.ScheduledRefillTime.UTC().Format(time.RFC3339),
			Refilled:    slot.IsRefilled,
		})
	}
	return dto
}

func toTransactionDTO(tx hearts.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		UserID:      string(tx.UserID),
		Timestamp:   tx.Timestamp.UTC().Format(time.RFC3339),
		Type:        string(tx.Type),
		Amount:      tx.Amount,
		Reason:      string(tx.Reason),
		ChallengeID: tx.ChallengeID,
	}
}

func toStatsDTO(s hearts.Stats) StatsDTO {
	dto := StatsDTO{
		UserID:            string(s.UserID),
		TotalHeartsLost:   s.TotalHeartsLost,
		TotalHeartsGained: s.TotalHeartsGained,
		LossesByReason:    make(map[string]int, len(s.LossesByReason)),
		GainsByReason:     make(map[string]int, len(s.GainsByReason)),
		LossesPerDay:      s.LossesPerDay.String(),
		StreakBonusShare:  s.StreakBonusShare.String(),
	}
	for reason, n := range s.LossesByReason {
		dto.LossesByReason[string(reason)] = n
	}
	for reason, n := range s.GainsByReason {
		dto.GainsByReason[string(reason)] = n
	}
	dto.FirstActivity = timeStr(s.FirstActivity)
	dto.LastActivity = timeStr(s.LastActivity)
	return dto
}

func timeStr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func durationSecs(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	secs := d.Seconds()
	return &secs
}
