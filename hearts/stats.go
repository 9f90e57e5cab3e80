/*
stats.go - Lifetime analytics derived from the ledger

PURPOSE:
  Computes the lifetime report shown on the profile screen: total hearts
  lost/gained, loss causes, average losses per active day, and how much of
  the gained total came from perfect-streak bonuses. All figures are pure
  folds over the ledger; nothing here mutates state.

PRECISION:
  Rates use decimal arithmetic. Hearts are integers everywhere else, but
  "2.33 hearts lost per day" must not accumulate float error when the
  report is recomputed and compared across devices.
*/
package hearts

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATS REPORT
// =============================================================================

type Stats struct {
	UserID            UserID
	TotalHeartsLost   int
	TotalHeartsGained int
	LossesByReason    map[Reason]int
	GainsByReason     map[Reason]int

	// LossesPerDay is TotalHeartsLost over the number of calendar days
	// between first and last activity, inclusive.
	LossesPerDay decimal.Decimal

	// StreakBonusShare is the fraction of gained hearts that came from
	// perfect-streak bonuses, in [0, 1].
	StreakBonusShare decimal.Decimal

	FirstActivity *time.Time
	LastActivity  *time.Time
}

// ComputeStats folds a user's transaction history into a Stats report.
// The input does not need to be sorted.
func ComputeStats(userID UserID, txs []Transaction) Stats {
	stats := Stats{
		UserID:           userID,
		LossesByReason:   make(map[Reason]int),
		GainsByReason:    make(map[Reason]int),
		LossesPerDay:     decimal.Zero,
		StreakBonusShare: decimal.Zero,
	}

	streakGained := 0
	for _, tx := range txs {
		if tx.UserID != userID {
			continue
		}
		ts := tx.Timestamp
		if stats.FirstActivity == nil || ts.Before(*stats.FirstActivity) {
			t := ts
			stats.FirstActivity = &t
		}
		if stats.LastActivity == nil || ts.After(*stats.LastActivity) {
			t := ts
			stats.LastActivity = &t
		}

		switch tx.Type {
		case TxLoss:
			stats.TotalHeartsLost += tx.Amount
			stats.LossesByReason[tx.Reason] += tx.Amount
		case TxGain, TxRefill:
			stats.TotalHeartsGained += tx.Amount
			stats.GainsByReason[tx.Reason] += tx.Amount
			if tx.Reason == ReasonPerfectStreak {
				streakGained += tx.Amount
			}
		}
	}

	if stats.TotalHeartsLost > 0 {
		days := activeDaySpan(*stats.FirstActivity, *stats.LastActivity)
		stats.LossesPerDay = decimal.NewFromInt(int64(stats.TotalHeartsLost)).
			Div(decimal.NewFromInt(int64(days))).
			Round(2)
	}
	if stats.TotalHeartsGained > 0 {
		stats.StreakBonusShare = decimal.NewFromInt(int64(streakGained)).
			Div(decimal.NewFromInt(int64(stats.TotalHeartsGained))).
			Round(4)
	}
	return stats
}

// activeDaySpan counts calendar days from first to last activity, inclusive.
// Always >= 1 so rates never divide by zero.
func activeDaySpan(first, last time.Time) int {
	f := first.UTC().Truncate(24 * time.Hour)
	l := last.UTC().Truncate(24 * time.Hour)
	return int(l.Sub(f).Hours()/24) + 1
}
