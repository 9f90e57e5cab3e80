/*
scheduler.go - Refill slot scheduling and maturation

PURPOSE:
  Owns the set of pending refill slots (one per missing heart) and decides,
  given a clock reading, which slots have matured and when the next one
  will. It does not know WHY a slot was opened; the pool owns that.

DESIGN:
  Slots are scheduled per lost heart, not as a single "refill all" timer.
  The product rule "1 heart every 4 hours" applies independently to each
  missing heart, so a user who loses 3 hearts in a burst gets 3 staggered
  refills rather than one batch after 4 hours.

  Slots live inside HeartState in insertion (= loss) order. Because the
  delay is constant and losses are appended in time order, insertion order
  is also maturation order, and "oldest open slot" is always the next due.

SEE ALSO:
  - pool.go: ProcessDue applies matured slots through the pool
  - ledger.go: Replay re-derives slots from loss transactions
*/
package hearts

import "time"

// =============================================================================
// REFILL SCHEDULER
// =============================================================================

type RefillScheduler struct {
	Delay time.Duration
}

func NewRefillScheduler() *RefillScheduler {
	return &RefillScheduler{Delay: RefillDelay}
}

// OpenSlot appends a new slot maturing at now + Delay. The id is derived
// from the loss transaction so replay produces identical slots.
func (s *RefillScheduler) OpenSlot(state *HeartState, lossID TransactionID, now time.Time) RefillSlot {
	slot := RefillSlot{
		ID:                  SlotIDForLoss(lossID),
		ScheduledRefillTime: now.Add(s.Delay),
	}
	state.RefillSlots = append(state.RefillSlots, slot)
	return slot
}

// ConsumeOldestOpenSlot marks and returns the oldest unrefilled slot, or nil
// if the pool is full. Used both by manual gains and by maturation.
func (s *RefillScheduler) ConsumeOldestOpenSlot(state *HeartState) *RefillSlot {
	for i := range state.RefillSlots {
		if !state.RefillSlots[i].IsRefilled {
			state.RefillSlots[i].IsRefilled = true
			slot := state.RefillSlots[i]
			return &slot
		}
	}
	return nil
}

// DueSlots returns all unrefilled slots with ScheduledRefillTime <= now,
// oldest first. Read-only; maturation goes through the pool.
func (s *RefillScheduler) DueSlots(state *HeartState, now time.Time) []RefillSlot {
	var due []RefillSlot
	for _, slot := range state.RefillSlots {
		if !slot.IsRefilled && !slot.ScheduledRefillTime.After(now) {
			due = append(due, slot)
		}
	}
	return due
}

// TimeUntilNext returns how long until the earliest open slot matures,
// floored at zero. Nil when there are no open slots (pool full).
func (s *RefillScheduler) TimeUntilNext(state *HeartState, now time.Time) *time.Duration {
	var next *time.Time
	for _, slot := range state.RefillSlots {
		if slot.IsRefilled {
			continue
		}
		t := slot.ScheduledRefillTime
		if next == nil || t.Before(*next) {
			next = &t
		}
	}
	if next == nil {
		return nil
	}
	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	return &d
}

// ClearSlots drops every slot regardless of maturity. Midnight resets
// supersede pending refills.
func (s *RefillScheduler) ClearSlots(state *HeartState) {
	state.RefillSlots = nil
}
