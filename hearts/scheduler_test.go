package hearts_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/hearts-engine/hearts"
)

func TestScheduler_OpenSlot_DerivedID(t *testing.T) {
	sched := hearts.NewRefillScheduler()
	state := hearts.NewHeartState("u", 5)

	slot := sched.OpenSlot(&state, "loss-1", testStart)

	assert.Equal(t, hearts.SlotIDForLoss("loss-1"), slot.ID)
	assert.Equal(t, testStart.Add(hearts.RefillDelay), slot.ScheduledRefillTime)
	assert.False(t, slot.IsRefilled)
	assert.Len(t, state.RefillSlots, 1)
}

func TestScheduler_DueSlots_OldestFirst(t *testing.T) {
	sched := hearts.NewRefillScheduler()
	state := hearts.NewHeartState("u", 5)

	sched.OpenSlot(&state, "loss-1", testStart)
	sched.OpenSlot(&state, "loss-2", testStart.Add(time.Hour))
	sched.OpenSlot(&state, "loss-3", testStart.Add(2*time.Hour))

	due := sched.DueSlots(&state, testStart.Add(hearts.RefillDelay+time.Hour))
	require.Len(t, due, 2)
	assert.Equal(t, hearts.SlotIDForLoss("loss-1"), due[0].ID)
	assert.Equal(t, hearts.SlotIDForLoss("loss-2"), due[1].ID)
}

func TestScheduler_DueSlots_SkipsRefilled(t *testing.T) {
	sched := hearts.NewRefillScheduler()
	state := hearts.NewHeartState("u", 5)

	sched.OpenSlot(&state, "loss-1", testStart)
	sched.OpenSlot(&state, "loss-2", testStart)
	consumed := sched.ConsumeOldestOpenSlot(&state)
	require.NotNil(t, consumed)
	assert.Equal(t, hearts.SlotIDForLoss("loss-1"), consumed.ID)

	due := sched.DueSlots(&state, testStart.Add(hearts.RefillDelay))
	require.Len(t, due, 1)
	assert.Equal(t, hearts.SlotIDForLoss("loss-2"), due[0].ID)
}

func TestScheduler_ConsumeOldestOpenSlot_Empty(t *testing.T) {
	sched := hearts.NewRefillScheduler()
	state := hearts.NewHeartState("u", 5)

	assert.Nil(t, sched.ConsumeOldestOpenSlot(&state))
}

func TestScheduler_TimeUntilNext(t *testing.T) {
	sched := hearts.NewRefillScheduler()
	state := hearts.NewHeartState("u", 5)

	assert.Nil(t, sched.TimeUntilNext(&state, testStart), "full pool has no countdown")

	sched.OpenSlot(&state, "loss-1", testStart)
	sched.OpenSlot(&state, "loss-2", testStart.Add(time.Hour))

	d := sched.TimeUntilNext(&state, testStart.Add(time.Hour))
	require.NotNil(t, d)
	assert.Equal(t, hearts.RefillDelay-time.Hour, *d)

	// Past-due slots floor at zero rather than going negative.
	d = sched.TimeUntilNext(&state, testStart.Add(2*hearts.RefillDelay))
	require.NotNil(t, d)
	assert.Equal(t, time.Duration(0), *d)
}

func TestScheduler_ClearSlots(t *testing.T) {
	sched := hearts.NewRefillScheduler()
	state := hearts.NewHeartState("u", 5)

	sched.OpenSlot(&state, "loss-1", testStart)
	sched.OpenSlot(&state, "loss-2", testStart)
	sched.ClearSlots(&state)

	assert.Empty(t, state.RefillSlots)
	assert.Nil(t, sched.TimeUntilNext(&state, testStart))
}
