package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/status-engine/engine"
	"github.com/warp/status-engine/engine/store"
)

func fixedNow() time.Time {
	return time.Date(2026, time.February, 10, 12, 0, 0, 0, time.UTC)
}

func newAllocator(now time.Time) (*engine.Allocator, *store.Memory) {
	mem := store.NewMemory()
	return engine.NewAllocator(mem, mem, engine.FixedClock{T: now}), mem
}

// =============================================================================
// STATUS DERIVATION
// =============================================================================

func TestEffectiveStatus_DerivesSwappableLazily(t *testing.T) {
	// GIVEN: An activation whose swap eligibility date is in 30 days
	// WHEN: Reading the status before and after that date
	// THEN: active before, swappable after, with no stored transition

	now := fixedNow()
	a := engine.BenefitActivation{
		ID: "act-1", MemberID: "mem-1", Status: engine.ActivationActive,
		SlotsUsed: 1, ActivatedAt: now, SwapEligibleAt: now.Add(engine.SwapCooldown),
	}

	assert.Equal(t, engine.ActivationActive, a.EffectiveStatus(now))
	assert.Equal(t, engine.ActivationActive, a.EffectiveStatus(now.Add(engine.SwapCooldown-time.Second)))
	assert.Equal(t, engine.ActivationSwappable, a.EffectiveStatus(now.Add(engine.SwapCooldown)))
	assert.Equal(t, engine.ActivationSwappable, a.EffectiveStatus(now.Add(90*24*time.Hour)))
}

func TestEffectiveStatus_CancelledIsTerminal(t *testing.T) {
	// GIVEN: A cancelled activation far past its swap eligibility date
	// WHEN: Reading the status
	// THEN: Cancelled; it never re-derives to swappable

	now := fixedNow()
	a := engine.BenefitActivation{
		ID: "act-1", Status: engine.ActivationCancelled,
		SwapEligibleAt: now.Add(-90 * 24 * time.Hour),
	}

	assert.Equal(t, engine.ActivationCancelled, a.EffectiveStatus(now))
	assert.False(t, a.Occupying(now))
}

// =============================================================================
// CAPACITY
// =============================================================================

func TestCanActivate_CountsActiveAndSwappableSlots(t *testing.T) {
	// GIVEN: A 4-slot Gold tier with an active 2-slot and a swappable 1-slot
	//        activation, plus a cancelled one that must not count
	// WHEN: Checking capacity for various slot costs
	// THEN: Cost 1 fits, cost 2 does not

	now := fixedNow()
	gold := tierByID(t, "gold")
	activations := []engine.BenefitActivation{
		{ID: "a", Status: engine.ActivationActive, SlotsUsed: 2, SwapEligibleAt: now.Add(time.Hour)},
		{ID: "b", Status: engine.ActivationActive, SlotsUsed: 1, SwapEligibleAt: now.Add(-time.Hour)},
		{ID: "c", Status: engine.ActivationCancelled, SlotsUsed: 4, SwapEligibleAt: now.Add(-time.Hour)},
	}

	assert.Equal(t, 3, engine.SlotsUsed(activations, now))
	assert.True(t, engine.CanActivate(gold, activations, 1, now))
	assert.False(t, engine.CanActivate(gold, activations, 2, now))
}

// =============================================================================
// ALLOCATOR LIFECYCLE
// =============================================================================

func TestActivate_WithinCapacity_Succeeds(t *testing.T) {
	// GIVEN: A Silver member (2 slots) with no activations
	// WHEN: Activating a 2-slot benefit
	// THEN: The activation is stored active with the swap cooldown applied

	ctx := context.Background()
	now := fixedNow()
	al, mem := newAllocator(now)

	a, err := al.Activate(ctx, "mem-1", "benefit-spa", 2, tierByID(t, "silver"))

	require.NoError(t, err)
	assert.Equal(t, engine.ActivationActive, a.Status)
	assert.Equal(t, now.Add(engine.SwapCooldown), a.SwapEligibleAt)

	stored, err := mem.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	exists, err := mem.Exists(ctx, "activate:"+string(a.ID))
	require.NoError(t, err)
	assert.True(t, exists, "activation should be audited")
}

func TestActivate_OverCapacity_ErrNoSlots(t *testing.T) {
	// GIVEN: A Bronze member (1 slot) with that slot occupied
	// WHEN: Activating another benefit
	// THEN: ErrNoSlots, classified as a client outcome not a fault

	ctx := context.Background()
	al, _ := newAllocator(fixedNow())
	bronze := tierByID(t, "bronze")

	_, err := al.Activate(ctx, "mem-1", "benefit-a", 1, bronze)
	require.NoError(t, err)

	_, err = al.Activate(ctx, "mem-1", "benefit-b", 1, bronze)
	assert.ErrorIs(t, err, engine.ErrNoSlots)
	assert.True(t, engine.IsClientError(err))
}

func TestActivate_ConcurrentRequestsForLastSlot_ExactlyOneWins(t *testing.T) {
	// GIVEN: A Bronze member with exactly one free slot
	// WHEN: 16 goroutines race to activate simultaneously
	// THEN: Exactly one succeeds; the rest get ErrNoSlots

	ctx := context.Background()
	al, _ := newAllocator(fixedNow())
	bronze := tierByID(t, "bronze")

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := al.Activate(ctx, "mem-1", "benefit-race", 1, bronze)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, engine.ErrNoSlots):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, losses)
}

func TestDeactivate_FreesSlotsImmediately(t *testing.T) {
	// GIVEN: A Bronze member whose single slot is occupied
	// WHEN: Deactivating and then activating a new benefit
	// THEN: The freed slot is immediately reusable

	ctx := context.Background()
	al, _ := newAllocator(fixedNow())
	bronze := tierByID(t, "bronze")

	a, err := al.Activate(ctx, "mem-1", "benefit-a", 1, bronze)
	require.NoError(t, err)

	require.NoError(t, al.Deactivate(ctx, a.ID))

	_, err = al.Activate(ctx, "mem-1", "benefit-b", 1, bronze)
	assert.NoError(t, err)
}

func TestDeactivate_Twice_ErrActivationCancelled(t *testing.T) {
	// GIVEN: An already-cancelled activation
	// WHEN: Deactivating it again
	// THEN: ErrActivationCancelled; cancelled is terminal

	ctx := context.Background()
	al, _ := newAllocator(fixedNow())

	a, err := al.Activate(ctx, "mem-1", "benefit-a", 1, tierByID(t, "bronze"))
	require.NoError(t, err)
	require.NoError(t, al.Deactivate(ctx, a.ID))

	err = al.Deactivate(ctx, a.ID)
	assert.ErrorIs(t, err, engine.ErrActivationCancelled)
}

func TestDeactivate_Unknown_ErrActivationNotFound(t *testing.T) {
	// GIVEN: An id with no activation behind it
	// WHEN: Deactivating
	// THEN: Not-found error

	al, _ := newAllocator(fixedNow())
	err := al.Deactivate(context.Background(), "missing")
	assert.ErrorIs(t, err, engine.ErrActivationNotFound)
}

// =============================================================================
// SWAP
// =============================================================================

func TestSwap_BeforeCooldown_ErrNotSwappable(t *testing.T) {
	// GIVEN: A fresh activation still inside its 30-day cooldown
	// WHEN: Swapping it
	// THEN: ErrNotSwappable

	ctx := context.Background()
	al, _ := newAllocator(fixedNow())

	a, err := al.Activate(ctx, "mem-1", "benefit-a", 1, tierByID(t, "bronze"))
	require.NoError(t, err)

	_, err = al.Swap(ctx, a.ID, "benefit-b", 1, tierByID(t, "bronze"))
	assert.ErrorIs(t, err, engine.ErrNotSwappable)
}

func TestSwap_AfterCooldown_ReplacesInOneCriticalSection(t *testing.T) {
	// GIVEN: A Bronze member whose only activation has passed the cooldown
	// WHEN: Swapping it for a new benefit of the same cost
	// THEN: The swap succeeds even though the member had zero free slots,
	//       because the outgoing activation's capacity is excluded

	ctx := context.Background()
	now := fixedNow()
	mem := store.NewMemory()
	bronze := tierByID(t, "bronze")

	al := engine.NewAllocator(mem, mem, engine.FixedClock{T: now})
	a, err := al.Activate(ctx, "mem-1", "benefit-a", 1, bronze)
	require.NoError(t, err)

	// Advance past the cooldown.
	later := engine.NewAllocator(mem, mem, engine.FixedClock{T: now.Add(engine.SwapCooldown)})
	replacement, err := later.Swap(ctx, a.ID, "benefit-b", 1, bronze)

	require.NoError(t, err)
	assert.Equal(t, engine.BenefitID("benefit-b"), replacement.BenefitID)

	old, err := mem.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.ActivationCancelled, old.Status)

	// The replacement starts its own cooldown.
	assert.Equal(t, now.Add(2*engine.SwapCooldown), replacement.SwapEligibleAt)
}

func TestSwap_CancelledActivation_ErrActivationCancelled(t *testing.T) {
	// GIVEN: A cancelled activation past its cooldown date
	// WHEN: Swapping it
	// THEN: ErrActivationCancelled, not a swap

	ctx := context.Background()
	now := fixedNow()
	mem := store.NewMemory()
	bronze := tierByID(t, "bronze")

	al := engine.NewAllocator(mem, mem, engine.FixedClock{T: now})
	a, err := al.Activate(ctx, "mem-1", "benefit-a", 1, bronze)
	require.NoError(t, err)
	require.NoError(t, al.Deactivate(ctx, a.ID))

	later := engine.NewAllocator(mem, mem, engine.FixedClock{T: now.Add(engine.SwapCooldown)})
	_, err = later.Swap(ctx, a.ID, "benefit-b", 1, bronze)
	assert.ErrorIs(t, err, engine.ErrActivationCancelled)
}

func TestSwap_LargerReplacement_ChecksCapacity(t *testing.T) {
	// GIVEN: A Silver member (2 slots) with a swappable 1-slot activation and
	//        an active 1-slot activation
	// WHEN: Swapping the swappable one for a 2-slot benefit
	// THEN: ErrNoSlots; freed capacity alone does not cover the request

	ctx := context.Background()
	now := fixedNow()
	mem := store.NewMemory()
	silver := tierByID(t, "silver")

	al := engine.NewAllocator(mem, mem, engine.FixedClock{T: now})
	swappable, err := al.Activate(ctx, "mem-1", "benefit-a", 1, silver)
	require.NoError(t, err)

	later := engine.NewAllocator(mem, mem, engine.FixedClock{T: now.Add(engine.SwapCooldown)})
	_, err = later.Activate(ctx, "mem-1", "benefit-b", 1, silver)
	require.NoError(t, err)

	_, err = later.Swap(ctx, swappable.ID, "benefit-c", 2, silver)
	assert.ErrorIs(t, err, engine.ErrNoSlots)
}
