/*
benefit.go - Benefit slot allocation state machine

PURPOSE:
  Decides whether a new benefit activation fits in a member's tier-sized
  slot capacity, and manages the activation lifecycle:

    active --(now >= swap_eligible_at)--> swappable --(swap/cancel)--> cancelled

  The active->swappable transition is DERIVED: it is evaluated lazily from
  the clock on every read, never stored, so no background job is needed.
  Cancelled is terminal and stored; a cancelled activation never re-derives
  to swappable.

THE RACE THIS PACKAGE CLOSES:
  Two concurrent activation requests for a member with one free slot must
  not both succeed. The capacity check and the insert run inside a
  per-member critical section; callers must not check CanActivate and then
  insert themselves.

SLOT ACCOUNTING:
  used = sum(slots of activations with effective status active|swappable)
  allowed iff used + requested cost <= tier.BenefitSlotCount

SEE ALSO:
  - tier.go: BenefitSlotCount source
  - ports.go: ActivationStore interface
*/
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ACTIVATION
// =============================================================================

type ActivationStatus string

const (
	ActivationActive    ActivationStatus = "active"
	ActivationSwappable ActivationStatus = "swappable"
	ActivationCancelled ActivationStatus = "cancelled"
)

// SwapCooldown is how long a new activation is locked before it can be
// swapped out.
const SwapCooldown = 30 * 24 * time.Hour

// BenefitActivation is one perk occupying benefit slots. Never hard-deleted.
type BenefitActivation struct {
	ID        ActivationID
	MemberID  MemberID
	BenefitID BenefitID

	// Status is the STORED status: active or cancelled. Swappable is
	// derived via EffectiveStatus and also accepted from stores that
	// persist it.
	Status ActivationStatus

	SlotsUsed      int
	ActivatedAt    time.Time
	SwapEligibleAt time.Time
}

// EffectiveStatus derives the current status. Cancelled is terminal;
// otherwise an activation past its swap eligibility date reads as
// swappable.
func (a BenefitActivation) EffectiveStatus(now time.Time) ActivationStatus {
	if a.Status == ActivationCancelled {
		return ActivationCancelled
	}
	if !now.Before(a.SwapEligibleAt) {
		return ActivationSwappable
	}
	return ActivationActive
}

// Occupying reports whether the activation consumes slots right now.
func (a BenefitActivation) Occupying(now time.Time) bool {
	s := a.EffectiveStatus(now)
	return s == ActivationActive || s == ActivationSwappable
}

// =============================================================================
// CAPACITY CHECK
// =============================================================================

// SlotsUsed sums the slots of activations occupying capacity at now.
func SlotsUsed(activations []BenefitActivation, now time.Time) int {
	used := 0
	for _, a := range activations {
		if a.Occupying(now) {
			used += a.SlotsUsed
		}
	}
	return used
}

// CanActivate reports whether a new activation of the given slot cost fits
// in the tier's capacity. Read-only; the authoritative check happens again
// at write time inside Allocator.Activate.
func CanActivate(tier TierDefinition, activations []BenefitActivation, slotCost int, now time.Time) bool {
	return SlotsUsed(activations, now)+slotCost <= tier.BenefitSlotCount
}

// =============================================================================
// ALLOCATOR
// =============================================================================

// Allocator manages benefit activations with a per-member critical section.
type Allocator struct {
	Store ActivationStore
	Audit AuditLog
	Clock Clock

	mu    sync.Mutex
	locks map[MemberID]*sync.Mutex
}

func NewAllocator(store ActivationStore, audit AuditLog, clock Clock) *Allocator {
	if clock == nil {
		clock = RealClock{}
	}
	return &Allocator{
		Store: store,
		Audit: audit,
		Clock: clock,
		locks: make(map[MemberID]*sync.Mutex),
	}
}

// memberLock returns the mutex guarding one member's slot capacity.
func (al *Allocator) memberLock(id MemberID) *sync.Mutex {
	al.mu.Lock()
	defer al.mu.Unlock()
	l, ok := al.locks[id]
	if !ok {
		l = &sync.Mutex{}
		al.locks[id] = l
	}
	return l
}

// Activate creates a new activation if capacity allows.
//
// The capacity check runs at write time under the member's lock: two
// concurrent requests observing one free slot cannot both succeed. A lost
// race returns ErrNoSlots, which callers surface as a normal ineligibility
// result, not a fault.
func (al *Allocator) Activate(ctx context.Context, memberID MemberID, benefitID BenefitID, slotCost int, tier TierDefinition) (*BenefitActivation, error) {
	if slotCost <= 0 {
		return nil, ErrInvalidAmount
	}

	lock := al.memberLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	now := al.Clock.Now()

	active, err := al.Store.ListActive(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if !CanActivate(tier, active, slotCost, now) {
		return nil, ErrNoSlots
	}

	activation := BenefitActivation{
		ID:             ActivationID(uuid.NewString()),
		MemberID:       memberID,
		BenefitID:      benefitID,
		Status:         ActivationActive,
		SlotsUsed:      slotCost,
		ActivatedAt:    now,
		SwapEligibleAt: now.Add(SwapCooldown),
	}
	if err := al.Store.Insert(ctx, activation); err != nil {
		return nil, err
	}

	al.audit(ctx, AuditBenefitActivated, memberID, map[string]any{
		"activation_id": string(activation.ID),
		"benefit_id":    string(benefitID),
		"slots_used":    slotCost,
	}, "activate:"+string(activation.ID))

	return &activation, nil
}

// Deactivate cancels an activation from active or swappable, freeing its
// slots immediately. Cancelling twice returns ErrActivationCancelled.
func (al *Allocator) Deactivate(ctx context.Context, id ActivationID) error {
	a, err := al.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrActivationNotFound
	}

	lock := al.memberLock(a.MemberID)
	lock.Lock()
	defer lock.Unlock()

	now := al.Clock.Now()
	if a.EffectiveStatus(now) == ActivationCancelled {
		return ErrActivationCancelled
	}

	if err := al.Store.Cancel(ctx, id, now); err != nil {
		return err
	}

	al.audit(ctx, AuditBenefitDeactivated, a.MemberID, map[string]any{
		"activation_id": string(id),
		"benefit_id":    string(a.BenefitID),
	}, "deactivate:"+string(id))

	return nil
}

// Swap replaces a swappable activation with a new benefit in one critical
// section, so the capacity freed by the swap-out is visible to the swap-in.
func (al *Allocator) Swap(ctx context.Context, oldID ActivationID, newBenefit BenefitID, slotCost int, tier TierDefinition) (*BenefitActivation, error) {
	old, err := al.Store.Get(ctx, oldID)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, ErrActivationNotFound
	}

	lock := al.memberLock(old.MemberID)
	lock.Lock()
	defer lock.Unlock()

	now := al.Clock.Now()
	switch old.EffectiveStatus(now) {
	case ActivationCancelled:
		return nil, ErrActivationCancelled
	case ActivationActive:
		return nil, ErrNotSwappable
	}

	active, err := al.Store.ListActive(ctx, old.MemberID)
	if err != nil {
		return nil, err
	}
	// Capacity check with the outgoing activation excluded.
	used := 0
	for _, a := range active {
		if a.ID != oldID && a.Occupying(now) {
			used += a.SlotsUsed
		}
	}
	if used+slotCost > tier.BenefitSlotCount {
		return nil, ErrNoSlots
	}

	if err := al.Store.Cancel(ctx, oldID, now); err != nil {
		return nil, err
	}

	activation := BenefitActivation{
		ID:             ActivationID(uuid.NewString()),
		MemberID:       old.MemberID,
		BenefitID:      newBenefit,
		Status:         ActivationActive,
		SlotsUsed:      slotCost,
		ActivatedAt:    now,
		SwapEligibleAt: now.Add(SwapCooldown),
	}
	if err := al.Store.Insert(ctx, activation); err != nil {
		return nil, err
	}

	al.audit(ctx, AuditBenefitSwapped, old.MemberID, map[string]any{
		"old_activation_id": string(oldID),
		"new_activation_id": string(activation.ID),
		"benefit_id":        string(newBenefit),
	}, "swap:"+string(oldID)+":"+string(activation.ID))

	return &activation, nil
}

func (al *Allocator) audit(ctx context.Context, eventType AuditEventType, memberID MemberID, payload map[string]any, key string) {
	if al.Audit == nil {
		return
	}
	// Audit append failures don't undo the state change; the activation
	// table itself is the durable record.
	_ = al.Audit.Append(ctx, AuditEntry{
		ID:             uuid.NewString(),
		EventType:      eventType,
		MemberID:       memberID,
		Payload:        payload,
		IdempotencyKey: key,
		CreatedAt:      al.Clock.Now(),
	})
}
