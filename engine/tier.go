/*
tier.go - Tier definitions and balance-to-tier resolution

PURPOSE:
  Converts a member's locked token balance into a membership tier. Tiers are
  admin-managed reference data; the engine treats them as a read-only,
  validated configuration object loaded per evaluation.

KEY CONCEPTS:
  - TierDefinition: One tier row (balance range, multiplier, slots, discount)
  - TierSet: The full validated tier table, ordered by ordinal
  - Unranked: Synthetic tier for balances below the lowest minimum
  - TierProgress: How far a member is toward the next tier

INVARIANTS:
  1. Ordinals are strictly ascending, starting at 1
  2. Ranges are contiguous: tier[i].Max == tier[i+1].Min - 1
  3. Only the last tier may have an open-ended (nil) maximum
  4. Boundaries are inclusive-minimum: a balance exactly at a tier's minimum
     belongs to that tier, not the one below
  5. Resolve never fails; it falls back to Unranked

  The contiguity invariant is checked once at load time (NewTierSet), not on
  every resolution.

EXAMPLE:
  tiers, err := engine.NewTierSet([]engine.TierDefinition{
      {ID: "bronze", Ordinal: 1, MinLockedBalance: 100, MaxLockedBalance: ptr(499), ...},
      {ID: "silver", Ordinal: 2, MinLockedBalance: 500, ...},
  })
  tier := tiers.Resolve(500) // silver: 500 is silver's inclusive minimum

SEE ALSO:
  - price.go: Consumes TierDefinition.DiscountPercent and Ordinal
  - earning.go: Consumes TierDefinition.EarningMultiplier
  - benefit.go: Consumes TierDefinition.BenefitSlotCount
  - distribution.go: Consumes TierDefinition.AllowancePerPeriod
*/
package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TIER DEFINITION
// =============================================================================

// TierDefinition is one row of the admin-managed tier table.
type TierDefinition struct {
	ID      TierID
	Ordinal int
	Name    string

	// Locked-balance range, inclusive on both ends.
	// MaxLockedBalance nil = open-ended top tier.
	MinLockedBalance Tokens
	MaxLockedBalance *Tokens

	// EarningMultiplier scales earned amounts. Always >= 1.
	EarningMultiplier decimal.Decimal

	// AllowancePerPeriod is the recurring token allowance credited to every
	// member of this tier each distribution period. Zero = no allowance.
	AllowancePerPeriod Tokens

	// BenefitSlotCount is the benefit slot capacity for this tier.
	BenefitSlotCount int

	// DiscountPercent is the default reward discount, 0-100.
	DiscountPercent int
}

// IsUnranked reports whether this is the synthetic below-all-tiers tier.
func (t TierDefinition) IsUnranked() bool { return t.Ordinal == UnrankedOrdinal }

// UnrankedOrdinal is the ordinal of the synthetic tier returned for balances
// below the lowest defined minimum. Real tiers start at ordinal 1.
const UnrankedOrdinal = 0

// Unranked returns the synthetic tier: multiplier 1.0, zero slots, zero
// discount, zero allowance.
func Unranked() TierDefinition {
	return TierDefinition{
		ID:                "unranked",
		Ordinal:           UnrankedOrdinal,
		Name:              "Unranked",
		EarningMultiplier: decimal.NewFromInt(1),
	}
}

// =============================================================================
// TIER SET - Validated configuration object
// =============================================================================

// TierSet is the validated tier table, ordered by ordinal ascending.
// Construct with NewTierSet; a zero TierSet resolves everything to Unranked.
type TierSet struct {
	tiers []TierDefinition
}

// NewTierSet validates and orders tier definitions.
//
// Violations return a TierConfigError wrapping ErrTierConfigInvalid. The
// engine never attempts silent repair of configuration data.
func NewTierSet(defs []TierDefinition) (TierSet, error) {
	tiers := make([]TierDefinition, len(defs))
	copy(tiers, defs)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Ordinal < tiers[j].Ordinal })

	for i, t := range tiers {
		if t.Ordinal != i+1 {
			return TierSet{}, &TierConfigError{Ordinal: t.Ordinal, Detail: fmt.Sprintf("ordinals must be contiguous from 1, got %d at position %d", t.Ordinal, i)}
		}
		if t.EarningMultiplier.LessThan(decimal.NewFromInt(1)) {
			return TierSet{}, &TierConfigError{Ordinal: t.Ordinal, Detail: "earning multiplier below 1.0"}
		}
		if t.DiscountPercent < 0 || t.DiscountPercent > 100 {
			return TierSet{}, &TierConfigError{Ordinal: t.Ordinal, Detail: "discount percent outside 0-100"}
		}
		if t.MaxLockedBalance == nil {
			if i != len(tiers)-1 {
				return TierSet{}, &TierConfigError{Ordinal: t.Ordinal, Detail: "open-ended maximum on a non-top tier"}
			}
			continue
		}
		if *t.MaxLockedBalance < t.MinLockedBalance {
			return TierSet{}, &TierConfigError{Ordinal: t.Ordinal, Detail: "maximum below minimum"}
		}
		if i < len(tiers)-1 {
			next := tiers[i+1]
			if *t.MaxLockedBalance != next.MinLockedBalance-1 {
				return TierSet{}, &TierConfigError{Ordinal: t.Ordinal, Detail: fmt.Sprintf("range gap or overlap: max %d, next min %d", *t.MaxLockedBalance, next.MinLockedBalance)}
			}
		}
	}

	return TierSet{tiers: tiers}, nil
}

// Tiers returns the definitions ordered by ordinal ascending.
func (ts TierSet) Tiers() []TierDefinition {
	out := make([]TierDefinition, len(ts.tiers))
	copy(out, ts.tiers)
	return out
}

// ByOrdinal returns the tier with the given ordinal, if defined.
func (ts TierSet) ByOrdinal(ordinal int) (TierDefinition, bool) {
	if ordinal < 1 || ordinal > len(ts.tiers) {
		return TierDefinition{}, false
	}
	return ts.tiers[ordinal-1], true
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve returns the tier for a locked balance: the highest-ordinal tier
// whose minimum is at or below the balance. Balances below the lowest
// minimum resolve to Unranked. Never fails.
func (ts TierSet) Resolve(lockedBalance Tokens) TierDefinition {
	for i := len(ts.tiers) - 1; i >= 0; i-- {
		if ts.tiers[i].MinLockedBalance <= lockedBalance {
			return ts.tiers[i]
		}
	}
	return Unranked()
}

// TierProgress describes how far a member is toward the next tier.
type TierProgress struct {
	Current         TierDefinition
	Next            *TierDefinition // nil when the top tier is reached
	ProgressPercent int             // 0-100, clamped
	AmountToNext    Tokens          // 0 when Next is nil
}

// Progress computes tier progress for a locked balance.
//
// The percentage is clamped to [0, 100]: the balance is read once and may
// move concurrently, so a transient overshoot past the next threshold must
// not produce a value outside the range. Read-then-compute, no writes.
func (ts TierSet) Progress(lockedBalance Tokens) TierProgress {
	current := ts.Resolve(lockedBalance)

	next, hasNext := ts.ByOrdinal(current.Ordinal + 1)
	if !hasNext {
		return TierProgress{Current: current, ProgressPercent: 100}
	}

	span := next.MinLockedBalance - current.MinLockedBalance
	if current.IsUnranked() {
		// Unranked has no defined minimum; progress runs from zero balance.
		span = next.MinLockedBalance
	}

	pct := 0
	if span > 0 {
		base := current.MinLockedBalance
		if current.IsUnranked() {
			base = 0
		}
		pct = int(decimal.NewFromInt(lockedBalance - base).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(span)).
			IntPart())
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	toNext := next.MinLockedBalance - lockedBalance
	if toNext < 0 {
		toNext = 0
	}

	return TierProgress{Current: current, Next: &next, ProgressPercent: pct, AmountToNext: toNext}
}
