/*
earning.go - Earning multipliers and lock durations

PURPOSE:
  Converts a raw earning event into the final credited amount and lock
  duration. Two multiplier stages apply, each rounded half-up on its own:

    status_amount = round(base_amount x tier.EarningMultiplier)
    final_amount  = round(status_amount x long_lock_multiplier)   (long lock)
                  = status_amount                                 (otherwise)

  The staged rounding is a contract, not an implementation detail: members
  see the "base x status x lock = total" breakdown, so intermediate rounding
  must match what is displayed. A single multiply-through would drift.

LOCK CHOICE:
  Lock length affects tier-building speed, not payout size. When the source
  does not require the long lock, the member chooses between the short lock
  (90 days) and the long lock (360 days); either way the credited amount is
  the status amount. Only a source that REQUIRES the long lock pays the
  long-lock bonus multiplier.

FAILURE:
  Compute is pure and total. The crediting path around it fails closed: if
  the member's tier cannot be resolved (ledger unreachable), nothing is
  credited and the caller gets a retryable error.

SEE ALSO:
  - tier.go: EarningMultiplier input
  - ports.go: Ledger.IncrementLockedBalance used by the crediting path
*/
package engine

import "github.com/shopspring/decimal"

// =============================================================================
// LOCK DURATIONS
// =============================================================================

type LockChoice string

const (
	LockShort LockChoice = "short" // 90 days, no bonus multiplier
	LockLong  LockChoice = "long"  // 360 days, bonus only when required by source
)

const (
	ShortLockDays = 90
	LongLockDays  = 360
)

// LongLockMultiplier is the bonus applied when a source requires the long
// lock commitment.
var LongLockMultiplier = decimal.NewFromInt(3)

// =============================================================================
// EARNING EVENT / RESULT
// =============================================================================

// EarningEvent is a raw earning input.
type EarningEvent struct {
	MemberID MemberID

	// SourceEventID identifies the upstream event and doubles as the
	// idempotency key for the ledger credit.
	SourceEventID string

	BaseAmount Tokens
	SourceType string

	// RequiresLongLock forces the 360-day lock and pays the bonus multiplier.
	RequiresLongLock bool

	// Lock is the member's choice when the source does not require the long
	// lock. It changes only the duration, never the amount. Defaults to short.
	Lock LockChoice
}

// EarningResult is the computed outcome. Ephemeral.
type EarningResult struct {
	StatusAmount      Tokens // after the tier multiplier stage
	FinalAmount       Tokens
	LockDurationDays  int
	MultiplierApplied decimal.Decimal // the tier multiplier stage
}

// =============================================================================
// CALCULATOR
// =============================================================================

// ComputeEarning applies the tier and lock multiplier stages to an event.
// Pure; the event is validated and the tier is taken as already resolved.
func ComputeEarning(event EarningEvent, tier TierDefinition) (EarningResult, error) {
	if event.BaseAmount <= 0 {
		return EarningResult{}, ErrInvalidAmount
	}

	statusAmount := RoundHalfUp(event.BaseAmount, tier.EarningMultiplier)

	result := EarningResult{
		StatusAmount:      statusAmount,
		MultiplierApplied: tier.EarningMultiplier,
	}

	if event.RequiresLongLock {
		result.FinalAmount = RoundHalfUp(statusAmount, LongLockMultiplier)
		result.LockDurationDays = LongLockDays
		return result, nil
	}

	result.FinalAmount = statusAmount
	if event.Lock == LockLong {
		result.LockDurationDays = LongLockDays
	} else {
		result.LockDurationDays = ShortLockDays
	}
	return result, nil
}
