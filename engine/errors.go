/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify errors with errors.Is and the helper predicates below.

ERROR CATEGORIES:
  1. Validation errors  - Malformed input (unknown reward, bad amount).
     Rejected immediately, nothing mutated.
  2. Ineligibility      - NOT errors. Tier-too-low and no-slots outcomes are
     returned as normal negative results (PriceResult.Eligible=false,
     CanActivate=false). The only sentinel here is ErrNoSlots, used when a
     write-time re-check loses a race it cannot report any other way.
  3. Transient errors   - Ledger/catalog unreachable. Safe to retry; the
     engine fails closed (no partial credit) on this class.
  4. Consistency errors - Broken reference data (tier range gaps, stale
     in-progress runs). Logged loudly, surfaced to operators, never
     silently repaired.

USAGE:
  if engine.IsRetryable(err) {
      // surface as "try again"
  }

SEE ALSO:
  - ports.go: Interfaces whose implementations return these errors
  - distribution.go: Run-claim errors
*/
package engine

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a credit with the same
	// idempotency key has already been applied. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrMemberNotFound is returned when a referenced member doesn't exist.
	ErrMemberNotFound = errors.New("member not found")

	// ErrRewardNotFound is returned when a referenced reward doesn't exist.
	ErrRewardNotFound = errors.New("reward not found")

	// ErrActivationNotFound is returned when a referenced activation doesn't exist.
	ErrActivationNotFound = errors.New("activation not found")

	// ErrInvalidAmount is returned for zero or negative earning amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNoSlots is returned when a write-time capacity re-check fails.
	// This is an ineligibility outcome, not a system fault.
	ErrNoSlots = errors.New("no benefit slots available")

	// ErrActivationCancelled is returned when operating on a cancelled
	// activation. Cancelled is terminal.
	ErrActivationCancelled = errors.New("activation already cancelled")

	// ErrNotSwappable is returned when swapping an activation that has not
	// yet reached its swap eligibility date.
	ErrNotSwappable = errors.New("activation not yet swappable")

	// ErrLedgerUnavailable wraps transient ledger failures. Retryable.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrCatalogUnavailable wraps transient catalog failures. Retryable.
	ErrCatalogUnavailable = errors.New("catalog unavailable")

	// ErrTierConfigInvalid is returned when tier definitions violate the
	// contiguous-range invariant. Configuration fault, surfaced to operators.
	ErrTierConfigInvalid = errors.New("invalid tier configuration")

	// ErrRunInProgress is returned when another worker holds the run for
	// this period and tier.
	ErrRunInProgress = errors.New("distribution run already in progress")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TierConfigError describes a specific contiguity or ordering violation in
// the tier table.
type TierConfigError struct {
	Ordinal int
	Detail  string
}

func (e *TierConfigError) Error() string {
	return fmt.Sprintf("invalid tier configuration at ordinal %d: %s", e.Ordinal, e.Detail)
}

func (e *TierConfigError) Unwrap() error { return ErrTierConfigInvalid }

// StaleRunError reports a run found in_progress past the stale timeout.
// The holder presumably crashed; the run is safe to take over, but the
// condition itself is an operator-visible consistency violation.
type StaleRunError struct {
	PeriodKey string
	TierID    TierID
	StartedAt time.Time
}

func (e *StaleRunError) Error() string {
	return fmt.Sprintf("stale distribution run %s/%s started at %s", e.PeriodKey, e.TierID, e.StartedAt.Format(time.RFC3339))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable) ||
		errors.Is(err, ErrCatalogUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrNoSlots) ||
		errors.Is(err, ErrActivationCancelled) ||
		errors.Is(err, ErrNotSwappable)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrRewardNotFound) ||
		errors.Is(err, ErrActivationNotFound)
}
