/*
Package engine provides the status tier and reward economy rules.

PURPOSE:
  This package contains the core decision logic for a token-based membership
  program: resolving a member's tier from their locked token balance, turning
  a tier plus a reward's sponsorship model into a price, turning an earning
  event into a credited amount, allocating limited benefit slots to active
  perks, and distributing a recurring allowance to every member each period.

KEY CONCEPTS IN THIS FILE (types.go):
  - MemberID / TierID / RewardID / BenefitID: Type-safe identifiers
  - Tokens: Whole-unit token and price amounts (int64, never fractional)
  - RoundHalfUp: The single rounding rule used for every multiplier stage

DESIGN PRINCIPLES:
  1. Purity: Tier, price, and earning computations are side-effect-free
  2. Precision: Multiplier math uses decimal.Decimal, never float64
  3. Staleness: Tier is always derived from the live balance, never cached
  4. Auditability: Every credit carries an idempotency key

SEE ALSO:
  - tier.go: Tier definitions and balance-to-tier resolution
  - price.go: Sponsorship models and price resolution
  - earning.go: Earning multipliers and lock durations
  - benefit.go: Benefit slot allocation state machine
  - distribution.go: Recurring allowance distribution runs
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MemberID string
type TierID string
type RewardID string
type BenefitID string
type ActivationID string

// =============================================================================
// TOKEN AMOUNTS
// =============================================================================

// Tokens is a whole-unit token or price amount. The engine never deals in
// fractional tokens: every multiplier stage rounds back to a whole amount.
type Tokens = int64

// RoundHalfUp multiplies a whole token amount by a decimal factor and rounds
// the result half-up to the nearest whole token. This is the only rounding
// rule in the engine; each multiplication stage rounds independently so the
// breakdown shown to members (base x status x lock) adds up exactly.
func RoundHalfUp(amount Tokens, factor decimal.Decimal) Tokens {
	// decimal.Round is half-away-from-zero, which is half-up for the
	// non-negative amounts this engine handles.
	return decimal.NewFromInt(amount).Mul(factor).Round(0).IntPart()
}

// PercentOf returns pct% of amount, rounded half-up.
func PercentOf(amount Tokens, pct int) Tokens {
	return RoundHalfUp(amount, decimal.NewFromInt(int64(pct)).Div(decimal.NewFromInt(100)))
}

// MustParseDecimal parses a decimal string, returning zero on failure.
// Intended for constants and test fixtures.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies the current time. Production code uses RealClock; tests
// substitute a fixed clock to exercise the lazy activation transitions.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }
