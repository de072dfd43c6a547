/*
price.go - Sponsorship models and price resolution

PURPOSE:
  Computes a member's price and eligibility for a reward, given the member's
  tier and the reward's sponsorship model. Prices are ephemeral derived
  values: recomputed on every request, never persisted.

SPONSORSHIP MODELS:
  contribute (default):
    Per-tier price table entry if present, otherwise base cost reduced by
    the tier's discount percent.
  full_sponsor:
    Always free for any eligible member.
  tier_sponsor:
    Free at or above the reward's free-threshold ordinal, otherwise the
    contribute rule applies.
  hybrid:
    Always uses the price table; missing entries default to base cost with
    no discount.
  revenue_share:
    Base cost unmodified by tier. Tier affects a downstream commission
    split this engine does not compute; discount reported as 0.

NUMERIC POLICY:
  Prices are whole claim units. Discount computations round half-up; the
  final price never rounds down to 0 on its own - only an explicit free
  rule (full_sponsor, tier_sponsor threshold, or a 0 table entry) produces
  a free result.

SEE ALSO:
  - tier.go: TierDefinition input
  - errors.go: Ineligibility is a normal result here, never an error
*/
package engine

import "github.com/shopspring/decimal"

// =============================================================================
// REWARD DEFINITION
// =============================================================================

type SponsorshipModel string

const (
	SponsorshipContribute   SponsorshipModel = "contribute"
	SponsorshipFullSponsor  SponsorshipModel = "full_sponsor"
	SponsorshipTierSponsor  SponsorshipModel = "tier_sponsor"
	SponsorshipHybrid       SponsorshipModel = "hybrid"
	SponsorshipRevenueShare SponsorshipModel = "revenue_share"
)

// RewardDefinition is a catalog entry. Read-only from the engine's
// perspective.
type RewardDefinition struct {
	ID       RewardID
	Name     string
	BaseCost Tokens

	// MinimumTierOrdinal gates eligibility. Nil = open to all tiers.
	MinimumTierOrdinal *int

	Sponsorship SponsorshipModel

	// FreeThresholdOrdinal applies to tier_sponsor: tiers at or above this
	// ordinal get the reward free.
	FreeThresholdOrdinal *int

	// PriceTable maps tier ordinal to an explicit price. Optional for
	// contribute, required semantics for hybrid.
	PriceTable map[int]Tokens
}

// =============================================================================
// PRICE RESULT
// =============================================================================

// PriceResult is a derived, ephemeral value. Never persisted.
type PriceResult struct {
	Price           Tokens
	OriginalPrice   Tokens
	DiscountPercent int
	IsFree          bool
	Eligible        bool
	Reason          string // ineligibility reason, empty when eligible
}

const ReasonTierTooLow = "tier too low"

// =============================================================================
// PRICE RESOLUTION
// =============================================================================

// Price computes the member's price and eligibility for a reward.
//
// Eligibility is checked first; an ineligible result carries no price.
// Ineligibility is a normal negative result, not an error.
func Price(reward RewardDefinition, tier TierDefinition) PriceResult {
	if reward.MinimumTierOrdinal != nil && tier.Ordinal < *reward.MinimumTierOrdinal {
		return PriceResult{
			OriginalPrice: reward.BaseCost,
			Eligible:      false,
			Reason:        ReasonTierTooLow,
		}
	}

	var price Tokens
	free := false

	switch reward.Sponsorship {
	case SponsorshipFullSponsor:
		price, free = 0, true

	case SponsorshipTierSponsor:
		if reward.FreeThresholdOrdinal != nil && tier.Ordinal >= *reward.FreeThresholdOrdinal {
			price, free = 0, true
		} else {
			price, free = contributePrice(reward, tier)
		}

	case SponsorshipHybrid:
		if p, ok := reward.PriceTable[tier.Ordinal]; ok {
			price = p
		} else {
			price = reward.BaseCost
		}
		free = price <= 0

	case SponsorshipRevenueShare:
		price = reward.BaseCost
		free = price <= 0

	default: // contribute
		price, free = contributePrice(reward, tier)
	}

	if price < 0 {
		price = 0
	}

	return PriceResult{
		Price:           price,
		OriginalPrice:   reward.BaseCost,
		DiscountPercent: discountPercent(price, reward.BaseCost),
		IsFree:          free,
		Eligible:        true,
	}
}

// contributePrice applies the default sponsorship rule: price table entry if
// present, otherwise base cost less the tier discount (rounded half-up).
func contributePrice(reward RewardDefinition, tier TierDefinition) (Tokens, bool) {
	if p, ok := reward.PriceTable[tier.Ordinal]; ok {
		return p, p <= 0
	}
	price := reward.BaseCost - PercentOf(reward.BaseCost, tier.DiscountPercent)
	return price, price <= 0
}

// discountPercent reports the effective discount, rounded half-up and
// clamped to [0, 100]. Zero when the base cost is zero.
func discountPercent(price, baseCost Tokens) int {
	if baseCost == 0 {
		return 0
	}
	ratio := decimal.NewFromInt(1).Sub(decimal.NewFromInt(price).Div(decimal.NewFromInt(baseCost)))
	pct := int(ratio.Mul(decimal.NewFromInt(100)).Round(0).IntPart())
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
