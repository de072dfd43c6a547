package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/status-engine/engine"
)

func tierByID(t *testing.T, id engine.TierID) engine.TierDefinition {
	t.Helper()
	for _, def := range fourTiers() {
		if def.ID == id {
			return def
		}
	}
	t.Fatalf("no tier %s in fixture", id)
	return engine.TierDefinition{}
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestPrice_BelowMinimumTier_IneligibleNotError(t *testing.T) {
	// GIVEN: A reward gated at Silver (ordinal 2) and a Bronze member
	// WHEN: Pricing the reward
	// THEN: A normal ineligible result with a reason, no price computed

	reward := engine.RewardDefinition{
		ID: "event-ticket", BaseCost: 800,
		MinimumTierOrdinal: ordPtr(2),
		Sponsorship:        engine.SponsorshipContribute,
	}

	result := engine.Price(reward, tierByID(t, "bronze"))

	assert.False(t, result.Eligible)
	assert.Equal(t, engine.ReasonTierTooLow, result.Reason)
	assert.Equal(t, engine.Tokens(0), result.Price)
	assert.Equal(t, engine.Tokens(800), result.OriginalPrice)
}

func TestPrice_AtMinimumTier_Eligible(t *testing.T) {
	// GIVEN: A reward gated at Silver and a Silver member
	// WHEN: Pricing the reward
	// THEN: Eligible; the gate is inclusive

	reward := engine.RewardDefinition{
		ID: "event-ticket", BaseCost: 800,
		MinimumTierOrdinal: ordPtr(2),
		Sponsorship:        engine.SponsorshipContribute,
	}

	result := engine.Price(reward, tierByID(t, "silver"))
	assert.True(t, result.Eligible)
}

// =============================================================================
// SPONSORSHIP MODELS
// =============================================================================

func TestPrice_Contribute_AppliesTierDiscount(t *testing.T) {
	// GIVEN: A 100-token contribute reward and a Gold member (15% discount)
	// WHEN: Pricing the reward
	// THEN: Price is 85 with discount reported as 15%

	reward := engine.RewardDefinition{
		ID: "coffee-voucher", BaseCost: 100,
		Sponsorship: engine.SponsorshipContribute,
	}

	result := engine.Price(reward, tierByID(t, "gold"))

	require.True(t, result.Eligible)
	assert.Equal(t, engine.Tokens(85), result.Price)
	assert.Equal(t, 15, result.DiscountPercent)
	assert.False(t, result.IsFree)
}

func TestPrice_Contribute_PriceTableEntryWins(t *testing.T) {
	// GIVEN: A contribute reward with an explicit Silver price of 70
	// WHEN: Pricing for a Silver member
	// THEN: The table entry is used instead of the percentage discount

	reward := engine.RewardDefinition{
		ID: "coffee-voucher", BaseCost: 100,
		Sponsorship: engine.SponsorshipContribute,
		PriceTable:  map[int]engine.Tokens{2: 70},
	}

	result := engine.Price(reward, tierByID(t, "silver"))
	assert.Equal(t, engine.Tokens(70), result.Price)
	assert.Equal(t, 30, result.DiscountPercent)
}

func TestPrice_Contribute_UnrankedPaysFullPrice(t *testing.T) {
	// GIVEN: An ungated contribute reward and an unranked member
	// WHEN: Pricing the reward
	// THEN: Full base cost, zero discount

	reward := engine.RewardDefinition{
		ID: "coffee-voucher", BaseCost: 100,
		Sponsorship: engine.SponsorshipContribute,
	}

	result := engine.Price(reward, engine.Unranked())

	assert.True(t, result.Eligible)
	assert.Equal(t, engine.Tokens(100), result.Price)
	assert.Equal(t, 0, result.DiscountPercent)
}

func TestPrice_FullSponsor_AlwaysFree(t *testing.T) {
	// GIVEN: A full_sponsor reward
	// WHEN: Pricing for every tier including unranked
	// THEN: Free everywhere

	reward := engine.RewardDefinition{
		ID: "onboarding-kit", BaseCost: 250,
		Sponsorship: engine.SponsorshipFullSponsor,
	}

	for _, tier := range append(fourTiers(), engine.Unranked()) {
		result := engine.Price(reward, tier)
		assert.True(t, result.IsFree, "tier %s", tier.ID)
		assert.Equal(t, engine.Tokens(0), result.Price, "tier %s", tier.ID)
		assert.Equal(t, 100, result.DiscountPercent, "tier %s", tier.ID)
	}
}

func TestPrice_TierSponsor_FreeAtThreshold(t *testing.T) {
	// GIVEN: A tier_sponsor reward free from Gold (ordinal 3) upward
	// WHEN: Pricing for Silver, Gold, and Platinum
	// THEN: Silver pays the contribute price; Gold and Platinum are free

	reward := engine.RewardDefinition{
		ID: "lounge-access", BaseCost: 500,
		Sponsorship:          engine.SponsorshipTierSponsor,
		FreeThresholdOrdinal: ordPtr(3),
	}

	silver := engine.Price(reward, tierByID(t, "silver"))
	assert.False(t, silver.IsFree)
	assert.Equal(t, engine.Tokens(450), silver.Price) // 500 less 10%

	gold := engine.Price(reward, tierByID(t, "gold"))
	assert.True(t, gold.IsFree)
	assert.Equal(t, engine.Tokens(0), gold.Price)

	platinum := engine.Price(reward, tierByID(t, "platinum"))
	assert.True(t, platinum.IsFree)
}

func TestPrice_Hybrid_PriceTableWithBaseCostFallback(t *testing.T) {
	// GIVEN: A hybrid reward with explicit prices for Silver and Gold only
	// WHEN: Pricing for Bronze (no entry) and Gold (entry 400)
	// THEN: Bronze pays base cost with no discount; Gold pays the table price

	reward := engine.RewardDefinition{
		ID: "event-ticket", BaseCost: 800,
		Sponsorship: engine.SponsorshipHybrid,
		PriceTable:  map[int]engine.Tokens{2: 600, 3: 400},
	}

	bronze := engine.Price(reward, tierByID(t, "bronze"))
	assert.Equal(t, engine.Tokens(800), bronze.Price)
	assert.Equal(t, 0, bronze.DiscountPercent)

	gold := engine.Price(reward, tierByID(t, "gold"))
	assert.Equal(t, engine.Tokens(400), gold.Price)
	assert.Equal(t, 50, gold.DiscountPercent)
}

func TestPrice_RevenueShare_IgnoresTierDiscount(t *testing.T) {
	// GIVEN: A revenue_share reward and a Platinum member (25% discount)
	// WHEN: Pricing the reward
	// THEN: Base cost unmodified; tier affects only the downstream split

	reward := engine.RewardDefinition{
		ID: "partner-discount", BaseCost: 1200,
		Sponsorship: engine.SponsorshipRevenueShare,
	}

	result := engine.Price(reward, tierByID(t, "platinum"))

	assert.Equal(t, engine.Tokens(1200), result.Price)
	assert.Equal(t, 0, result.DiscountPercent)
	assert.False(t, result.IsFree)
}

// =============================================================================
// NUMERIC EDGES
// =============================================================================

func TestPrice_DiscountRoundsHalfUp(t *testing.T) {
	// GIVEN: A 99-token contribute reward and Bronze (5% discount)
	// WHEN: Pricing the reward
	// THEN: 5% of 99 is 4.95, rounds to 5; price is 94

	reward := engine.RewardDefinition{
		ID: "coffee-voucher", BaseCost: 99,
		Sponsorship: engine.SponsorshipContribute,
	}

	result := engine.Price(reward, tierByID(t, "bronze"))
	assert.Equal(t, engine.Tokens(94), result.Price)
}

func TestPrice_ZeroTableEntry_IsExplicitlyFree(t *testing.T) {
	// GIVEN: A contribute reward whose Gold table entry is 0
	// WHEN: Pricing for Gold
	// THEN: Free; a zero table entry is an explicit free rule

	reward := engine.RewardDefinition{
		ID: "coffee-voucher", BaseCost: 100,
		Sponsorship: engine.SponsorshipContribute,
		PriceTable:  map[int]engine.Tokens{3: 0},
	}

	result := engine.Price(reward, tierByID(t, "gold"))
	assert.True(t, result.IsFree)
	assert.Equal(t, engine.Tokens(0), result.Price)
}

func TestPrice_ZeroBaseCost_ReportsZeroDiscount(t *testing.T) {
	// GIVEN: A zero-cost contribute reward
	// WHEN: Pricing the reward
	// THEN: Free with discount reported as 0, not a division error

	reward := engine.RewardDefinition{
		ID: "freebie", BaseCost: 0,
		Sponsorship: engine.SponsorshipContribute,
	}

	result := engine.Price(reward, tierByID(t, "gold"))
	assert.True(t, result.IsFree)
	assert.Equal(t, 0, result.DiscountPercent)
}
