/*
seed.go - Demo dataset loader

PURPOSE:
  Populates the database with a realistic demo dataset: a four-tier table,
  rewards covering every sponsorship model, and a handful of members spread
  across the tiers. Useful for demos and manual API exploration.

DATASET:
  Tiers:    Bronze (100+), Silver (500+), Gold (2000+), Platinum (10000+)
  Rewards:  one per sponsorship model
  Members:  one unranked plus one per tier

USAGE VIA API:
  POST /api/seed

NOTE:
  Seeding upserts reference data and inserts members; re-seeding an existing
  database is safe but member inserts fail if the ids already exist. Only
  use in development/demo environments.

SEE ALSO:
  - server.go: /api/seed route
  - engine/tier.go: Tier table invariants the seed data satisfies
*/
package api

import (
	"context"
	"net/http"

	"github.com/warp/status-engine/engine"
	"github.com/warp/status-engine/store/sqlite"
)

// Seed loads the demo dataset.
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	if err := LoadDemoData(r.Context(), h.Store); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed demo data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "seeded"})
}

// LoadDemoData writes the demo tier table, rewards, and members.
func LoadDemoData(ctx context.Context, store *sqlite.Store) error {
	for _, t := range demoTiers() {
		if err := store.PutTier(ctx, t); err != nil {
			return err
		}
	}
	for _, rw := range demoRewards() {
		if err := store.PutReward(ctx, rw); err != nil {
			return err
		}
	}
	for _, m := range demoMembers() {
		if err := store.CreateMember(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func demoTiers() []engine.TierDefinition {
	return []engine.TierDefinition{
		{
			ID:                 "bronze",
			Ordinal:            1,
			Name:               "Bronze",
			MinLockedBalance:   100,
			MaxLockedBalance:   tokensPtr(499),
			EarningMultiplier:  engine.MustParseDecimal("1.1"),
			AllowancePerPeriod: 10,
			BenefitSlotCount:   1,
			DiscountPercent:    5,
		},
		{
			ID:                 "silver",
			Ordinal:            2,
			Name:               "Silver",
			MinLockedBalance:   500,
			MaxLockedBalance:   tokensPtr(1999),
			EarningMultiplier:  engine.MustParseDecimal("1.25"),
			AllowancePerPeriod: 25,
			BenefitSlotCount:   2,
			DiscountPercent:    10,
		},
		{
			ID:                 "gold",
			Ordinal:            3,
			Name:               "Gold",
			MinLockedBalance:   2000,
			MaxLockedBalance:   tokensPtr(9999),
			EarningMultiplier:  engine.MustParseDecimal("1.5"),
			AllowancePerPeriod: 60,
			BenefitSlotCount:   4,
			DiscountPercent:    15,
		},
		{
			ID:                 "platinum",
			Ordinal:            4,
			Name:               "Platinum",
			MinLockedBalance:   10000,
			EarningMultiplier:  engine.MustParseDecimal("2"),
			AllowancePerPeriod: 150,
			BenefitSlotCount:   8,
			DiscountPercent:    25,
		},
	}
}

func demoRewards() []engine.RewardDefinition {
	return []engine.RewardDefinition{
		{
			ID:          "coffee-voucher",
			Name:        "Coffee Voucher",
			BaseCost:    100,
			Sponsorship: engine.SponsorshipContribute,
		},
		{
			ID:          "onboarding-kit",
			Name:        "Onboarding Kit",
			BaseCost:    250,
			Sponsorship: engine.SponsorshipFullSponsor,
		},
		{
			ID:                   "lounge-access",
			Name:                 "Lounge Access",
			BaseCost:             500,
			Sponsorship:          engine.SponsorshipTierSponsor,
			FreeThresholdOrdinal: intPtr(3),
		},
		{
			ID:                   "event-ticket",
			Name:                 "Event Ticket",
			BaseCost:             800,
			MinimumTierOrdinal:   intPtr(2),
			Sponsorship:          engine.SponsorshipHybrid,
			FreeThresholdOrdinal: intPtr(4),
			PriceTable: map[int]engine.Tokens{
				2: 600,
				3: 400,
			},
		},
		{
			ID:          "partner-discount",
			Name:        "Partner Discount",
			BaseCost:    1200,
			Sponsorship: engine.SponsorshipRevenueShare,
			PriceTable: map[int]engine.Tokens{
				1: 1100,
				2: 1000,
				3: 850,
				4: 700,
			},
		},
	}
}

func demoMembers() []sqlite.MemberRecord {
	return []sqlite.MemberRecord{
		{ID: "mem-ada", Name: "Ada Okafor", Email: "ada@example.com", LockedBalance: 50},
		{ID: "mem-bao", Name: "Bao Tran", Email: "bao@example.com", LockedBalance: 320},
		{ID: "mem-carla", Name: "Carla Mendes", Email: "carla@example.com", LockedBalance: 1500},
		{ID: "mem-dmitri", Name: "Dmitri Volkov", Email: "dmitri@example.com", LockedBalance: 4200},
		{ID: "mem-elif", Name: "Elif Demir", Email: "elif@example.com", LockedBalance: 15000},
	}
}

func tokensPtr(v engine.Tokens) *engine.Tokens { return &v }
func intPtr(v int) *int                        { return &v }
