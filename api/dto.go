/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import "github.com/warp/status-engine/engine"

// =============================================================================
// MEMBERS
// =============================================================================

// MemberDTO represents a member in API responses.
type MemberDTO struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email,omitempty"`
	LockedBalance    int64  `json:"locked_balance"`
	AvailableBalance int64  `json:"available_balance"`
	CreatedAt        string `json:"created_at,omitempty"`
}

// CreateMemberRequest is the request to create a member.
type CreateMemberRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	LockedBalance int64  `json:"locked_balance"`
}

// =============================================================================
// TIERS / STATUS
// =============================================================================

// TierDTO represents one tier table row.
type TierDTO struct {
	ID                 string `json:"id"`
	Ordinal            int    `json:"ordinal"`
	Name               string `json:"name"`
	MinLockedBalance   int64  `json:"min_locked_balance"`
	MaxLockedBalance   *int64 `json:"max_locked_balance,omitempty"`
	EarningMultiplier  string `json:"earning_multiplier"`
	AllowancePerPeriod int64  `json:"allowance_per_period"`
	BenefitSlotCount   int    `json:"benefit_slot_count"`
	DiscountPercent    int    `json:"discount_percent"`
}

// StatusDTO is a member's resolved tier and progress, recomputed from the
// live locked balance on every request.
type StatusDTO struct {
	MemberID        string   `json:"member_id"`
	LockedBalance   int64    `json:"locked_balance"`
	Tier            TierDTO  `json:"tier"`
	NextTier        *TierDTO `json:"next_tier,omitempty"`
	ProgressPercent int      `json:"progress_percent"`
	AmountToNext    int64    `json:"amount_to_next"`
}

// =============================================================================
// PRICING
// =============================================================================

// QuoteRequest asks for a member's price on a reward.
type QuoteRequest struct {
	RewardID string `json:"reward_id"`
}

// PriceDTO is the computed price result. Ephemeral; never persisted.
type PriceDTO struct {
	RewardID        string `json:"reward_id"`
	Price           int64  `json:"price"`
	OriginalPrice   int64  `json:"original_price"`
	DiscountPercent int    `json:"discount_percent"`
	IsFree          bool   `json:"is_free"`
	Eligible        bool   `json:"eligible"`
	Reason          string `json:"reason,omitempty"`
}

// =============================================================================
// EARNINGS
// =============================================================================

// EarningRequest submits an earning event for crediting.
type EarningRequest struct {
	SourceEventID    string `json:"source_event_id"`
	BaseAmount       int64  `json:"base_amount"`
	SourceType       string `json:"source_type"`
	RequiresLongLock bool   `json:"requires_long_lock"`
	Lock             string `json:"lock,omitempty"` // "short" (default) or "long"
}

// EarningDTO is the credited outcome with the staged breakdown members see.
type EarningDTO struct {
	StatusAmount      int64  `json:"status_amount"`
	FinalAmount       int64  `json:"final_amount"`
	LockDurationDays  int    `json:"lock_duration_days"`
	MultiplierApplied string `json:"multiplier_applied"`
}

// =============================================================================
// BENEFIT ACTIVATIONS
// =============================================================================

// ActivateRequest requests a new benefit activation.
type ActivateRequest struct {
	BenefitID string `json:"benefit_id"`
	SlotCost  int    `json:"slot_cost"`
}

// SwapRequest swaps a swappable activation for a new benefit.
type SwapRequest struct {
	BenefitID string `json:"benefit_id"`
	SlotCost  int    `json:"slot_cost"`
}

// ActivationDTO represents an activation with its derived status.
type ActivationDTO struct {
	ID             string `json:"id"`
	MemberID       string `json:"member_id"`
	BenefitID      string `json:"benefit_id"`
	Status         string `json:"status"` // effective status at request time
	SlotsUsed      int    `json:"slots_used"`
	ActivatedAt    string `json:"activated_at"`
	SwapEligibleAt string `json:"swap_eligible_at"`
}

// =============================================================================
// DISTRIBUTION RUNS
// =============================================================================

// RunDTO represents one distribution run.
type RunDTO struct {
	PeriodKey       string   `json:"period_key"`
	TierID          string   `json:"tier_id"`
	Status          string   `json:"status"`
	MembersCredited int      `json:"members_credited"`
	TotalCredited   int64    `json:"total_credited"`
	FailedMembers   []string `json:"failed_members,omitempty"`
	StartedAt       string   `json:"started_at"`
	CompletedAt     *string  `json:"completed_at,omitempty"`
}

// RunSummaryDTO reports one scheduler invocation.
type RunSummaryDTO struct {
	PeriodKey string `json:"period_key"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error body. Transient failures carry
// Retryable=true and a "try again" framing; raw infra errors never reach
// the user-facing message.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTierDTO(t engine.TierDefinition) TierDTO {
	return TierDTO{
		ID:                 string(t.ID),
		Ordinal:            t.Ordinal,
		Name:               t.Name,
		MinLockedBalance:   t.MinLockedBalance,
		MaxLockedBalance:   t.MaxLockedBalance,
		EarningMultiplier:  t.EarningMultiplier.String(),
		AllowancePerPeriod: t.AllowancePerPeriod,
		BenefitSlotCount:   t.BenefitSlotCount,
		DiscountPercent:    t.DiscountPercent,
	}
}
