/*
handlers.go - HTTP API handlers for the status tier and reward engine

PURPOSE:
  Exposes the rules engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine.

ENDPOINTS:
  Members:
    GET    /api/members                      List members
    POST   /api/members                      Create member
    GET    /api/members/{id}                 Member details
    GET    /api/members/{id}/status          Resolved tier + progress
    POST   /api/members/{id}/quote           Price a reward for this member
    POST   /api/members/{id}/earnings        Credit an earning event
    GET    /api/members/{id}/activations     List benefit activations
    POST   /api/members/{id}/activations     Activate a benefit

  Activations:
    POST   /api/activations/{id}/deactivate  Cancel an activation
    POST   /api/activations/{id}/swap        Swap for another benefit

  Tiers / Distribution:
    GET    /api/tiers                        Tier table
    GET    /api/distributions/runs           Run history
    POST   /api/distributions/process        Trigger this period's runs

  Dev:
    POST   /api/seed                         Load the demo dataset

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Re-read the member's live balance and resolve the tier (never cached)
  4. Call engine logic
  5. Serialize response

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Unknown member/reward/activation
  - 409: Idempotency conflicts (replayed source event)
  - 503: Transient infra failures, framed as "try again" with retryable=true
  - 500: Everything else
  Ineligibility (tier too low, no slots) is a 200 with a negative result,
  not an error.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Background distribution scheduler
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/status-engine/engine"
	"github.com/warp/status-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Allocator   *engine.Allocator
	Distributor *engine.Distributor
	Clock       engine.Clock
}

// NewHandler wires a handler around the SQLite store. The store implements
// every engine port, so it appears in several roles here.
func NewHandler(store *sqlite.Store, notifier engine.Notifier) *Handler {
	if notifier == nil {
		notifier = engine.NopNotifier{}
	}
	clock := engine.RealClock{}
	return &Handler{
		Store:     store,
		Allocator: engine.NewAllocator(store, store, clock),
		Distributor: &engine.Distributor{
			Catalog:   store,
			Directory: store,
			Ledger:    store,
			Audit:     store,
			Notifier:  notifier,
			Runs:      store,
			Clock:     clock,
		},
		Clock: clock,
	}
}

// tierSet loads and validates the tier table. Loaded per evaluation; the
// contiguity invariant is enforced here, not per resolution.
func (h *Handler) tierSet(ctx context.Context) (engine.TierSet, error) {
	defs, err := h.Store.GetTierDefinitions(ctx)
	if err != nil {
		return engine.TierSet{}, err
	}
	return engine.NewTierSet(defs)
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns all members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Store.ListMemberRecords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list members", err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMember creates a new member.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	if req.LockedBalance < 0 {
		writeError(w, http.StatusBadRequest, "locked_balance cannot be negative", nil)
		return
	}

	record := sqlite.MemberRecord{
		ID:            engine.MemberID(req.ID),
		Name:          req.Name,
		Email:         req.Email,
		LockedBalance: req.LockedBalance,
	}
	if err := h.Store.CreateMember(r.Context(), record); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create member", err)
		return
	}

	writeJSON(w, http.StatusCreated, toMemberDTO(record))
}

// GetMember returns a single member.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	id := engine.MemberID(chi.URLParam(r, "id"))

	m, err := h.Store.GetMember(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get member", err)
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "Member not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(*m))
}

// GetStatus returns a member's resolved tier and progress. Tier is derived
// from the live locked balance on every call; nothing is cached.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := engine.MemberID(chi.URLParam(r, "id"))

	locked, err := h.Store.GetLockedBalance(ctx, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	tiers, err := h.tierSet(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	progress := tiers.Progress(locked)
	dto := StatusDTO{
		MemberID:        string(id),
		LockedBalance:   locked,
		Tier:            toTierDTO(progress.Current),
		ProgressPercent: progress.ProgressPercent,
		AmountToNext:    progress.AmountToNext,
	}
	if progress.Next != nil {
		next := toTierDTO(*progress.Next)
		dto.NextTier = &next
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// PRICING
// =============================================================================

// Quote prices a reward for a member. Ineligibility is a normal 200
// response with eligible=false, never an error status.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := engine.MemberID(chi.URLParam(r, "id"))

	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.RewardID == "" {
		writeError(w, http.StatusBadRequest, "reward_id is required", nil)
		return
	}

	reward, err := h.Store.GetReward(ctx, engine.RewardID(req.RewardID))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	locked, err := h.Store.GetLockedBalance(ctx, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	tiers, err := h.tierSet(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	result := engine.Price(*reward, tiers.Resolve(locked))
	writeJSON(w, http.StatusOK, PriceDTO{
		RewardID:        req.RewardID,
		Price:           result.Price,
		OriginalPrice:   result.OriginalPrice,
		DiscountPercent: result.DiscountPercent,
		IsFree:          result.IsFree,
		Eligible:        result.Eligible,
		Reason:          result.Reason,
	})
}

// =============================================================================
// EARNINGS
// =============================================================================

// CreditEarning computes and credits an earning event.
//
// Fails closed: if the tier cannot be resolved (ledger unreachable),
// nothing is credited and the client gets a retryable 503. The source
// event id is the idempotency key, so replays land as 409.
func (h *Handler) CreditEarning(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := engine.MemberID(chi.URLParam(r, "id"))

	var req EarningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.SourceEventID == "" {
		writeError(w, http.StatusBadRequest, "source_event_id is required", nil)
		return
	}
	if req.BaseAmount <= 0 {
		writeError(w, http.StatusBadRequest, "base_amount must be positive", nil)
		return
	}

	event := engine.EarningEvent{
		MemberID:         id,
		SourceEventID:    req.SourceEventID,
		BaseAmount:       req.BaseAmount,
		SourceType:       req.SourceType,
		RequiresLongLock: req.RequiresLongLock,
		Lock:             engine.LockChoice(req.Lock),
	}

	// Tier resolution must see the current balance; no cached tier.
	locked, err := h.Store.GetLockedBalance(ctx, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	tiers, err := h.tierSet(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	result, err := engine.ComputeEarning(event, tiers.Resolve(locked))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := h.Store.IncrementLockedBalance(ctx, id, result.FinalAmount, result.LockDurationDays, req.SourceEventID); err != nil {
		writeEngineError(w, err)
		return
	}

	// The credit is durable at this point; audit failure doesn't undo it.
	_ = h.Store.Append(ctx, engine.AuditEntry{
		ID:        uuid.NewString(),
		EventType: engine.AuditEarningCredited,
		MemberID:  id,
		Payload: map[string]any{
			"source_event_id":    req.SourceEventID,
			"base_amount":        req.BaseAmount,
			"final_amount":       result.FinalAmount,
			"lock_duration_days": result.LockDurationDays,
		},
		IdempotencyKey: "earn:" + req.SourceEventID,
		CreatedAt:      h.Clock.Now(),
	})

	writeJSON(w, http.StatusCreated, EarningDTO{
		StatusAmount:      result.StatusAmount,
		FinalAmount:       result.FinalAmount,
		LockDurationDays:  result.LockDurationDays,
		MultiplierApplied: result.MultiplierApplied.String(),
	})
}

// =============================================================================
// BENEFIT ACTIVATIONS
// =============================================================================

// ListActivations returns a member's non-cancelled activations with their
// derived status at request time.
func (h *Handler) ListActivations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := engine.MemberID(chi.URLParam(r, "id"))

	activations, err := h.Store.ListActive(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list activations", err)
		return
	}

	now := h.Clock.Now()
	dtos := make([]ActivationDTO, len(activations))
	for i, a := range activations {
		dtos[i] = toActivationDTO(a, now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Activate requests a new benefit activation. A full capacity outcome is a
// 200 with activated=false semantics via ErrNoSlots mapped below.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := engine.MemberID(chi.URLParam(r, "id"))

	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.BenefitID == "" || req.SlotCost <= 0 {
		writeError(w, http.StatusBadRequest, "benefit_id and positive slot_cost are required", nil)
		return
	}

	tier, err := h.memberTier(ctx, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	activation, err := h.Allocator.Activate(ctx, id, engine.BenefitID(req.BenefitID), req.SlotCost, tier)
	if errors.Is(err, engine.ErrNoSlots) {
		// Not a fault: the member's tier simply has no free capacity.
		writeError(w, http.StatusConflict, "No benefit slots available", nil)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toActivationDTO(*activation, h.Clock.Now()))
}

// Deactivate cancels an activation, freeing its slots immediately.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id := engine.ActivationID(chi.URLParam(r, "id"))

	err := h.Allocator.Deactivate(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SwapActivation swaps a swappable activation for a new benefit.
func (h *Handler) SwapActivation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := engine.ActivationID(chi.URLParam(r, "id"))

	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.BenefitID == "" || req.SlotCost <= 0 {
		writeError(w, http.StatusBadRequest, "benefit_id and positive slot_cost are required", nil)
		return
	}

	old, err := h.Store.Get(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load activation", err)
		return
	}
	if old == nil {
		writeError(w, http.StatusNotFound, "Activation not found", nil)
		return
	}

	tier, err := h.memberTier(ctx, old.MemberID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	activation, err := h.Allocator.Swap(ctx, id, engine.BenefitID(req.BenefitID), req.SlotCost, tier)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActivationDTO(*activation, h.Clock.Now()))
}

// memberTier resolves a member's tier from the live balance.
func (h *Handler) memberTier(ctx context.Context, id engine.MemberID) (engine.TierDefinition, error) {
	locked, err := h.Store.GetLockedBalance(ctx, id)
	if err != nil {
		return engine.TierDefinition{}, err
	}
	tiers, err := h.tierSet(ctx)
	if err != nil {
		return engine.TierDefinition{}, err
	}
	return tiers.Resolve(locked), nil
}

// =============================================================================
// TIERS / DISTRIBUTION
// =============================================================================

// ListTiers returns the tier table.
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Store.GetTierDefinitions(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]TierDTO, len(defs))
	for i, t := range defs {
		dtos[i] = toTierDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListRuns returns distribution run history.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ProcessDistributions triggers this period's distribution runs.
func (h *Handler) ProcessDistributions(w http.ResponseWriter, r *http.Request) {
	periodKey := engine.PeriodKeyFor(h.Clock.Now())
	summary, err := h.Distributor.RunPeriod(r.Context(), periodKey)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RunSummaryDTO{
		PeriodKey: summary.PeriodKey,
		Processed: summary.Processed,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func toMemberDTO(m sqlite.MemberRecord) MemberDTO {
	dto := MemberDTO{
		ID:               string(m.ID),
		Name:             m.Name,
		Email:            m.Email,
		LockedBalance:    m.LockedBalance,
		AvailableBalance: m.AvailableBalance,
	}
	if !m.CreatedAt.IsZero() {
		dto.CreatedAt = m.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toActivationDTO(a engine.BenefitActivation, now time.Time) ActivationDTO {
	return ActivationDTO{
		ID:             string(a.ID),
		MemberID:       string(a.MemberID),
		BenefitID:      string(a.BenefitID),
		Status:         string(a.EffectiveStatus(now)),
		SlotsUsed:      a.SlotsUsed,
		ActivatedAt:    a.ActivatedAt.Format(time.RFC3339),
		SwapEligibleAt: a.SwapEligibleAt.Format(time.RFC3339),
	}
}

func toRunDTO(run engine.DistributionRun) RunDTO {
	dto := RunDTO{
		PeriodKey:       run.PeriodKey,
		TierID:          string(run.TierID),
		Status:          string(run.Status),
		MembersCredited: run.MembersCredited,
		TotalCredited:   run.TotalCredited,
		StartedAt:       run.StartedAt.Format(time.RFC3339),
	}
	for _, m := range run.FailedMembers {
		dto.FailedMembers = append(dto.FailedMembers, string(m))
	}
	if run.CompletedAt != nil {
		s := run.CompletedAt.Format(time.RFC3339)
		dto.CompletedAt = &s
	}
	return dto
}

// writeEngineError maps engine errors to HTTP statuses. Transient failures
// are framed as "try again"; internal details stay out of user-facing text.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, engine.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, "Already processed", nil)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case engine.IsRetryable(err):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:     "Temporarily unavailable, try again",
			Retryable: true,
		})
	case errors.Is(err, engine.ErrTierConfigInvalid):
		writeError(w, http.StatusInternalServerError, "Tier configuration invalid", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
