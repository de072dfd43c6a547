/*
distribution.go - Recurring allowance distribution runs

PURPOSE:
  Once per period (e.g. monthly), every tier with a nonzero recurring
  allowance credits that allowance to every member currently resolved to
  the tier. One DistributionRun row per (period, tier) is both the work
  record and the idempotency guard.

IDEMPOTENCY, TWO LEVELS:
  1. Run level: a completed run for (period, tier) is a no-op on re-entry.
  2. Member level: each credit carries key "dist:<period>:<tier>:<member>",
     checked against the audit log BEFORE crediting. A run that crashed
     mid-way can be re-run without double-crediting the members it already
     reached.

CONCURRENCY:
  Independent tiers may run in parallel. For one (period, tier), workers
  coordinate through RunStore.Claim: a conditional insert / compare-and-swap
  that only one worker wins. A run found in_progress past the stale timeout
  is logged loudly (operator-visible consistency violation) and taken over.

FAILURE ISOLATION:
  Per-member failures are counted and recorded; they never abort the run.
  Run-level failures (catalog unreachable, member enumeration failed) abort
  the whole run and leave it in_progress for safe resumption. There is no
  abort-mid-run contract, only retry-safely.

SEE ALSO:
  - ports.go: Ledger, AuditLog, Notifier, RunStore, Directory
  - api/scheduler.go: Ticker that invokes RunPeriod on a cadence
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// =============================================================================
// DISTRIBUTION RUN
// =============================================================================

type RunStatus string

const (
	RunInProgress    RunStatus = "in_progress"
	RunCompleted     RunStatus = "completed"
	RunFailedPartial RunStatus = "failed_partial"
)

// DistributionRun is one execution of the allowance credit for one tier in
// one period. Its existence with status completed is the run-level
// idempotency guard.
type DistributionRun struct {
	PeriodKey string // e.g. "2026-02"
	TierID    TierID
	Status    RunStatus

	MembersCredited int
	TotalCredited   Tokens

	// FailedMembers lists members whose credit failed; the retry list for
	// a failed_partial run.
	FailedMembers []MemberID

	StartedAt   time.Time
	CompletedAt *time.Time
}

// PeriodKeyFor returns the monthly period key for an instant.
func PeriodKeyFor(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// AllowanceKey builds the per-member idempotency key for one period's
// allowance credit.
func AllowanceKey(periodKey string, tierID TierID, memberID MemberID) string {
	return fmt.Sprintf("dist:%s:%s:%s", periodKey, tierID, memberID)
}

// =============================================================================
// DISTRIBUTOR
// =============================================================================

// StaleRunTimeout is how long an in_progress run may sit before another
// worker is allowed to take it over.
const StaleRunTimeout = 1 * time.Hour

// Distributor executes distribution runs. It orchestrates the ledger,
// audit log, and notifier directly; allowance credits are flat, not priced
// transactions, so the price and earning components are bypassed.
type Distributor struct {
	Catalog   Catalog
	Directory Directory
	Ledger    Ledger
	Audit     AuditLog
	Notifier  Notifier
	Runs      RunStore
	Clock     Clock
}

// RunSummary reports one RunPeriod invocation.
type RunSummary struct {
	PeriodKey string
	Processed int // tiers processed this invocation
	Skipped   int // tiers already completed or held by another worker
	Failed    int // tiers that ended failed_partial or aborted
}

// RunPeriod processes every qualifying tier for the period. Tier failures
// are isolated; the summary reports the aggregate outcome.
func (d *Distributor) RunPeriod(ctx context.Context, periodKey string) (RunSummary, error) {
	summary := RunSummary{PeriodKey: periodKey}

	defs, err := d.Catalog.GetTierDefinitions(ctx)
	if err != nil {
		return summary, fmt.Errorf("%w: loading tier definitions: %v", ErrCatalogUnavailable, err)
	}
	tiers, err := NewTierSet(defs)
	if err != nil {
		// Broken tier configuration aborts the whole period; the engine
		// does not guess at repairs.
		return summary, err
	}

	for _, tier := range tiers.Tiers() {
		if tier.AllowancePerPeriod <= 0 {
			continue
		}

		run, err := d.runTier(ctx, periodKey, tier, tiers)
		switch {
		case err == nil && run == nil:
			summary.Skipped++
		case err == nil && run.Status == RunCompleted:
			summary.Processed++
		case err == nil:
			summary.Processed++
			summary.Failed++
		default:
			log.Printf("[Distributor] Run %s/%s failed: %v", periodKey, tier.ID, err)
			summary.Failed++
		}
	}

	return summary, nil
}

// runTier executes one (period, tier) run. Returns (nil, nil) when the run
// was skipped (already completed, or held by another worker).
func (d *Distributor) runTier(ctx context.Context, periodKey string, tier TierDefinition, tiers TierSet) (*DistributionRun, error) {
	now := d.clock().Now()

	run, claimed, err := d.Runs.Claim(ctx, periodKey, tier.ID, now, StaleRunTimeout)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return nil, nil
		}
		return nil, err
	}
	if !claimed {
		// Already completed for this period: idempotent no-op.
		return nil, nil
	}
	if run.Status == RunInProgress && now.Sub(run.StartedAt) >= StaleRunTimeout {
		log.Printf("[Distributor] CONSISTENCY: taking over stale run %s/%s (started %s)",
			periodKey, tier.ID, run.StartedAt.Format(time.RFC3339))
	}
	run.StartedAt = now
	run.Status = RunInProgress
	run.FailedMembers = nil
	run.MembersCredited = 0
	run.TotalCredited = 0

	members, err := d.Directory.ListMembers(ctx)
	if err != nil {
		// Run-level failure: leave the run in_progress for safe resumption.
		return run, fmt.Errorf("%w: listing members: %v", ErrLedgerUnavailable, err)
	}

	for _, memberID := range members {
		credited, err := d.creditMember(ctx, periodKey, tier, tiers, memberID)
		if err != nil {
			log.Printf("[Distributor] Member %s credit failed in %s/%s: %v", memberID, periodKey, tier.ID, err)
			run.FailedMembers = append(run.FailedMembers, memberID)
			continue
		}
		if credited {
			run.MembersCredited++
			run.TotalCredited += tier.AllowancePerPeriod
		}
	}

	completed := d.clock().Now()
	run.CompletedAt = &completed
	if len(run.FailedMembers) == 0 {
		run.Status = RunCompleted
	} else {
		run.Status = RunFailedPartial
	}

	if err := d.Runs.Save(ctx, *run); err != nil {
		return run, fmt.Errorf("saving run record: %w", err)
	}

	log.Printf("[Distributor] Run %s/%s %s: %d credited, %d failed",
		periodKey, tier.ID, run.Status, run.MembersCredited, len(run.FailedMembers))

	return run, nil
}

// creditMember credits one member's allowance if they currently resolve to
// the tier and have not been credited for this period yet. Returns whether
// a credit (new or previously applied) counts toward the run.
func (d *Distributor) creditMember(ctx context.Context, periodKey string, tier TierDefinition, tiers TierSet, memberID MemberID) (bool, error) {
	locked, err := d.Ledger.GetLockedBalance(ctx, memberID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if tiers.Resolve(locked).ID != tier.ID {
		return false, nil
	}

	key := AllowanceKey(periodKey, tier.ID, memberID)

	// The audit log, not the run row, answers "has this credit happened".
	// This is what makes a crash between credit and run-save retry-safe.
	done, err := d.Audit.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if done {
		return true, nil
	}

	if err := d.Ledger.IncrementAvailableBalance(ctx, memberID, tier.AllowancePerPeriod, key); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return true, nil
		}
		return false, err
	}

	if err := d.Audit.Append(ctx, AuditEntry{
		ID:        key,
		EventType: AuditAllowanceCredited,
		MemberID:  memberID,
		Payload: map[string]any{
			"period_key": periodKey,
			"tier_id":    string(tier.ID),
			"amount":     tier.AllowancePerPeriod,
		},
		IdempotencyKey: key,
		CreatedAt:      d.clock().Now(),
	}); err != nil && !errors.Is(err, ErrDuplicateIdempotencyKey) {
		return false, err
	}

	// Fire-and-forget: a notification failure never rolls back the credit.
	if d.Notifier != nil {
		if err := d.Notifier.Notify(ctx, memberID, "allowance_credited", map[string]any{
			"period": periodKey,
			"amount": tier.AllowancePerPeriod,
			"tier":   tier.Name,
		}); err != nil {
			log.Printf("[Distributor] Notification failed for %s: %v", memberID, err)
		}
	}

	return true, nil
}

func (d *Distributor) clock() Clock {
	if d.Clock == nil {
		return RealClock{}
	}
	return d.Clock
}
