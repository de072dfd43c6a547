/*
ports.go - External collaborator interfaces

PURPOSE:
  Defines the boundary between the rules engine and the systems it consumes:
  the balance ledger, the reward catalog, the member directory, the audit
  log, and the notification sink. Any transport (direct call, SQLite, RPC)
  may implement these.

IDEMPOTENCY:
  Every balance increment requires an idempotency key derived from the
  source event id (earnings) or (period_key, tier_id, member_id)
  (distribution allowances). An increment with a key that has already been
  applied returns ErrDuplicateIdempotencyKey and changes nothing.

ATOMICITY:
  Increments are atomic at the implementation level (single UPDATE ... SET
  x = x + ?, or equivalent), never read-modify-write in application code.
  Two concurrent credits for the same member must both land.

AUDIT LOG:
  The audit log is the source of truth for "has this credit already
  happened". The distribution run consults Exists() before every ledger
  increment, which is what makes a crashed run safe to re-run.

NOTIFICATION SINK:
  Fire-and-forget. Failures are logged and never roll back a credit.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite-backed store (all ports)
  - engine/store: In-memory store for tests and dev mode

SEE ALSO:
  - distribution.go: Heaviest consumer of these ports
  - benefit.go: ActivationStore consumer
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER - Member token balances
// =============================================================================

// MemberBalance is the ledger's view of one member.
type MemberBalance struct {
	MemberID         MemberID
	LockedBalance    Tokens
	AvailableBalance Tokens
}

// Ledger holds each member's locked and available token amounts.
//
// The engine reads the locked balance for tier resolution and issues
// increment commands; it never mutates balances in-process.
type Ledger interface {
	// GetLockedBalance returns the member's current locked balance.
	GetLockedBalance(ctx context.Context, memberID MemberID) (Tokens, error)

	// IncrementAvailableBalance atomically credits spendable tokens.
	IncrementAvailableBalance(ctx context.Context, memberID MemberID, amount Tokens, idempotencyKey string) error

	// IncrementLockedBalance atomically credits locked tokens with a lock
	// duration. Locked tokens count toward tier progression only.
	IncrementLockedBalance(ctx context.Context, memberID MemberID, amount Tokens, lockDurationDays int, idempotencyKey string) error
}

// =============================================================================
// CATALOG - Rewards and tier reference data
// =============================================================================

// Catalog holds reward definitions and the tier table. Read-only from the
// engine's perspective.
type Catalog interface {
	GetReward(ctx context.Context, id RewardID) (*RewardDefinition, error)
	GetTierDefinitions(ctx context.Context) ([]TierDefinition, error)
}

// =============================================================================
// DIRECTORY - Member enumeration
// =============================================================================

// Directory enumerates members. Used by the distribution run to find every
// member currently resolved to a tier.
type Directory interface {
	ListMembers(ctx context.Context) ([]MemberID, error)
}

// =============================================================================
// AUDIT LOG - Append-only record of every engine mutation
// =============================================================================

// AuditEntry records one engine mutation.
type AuditEntry struct {
	ID             string
	EventType      AuditEventType
	MemberID       MemberID
	Payload        map[string]any
	IdempotencyKey string
	CreatedAt      time.Time
}

type AuditEventType string

const (
	AuditEarningCredited    AuditEventType = "earning_credited"
	AuditAllowanceCredited  AuditEventType = "allowance_credited"
	AuditBenefitActivated   AuditEventType = "benefit_activated"
	AuditBenefitDeactivated AuditEventType = "benefit_deactivated"
	AuditBenefitSwapped     AuditEventType = "benefit_swapped"
)

// AuditLog is append-only. Exists() is the pre-credit idempotency check in
// the distribution run.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	MemberID   *MemberID
	EventTypes []AuditEventType
	From       *time.Time
	To         *time.Time
}

// =============================================================================
// NOTIFICATION SINK
// =============================================================================

// Notifier delivers member notifications. Fire-and-forget: the engine logs
// failures and never rolls back a credit because a notification failed.
type Notifier interface {
	Notify(ctx context.Context, memberID MemberID, template string, payload map[string]any) error
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, MemberID, string, map[string]any) error { return nil }

// =============================================================================
// ACTIVATION STORE - Benefit activation persistence
// =============================================================================

// ActivationStore persists benefit activations. Activations are never
// hard-deleted; cancellation is a status change kept for audit.
type ActivationStore interface {
	Insert(ctx context.Context, a BenefitActivation) error
	Get(ctx context.Context, id ActivationID) (*BenefitActivation, error)

	// ListActive returns the member's activations with status active or
	// swappable (stored status; the lazy swappable derivation is applied
	// by the caller).
	ListActive(ctx context.Context, memberID MemberID) ([]BenefitActivation, error)

	// Cancel marks an activation cancelled. Terminal.
	Cancel(ctx context.Context, id ActivationID, at time.Time) error
}

// =============================================================================
// RUN STORE - Distribution run records
// =============================================================================

// RunStore persists distribution runs, one per (period, tier).
type RunStore interface {
	// Claim atomically takes ownership of the (periodKey, tierID) run.
	// The returned run is the pre-claim record (a fresh claim returns a new
	// in_progress record with StartedAt=now).
	//
	// Outcomes:
	//   - no run exists: an in_progress run is created, claimed=true
	//   - run exists completed: returned as-is, claimed=false
	//   - run exists failed_partial: re-claimed, claimed=true
	//   - run exists in_progress, started within staleAfter: ErrRunInProgress
	//   - run exists in_progress, older than staleAfter: re-claimed, claimed=true
	Claim(ctx context.Context, periodKey string, tierID TierID, now time.Time, staleAfter time.Duration) (run *DistributionRun, claimed bool, err error)

	// Save persists the run's final state.
	Save(ctx context.Context, run DistributionRun) error

	GetRun(ctx context.Context, periodKey string, tierID TierID) (*DistributionRun, error)
	List(ctx context.Context) ([]DistributionRun, error)
}
