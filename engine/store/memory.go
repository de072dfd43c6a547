// Package store provides in-memory implementations of the engine ports,
// used for tests and dev mode. The production implementation lives in
// store/sqlite.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warp/status-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of every engine port
// =============================================================================

// Memory implements Ledger, Catalog, Directory, AuditLog, ActivationStore,
// and RunStore with mutex-protected maps. Balance increments are atomic
// under the store lock, mirroring the atomic-increment contract of the
// production store.
type Memory struct {
	mu sync.RWMutex

	members     map[engine.MemberID]*engine.MemberBalance
	memberOrder []engine.MemberID

	tiers   []engine.TierDefinition
	rewards map[engine.RewardID]engine.RewardDefinition

	audit      []engine.AuditEntry
	auditKeys  map[string]bool
	ledgerKeys map[string]bool

	activations map[engine.ActivationID]engine.BenefitActivation
	runs        map[runKey]engine.DistributionRun

	// FailLedger, when set, makes every ledger call fail. Lets tests
	// exercise the fail-closed and partial-run paths.
	FailLedger error

	// FailMembers makes ledger increments fail for specific members.
	FailMembers map[engine.MemberID]error
}

type runKey struct {
	PeriodKey string
	TierID    engine.TierID
}

func NewMemory() *Memory {
	return &Memory{
		members:     make(map[engine.MemberID]*engine.MemberBalance),
		rewards:     make(map[engine.RewardID]engine.RewardDefinition),
		auditKeys:   make(map[string]bool),
		ledgerKeys:  make(map[string]bool),
		activations: make(map[engine.ActivationID]engine.BenefitActivation),
		runs:        make(map[runKey]engine.DistributionRun),
		FailMembers: make(map[engine.MemberID]error),
	}
}

// =============================================================================
// FIXTURE SETUP
// =============================================================================

// PutMember creates or replaces a member balance record.
func (m *Memory) PutMember(id engine.MemberID, locked, available engine.Tokens) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[id]; !ok {
		m.memberOrder = append(m.memberOrder, id)
	}
	m.members[id] = &engine.MemberBalance{MemberID: id, LockedBalance: locked, AvailableBalance: available}
}

// PutTiers replaces the tier table.
func (m *Memory) PutTiers(tiers []engine.TierDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers = append([]engine.TierDefinition{}, tiers...)
}

// PutReward creates or replaces a reward definition.
func (m *Memory) PutReward(r engine.RewardDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewards[r.ID] = r
}

// Balance returns a copy of a member's balance record.
func (m *Memory) Balance(id engine.MemberID) (engine.MemberBalance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.members[id]
	if !ok {
		return engine.MemberBalance{}, false
	}
	return *b, true
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) GetLockedBalance(_ context.Context, id engine.MemberID) (engine.Tokens, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailLedger != nil {
		return 0, m.FailLedger
	}
	b, ok := m.members[id]
	if !ok {
		return 0, engine.ErrMemberNotFound
	}
	return b.LockedBalance, nil
}

func (m *Memory) IncrementAvailableBalance(_ context.Context, id engine.MemberID, amount engine.Tokens, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ledgerFailure(id); err != nil {
		return err
	}
	b, ok := m.members[id]
	if !ok {
		return engine.ErrMemberNotFound
	}
	if key != "" {
		if m.ledgerKeys[key] {
			return engine.ErrDuplicateIdempotencyKey
		}
		m.ledgerKeys[key] = true
	}
	b.AvailableBalance += amount
	return nil
}

func (m *Memory) IncrementLockedBalance(_ context.Context, id engine.MemberID, amount engine.Tokens, _ int, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ledgerFailure(id); err != nil {
		return err
	}
	b, ok := m.members[id]
	if !ok {
		return engine.ErrMemberNotFound
	}
	if key != "" {
		if m.ledgerKeys[key] {
			return engine.ErrDuplicateIdempotencyKey
		}
		m.ledgerKeys[key] = true
	}
	b.LockedBalance += amount
	return nil
}

func (m *Memory) ledgerFailure(id engine.MemberID) error {
	if m.FailLedger != nil {
		return m.FailLedger
	}
	if err, ok := m.FailMembers[id]; ok {
		return err
	}
	return nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) GetReward(_ context.Context, id engine.RewardID) (*engine.RewardDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rewards[id]
	if !ok {
		return nil, engine.ErrRewardNotFound
	}
	return &r, nil
}

func (m *Memory) GetTierDefinitions(_ context.Context) ([]engine.TierDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.TierDefinition{}, m.tiers...), nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) ListMembers(_ context.Context) ([]engine.MemberID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.MemberID{}, m.memberOrder...), nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) Append(_ context.Context, entry engine.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.IdempotencyKey != "" {
		if m.auditKeys[entry.IdempotencyKey] {
			return engine.ErrDuplicateIdempotencyKey
		}
		m.auditKeys[entry.IdempotencyKey] = true
	}
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.auditKeys[key], nil
}

func (m *Memory) Query(_ context.Context, filter engine.AuditFilter) ([]engine.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.AuditEntry
	for _, e := range m.audit {
		if filter.MemberID != nil && e.MemberID != *filter.MemberID {
			continue
		}
		if len(filter.EventTypes) > 0 && !containsEventType(filter.EventTypes, e.EventType) {
			continue
		}
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.CreatedAt.After(*filter.To) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func containsEventType(types []engine.AuditEventType, t engine.AuditEventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// =============================================================================
// ACTIVATION STORE
// =============================================================================

func (m *Memory) Insert(_ context.Context, a engine.BenefitActivation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.activations[a.ID]; ok {
		return fmt.Errorf("activation %s already exists", a.ID)
	}
	m.activations[a.ID] = a
	return nil
}

func (m *Memory) Get(_ context.Context, id engine.ActivationID) (*engine.BenefitActivation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.activations[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) ListActive(_ context.Context, memberID engine.MemberID) ([]engine.BenefitActivation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.BenefitActivation
	for _, a := range m.activations {
		if a.MemberID == memberID && a.Status != engine.ActivationCancelled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) Cancel(_ context.Context, id engine.ActivationID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activations[id]
	if !ok {
		return engine.ErrActivationNotFound
	}
	a.Status = engine.ActivationCancelled
	m.activations[id] = a
	return nil
}

// =============================================================================
// RUN STORE
// =============================================================================

func (m *Memory) Claim(_ context.Context, periodKey string, tierID engine.TierID, now time.Time, staleAfter time.Duration) (*engine.DistributionRun, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := runKey{PeriodKey: periodKey, TierID: tierID}
	existing, ok := m.runs[k]
	if !ok {
		run := engine.DistributionRun{
			PeriodKey: periodKey,
			TierID:    tierID,
			Status:    engine.RunInProgress,
			StartedAt: now,
		}
		m.runs[k] = run
		return &run, true, nil
	}

	switch existing.Status {
	case engine.RunCompleted:
		out := existing
		return &out, false, nil
	case engine.RunInProgress:
		if now.Sub(existing.StartedAt) < staleAfter {
			return nil, false, engine.ErrRunInProgress
		}
	}

	// failed_partial or stale in_progress: take it over.
	snapshot := existing
	existing.Status = engine.RunInProgress
	existing.StartedAt = now
	m.runs[k] = existing
	return &snapshot, true, nil
}

func (m *Memory) Save(_ context.Context, run engine.DistributionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runKey{PeriodKey: run.PeriodKey, TierID: run.TierID}] = run
	return nil
}

func (m *Memory) GetRun(_ context.Context, periodKey string, tierID engine.TierID) (*engine.DistributionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runKey{PeriodKey: periodKey, TierID: tierID}]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (m *Memory) List(_ context.Context) ([]engine.DistributionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.DistributionRun, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	return out, nil
}

// =============================================================================
// RECORDING NOTIFIER - Captures notifications for tests
// =============================================================================

type Notification struct {
	MemberID engine.MemberID
	Template string
	Payload  map[string]any
}

// RecordingNotifier captures notifications; optionally fails every call to
// prove notification failures never roll back credits.
type RecordingNotifier struct {
	mu   sync.Mutex
	Sent []Notification
	Fail error
}

func (n *RecordingNotifier) Notify(_ context.Context, id engine.MemberID, template string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Sent = append(n.Sent, Notification{MemberID: id, Template: template, Payload: payload})
	return n.Fail
}
