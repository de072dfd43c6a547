/*
Package sqlite provides a SQLite-backed implementation of the engine ports.

PURPOSE:
  Implements every external interface the engine consumes (Ledger, Catalog,
  Directory, AuditLog, ActivationStore, RunStore) using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  members:              Balance ledger heads (locked + available)
  ledger_entries:       Append-only record of every balance increment
  tiers:                Admin-managed tier table (reference data)
  rewards:              Reward catalog (price table as JSON)
  benefit_activations:  Activation state machine rows (never hard-deleted)
  distribution_runs:    One row per (period, tier); the idempotency guard
  audit_log:            Append-only mutation record

ATOMIC INCREMENTS:
  Balance credits are single "UPDATE members SET x = x + ?" statements
  inside a transaction with the ledger-entry insert. No read-modify-write
  in application code, so concurrent credits for one member cannot lose
  updates.

IDEMPOTENCY:
  ledger_entries.idempotency_key and audit_log.idempotency_key are UNIQUE.
  A replayed credit hits the constraint and maps to
  engine.ErrDuplicateIdempotencyKey with nothing changed.

RUN CLAIMING:
  distribution_runs has PRIMARY KEY (period_key, tier_id). Claiming is a
  conditional insert, then a compare-and-swap UPDATE guarded on the prior
  status for takeover of failed_partial or stale in_progress runs. Only one
  worker wins for a given (period, tier).

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  st, err := sqlite.New("./data/status.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - engine/ports.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/status-engine/engine"
)

// Store implements all engine ports using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time, and a pooled second connection to a
	// ":memory:" database would see a separate empty database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Members (balance heads; incremented atomically, never read-modify-write)
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		locked_balance INTEGER NOT NULL DEFAULT 0,
		available_balance INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Ledger entries (append-only record of every increment)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		balance_kind TEXT NOT NULL,        -- 'locked' or 'available'
		amount INTEGER NOT NULL,
		lock_duration_days INTEGER NOT NULL DEFAULT 0,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_member
		ON ledger_entries(member_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_idempotency
		ON ledger_entries(idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Tiers (admin-managed reference data)
	CREATE TABLE IF NOT EXISTS tiers (
		id TEXT PRIMARY KEY,
		ordinal INTEGER NOT NULL UNIQUE,
		name TEXT NOT NULL,
		min_locked_balance INTEGER NOT NULL,
		max_locked_balance INTEGER,
		earning_multiplier TEXT NOT NULL,
		allowance_per_period INTEGER NOT NULL DEFAULT 0,
		benefit_slot_count INTEGER NOT NULL DEFAULT 0,
		discount_percent INTEGER NOT NULL DEFAULT 0
	);

	-- Rewards catalog
	CREATE TABLE IF NOT EXISTS rewards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		base_cost INTEGER NOT NULL,
		minimum_tier_ordinal INTEGER,
		sponsorship_model TEXT NOT NULL,
		free_threshold_ordinal INTEGER,
		price_table_json TEXT
	);

	-- Benefit activations (never hard-deleted; kept for audit)
	CREATE TABLE IF NOT EXISTS benefit_activations (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		benefit_id TEXT NOT NULL,
		status TEXT NOT NULL,
		slots_used INTEGER NOT NULL,
		activated_at TEXT NOT NULL,
		swap_eligible_at TEXT NOT NULL,
		cancelled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_activations_member_status
		ON benefit_activations(member_id, status);

	-- Distribution runs (one per period+tier; the run-level idempotency guard)
	CREATE TABLE IF NOT EXISTS distribution_runs (
		period_key TEXT NOT NULL,
		tier_id TEXT NOT NULL,
		status TEXT NOT NULL,
		members_credited INTEGER NOT NULL DEFAULT 0,
		total_credited INTEGER NOT NULL DEFAULT 0,
		failed_members_json TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		PRIMARY KEY (period_key, tier_id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status
		ON distribution_runs(status);

	-- Audit log (append-only; source of truth for "did this credit happen")
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		member_id TEXT NOT NULL,
		payload_json TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_member
		ON audit_log(member_id);
	CREATE INDEX IF NOT EXISTS idx_audit_idempotency
		ON audit_log(idempotency_key) WHERE idempotency_key IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// MEMBERS (engine.Directory + admin)
// =============================================================================

// MemberRecord is the store's view of a member.
type MemberRecord struct {
	ID               engine.MemberID
	Name             string
	Email            string
	LockedBalance    engine.Tokens
	AvailableBalance engine.Tokens
	CreatedAt        time.Time
}

// CreateMember inserts a member with initial balances.
func (s *Store) CreateMember(ctx context.Context, m MemberRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, name, email, locked_balance, available_balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Email, m.LockedBalance, m.AvailableBalance,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

// GetMember returns a member record, or nil if absent.
func (s *Store) GetMember(ctx context.Context, id engine.MemberID) (*MemberRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, locked_balance, available_balance, created_at
		FROM members WHERE id = ?`, id)

	var m MemberRecord
	var createdAt string
	var email sql.NullString
	if err := row.Scan(&m.ID, &m.Name, &email, &m.LockedBalance, &m.AvailableBalance, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	m.Email = email.String
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

// ListMemberRecords returns all members ordered by creation.
func (s *Store) ListMemberRecords(ctx context.Context) ([]MemberRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, locked_balance, available_balance, created_at
		FROM members ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var out []MemberRecord
	for rows.Next() {
		var m MemberRecord
		var createdAt string
		var email sql.NullString
		if err := rows.Scan(&m.ID, &m.Name, &email, &m.LockedBalance, &m.AvailableBalance, &createdAt); err != nil {
			return nil, err
		}
		m.Email = email.String
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMembers implements engine.Directory.
func (s *Store) ListMembers(ctx context.Context) ([]engine.MemberID, error) {
	records, err := s.ListMemberRecords(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]engine.MemberID, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids, nil
}

// =============================================================================
// LEDGER (engine.Ledger)
// =============================================================================

func (s *Store) GetLockedBalance(ctx context.Context, id engine.MemberID) (engine.Tokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var locked engine.Tokens
	err := s.db.QueryRowContext(ctx,
		"SELECT locked_balance FROM members WHERE id = ?", id).Scan(&locked)
	if err == sql.ErrNoRows {
		return 0, engine.ErrMemberNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", engine.ErrLedgerUnavailable, err)
	}
	return locked, nil
}

func (s *Store) IncrementAvailableBalance(ctx context.Context, id engine.MemberID, amount engine.Tokens, key string) error {
	return s.increment(ctx, id, amount, "available", 0, key)
}

func (s *Store) IncrementLockedBalance(ctx context.Context, id engine.MemberID, amount engine.Tokens, lockDays int, key string) error {
	return s.increment(ctx, id, amount, "locked", lockDays, key)
}

// increment applies an atomic balance credit plus its append-only ledger
// entry in one transaction. The UNIQUE idempotency key makes replays no-ops.
func (s *Store) increment(ctx context.Context, id engine.MemberID, amount engine.Tokens, kind string, lockDays int, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrLedgerUnavailable, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, member_id, balance_kind, amount, lock_duration_days, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), id, kind, amount, lockDays, nullString(key),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	column := "available_balance"
	if kind == "locked" {
		column = "locked_balance"
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE members SET "+column+" = "+column+" + ? WHERE id = ?", amount, id)
	if err != nil {
		return fmt.Errorf("failed to increment balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrMemberNotFound
	}

	return tx.Commit()
}

// =============================================================================
// CATALOG (engine.Catalog + admin writes)
// =============================================================================

// PutTier inserts or replaces a tier row.
func (s *Store) PutTier(ctx context.Context, t engine.TierDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tiers
		(id, ordinal, name, min_locked_balance, max_locked_balance, earning_multiplier,
		 allowance_per_period, benefit_slot_count, discount_percent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Ordinal, t.Name, t.MinLockedBalance, nullTokens(t.MaxLockedBalance),
		t.EarningMultiplier.String(), t.AllowancePerPeriod, t.BenefitSlotCount, t.DiscountPercent,
	)
	if err != nil {
		return fmt.Errorf("failed to put tier: %w", err)
	}
	return nil
}

func (s *Store) GetTierDefinitions(ctx context.Context) ([]engine.TierDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ordinal, name, min_locked_balance, max_locked_balance, earning_multiplier,
		       allowance_per_period, benefit_slot_count, discount_percent
		FROM tiers ORDER BY ordinal ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var out []engine.TierDefinition
	for rows.Next() {
		var t engine.TierDefinition
		var max sql.NullInt64
		var mult string
		if err := rows.Scan(&t.ID, &t.Ordinal, &t.Name, &t.MinLockedBalance, &max, &mult,
			&t.AllowancePerPeriod, &t.BenefitSlotCount, &t.DiscountPercent); err != nil {
			return nil, err
		}
		if max.Valid {
			v := max.Int64
			t.MaxLockedBalance = &v
		}
		t.EarningMultiplier = engine.MustParseDecimal(mult)
		out = append(out, t)
	}
	return out, rows.Err()
}

// PutReward inserts or replaces a reward row.
func (s *Store) PutReward(ctx context.Context, r engine.RewardDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tableJSON []byte
	if len(r.PriceTable) > 0 {
		tableJSON, _ = json.Marshal(r.PriceTable)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO rewards
		(id, name, base_cost, minimum_tier_ordinal, sponsorship_model, free_threshold_ordinal, price_table_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.BaseCost, nullInt(r.MinimumTierOrdinal),
		string(r.Sponsorship), nullInt(r.FreeThresholdOrdinal), nullString(string(tableJSON)),
	)
	if err != nil {
		return fmt.Errorf("failed to put reward: %w", err)
	}
	return nil
}

func (s *Store) GetReward(ctx context.Context, id engine.RewardID) (*engine.RewardDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, base_cost, minimum_tier_ordinal, sponsorship_model, free_threshold_ordinal, price_table_json
		FROM rewards WHERE id = ?`, id)

	var r engine.RewardDefinition
	var minTier, freeThreshold sql.NullInt64
	var sponsorship string
	var tableJSON sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &r.BaseCost, &minTier, &sponsorship, &freeThreshold, &tableJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, engine.ErrRewardNotFound
		}
		return nil, fmt.Errorf("%w: %v", engine.ErrCatalogUnavailable, err)
	}
	if minTier.Valid {
		v := int(minTier.Int64)
		r.MinimumTierOrdinal = &v
	}
	if freeThreshold.Valid {
		v := int(freeThreshold.Int64)
		r.FreeThresholdOrdinal = &v
	}
	r.Sponsorship = engine.SponsorshipModel(sponsorship)
	if tableJSON.Valid && tableJSON.String != "" {
		if err := json.Unmarshal([]byte(tableJSON.String), &r.PriceTable); err != nil {
			return nil, fmt.Errorf("corrupt price table for reward %s: %w", id, err)
		}
	}
	return &r, nil
}

// =============================================================================
// ACTIVATION STORE (engine.ActivationStore)
// =============================================================================

func (s *Store) Insert(ctx context.Context, a engine.BenefitActivation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO benefit_activations
		(id, member_id, benefit_id, status, slots_used, activated_at, swap_eligible_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.MemberID, a.BenefitID, string(a.Status), a.SlotsUsed,
		a.ActivatedAt.UTC().Format(time.RFC3339),
		a.SwapEligibleAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activation: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id engine.ActivationID) (*engine.BenefitActivation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, member_id, benefit_id, status, slots_used, activated_at, swap_eligible_at
		FROM benefit_activations WHERE id = ?`, id)

	a, err := scanActivation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) ListActive(ctx context.Context, memberID engine.MemberID) ([]engine.BenefitActivation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, benefit_id, status, slots_used, activated_at, swap_eligible_at
		FROM benefit_activations
		WHERE member_id = ? AND status != 'cancelled'
		ORDER BY activated_at ASC`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activations: %w", err)
	}
	defer rows.Close()

	var out []engine.BenefitActivation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) Cancel(ctx context.Context, id engine.ActivationID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE benefit_activations
		SET status = 'cancelled', cancelled_at = ?
		WHERE id = ? AND status != 'cancelled'`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to cancel activation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrActivationNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivation(row rowScanner) (*engine.BenefitActivation, error) {
	var a engine.BenefitActivation
	var status, activatedAt, swapAt string
	if err := row.Scan(&a.ID, &a.MemberID, &a.BenefitID, &status, &a.SlotsUsed, &activatedAt, &swapAt); err != nil {
		return nil, err
	}
	a.Status = engine.ActivationStatus(status)
	a.ActivatedAt, _ = time.Parse(time.RFC3339, activatedAt)
	a.SwapEligibleAt, _ = time.Parse(time.RFC3339, swapAt)
	return &a, nil
}

// =============================================================================
// RUN STORE (engine.RunStore)
// =============================================================================

func (s *Store) Claim(ctx context.Context, periodKey string, tierID engine.TierID, now time.Time, staleAfter time.Duration) (*engine.DistributionRun, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowStr := now.UTC().Format(time.RFC3339)

	// Conditional insert: the primary key makes this the claim for a fresh
	// (period, tier) pair.
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO distribution_runs (period_key, tier_id, status, started_at)
		VALUES (?, ?, 'in_progress', ?)`, periodKey, tierID, nowStr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return &engine.DistributionRun{
			PeriodKey: periodKey,
			TierID:    tierID,
			Status:    engine.RunInProgress,
			StartedAt: now,
		}, true, nil
	}

	existing, err := s.getRunLocked(ctx, periodKey, tierID)
	if err != nil {
		return nil, false, err
	}

	switch existing.Status {
	case engine.RunCompleted:
		return existing, false, nil
	case engine.RunInProgress:
		if now.Sub(existing.StartedAt) < staleAfter {
			return nil, false, engine.ErrRunInProgress
		}
	}

	// Compare-and-swap takeover of a failed_partial or stale in_progress run.
	res, err = s.db.ExecContext(ctx, `
		UPDATE distribution_runs
		SET status = 'in_progress', started_at = ?
		WHERE period_key = ? AND tier_id = ? AND status = ? AND started_at = ?`,
		nowStr, periodKey, tierID, string(existing.Status),
		existing.StartedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, false, fmt.Errorf("failed to take over run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Another worker won the takeover between our read and write.
		return nil, false, engine.ErrRunInProgress
	}

	return existing, true, nil
}

func (s *Store) Save(ctx context.Context, run engine.DistributionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failedJSON []byte
	if len(run.FailedMembers) > 0 {
		failedJSON, _ = json.Marshal(run.FailedMembers)
	}
	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE distribution_runs
		SET status = ?, members_credited = ?, total_credited = ?, failed_members_json = ?,
		    started_at = ?, completed_at = ?
		WHERE period_key = ? AND tier_id = ?`,
		string(run.Status), run.MembersCredited, run.TotalCredited,
		nullString(string(failedJSON)),
		run.StartedAt.UTC().Format(time.RFC3339), completedAt,
		run.PeriodKey, run.TierID)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, periodKey string, tierID engine.TierID) (*engine.DistributionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRunLocked(ctx, periodKey, tierID)
}

func (s *Store) getRunLocked(ctx context.Context, periodKey string, tierID engine.TierID) (*engine.DistributionRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT period_key, tier_id, status, members_credited, total_credited,
		       failed_members_json, started_at, completed_at
		FROM distribution_runs WHERE period_key = ? AND tier_id = ?`,
		periodKey, tierID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) List(ctx context.Context) ([]engine.DistributionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT period_key, tier_id, status, members_credited, total_credited,
		       failed_members_json, started_at, completed_at
		FROM distribution_runs ORDER BY period_key DESC, tier_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []engine.DistributionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*engine.DistributionRun, error) {
	var run engine.DistributionRun
	var status, startedAt string
	var failedJSON, completedAt sql.NullString
	if err := row.Scan(&run.PeriodKey, &run.TierID, &status, &run.MembersCredited,
		&run.TotalCredited, &failedJSON, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	run.Status = engine.RunStatus(status)
	run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		run.CompletedAt = &t
	}
	if failedJSON.Valid && failedJSON.String != "" {
		if err := json.Unmarshal([]byte(failedJSON.String), &run.FailedMembers); err != nil {
			return nil, fmt.Errorf("corrupt failed member list for run %s/%s: %w", run.PeriodKey, run.TierID, err)
		}
	}
	return &run, nil
}

// =============================================================================
// AUDIT LOG (engine.AuditLog)
// =============================================================================

func (s *Store) Append(ctx context.Context, entry engine.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadJSON, _ := json.Marshal(entry.Payload)
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, event_type, member_id, payload_json, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.EventType), entry.MemberID, string(payloadJSON),
		nullString(entry.IdempotencyKey), createdAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_log WHERE idempotency_key = ?", key).Scan(&count)
	return count > 0, err
}

func (s *Store) Query(ctx context.Context, filter engine.AuditFilter) ([]engine.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, event_type, member_id, payload_json, idempotency_key, created_at FROM audit_log`
	var conds []string
	var args []any

	if filter.MemberID != nil {
		conds = append(conds, "member_id = ?")
		args = append(args, *filter.MemberID)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, "event_type IN ("+strings.Join(placeholders, ",")+")")
	}
	if filter.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.From.UTC().Format(time.RFC3339))
	}
	if filter.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.To.UTC().Format(time.RFC3339))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []engine.AuditEntry
	for rows.Next() {
		var e engine.AuditEntry
		var eventType, createdAt string
		var payloadJSON, key sql.NullString
		if err := rows.Scan(&e.ID, &eventType, &e.MemberID, &payloadJSON, &key, &createdAt); err != nil {
			return nil, err
		}
		e.EventType = engine.AuditEventType(eventType)
		e.IdempotencyKey = key.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if payloadJSON.Valid && payloadJSON.String != "" {
			_ = json.Unmarshal([]byte(payloadJSON.String), &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTokens(v *engine.Tokens) any {
	if v == nil {
		return nil
	}
	return *v
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
