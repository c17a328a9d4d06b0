/*
Package sqlite provides a SQLite-backed implementation of leave.Backend.

PURPOSE:
  Persists leave requests, approval steps and balance rows, and serves the
  read-only reference data the leave core consumes (directory, calendar,
  workflow templates, delegations). Audit entries and in-app notifications
  are recorded in their own tables.

KEY TABLES:
  leave_requests:   One row per request, version-checked updates
  approval_steps:   Steps per request, replaced wholesale on (re)submission
  leave_balances:   One row per (user, year, balance type), version-checked
  leave_types:      Balance policy per type (deducts, exempt, balance type)
  users / teams / offices / holidays: Directory and calendar
  workflow_configs / workflow_steps:  Approval templates
  delegations:      Substitute decision rights
  audit_log / notifications: Sink tables

CONDITIONAL UPDATES:
  UPDATE ... WHERE id = ? AND version = ? ; zero rows affected means another
  writer got there first and surfaces as ErrConcurrentModification.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection. WithTx holds
  the write lock for its whole duration, so only the Tx it hands out may be
  used inside fn.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := leave.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - leave/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Store implements leave.Backend using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ leave.Backend = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database lives and dies with it.
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

// Ping checks the database connection (used by the health endpoint).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Reference data
	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		deducts_balance INTEGER NOT NULL DEFAULT 0,
		balance_exempt INTEGER NOT NULL DEFAULT 0,
		balance_type TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS offices (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		work_week TEXT NOT NULL DEFAULT '1,2,3,4,5'
	);

	CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		manager_id TEXT
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		team_id TEXT,
		office_id TEXT,
		is_hr INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		office_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		recurring INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_office_date ON holidays(office_id, date);

	CREATE TABLE IF NOT EXISTS workflow_configs (
		id TEXT PRIMARY KEY,
		scope_kind TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_workflow_scope ON workflow_configs(scope_kind, scope_id, is_active);

	CREATE TABLE IF NOT EXISTS workflow_steps (
		workflow_id TEXT NOT NULL REFERENCES workflow_configs(id) ON DELETE CASCADE,
		step_order INTEGER NOT NULL,
		step_type TEXT NOT NULL,
		is_required INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS delegations (
		id TEXT PRIMARY KEY,
		from_user TEXT NOT NULL,
		to_user TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_delegations_to_user ON delegations(to_user);

	-- Core entities
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		start_half_day TEXT NOT NULL,
		end_half_day TEXT NOT NULL,
		total_days TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		exceptional_reason TEXT NOT NULL DEFAULT '',
		attachments TEXT NOT NULL DEFAULT '',
		is_company_closure INTEGER NOT NULL DEFAULT 0,
		balance_reserved INTEGER NOT NULL DEFAULT 0,
		reserved_year INTEGER NOT NULL DEFAULT 0,
		reserved_balance_type TEXT NOT NULL DEFAULT '',
		reserved_days TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		submitted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_owner ON leave_requests(owner_id, status);

	CREATE TABLE IF NOT EXISTS approval_steps (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL REFERENCES leave_requests(id) ON DELETE CASCADE,
		step_type TEXT NOT NULL,
		step_order INTEGER NOT NULL,
		is_required INTEGER NOT NULL DEFAULT 1,
		approver_id TEXT NOT NULL,
		action TEXT,
		comment TEXT NOT NULL DEFAULT '',
		decided_at TEXT,
		on_behalf_of TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_approval_steps_request ON approval_steps(request_id);

	CREATE TABLE IF NOT EXISTS leave_balances (
		user_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		balance_type TEXT NOT NULL,
		total_days TEXT NOT NULL,
		carried_over_days TEXT NOT NULL,
		used_days TEXT NOT NULL,
		pending_days TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, year, balance_type)
	);

	-- Sinks
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		on_behalf_of TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		recipients TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (leave.Store.WithTx)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txStore struct {
	q querier
}

func (ts *txStore) GetRequest(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	return getRequest(ctx, ts.q, id)
}

func (ts *txStore) InsertRequest(ctx context.Context, r *leave.LeaveRequest) error {
	return insertRequest(ctx, ts.q, r)
}

func (ts *txStore) UpdateRequest(ctx context.Context, r *leave.LeaveRequest) error {
	return updateRequest(ctx, ts.q, r)
}

func (ts *txStore) ListSteps(ctx context.Context, requestID string) ([]leave.ApprovalStep, error) {
	return listSteps(ctx, ts.q, requestID)
}

func (ts *txStore) ReplaceSteps(ctx context.Context, requestID string, steps []leave.ApprovalStep) error {
	return replaceSteps(ctx, ts.q, requestID, steps)
}

func (ts *txStore) UpdateStep(ctx context.Context, step leave.ApprovalStep) error {
	return updateStep(ctx, ts.q, step)
}

func (ts *txStore) GetLeaveType(ctx context.Context, id string) (*leave.LeaveType, error) {
	return getLeaveType(ctx, ts.q, id)
}

func (ts *txStore) GetBalance(ctx context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	return getBalance(ctx, ts.q, key)
}

func (ts *txStore) InsertBalance(ctx context.Context, b *leave.LeaveBalance) error {
	return insertBalance(ctx, ts.q, b)
}

func (ts *txStore) UpdateBalance(ctx context.Context, b *leave.LeaveBalance) error {
	return updateBalance(ctx, ts.q, b)
}

// =============================================================================
// STORE READS (outside a transaction)
// =============================================================================

func (s *Store) GetRequest(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

func (s *Store) ListSteps(ctx context.Context, requestID string) ([]leave.ApprovalStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSteps(ctx, s.db, requestID)
}

func (s *Store) GetBalance(ctx context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(ctx, s.db, key)
}

func (s *Store) GetLeaveType(ctx context.Context, id string) (*leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLeaveType(ctx, s.db, id)
}

// =============================================================================
// HELPERS
// =============================================================================

const dateLayout = "2006-01-02"

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func parseDate(s string) (generic.TimePoint, error) {
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, fmt.Errorf("corrupt date %q: %w", s, err)
	}
	return tp, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// checkAffected maps "no row matched the version" to ErrConcurrentModification,
// or to NotFound when the row does not exist at all.
func checkAffected(ctx context.Context, q querier, res sql.Result, kind, id, existsQuery string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var one int
	err = q.QueryRowContext(ctx, existsQuery, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.NotFound(kind, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s: %w", kind, id, generic.ErrConcurrentModification)
}
