/*
Package postgres provides a PostgreSQL-backed implementation of leave.Backend.

PURPOSE:
  Same tables and semantics as store/sqlite, built for many writers: rows
  touched by a transition are locked with SELECT ... FOR UPDATE and every
  write is still version-checked, so a stale read surfaces as
  ErrConcurrentModification instead of a lost update.

LOCKING:
  Tx.GetRequest and Tx.GetBalance lock the row until commit. Reads through
  the Store itself never lock. Two decisions on the same request therefore
  run one after the other; the second sees the first's step and status.

TYPES:
  Day amounts are NUMERIC(7,1) and travel as text to keep decimal exactness.
  Dates are DATE, instants TIMESTAMPTZ, audit values JSONB.

USAGE:
  store, err := postgres.New(ctx, "postgres://leave@localhost/leave")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - leave/store.go: Interface definitions
  - store/sqlite: Embedded implementation with the same schema
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Store implements leave.Backend on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ leave.Backend = (*Store)(nil)

// New connects to databaseURL and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConns = 10
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		deducts_balance BOOLEAN NOT NULL DEFAULT FALSE,
		balance_exempt BOOLEAN NOT NULL DEFAULT FALSE,
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
		is_hr BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		office_id TEXT NOT NULL DEFAULT '',
		holiday_date DATE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		recurring BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_office_date ON holidays(office_id, holiday_date);

	CREATE TABLE IF NOT EXISTS workflow_configs (
		id TEXT PRIMARY KEY,
		scope_kind TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS workflow_steps (
		workflow_id TEXT NOT NULL REFERENCES workflow_configs(id) ON DELETE CASCADE,
		step_order INTEGER NOT NULL,
		step_type TEXT NOT NULL,
		is_required BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS delegations (
		id TEXT PRIMARY KEY,
		from_user TEXT NOT NULL,
		to_user TEXT NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_by TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_delegations_to_user ON delegations(to_user);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		start_half_day TEXT NOT NULL,
		end_half_day TEXT NOT NULL,
		total_days NUMERIC(7,1) NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		exceptional_reason TEXT NOT NULL DEFAULT '',
		attachments TEXT[] NOT NULL DEFAULT '{}',
		is_company_closure BOOLEAN NOT NULL DEFAULT FALSE,
		balance_reserved BOOLEAN NOT NULL DEFAULT FALSE,
		reserved_year INTEGER NOT NULL DEFAULT 0,
		reserved_balance_type TEXT NOT NULL DEFAULT '',
		reserved_days NUMERIC(7,1) NOT NULL DEFAULT 0,
		version BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		submitted_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_owner ON leave_requests(owner_id, status);

	CREATE TABLE IF NOT EXISTS approval_steps (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL REFERENCES leave_requests(id) ON DELETE CASCADE,
		step_type TEXT NOT NULL,
		step_order INTEGER NOT NULL,
		is_required BOOLEAN NOT NULL DEFAULT TRUE,
		approver_id TEXT NOT NULL,
		action TEXT,
		comment TEXT NOT NULL DEFAULT '',
		decided_at TIMESTAMPTZ,
		on_behalf_of TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_approval_steps_request ON approval_steps(request_id);

	CREATE TABLE IF NOT EXISTS leave_balances (
		user_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		balance_type TEXT NOT NULL,
		total_days NUMERIC(7,1) NOT NULL,
		carried_over_days NUMERIC(7,1) NOT NULL,
		used_days NUMERIC(7,1) NOT NULL,
		pending_days NUMERIC(7,1) NOT NULL,
		version BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, year, balance_type)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		old_value JSONB,
		new_value JSONB,
		on_behalf_of TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		recipients TEXT[] NOT NULL,
		kind TEXT NOT NULL,
		payload JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);
	`)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx runs fn in a READ COMMITTED transaction. Row locks taken by the Tx
// are held until commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(&txStore{q: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txStore struct {
	q querier
}

func (ts *txStore) GetRequest(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	return getRequest(ctx, ts.q, id, true)
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
	return getBalance(ctx, ts.q, key, true)
}

func (ts *txStore) InsertBalance(ctx context.Context, b *leave.LeaveBalance) error {
	return insertBalance(ctx, ts.q, b)
}

func (ts *txStore) UpdateBalance(ctx context.Context, b *leave.LeaveBalance) error {
	return updateBalance(ctx, ts.q, b)
}

// =============================================================================
// STORE READS (no locks)
// =============================================================================

func (s *Store) GetRequest(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	return getRequest(ctx, s.pool, id, false)
}

func (s *Store) ListSteps(ctx context.Context, requestID string) ([]leave.ApprovalStep, error) {
	return listSteps(ctx, s.pool, requestID)
}

func (s *Store) GetBalance(ctx context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	return getBalance(ctx, s.pool, key, false)
}

func (s *Store) GetLeaveType(ctx context.Context, id string) (*leave.LeaveType, error) {
	return getLeaveType(ctx, s.pool, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func dateValue(tp generic.TimePoint) time.Time {
	return time.Date(tp.Year(), tp.Month(), tp.Day(), 0, 0, 0, 0, time.UTC)
}

func parseAmount(kind, id, s string) (generic.Amount, error) {
	a, err := generic.ParseAmount(s)
	if err != nil {
		return generic.Amount{}, fmt.Errorf("corrupt amount on %s %s: %w", kind, id, err)
	}
	return a, nil
}

// checkAffected maps zero updated rows to NotFound or ErrConcurrentModification.
func checkAffected(ctx context.Context, q querier, tag pgconn.CommandTag, kind, id, existsQuery string, args ...any) error {
	if tag.RowsAffected() == 1 {
		return nil
	}
	var one int
	err := q.QueryRow(ctx, existsQuery, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.NotFound(kind, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s: %w", kind, id, generic.ErrConcurrentModification)
}
