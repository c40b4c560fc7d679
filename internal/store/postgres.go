// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// Constraint names from migrations/00001_create_accounts.sql.
const (
	emailConstraint        = "accounts_email_key"
	referralCodeConstraint = "accounts_referral_code_key"
)

// DB is the subset of *pgxpool.Pool the store queries through.
// pgxmock's pool satisfies it, so queries are testable without a database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore is the durable store for accounts and login attempts.
type PostgresStore struct {
	db DB
	// pool is nil when built via NewPostgresStoreWithDB; only Migrate needs it.
	pool *pgxpool.Pool
}

// NewPostgresStore creates and returns a verified connection pool
// to PostgreSQL wrapped in a store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &PostgresStore{db: pool, pool: pool}, nil
}

// NewPostgresStoreWithDB wraps an existing connection (a pgxmock pool in tests).
func NewPostgresStoreWithDB(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.db.Close()
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.db.Ping(ctx)
}

const accountColumns = `id, email, password_hash, role, referral_code, referred_by, created_at`

// scanAccount reads one accounts row selected with accountColumns.
// Maps pgx.ErrNoRows to ErrNotFound.
func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var role string
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &role, &a.ReferralCode, &a.ReferredBy, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Role = Role(role)
	return &a, nil
}

// CreateAccount inserts a new account and fills in its ID and CreatedAt.
// Returns ErrEmailTaken or ErrReferralCodeTaken when the matching unique
// constraint fires, so concurrent signups for one email resolve to exactly one winner.
func (s *PostgresStore) CreateAccount(ctx context.Context, a *Account) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO accounts (email, password_hash, role, referral_code, referred_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		a.Email, a.PasswordHash, string(a.Role), a.ReferralCode, a.ReferredBy,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case emailConstraint:
				return ErrEmailTaken
			case referralCodeConstraint:
				return ErrReferralCodeTaken
			}
		}
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

// GetAccountByEmail fetches an account by exact email.
func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("fetching account by email: %w", err)
	}
	return a, err
}

// GetAccountByID fetches an account by primary key.
func (s *PostgresStore) GetAccountByID(ctx context.Context, id int64) (*Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("fetching account by id: %w", err)
	}
	return a, err
}

// GetAccountByReferralCode fetches the account owning the given referral code.
func (s *PostgresStore) GetAccountByReferralCode(ctx context.Context, code string) (*Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE referral_code = $1`, code))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("fetching account by referral code: %w", err)
	}
	return a, err
}

// EmailExists reports whether an account already uses email.
func (s *PostgresStore) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE email = $1)`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email: %w", err)
	}
	return exists, nil
}

// UpdatePasswordHash replaces an account's password hash.
// Returns ErrNotFound if no account has the given id.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("updating password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReferrals returns the accounts referred by id, newest first.
func (s *PostgresStore) ListReferrals(ctx context.Context, id int64) ([]Referral, error) {
	rows, err := s.db.Query(ctx,
		`SELECT email, role, created_at FROM accounts
		WHERE referred_by = $1
		ORDER BY created_at DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("listing referrals: %w", err)
	}
	defer rows.Close()

	var out []Referral
	for rows.Next() {
		var ref Referral
		var role string
		if err := rows.Scan(&ref.Email, &role, &ref.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning referral: %w", err)
		}
		ref.Role = Role(role)
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing referrals: %w", err)
	}
	return out, nil
}

// CountAccountsByRole tallies accounts per role.
func (s *PostgresStore) CountAccountsByRole(ctx context.Context) (RoleCounts, error) {
	var counts RoleCounts
	rows, err := s.db.Query(ctx, `SELECT role, COUNT(*) FROM accounts GROUP BY role`)
	if err != nil {
		return counts, fmt.Errorf("counting accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return counts, fmt.Errorf("scanning role count: %w", err)
		}
		counts.Total += n
		switch Role(role) {
		case RoleCustomer:
			counts.Customers = n
		case RoleManager:
			counts.Managers = n
		case RoleAdmin:
			counts.Admins = n
		}
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("counting accounts: %w", err)
	}
	return counts, nil
}

// RecordLoginAttempt appends one row to login_attempts.
// accountID is nil when the submitted email matched no account.
func (s *PostgresStore) RecordLoginAttempt(ctx context.Context, ip string, accountID *int64, success bool, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO login_attempts (ip_address, account_id, attempt_time, success)
		VALUES ($1, $2, $3, $4)`,
		ip, accountID, at, success)
	if err != nil {
		return fmt.Errorf("recording login attempt: %w", err)
	}
	return nil
}

// CountFailedAttempts counts failed login attempts from ip at or after since.
func (s *PostgresStore) CountFailedAttempts(ctx context.Context, ip string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND NOT success AND attempt_time >= $2`,
		ip, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting failed attempts: %w", err)
	}
	return n, nil
}
