package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockStore returns a PostgresStore over a pgxmock pool and registers a
// cleanup that fails the test if any expectation was left unmet.
func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return NewPostgresStoreWithDB(mock), mock
}

var accountCols = []string{"id", "email", "password_hash", "role", "referral_code", "referred_by", "created_at"}

// --- CreateAccount ---

func TestCreateAccount(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("fills id and created_at", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO accounts`).
			WithArgs("a@example.com", "hash", "customer", "code", pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), created))

		a := &Account{Email: "a@example.com", PasswordHash: "hash", Role: RoleCustomer, ReferralCode: "code"}
		require.NoError(t, s.CreateAccount(ctx, a))
		assert.Equal(t, int64(42), a.ID)
		assert.Equal(t, created, a.CreatedAt)
	})

	t.Run("email unique violation maps to ErrEmailTaken", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO accounts`).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})

		err := s.CreateAccount(ctx, &Account{Email: "a@example.com", Role: RoleCustomer})
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("referral code unique violation maps to ErrReferralCodeTaken", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO accounts`).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_referral_code_key"})

		err := s.CreateAccount(ctx, &Account{Email: "a@example.com", Role: RoleCustomer})
		assert.ErrorIs(t, err, ErrReferralCodeTaken)
	})

	t.Run("other errors are wrapped", func(t *testing.T) {
		s, mock := newMockStore(t)
		boom := errors.New("connection reset")
		mock.ExpectQuery(`INSERT INTO accounts`).WillReturnError(boom)

		err := s.CreateAccount(ctx, &Account{Email: "a@example.com", Role: RoleCustomer})
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrEmailTaken)
	})
}

// --- Account lookups ---

func TestGetAccountByEmail(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("returns account", func(t *testing.T) {
		s, mock := newMockStore(t)
		referrer := int64(7)
		mock.ExpectQuery(`FROM accounts WHERE email = \$1`).
			WithArgs("a@example.com").
			WillReturnRows(pgxmock.NewRows(accountCols).
				AddRow(int64(1), "a@example.com", "hash", "manager", "code", &referrer, created))

		a, err := s.GetAccountByEmail(ctx, "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, int64(1), a.ID)
		assert.Equal(t, RoleManager, a.Role)
		require.NotNil(t, a.ReferredBy)
		assert.Equal(t, int64(7), *a.ReferredBy)
	})

	t.Run("no rows maps to ErrNotFound", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`FROM accounts WHERE email = \$1`).
			WithArgs("missing@example.com").
			WillReturnError(pgx.ErrNoRows)

		a, err := s.GetAccountByEmail(ctx, "missing@example.com")
		assert.Nil(t, a)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("query failure is not ErrNotFound", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`FROM accounts WHERE email = \$1`).
			WillReturnError(errors.New("timeout"))

		_, err := s.GetAccountByEmail(ctx, "a@example.com")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func TestGetAccountByReferralCode(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown code maps to ErrNotFound", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`FROM accounts WHERE referral_code = \$1`).
			WithArgs("nope").
			WillReturnError(pgx.ErrNoRows)

		_, err := s.GetAccountByReferralCode(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEmailExists(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("a@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.EmailExists(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

// --- UpdatePasswordHash ---

func TestUpdatePasswordHash(t *testing.T) {
	ctx := context.Background()

	t.Run("updates one row", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE accounts SET password_hash`).
			WithArgs(int64(3), "newhash").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, s.UpdatePasswordHash(ctx, 3, "newhash"))
	})

	t.Run("missing account returns ErrNotFound", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE accounts SET password_hash`).
			WithArgs(int64(3), "newhash").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, s.UpdatePasswordHash(ctx, 3, "newhash"), ErrNotFound)
	})
}

// --- Dashboard queries ---

func TestListReferrals(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	newer := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`WHERE referred_by = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"email", "role", "created_at"}).
			AddRow("b@example.com", "manager", newer).
			AddRow("c@example.com", "customer", older))

	refs, err := s.ListReferrals(ctx, 1)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "b@example.com", refs[0].Email)
	assert.Equal(t, RoleManager, refs[0].Role)
	assert.Equal(t, older, refs[1].JoinedAt)
}

func TestCountAccountsByRole(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	mock.ExpectQuery(`GROUP BY role`).
		WillReturnRows(pgxmock.NewRows([]string{"role", "count"}).
			AddRow("customer", 5).
			AddRow("manager", 2).
			AddRow("admin", 1))

	counts, err := s.CountAccountsByRole(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleCounts{Total: 8, Customers: 5, Managers: 2, Admins: 1}, counts)
}

// --- Login attempts ---

func TestRecordLoginAttempt(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("inserts row", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`INSERT INTO login_attempts`).
			WithArgs("10.0.0.1", pgxmock.AnyArg(), at, false).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, s.RecordLoginAttempt(ctx, "10.0.0.1", nil, false, at))
	})

	t.Run("insert failure is returned", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`INSERT INTO login_attempts`).
			WillReturnError(errors.New("disk full"))

		assert.Error(t, s.RecordLoginAttempt(ctx, "10.0.0.1", nil, false, at))
	})
}

func TestCountFailedAttempts(t *testing.T) {
	ctx := context.Background()
	since := time.Date(2026, 3, 1, 11, 45, 0, 0, time.UTC)

	t.Run("returns count", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`FROM login_attempts`).
			WithArgs("10.0.0.1", since).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(9))

		n, err := s.CountFailedAttempts(ctx, "10.0.0.1", since)
		require.NoError(t, err)
		assert.Equal(t, 9, n)
	})

	t.Run("cancelled query propagates", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`FROM login_attempts`).
			WillReturnError(context.Canceled)

		_, err := s.CountFailedAttempts(ctx, "10.0.0.1", since)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
