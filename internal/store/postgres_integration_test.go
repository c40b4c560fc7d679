//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a throwaway Postgres, applies migrations and returns a store.
func startPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:18-alpine",
		postgres.WithDatabase("mecorp_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminating postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx, os.DirFS("../../migrations")))
	return s
}

func TestPostgresIntegration(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	t.Run("migrate is idempotent", func(t *testing.T) {
		require.NoError(t, s.Migrate(ctx, os.DirFS("../../migrations")))
	})

	t.Run("repeated migrate leaves the pool usable", func(t *testing.T) {
		for range 3 {
			require.NoError(t, s.Migrate(ctx, os.DirFS("../../migrations")))
		}
		require.NoError(t, s.CheckHealth(ctx))
		exists, err := s.EmailExists(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("concurrent signups for one email have exactly one winner", func(t *testing.T) {
		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = s.CreateAccount(ctx, &Account{
					Email:        "race@example.com",
					PasswordHash: "hash",
					Role:         RoleCustomer,
					ReferralCode: "race-code-" + string(rune('a'+i)),
				})
			}()
		}
		wg.Wait()

		var ok, taken int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrEmailTaken):
				taken++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, n-1, taken)
	})

	t.Run("failed attempts are counted inside the window only", func(t *testing.T) {
		now := time.Now().UTC()
		ip := "198.51.100.7"
		require.NoError(t, s.RecordLoginAttempt(ctx, ip, nil, false, now.Add(-20*time.Minute)))
		require.NoError(t, s.RecordLoginAttempt(ctx, ip, nil, false, now.Add(-5*time.Minute)))
		require.NoError(t, s.RecordLoginAttempt(ctx, ip, nil, true, now.Add(-4*time.Minute)))
		require.NoError(t, s.RecordLoginAttempt(ctx, ip, nil, false, now))

		n, err := s.CountFailedAttempts(ctx, ip, now.Add(-15*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("referrals are listed newest first", func(t *testing.T) {
		referrer := &Account{Email: "ref@example.com", PasswordHash: "h", Role: RoleManager, ReferralCode: "REFCODE1"}
		require.NoError(t, s.CreateAccount(ctx, referrer))
		for _, email := range []string{"first@example.com", "second@example.com"} {
			require.NoError(t, s.CreateAccount(ctx, &Account{
				Email: email, PasswordHash: "h", Role: RoleManager,
				ReferralCode: email, ReferredBy: &referrer.ID,
			}))
		}

		refs, err := s.ListReferrals(ctx, referrer.ID)
		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, "second@example.com", refs[0].Email)
	})
}
