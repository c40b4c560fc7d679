// seed.go

// Demo accounts created at startup in development.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MGallo-Code/mecorp/internal/auth"
	"github.com/MGallo-Code/mecorp/internal/store"
)

// Store is the subset of *store.PostgresStore the seeder needs.
type Store interface {
	GetAccountByEmail(ctx context.Context, email string) (*store.Account, error)
	CreateAccount(ctx context.Context, a *store.Account) error
}

// Account is one seeded login.
type Account struct {
	Email        string
	Password     string
	Role         store.Role
	ReferralCode string
}

// Defaults are the accounts created by Run.
var Defaults = []Account{
	{Email: "admin@mecorp.com", Password: "Admin123!", Role: store.RoleAdmin, ReferralCode: "ADMIN2026SEED"},
	{Email: "manager@mecorp.com", Password: "Manager123!", Role: store.RoleManager, ReferralCode: "MGR2026SEED01"},
	{Email: "customer@mecorp.com", Password: "Customer123!", Role: store.RoleCustomer, ReferralCode: "CUST2026SEED"},
}

// Run ensures every account in accounts exists. An existing account is never
// modified, so a password rotated after seeding survives restarts.
func Run(ctx context.Context, s Store, accounts []Account, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, a := range accounts {
		if err := ensure(ctx, s, a, logger); err != nil {
			return fmt.Errorf("seeding %s: %w", a.Email, err)
		}
	}
	return nil
}

func ensure(ctx context.Context, s Store, a Account, logger *slog.Logger) error {
	existing, err := s.GetAccountByEmail(ctx, a.Email)
	switch {
	case err == nil:
		if !auth.VerifyPassword(a.Password, existing.PasswordHash) {
			logger.Warn("seed account password differs from default; leaving it unchanged", "email", a.Email)
		}
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	hash, err := auth.HashPassword(a.Password)
	if err != nil {
		return err
	}
	acct := &store.Account{
		Email:        a.Email,
		PasswordHash: hash,
		Role:         a.Role,
		ReferralCode: a.ReferralCode,
	}
	if err := s.CreateAccount(ctx, acct); err != nil {
		// Another instance seeded it first.
		if errors.Is(err, store.ErrEmailTaken) {
			return nil
		}
		return err
	}
	logger.Info("seed account created", "email", a.Email, "role", a.Role, "account_id", acct.ID)
	return nil
}
