// referral.go -- Referral code generation and role assignment at signup.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/MGallo-Code/mecorp/internal/store"
)

// ErrInvalidReferralCode is returned when a non-blank referral code matches no account.
var ErrInvalidReferralCode = errors.New("invalid referral code")

// referralCodeBytes of randomness encode to a 16-char URL-safe code.
const referralCodeBytes = 12

// GenerateReferralCode returns a fresh URL-safe code from 96 random bits.
func GenerateReferralCode() (string, error) {
	b := make([]byte, referralCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating referral code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ReferrerLookup finds the account that owns a referral code.
type ReferrerLookup interface {
	GetAccountByReferralCode(ctx context.Context, code string) (*store.Account, error)
}

// Resolution is the outcome of resolving a signup's referral code.
type Resolution struct {
	Role         store.Role
	ReferredBy   *int64
	ReferralCode string // the new account's own code
}

// ReferralResolver assigns a new account's role from its referrer.
type ReferralResolver struct {
	accounts ReferrerLookup
}

// NewReferralResolver returns a resolver reading referrers from accounts.
func NewReferralResolver(accounts ReferrerLookup) *ReferralResolver {
	return &ReferralResolver{accounts: accounts}
}

// Resolve maps code to a role and referrer. A blank code yields a plain
// customer; a code owned by a manager or admin yields a manager; a code owned
// by a customer yields a customer linked to them. Unknown codes return
// ErrInvalidReferralCode.
func (r *ReferralResolver) Resolve(ctx context.Context, code string) (*Resolution, error) {
	own, err := GenerateReferralCode()
	if err != nil {
		return nil, err
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return &Resolution{Role: store.RoleCustomer, ReferralCode: own}, nil
	}

	referrer, err := r.accounts.GetAccountByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidReferralCode
		}
		return nil, fmt.Errorf("resolving referral code: %w", err)
	}

	role := store.RoleCustomer
	if referrer.Role.Elevated() {
		role = store.RoleManager
	}
	id := referrer.ID
	return &Resolution{Role: role, ReferredBy: &id, ReferralCode: own}, nil
}
