// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (cache layer).
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
// Callers use errors.Is to distinguish "absent" from an infrastructure failure.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned by CreateAccount when the email unique constraint fires.
var ErrEmailTaken = errors.New("email already registered")

// ErrReferralCodeTaken is returned by CreateAccount when the generated referral
// code collides with an existing one. Callers regenerate and retry.
var ErrReferralCodeTaken = errors.New("referral code already in use")

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Role is an account's authorization level.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// Elevated reports whether accounts referred by r are promoted to manager.
func (r Role) Elevated() bool {
	return r == RoleManager || r == RoleAdmin
}

// Account represents a row in the accounts table.
// ReferredBy is nil for accounts that signed up without a referral code.
type Account struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         Role
	ReferralCode string
	ReferredBy   *int64
	CreatedAt    time.Time
}

// LoginAttempt represents a row in the login_attempts table.
// AccountID is nil when the submitted email matched no account.
type LoginAttempt struct {
	ID          int64
	IPAddress   string
	AccountID   *int64
	AttemptTime time.Time
	Success     bool
}

// Referral is one account referred by another, as shown on the dashboard.
type Referral struct {
	Email    string
	Role     Role
	JoinedAt time.Time
}

// RoleCounts is the per-role account tally shown to admins.
type RoleCounts struct {
	Total     int
	Customers int
	Managers  int
	Admins    int
}

// RateLimit defines the policy for a rate-limited action.
// All three fields required, zero values disable the respective behaviour.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // fixed window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is hit
}
