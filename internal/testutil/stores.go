// stores.go
//
// Shared mock implementations of the store, CAPTCHA and rate limiter interfaces.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MGallo-Code/mecorp/internal/store"
)

// MockStore is an in-memory accounts + login_attempts store.
//
// Always stateful...accounts and attempts behave like the real tables,
// including the email and referral code unique constraints.
// Use *Err fields to inject errors for specific operations.
type MockStore struct {
	// Error injection...zero value means no error
	GetAccountErr     error
	EmailExistsErr    error
	CreateAccountErr  error
	UpdatePasswordErr error
	ListReferralsErr  error
	CountAccountsErr  error
	RecordAttemptErr  error
	CountFailedErr    error
	PingErr           error

	// ReferralCollisions makes the next N CreateAccount calls fail with
	// ErrReferralCodeTaken before the insert is considered.
	ReferralCollisions int

	accounts []*store.Account
	attempts []store.LoginAttempt
	nextID   int64

	mu sync.Mutex
}

// NewMockStore returns a MockStore seeded with the given accounts.
// Accounts with a zero ID get the next free one.
func NewMockStore(accounts ...*store.Account) *MockStore {
	m := &MockStore{}
	for _, a := range accounts {
		m.insert(a)
	}
	return m
}

// insert assigns an ID if needed and stores a copy. Caller holds mu (or is the constructor).
func (m *MockStore) insert(a *store.Account) {
	if a.ID == 0 {
		m.nextID++
		a.ID = m.nextID
	} else if a.ID > m.nextID {
		m.nextID = a.ID
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	m.accounts = append(m.accounts, &cp)
}

func (m *MockStore) find(match func(*store.Account) bool) (*store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if match(a) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) GetAccountByEmail(_ context.Context, email string) (*store.Account, error) {
	if m.GetAccountErr != nil {
		return nil, m.GetAccountErr
	}
	return m.find(func(a *store.Account) bool { return a.Email == email })
}

func (m *MockStore) GetAccountByID(_ context.Context, id int64) (*store.Account, error) {
	if m.GetAccountErr != nil {
		return nil, m.GetAccountErr
	}
	return m.find(func(a *store.Account) bool { return a.ID == id })
}

func (m *MockStore) GetAccountByReferralCode(_ context.Context, code string) (*store.Account, error) {
	if m.GetAccountErr != nil {
		return nil, m.GetAccountErr
	}
	return m.find(func(a *store.Account) bool { return a.ReferralCode == code })
}

func (m *MockStore) EmailExists(_ context.Context, email string) (bool, error) {
	if m.EmailExistsErr != nil {
		return false, m.EmailExistsErr
	}
	_, err := m.find(func(a *store.Account) bool { return a.Email == email })
	return err == nil, nil
}

func (m *MockStore) CreateAccount(_ context.Context, a *store.Account) error {
	if m.CreateAccountErr != nil {
		return m.CreateAccountErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReferralCollisions > 0 {
		m.ReferralCollisions--
		return store.ErrReferralCodeTaken
	}
	for _, existing := range m.accounts {
		if existing.Email == a.Email {
			return store.ErrEmailTaken
		}
		if existing.ReferralCode == a.ReferralCode {
			return store.ErrReferralCodeTaken
		}
	}
	a.ID = 0
	a.CreatedAt = time.Now().UTC()
	m.insert(a)
	return nil
}

func (m *MockStore) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	if m.UpdatePasswordErr != nil {
		return m.UpdatePasswordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ID == id {
			a.PasswordHash = hash
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *MockStore) ListReferrals(_ context.Context, id int64) ([]store.Referral, error) {
	if m.ListReferralsErr != nil {
		return nil, m.ListReferralsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Referral
	// Newest first; accounts are appended in creation order.
	for i := len(m.accounts) - 1; i >= 0; i-- {
		a := m.accounts[i]
		if a.ReferredBy != nil && *a.ReferredBy == id {
			out = append(out, store.Referral{Email: a.Email, Role: a.Role, JoinedAt: a.CreatedAt})
		}
	}
	return out, nil
}

func (m *MockStore) CountAccountsByRole(_ context.Context) (store.RoleCounts, error) {
	if m.CountAccountsErr != nil {
		return store.RoleCounts{}, m.CountAccountsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var c store.RoleCounts
	for _, a := range m.accounts {
		c.Total++
		switch a.Role {
		case store.RoleCustomer:
			c.Customers++
		case store.RoleManager:
			c.Managers++
		case store.RoleAdmin:
			c.Admins++
		}
	}
	return c, nil
}

func (m *MockStore) RecordLoginAttempt(_ context.Context, ip string, accountID *int64, success bool, at time.Time) error {
	if m.RecordAttemptErr != nil {
		return m.RecordAttemptErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, store.LoginAttempt{
		ID:          int64(len(m.attempts) + 1),
		IPAddress:   ip,
		AccountID:   accountID,
		AttemptTime: at,
		Success:     success,
	})
	return nil
}

func (m *MockStore) CountFailedAttempts(_ context.Context, ip string, since time.Time) (int, error) {
	if m.CountFailedErr != nil {
		return 0, m.CountFailedErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, at := range m.attempts {
		if at.IPAddress == ip && !at.Success && !at.AttemptTime.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MockStore) CheckHealth(_ context.Context) error {
	return m.PingErr
}

// Attempts returns a copy of every recorded login attempt.
func (m *MockStore) Attempts() []store.LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.LoginAttempt(nil), m.attempts...)
}

// Accounts returns copies of every stored account.
func (m *MockStore) Accounts() []store.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	return out
}

// MockCaptcha implements auth.CaptchaVerifier.
// Zero value passes every token; set Reject to fail them all.
type MockCaptcha struct {
	Reject bool
	calls  atomic.Int32
}

func (c *MockCaptcha) Verify(_ context.Context, _, _ string) bool {
	c.calls.Add(1)
	return !c.Reject
}

// Calls returns how many times Verify ran.
func (c *MockCaptcha) Calls() int {
	return int(c.calls.Load())
}

// MockRateLimiter implements auth.RateLimiter.
// AllowErr is returned from every Allow call; nil allows.
type MockRateLimiter struct {
	AllowErr error
	mu       sync.Mutex
	Keys     []string
}

func (l *MockRateLimiter) Allow(_ context.Context, key string, _ store.RateLimit) error {
	l.mu.Lock()
	l.Keys = append(l.Keys, key)
	l.mu.Unlock()
	return l.AllowErr
}
