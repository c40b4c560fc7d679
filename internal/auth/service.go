// service.go -- Login and registration orchestration.
//
// Handlers validate input shape and resolve the client IP; everything that
// decides whether a credential is accepted lives here.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MGallo-Code/mecorp/internal/metrics"
	"github.com/MGallo-Code/mecorp/internal/store"
)

// User-facing messages. Login failures share one message so responses do not
// reveal whether the email exists.
const (
	MsgCaptchaFailed      = "CAPTCHA verification failed. Please try again."
	MsgInvalidCredentials = "Invalid email or password."
	MsgEmailTaken         = "This email address is already registered."
	MsgInvalidReferral    = "Invalid referral code."
)

// maxReferralCodeAttempts bounds regeneration after referral code collisions.
const maxReferralCodeAttempts = 3

// ErrPasswordMismatch is returned by Register when the confirmation differs.
// Handlers validate this first, so reaching it is a caller bug.
var ErrPasswordMismatch = errors.New("password confirmation does not match")

var tracer = otel.Tracer("github.com/MGallo-Code/mecorp/internal/auth")

// CaptchaVerifier decides whether a CAPTCHA token admits the request.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) bool
}

// AccountStore is the account persistence the orchestrators need.
type AccountStore interface {
	ReferrerLookup
	GetAccountByEmail(ctx context.Context, email string) (*store.Account, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	CreateAccount(ctx context.Context, a *store.Account) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
}

// LoginInput is a login request after shape validation.
type LoginInput struct {
	Email        string
	Password     string
	CaptchaToken string
	ClientIP     string
}

// LoginResult reports a login outcome. Identity is set only on success.
type LoginResult struct {
	Success        bool
	ErrorMessage   string
	IsCaptchaError bool
	Identity       *Identity
}

// RegisterInput is a registration request after shape validation.
type RegisterInput struct {
	Email           string
	Password        string
	ConfirmPassword string
	ReferralCode    string
	CaptchaToken    string
	ClientIP        string
}

// RegisterResult reports a registration outcome.
type RegisterResult struct {
	Success        bool
	NewAccountID   int64
	Role           store.Role
	ErrorMessage   string
	IsCaptchaError bool
	// IsEmailTaken marks a duplicate email, from the pre-check or a lost insert race.
	IsEmailTaken bool
}

// Service runs the login and registration pipelines.
type Service struct {
	accounts  AccountStore
	ledger    *Ledger
	captcha   CaptchaVerifier
	referrals *ReferralResolver
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the time source used for ledger timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires the pipelines over accounts, the attempt ledger and the CAPTCHA gate.
func NewService(accounts AccountStore, ledger *Ledger, cv CaptchaVerifier, opts ...ServiceOption) *Service {
	s := &Service{
		accounts:  accounts,
		ledger:    ledger,
		captcha:   cv,
		referrals: NewReferralResolver(accounts),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ledger returns the attempt ledger, shared with the IP block gate.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// Login runs CAPTCHA check, credential check and outcome recording.
// Policy rejections come back as a result; only infrastructure failures are errors.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer span.End()

	if !s.captcha.Verify(ctx, in.CaptchaToken, in.ClientIP) {
		s.logger.Warn("login rejected", "reason", "captcha_failed", "ip", in.ClientIP)
		metrics.LoginAttempts.WithLabelValues("captcha_failed").Inc()
		span.SetAttributes(attribute.String("auth.outcome", "captcha_failed"))
		return &LoginResult{ErrorMessage: MsgCaptchaFailed, IsCaptchaError: true}, nil
	}

	acct, err := s.accounts.GetAccountByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account lookup failed")
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	var accountID *int64
	var ok bool
	if acct == nil {
		// Same bcrypt work as a real check so response time does not reveal the miss.
		VerifyPassword(in.Password, dummyPasswordHash())
	} else {
		accountID = &acct.ID
		ok = VerifyPassword(in.Password, acct.PasswordHash)
	}

	s.ledger.Record(ctx, in.ClientIP, accountID, ok, s.now())

	if !ok {
		reason := "wrong_password"
		if acct == nil {
			reason = "unknown_email"
		}
		s.logger.Warn("login rejected", "reason", reason, "ip", in.ClientIP)
		metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		span.SetAttributes(attribute.String("auth.outcome", "invalid_credentials"))
		return &LoginResult{ErrorMessage: MsgInvalidCredentials}, nil
	}

	s.maybeRehash(ctx, acct, in.Password)

	s.logger.Info("login succeeded", "account_id", acct.ID, "ip", in.ClientIP)
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	span.SetAttributes(attribute.String("auth.outcome", "success"))
	return &LoginResult{
		Success:  true,
		Identity: &Identity{AccountID: acct.ID, Email: acct.Email, Role: acct.Role},
	}, nil
}

// maybeRehash upgrades legacy or weak hashes after a verified login. Best effort.
func (s *Service) maybeRehash(ctx context.Context, acct *store.Account, password string) {
	if !NeedsRehash(acct.PasswordHash) {
		return
	}
	hash, err := HashPassword(password)
	if err != nil {
		s.logger.Warn("password rehash failed", "account_id", acct.ID, "error", err)
		return
	}
	if err := s.accounts.UpdatePasswordHash(ctx, acct.ID, hash); err != nil {
		s.logger.Warn("password rehash failed", "account_id", acct.ID, "error", err)
		return
	}
	s.logger.Info("password rehashed", "account_id", acct.ID)
}

// Register runs CAPTCHA check, email uniqueness, referral resolution and persist.
// Nothing is written unless every check passes.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	ctx, span := tracer.Start(ctx, "auth.register")
	defer span.End()

	if in.Password != in.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	reject := func(outcome string, res RegisterResult) (*RegisterResult, error) {
		s.logger.Warn("registration rejected", "reason", outcome, "ip", in.ClientIP)
		metrics.Registrations.WithLabelValues(outcome).Inc()
		span.SetAttributes(attribute.String("auth.outcome", outcome))
		return &res, nil
	}
	emailTaken := RegisterResult{ErrorMessage: MsgEmailTaken, IsEmailTaken: true}
	fail := func(err error) (*RegisterResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registration failed")
		return nil, err
	}

	if !s.captcha.Verify(ctx, in.CaptchaToken, in.ClientIP) {
		return reject("captcha_failed", RegisterResult{ErrorMessage: MsgCaptchaFailed, IsCaptchaError: true})
	}

	exists, err := s.accounts.EmailExists(ctx, in.Email)
	if err != nil {
		return fail(fmt.Errorf("checking email: %w", err))
	}
	if exists {
		return reject("email_taken", emailTaken)
	}

	res, err := s.referrals.Resolve(ctx, in.ReferralCode)
	if err != nil {
		if errors.Is(err, ErrInvalidReferralCode) {
			return reject("invalid_referral", RegisterResult{ErrorMessage: MsgInvalidReferral})
		}
		return fail(err)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return fail(err)
	}

	acct := &store.Account{
		Email:        in.Email,
		PasswordHash: hash,
		Role:         res.Role,
		ReferralCode: res.ReferralCode,
		ReferredBy:   res.ReferredBy,
	}
	for attempt := 1; ; attempt++ {
		err = s.accounts.CreateAccount(ctx, acct)
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, store.ErrEmailTaken):
			// Lost a race with a concurrent signup for the same email.
			return reject("email_taken", emailTaken)
		case errors.Is(err, store.ErrReferralCodeTaken) && attempt < maxReferralCodeAttempts:
			if acct.ReferralCode, err = GenerateReferralCode(); err != nil {
				return fail(err)
			}
		default:
			return fail(fmt.Errorf("creating account: %w", err))
		}
	}

	s.logger.Info("account registered", "account_id", acct.ID, "role", string(acct.Role), "ip", in.ClientIP)
	metrics.Registrations.WithLabelValues("success").Inc()
	span.SetAttributes(attribute.String("auth.outcome", "success"))
	return &RegisterResult{Success: true, NewAccountID: acct.ID, Role: acct.Role}, nil
}
