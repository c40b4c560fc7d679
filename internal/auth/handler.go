// handler.go -- HTTP handlers for all /auth/* endpoints.
package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/MGallo-Code/mecorp/internal/ipblock"
	"github.com/MGallo-Code/mecorp/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 16 << 10

// Store defines the read-side database operations needed by handlers.
// Satisfied by *store.PostgresStore; defined here at the consumer.
type Store interface {
	GetAccountByID(ctx context.Context, id int64) (*store.Account, error)
	ListReferrals(ctx context.Context, id int64) ([]store.Referral, error)
	CountAccountsByRole(ctx context.Context) (store.RoleCounts, error)
	CheckHealth(ctx context.Context) error
}

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisRateLimiter and *store.MemoryRateLimiter.
type RateLimiter interface {
	// Allow records the attempt and returns store.ErrRateLimitExceeded when over policy.
	Allow(ctx context.Context, key string, policy store.RateLimit) error
}

// IPGate decides whether an IP may attempt a login. Satisfied by *ipblock.Gate.
type IPGate interface {
	CheckAndAdmit(ctx context.Context, ip string) (ipblock.Decision, error)
}

// HealthChecker reports whether an optional dependency is reachable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// AuthHandler holds dependencies for all HTTP handlers and middleware.
type AuthHandler struct {
	Svc      *Service
	Sessions *SessionIssuer
	PS       Store
	Gate     IPGate
	RL       RateLimiter
	RateIP   store.RateLimit
	Cache    HealthChecker // nil when Redis is not configured
}

type loginResponse struct {
	Success        bool       `json:"success"`
	AccountID      int64      `json:"account_id,omitempty"`
	Role           store.Role `json:"role,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	IsCaptchaError bool       `json:"is_captcha_error,omitempty"`
}

type registerResponse struct {
	Success        bool       `json:"success"`
	NewAccountID   int64      `json:"new_account_id,omitempty"`
	Role           store.Role `json:"role,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	IsCaptchaError bool       `json:"is_captcha_error,omitempty"`
}

// decodeJSON reads a size-capped JSON body into v. Writes 400 and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		logWarn(r, "failed to decode request body", "error", err)
		BadRequest(w, r, "Invalid request body.")
		return false
	}
	return true
}

// Login handles POST /auth/login.
// Returns 200 with a session cookie, 400 for bad input or CAPTCHA failure,
// 401 for bad credentials (same body whether or not the email exists).
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := validateRequest(&req); msg != "" {
		BadRequest(w, r, msg)
		return
	}

	res, err := h.Svc.Login(r.Context(), LoginInput{
		Email:        req.Email,
		Password:     req.Password,
		CaptchaToken: req.CaptchaToken,
		ClientIP:     ClientIP(r),
	})
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	switch {
	case res.IsCaptchaError:
		writeJSON(w, http.StatusBadRequest, loginResponse{ErrorMessage: res.ErrorMessage, IsCaptchaError: true})
		return
	case !res.Success:
		writeJSON(w, http.StatusUnauthorized, loginResponse{ErrorMessage: res.ErrorMessage})
		return
	}

	if _, err := h.Sessions.Issue(w, *res.Identity); err != nil {
		InternalServerError(w, r, err)
		return
	}
	logInfo(r, "session issued", "account_id", res.Identity.AccountID)
	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		AccountID: res.Identity.AccountID,
		Role:      res.Identity.Role,
	})
}

// Register handles POST /auth/register.
// Returns 201 with the new account id, 400 for bad input, CAPTCHA failure or
// an unknown referral code, 409 if the email is taken.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := validateRegister(&req); msg != "" {
		BadRequest(w, r, msg)
		return
	}

	res, err := h.Svc.Register(r.Context(), RegisterInput{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		ReferralCode:    req.ReferralCode,
		CaptchaToken:    req.CaptchaToken,
		ClientIP:        ClientIP(r),
	})
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	switch {
	case res.Success:
		writeJSON(w, http.StatusCreated, registerResponse{Success: true, NewAccountID: res.NewAccountID, Role: res.Role})
	case res.IsCaptchaError:
		writeJSON(w, http.StatusBadRequest, registerResponse{ErrorMessage: res.ErrorMessage, IsCaptchaError: true})
	case res.IsEmailTaken:
		writeJSON(w, http.StatusConflict, registerResponse{ErrorMessage: res.ErrorMessage})
	default:
		writeJSON(w, http.StatusBadRequest, registerResponse{ErrorMessage: res.ErrorMessage})
	}
}

// Logout handles POST /auth/logout and clears the session cookie.
// Tokens are stateless, so an already-copied token stays valid until it expires.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Sessions.Clear(w)
	if id, ok := IdentityFromContext(r.Context()); ok {
		logInfo(r, "logged out", "account_id", id.AccountID)
	}
	OK(w, "Logged out.")
}
