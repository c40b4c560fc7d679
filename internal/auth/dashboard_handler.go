// dashboard_handler.go -- Account overview for GET /dashboard.
package auth

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/MGallo-Code/mecorp/internal/store"
)

type referralView struct {
	Email    string     `json:"email"`
	Role     store.Role `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

type roleStats struct {
	TotalAccounts int `json:"total_accounts"`
	Customers     int `json:"customers"`
	Managers      int `json:"managers"`
	Admins        int `json:"admins"`
}

type dashboardResponse struct {
	AccountID    int64          `json:"account_id"`
	Email        string         `json:"email"`
	Role         store.Role     `json:"role"`
	ReferralCode string         `json:"referral_code"`
	ReferralLink string         `json:"referral_link"`
	CreatedAt    time.Time      `json:"created_at"`
	Referrals    []referralView `json:"referrals"`
	Stats        *roleStats     `json:"stats,omitempty"`
}

// referralLink is the signup URL path that pre-fills code.
func referralLink(code string) string {
	return "/auth/register?ref=" + url.QueryEscape(code)
}

// Dashboard handles GET /dashboard (authenticated).
// Returns the caller's account, the accounts they referred (newest first)
// and, for admins, per-role totals.
func (h *AuthHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		Unauthorized(w, r, "unauthorized")
		return
	}

	acct, err := h.PS.GetAccountByID(r.Context(), id.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Token outlived its account.
			logWarn(r, "dashboard for missing account", "account_id", id.AccountID)
			h.Sessions.Clear(w)
			Unauthorized(w, r, "unauthorized")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	refs, err := h.PS.ListReferrals(r.Context(), acct.ID)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	resp := dashboardResponse{
		AccountID:    acct.ID,
		Email:        acct.Email,
		Role:         acct.Role,
		ReferralCode: acct.ReferralCode,
		ReferralLink: referralLink(acct.ReferralCode),
		CreatedAt:    acct.CreatedAt,
		Referrals:    make([]referralView, 0, len(refs)),
	}
	for _, ref := range refs {
		resp.Referrals = append(resp.Referrals, referralView{Email: ref.Email, Role: ref.Role, JoinedAt: ref.JoinedAt})
	}

	// Role comes from the database, not the token, so a demoted admin loses stats immediately.
	if acct.Role == store.RoleAdmin {
		counts, err := h.PS.CountAccountsByRole(r.Context())
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		resp.Stats = &roleStats{
			TotalAccounts: counts.Total,
			Customers:     counts.Customers,
			Managers:      counts.Managers,
			Admins:        counts.Admins,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
