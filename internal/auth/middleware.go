// middleware.go

// Session authentication, IP blocking, rate limiting and response headers.
package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/MGallo-Code/mecorp/internal/ipblock"
	"github.com/MGallo-Code/mecorp/internal/metrics"
	"github.com/MGallo-Code/mecorp/internal/store"
)

// MsgIPBlocked is the 403 body for blocked IPs.
const MsgIPBlocked = "Your IP address has been temporarily blocked due to too many failed login attempts."

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const identityKey contextKey = "identity"

// IdentityFromContext retrieves the authenticated identity from context.
// Returns false if RequireAuth hasn't run.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// ClientIP returns the request's remote IP without the port. RemoteAddr is the
// TCP peer unless RealIPFromTrustedProxies rewrote it for a trusted proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RealIPFromTrustedProxies replaces RemoteAddr with the forwarded client
// address, but only when the TCP peer falls inside trusted. Headers from any
// other peer are ignored, so a client cannot choose its own IP block key.
// With no trusted prefixes the handler is returned unchanged.
func RealIPFromTrustedProxies(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip, ok := forwardedFor(r, trusted); ok {
				r.RemoteAddr = net.JoinHostPort(ip.String(), "0")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedFor picks the client address a trusted peer reported. The rightmost
// X-Forwarded-For hop outside trusted wins, since hops left of it were written
// by the client. X-Real-IP is used when no such hop exists.
func forwardedFor(r *http.Request, trusted []netip.Prefix) (netip.Addr, bool) {
	peer, err := netip.ParseAddr(ClientIP(r))
	if err != nil || !isTrusted(peer.Unmap(), trusted) {
		return netip.Addr{}, false
	}

	if xff := strings.Join(r.Header.Values("X-Forwarded-For"), ","); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				// Unparseable hop; anything left of it is unverifiable.
				break
			}
			addr = addr.Unmap()
			if !isTrusted(addr, trusted) {
				return addr, true
			}
		}
	}

	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		if addr, err := netip.ParseAddr(v); err == nil {
			return addr.Unmap(), true
		}
	}
	return netip.Addr{}, false
}

// RequireAuth validates the session cookie and injects the identity into context.
// Slides the session forward once half its lifetime has passed. Returns 401 on failure.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(h.Sessions.CookieName())
		if err != nil || cookie.Value == "" {
			logWarn(r, "require auth failed", "reason", "missing_session_cookie")
			Unauthorized(w, r, "unauthorized")
			return
		}

		claims, err := h.Sessions.Parse(cookie.Value)
		if err != nil {
			logWarn(r, "require auth failed", "reason", "invalid_session", "error", err)
			h.Sessions.Clear(w)
			Unauthorized(w, r, "unauthorized")
			return
		}
		id, err := claims.Identity()
		if err != nil {
			logWarn(r, "require auth failed", "reason", "bad_subject")
			Unauthorized(w, r, "unauthorized")
			return
		}

		if _, err := h.Sessions.Renew(w, claims); err != nil {
			// Old token is still valid; the client just keeps it a while longer.
			logWarn(r, "session renewal failed", "error", err)
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// RequireIPAdmission rejects requests from IPs the block gate denies.
// A gate error becomes a 500; it is never treated as admission.
func (h *AuthHandler) RequireIPAdmission(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := h.Gate.CheckAndAdmit(r.Context(), ClientIP(r))
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		if decision == ipblock.Deny {
			logWarn(r, "request from blocked ip rejected")
			Forbidden(w, MsgIPBlocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitByIP applies the per-IP request policy. Returns 429 when exceeded.
func (h *AuthHandler) RateLimitByIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := h.RL.Allow(r.Context(), "ip:"+ClientIP(r), h.RateIP)
		if err != nil {
			if errors.Is(err, store.ErrRateLimitExceeded) {
				metrics.RateLimited.Inc()
				logWarn(r, "rate limit exceeded")
				TooManyRequests(w)
				return
			}
			InternalServerError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders sets CSP and related headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy",
			"default-src 'self'; script-src 'self' https://hcaptcha.com https://*.hcaptcha.com; "+
				"frame-src https://hcaptcha.com https://*.hcaptcha.com; "+
				"style-src 'self' https://hcaptcha.com https://*.hcaptcha.com; "+
				"connect-src 'self' https://hcaptcha.com https://*.hcaptcha.com; frame-ancestors 'none'")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
