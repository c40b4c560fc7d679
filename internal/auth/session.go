// session.go

// Signed session tokens and cookie management.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/MGallo-Code/mecorp/internal/store"
)

// DefaultSessionTTL is the session lifetime; renewal slides it forward.
const DefaultSessionTTL = 2 * time.Hour

// ErrInvalidSession covers every way a session token can fail to parse or verify.
var ErrInvalidSession = errors.New("invalid session")

// Identity is a verified account, as handed from login to the session issuer.
type Identity struct {
	AccountID int64
	Email     string
	Role      store.Role
}

// Claims is the JWT payload. Subject holds the decimal account ID.
type Claims struct {
	Email string     `json:"email"`
	Role  store.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity extracts the account identity from verified claims.
func (c *Claims) Identity() (Identity, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad subject", ErrInvalidSession)
	}
	return Identity{AccountID: id, Email: c.Email, Role: c.Role}, nil
}

// SessionIssuer mints, verifies and renews HS256 session cookies.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	domain string
	secure bool
	now    func() time.Time
}

// SessionOption configures a SessionIssuer.
type SessionOption func(*SessionIssuer)

// WithCookieDomain scopes the cookie to domain. Empty means host-only.
func WithCookieDomain(domain string) SessionOption {
	return func(s *SessionIssuer) { s.domain = domain }
}

// WithInsecureCookies drops the Secure flag so cookies work over plain HTTP in development.
func WithInsecureCookies() SessionOption {
	return func(s *SessionIssuer) { s.secure = false }
}

// WithSessionClock sets the time source. Defaults to time.Now.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionIssuer) { s.now = now }
}

// NewSessionIssuer returns an issuer signing with secret. A non-positive ttl
// uses DefaultSessionTTL.
func NewSessionIssuer(secret []byte, ttl time.Duration, opts ...SessionOption) *SessionIssuer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &SessionIssuer{
		secret: secret,
		ttl:    ttl,
		secure: true,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CookieName is __Host-session when the browser will enforce the prefix rules
// (Secure, no Domain), otherwise plain "session".
func (s *SessionIssuer) CookieName() string {
	if s.secure && s.domain == "" {
		return "__Host-session"
	}
	return "session"
}

// Sign returns a token for id valid for the issuer's TTL.
func (s *SessionIssuer) Sign(id Identity) (string, *Claims, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return "", nil, fmt.Errorf("generating token id: %w", err)
	}
	now := s.now()
	claims := &Claims{
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.AccountID, 10),
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing session token: %w", err)
	}
	return token, claims, nil
}

// Issue signs a session for id and writes it as the session cookie.
func (s *SessionIssuer) Issue(w http.ResponseWriter, id Identity) (*Claims, error) {
	token, claims, err := s.Sign(id)
	if err != nil {
		return nil, err
	}
	s.setCookie(w, token, int(s.ttl.Seconds()))
	return claims, nil
}

// Parse verifies token and returns its claims. Any failure wraps ErrInvalidSession.
func (s *SessionIssuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidSession, claims.Role)
	}
	return claims, nil
}

// Renew reissues the cookie when more than half of the session lifetime has
// elapsed. Reports whether a new cookie was written.
func (s *SessionIssuer) Renew(w http.ResponseWriter, claims *Claims) (bool, error) {
	if claims.ExpiresAt == nil || claims.ExpiresAt.Sub(s.now()) > s.ttl/2 {
		return false, nil
	}
	id, err := claims.Identity()
	if err != nil {
		return false, err
	}
	if _, err := s.Issue(w, id); err != nil {
		return false, err
	}
	return true, nil
}

// Clear overwrites the session cookie with MaxAge=-1 to trigger browser deletion.
func (s *SessionIssuer) Clear(w http.ResponseWriter) {
	s.setCookie(w, "", -1)
}

func (s *SessionIssuer) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.CookieName(),
		Value:    value,
		Path:     "/",
		Domain:   s.domain,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   maxAge,
	})
}
