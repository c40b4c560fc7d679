// config.go

// Environment variable loading and validation.
package config

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MGallo-Code/mecorp/internal/captcha"
)

// minSessionSecret is the shortest accepted HS256 signing key, in bytes.
const minSessionSecret = 32

// Config holds all env configuration vars for mecorp.
type Config struct {
	DatabaseURL  string
	RedisURL     string // optional; empty keeps IP blocks process-local
	Port         string
	CookieDomain string
	LogLevel     slog.Level

	// DevMode is true when APP_ENV=development. Relaxes CAPTCHA and cookie rules.
	DevMode bool

	// CAPTCHA oracle. Enabled by default.
	CaptchaEnabled   bool
	CaptchaSecret    string
	CaptchaVerifyURL string
	CaptchaTimeout   time.Duration

	// IP blocking. Defaults: 10 failures in 15m block for 30m.
	IPBlockThreshold int
	IPBlockWindow    time.Duration
	IPBlockDuration  time.Duration

	// Session cookie. SessionSecret signs the JWT.
	SessionTTL    time.Duration
	SessionSecret []byte

	// Per-IP request limit on /auth routes. Only enforced with Redis.
	// Defaults: max=60, window=1m, lockout=1m.
	RateIPMax     int
	RateIPWindow  time.Duration
	RateIPLockout time.Duration

	// TrustedProxies are the peers allowed to set the client address through
	// X-Real-IP / X-Forwarded-For. Empty means the socket address is always used.
	TrustedProxies []netip.Prefix

	// SeedAccounts creates the admin/manager/customer demo accounts at startup.
	SeedAccounts bool
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if DATABASE_URL is missing or the CAPTCHA/session secrets
// are unusable outside development.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	// Attempt to get db url, if missing, err
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")

	// Attempt to get port num, default to 7865
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "7865"
	}

	cfg.CookieDomain = os.Getenv("COOKIE_DOMAIN")

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.DevMode = strings.EqualFold(os.Getenv("APP_ENV"), "development")

	// Default true -- only an explicit false disables.
	cfg.CaptchaEnabled = envBool("CAPTCHA_ENABLED", true)
	cfg.CaptchaSecret = os.Getenv("CAPTCHA_SECRET")
	cfg.CaptchaVerifyURL = os.Getenv("CAPTCHA_VERIFY_URL")
	if cfg.CaptchaVerifyURL == "" {
		cfg.CaptchaVerifyURL = captcha.DefaultVerifyURL
	}
	cfg.CaptchaTimeout = envDuration("CAPTCHA_TIMEOUT", 5*time.Second)

	// A placeholder secret outside dev would fail every real token.
	if cfg.CaptchaEnabled && !cfg.DevMode && captcha.IsPlaceholderSecret(cfg.CaptchaSecret) {
		return nil, fmt.Errorf("CAPTCHA_SECRET must be set when CAPTCHA is enabled outside development")
	}

	cfg.IPBlockThreshold = envInt("IP_BLOCK_THRESHOLD", 10)
	cfg.IPBlockWindow = envDuration("IP_BLOCK_WINDOW", 15*time.Minute)
	cfg.IPBlockDuration = envDuration("IP_BLOCK_DURATION", 30*time.Minute)

	cfg.SessionTTL = envDuration("SESSION_TTL", 2*time.Hour)
	secret := os.Getenv("SESSION_SECRET")
	switch {
	case len(secret) >= minSessionSecret:
		cfg.SessionSecret = []byte(secret)
	case secret == "" && cfg.DevMode:
		// Sessions do not survive a restart in dev; that is acceptable there.
		cfg.SessionSecret = make([]byte, minSessionSecret)
		if _, err := rand.Read(cfg.SessionSecret); err != nil {
			return nil, fmt.Errorf("generating dev session secret: %w", err)
		}
		slog.Warn("SESSION_SECRET not set, using an ephemeral key")
	default:
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecret)
	}

	cfg.RateIPMax = envInt("RATE_IP_MAX", 60)
	cfg.RateIPWindow = envDuration("RATE_IP_WINDOW", time.Minute)
	cfg.RateIPLockout = envDuration("RATE_IP_LOCKOUT", time.Minute)

	cfg.SeedAccounts = envBool("SEED_ACCOUNTS", cfg.DevMode)

	// A bad entry here silently moves the IP block key, so it is fatal.
	proxies, err := parseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxies = proxies

	return cfg, nil
}

// parseTrustedProxies reads a comma-separated list of CIDRs or bare addresses.
func parseTrustedProxies(v string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// envBool reads an env var as bool, returning def if missing or unparseable.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}
