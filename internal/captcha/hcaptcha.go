// hcaptcha.go -- hCaptcha siteverify client and the CAPTCHA admission policy.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MGallo-Code/mecorp/internal/metrics"
)

const (
	// DefaultVerifyURL is hCaptcha's siteverify endpoint.
	DefaultVerifyURL = "https://api.hcaptcha.com/siteverify"

	// PlaceholderSecret ships in sample config files and is never a real key.
	PlaceholderSecret = "your-secret-key"

	// DevBypassToken passes verification when running in dev posture.
	DevBypassToken = "dev-bypass"

	// ScoreThreshold is the minimum score accepted when the oracle reports one.
	ScoreThreshold = 0.5

	defaultTimeout = 5 * time.Second

	// maxResponseBytes caps how much of the oracle's reply is read.
	maxResponseBytes = 64 << 10
)

var tracer = otel.Tracer("github.com/MGallo-Code/mecorp/internal/captcha")

// IsPlaceholderSecret reports whether secret is blank or the sample placeholder.
func IsPlaceholderSecret(secret string) bool {
	s := strings.TrimSpace(secret)
	return s == "" || s == PlaceholderSecret
}

// Config controls the verifier. Zero Timeout and VerifyURL take defaults.
type Config struct {
	Enabled   bool
	DevMode   bool
	Secret    string
	VerifyURL string
	Timeout   time.Duration
}

// Outcome names why Verify decided the way it did. Used as a metric label.
type Outcome string

const (
	OutcomeDisabled       Outcome = "disabled"
	OutcomeDevBypass      Outcome = "dev_bypass"
	OutcomeEmptyToken     Outcome = "empty_token"
	OutcomeDevToken       Outcome = "dev_token"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeBadStatus      Outcome = "bad_status"
	OutcomeBadBody        Outcome = "bad_body"
	OutcomeRejected       Outcome = "rejected"
	OutcomeLowScore       Outcome = "low_score"
	OutcomePassed         Outcome = "passed"
)

// Response is the siteverify JSON body. encoding/json matches keys
// case-insensitively, so casing variations from the oracle still decode.
// Score is zero when the oracle does not report one.
type Response struct {
	Success     bool     `json:"success"`
	Score       float64  `json:"score"`
	Action      string   `json:"action"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
}

// Verifier decides whether a CAPTCHA token admits a request.
type Verifier struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithHTTPClient replaces the outbound client (tests, custom transports).
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) { v.httpClient = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// NewVerifier returns a Verifier for cfg.
// Uses a 5s timeout on the outbound HTTP client unless cfg.Timeout says otherwise.
func NewVerifier(cfg Config, opts ...Option) *Verifier {
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = DefaultVerifyURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	v := &Verifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports whether token admits the request. It never returns an
// error: every failure of the oracle counts as "not verified".
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) bool {
	ok, outcome := v.evaluate(ctx, token, remoteIP)
	metrics.CaptchaVerifications.WithLabelValues(string(outcome)).Inc()
	return ok
}

// evaluate applies the admission ladder; the first matching rule wins.
func (v *Verifier) evaluate(ctx context.Context, token, remoteIP string) (bool, Outcome) {
	if !v.cfg.Enabled {
		return true, OutcomeDisabled
	}

	if v.cfg.DevMode && IsPlaceholderSecret(v.cfg.Secret) {
		v.logger.Warn("captcha bypassed: dev mode without a secret", "remote_ip", remoteIP)
		return true, OutcomeDevBypass
	}

	if strings.TrimSpace(token) == "" {
		return false, OutcomeEmptyToken
	}

	if v.cfg.DevMode && token == DevBypassToken {
		v.logger.Warn("captcha bypassed: dev token", "remote_ip", remoteIP)
		return true, OutcomeDevToken
	}

	resp, outcome := v.siteverify(ctx, token, remoteIP)
	if resp == nil {
		return false, outcome
	}

	if !resp.Success {
		v.logger.Info("captcha rejected", "remote_ip", remoteIP, "error_codes", resp.ErrorCodes)
		return false, OutcomeRejected
	}
	if resp.Score > 0 && resp.Score < ScoreThreshold {
		v.logger.Info("captcha score below threshold", "remote_ip", remoteIP, "score", resp.Score)
		return false, OutcomeLowScore
	}
	return true, OutcomePassed
}

// siteverify POSTs the token to the oracle. Returns a nil Response and the
// failure outcome on transport, status or decoding errors.
func (v *Verifier) siteverify(ctx context.Context, token, remoteIP string) (*Response, Outcome) {
	ctx, span := tracer.Start(ctx, "captcha.siteverify")
	defer span.End()

	fail := func(outcome Outcome, err error) (*Response, Outcome) {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
		v.logger.Warn("captcha verification failed", "outcome", string(outcome), "error", err)
		return nil, outcome
	}

	body := url.Values{
		"secret":   {v.cfg.Secret},
		"response": {token},
		"remoteip": {remoteIP},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.VerifyURL, strings.NewReader(body.Encode()))
	if err != nil {
		return fail(OutcomeTransportError, fmt.Errorf("captcha: building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := v.httpClient.Do(req)
	metrics.CaptchaLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return fail(OutcomeTransportError, fmt.Errorf("captcha: request failed: %w", err))
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(OutcomeBadStatus, fmt.Errorf("captcha: unexpected status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(OutcomeTransportError, fmt.Errorf("captcha: reading response: %w", err))
	}
	var result Response
	if err := json.Unmarshal(raw, &result); err != nil {
		return fail(OutcomeBadBody, fmt.Errorf("captcha: decoding response: %w", err))
	}
	return &result, ""
}
