// Package metrics holds the Prometheus collectors shared across the app.
// All collectors register on the default registry, served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts login outcomes: success, invalid_credentials, captcha_failed.
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mecorp_login_attempts_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})

	// Registrations counts registration outcomes: success, captcha_failed,
	// email_taken, invalid_referral.
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mecorp_registrations_total",
		Help: "Registration attempts by outcome",
	}, []string{"outcome"})

	// LedgerWriteFailures counts login attempts that could not be recorded.
	LedgerWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mecorp_login_ledger_write_failures_total",
		Help: "Login attempt rows that failed to persist",
	})

	// CaptchaVerifications counts CAPTCHA decisions by outcome.
	CaptchaVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mecorp_captcha_verifications_total",
		Help: "CAPTCHA verifications by outcome",
	}, []string{"outcome"})

	// CaptchaLatency observes round-trip time of calls to the siteverify oracle.
	CaptchaLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mecorp_captcha_siteverify_duration_seconds",
		Help:    "Latency of CAPTCHA siteverify calls",
		Buckets: prometheus.DefBuckets,
	})

	// IPBlockDecisions counts gate decisions. source is cache, ledger or none.
	IPBlockDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mecorp_ip_block_decisions_total",
		Help: "IP block gate decisions",
	}, []string{"decision", "source"})

	// IPBlocksIssued counts new block entries written to the cache.
	IPBlocksIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mecorp_ip_blocks_issued_total",
		Help: "IP block entries created",
	})

	// RateLimited counts requests rejected by the per-IP request limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mecorp_rate_limited_requests_total",
		Help: "Requests rejected by the per-IP rate limiter",
	})
)
