// Package ipblock turns repeated failed logins from one IP into a temporary block.
//
// The gate recounts failures from the attempt ledger on every check that is
// not already blocked, and caches the block so blocked IPs cost no queries.
package ipblock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MGallo-Code/mecorp/internal/metrics"
)

// Decision is the gate's verdict for one request.
type Decision int

const (
	Allow Decision = iota
	Deny
)

func (d Decision) String() string {
	if d == Deny {
		return "deny"
	}
	return "allow"
}

// FailureCounter counts failed login attempts from ip at or after since.
type FailureCounter interface {
	CountFailures(ctx context.Context, ip string, since time.Time) (int, error)
}

// Cache holds live block entries. Block must not extend a live entry.
type Cache interface {
	IsBlocked(ctx context.Context, ip string) (bool, error)
	Block(ctx context.Context, ip string, ttl time.Duration) error
}

// Policy is the blocking rule: Threshold failures inside Window block the IP
// for BlockDuration.
type Policy struct {
	Threshold     int
	Window        time.Duration
	BlockDuration time.Duration
}

// DefaultPolicy blocks for 30 minutes after 10 failures in 15 minutes.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:     10,
		Window:        15 * time.Minute,
		BlockDuration: 30 * time.Minute,
	}
}

// Gate decides whether an IP may attempt a login.
type Gate struct {
	ledger FailureCounter
	cache  Cache
	policy Policy
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(g *Gate) { g.policy = p }
}

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New builds a Gate over the given ledger and cache.
func New(ledger FailureCounter, cache Cache, opts ...Option) (*Gate, error) {
	if ledger == nil || cache == nil {
		return nil, errors.New("ipblock: ledger and cache are required")
	}
	g := &Gate{
		ledger: ledger,
		cache:  cache,
		policy: DefaultPolicy(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.policy.Threshold <= 0 || g.policy.Window <= 0 || g.policy.BlockDuration <= 0 {
		return nil, fmt.Errorf("ipblock: invalid policy %+v", g.policy)
	}
	return g, nil
}

// CheckAndAdmit returns Deny for an IP with a live block or with at least
// Threshold failures in the trailing window; the latter also starts a block.
// A ledger error is returned as-is and must never be read as Allow.
func (g *Gate) CheckAndAdmit(ctx context.Context, ip string) (Decision, error) {
	blocked, err := g.cache.IsBlocked(ctx, ip)
	if err != nil {
		// The ledger is authoritative; a cache read failure only costs a recount.
		g.logger.Warn("ip block cache read failed", "ip", ip, "error", err)
	}
	if blocked {
		metrics.IPBlockDecisions.WithLabelValues("deny", "cache").Inc()
		return Deny, nil
	}

	now := g.now()
	failures, err := g.ledger.CountFailures(ctx, ip, now.Add(-g.policy.Window))
	if err != nil {
		return Deny, fmt.Errorf("counting failures for %s: %w", ip, err)
	}

	if failures >= g.policy.Threshold {
		if err := g.cache.Block(ctx, ip, g.policy.BlockDuration); err != nil {
			g.logger.Error("ip block cache write failed", "ip", ip, "error", err)
		}
		metrics.IPBlocksIssued.Inc()
		metrics.IPBlockDecisions.WithLabelValues("deny", "ledger").Inc()
		g.logger.Warn("ip blocked", "ip", ip, "failures", failures, "duration", g.policy.BlockDuration)
		return Deny, nil
	}

	metrics.IPBlockDecisions.WithLabelValues("allow", "none").Inc()
	return Allow, nil
}
