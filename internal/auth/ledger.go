// ledger.go -- Append-only record of login attempts.
package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/MGallo-Code/mecorp/internal/metrics"
)

// ledgerWriteTimeout bounds a single attempt insert.
const ledgerWriteTimeout = 5 * time.Second

// AttemptStore persists and counts login attempts.
type AttemptStore interface {
	RecordLoginAttempt(ctx context.Context, ip string, accountID *int64, success bool, at time.Time) error
	CountFailedAttempts(ctx context.Context, ip string, since time.Time) (int, error)
}

// Ledger records every credential check and answers failure counts for the IP block gate.
type Ledger struct {
	store  AttemptStore
	logger *slog.Logger
}

// NewLedger wraps s. A nil logger uses slog.Default().
func NewLedger(s AttemptStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: s, logger: logger}
}

// Record appends one attempt. Failures are logged and counted, never returned:
// a ledger outage must not change the login response.
func (l *Ledger) Record(ctx context.Context, ip string, accountID *int64, success bool, at time.Time) {
	// A client hanging up mid-request must not skip its ledger row.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()

	if err := l.store.RecordLoginAttempt(wctx, ip, accountID, success, at.UTC()); err != nil {
		metrics.LedgerWriteFailures.Inc()
		l.logger.Error("recording login attempt failed", "ip", ip, "success", success, "error", err)
	}
}

// CountFailures returns failed attempts from ip at or after since.
func (l *Ledger) CountFailures(ctx context.Context, ip string, since time.Time) (int, error) {
	return l.store.CountFailedAttempts(ctx, ip, since.UTC())
}
