// Package notify delivers hand-off notifications to human operators. The
// orchestration core treats delivery as fire-and-retry: failures are
// retried with backoff, logged, and never consumed by callers beyond an
// error string in batch results.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// HandOff describes one notification about a session that needs (or keeps
// needing) human attention.
type HandOff struct {
	SessionID string
	AccountID string
	ShopName  string
	Reason    string
	Messages  []string
}

// Notifier delivers a hand-off notice to one channel.
type Notifier interface {
	Notify(ctx context.Context, h HandOff) error
}

// Retry policy for Send. baseBackoff is a var so tests can shrink it.
const maxAttempts = 3

var baseBackoff = 1 * time.Second

// Send delivers the hand-off through n, retrying transient failures with
// exponential backoff. A nil Notifier is a no-op.
func Send(ctx context.Context, n Notifier, h HandOff) error {
	if n == nil {
		return nil
	}
	var lastErr error
	backoff := baseBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = n.Notify(ctx, h)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		slog.Warn("notification delivery failed, retrying",
			"session_id", h.SessionID,
			"attempt", attempt,
			"error", lastErr)
		select {
		case <-ctx.Done():
			return fmt.Errorf("notify: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("notify: delivery failed after %d attempts: %w", maxAttempts, lastErr)
}

// FormatText renders a hand-off as the plain-text body shared by the chat
// adapters.
func FormatText(h HandOff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s needs attention (%s)\n", h.SessionID, h.Reason)
	fmt.Fprintf(&b, "Shop: %s | Account: %s | %d message(s)\n", h.ShopName, h.AccountID, len(h.Messages))
	for i, msg := range h.Messages {
		fmt.Fprintf(&b, "%d. %s\n", i+1, msg)
	}
	return b.String()
}

// LogNotifier writes notifications to the structured log. It is the
// default channel when no chat credentials are configured.
type LogNotifier struct{}

// Notify logs the hand-off.
func (LogNotifier) Notify(_ context.Context, h HandOff) error {
	slog.Info("hand-off notification",
		"session_id", h.SessionID,
		"account_id", h.AccountID,
		"shop_name", h.ShopName,
		"reason", h.Reason,
		"messages", len(h.Messages))
	return nil
}
