package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBudgetExhausted is returned by Use once the window's budget is spent.
var ErrBudgetExhausted = errors.New("ai request budget exhausted")

const budgetWindow = 24 * time.Hour

// Budget caps AI requests per 24h window. A limit of 0 means unlimited.
type Budget struct {
	mu        sync.Mutex
	name      string
	used      int
	rejected  int
	limit     int
	resetTime time.Time
	now       func() time.Time
	log       *slog.Logger
}

// NewBudget creates a budget of limit requests for the named provider.
func NewBudget(name string, limit int, logger *slog.Logger) *Budget {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Budget{
		name:  name,
		limit: limit,
		now:   time.Now,
		log:   logger,
	}
	b.resetTime = b.now().Add(budgetWindow)
	return b
}

// Use records a request, or returns ErrBudgetExhausted.
func (b *Budget) Use() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()

	if b.limit > 0 && b.used >= b.limit {
		b.rejected++
		b.log.Warn("AI request budget reached", "provider", b.name, "used", b.used, "limit", b.limit)
		return fmt.Errorf("%s: %w (%d/%d)", b.name, ErrBudgetExhausted, b.used, b.limit)
	}

	b.used++
	b.log.Debug("AI usage", "provider", b.name, "used", b.used, "limit", b.limit)
	return nil
}

// GetStats reports usage of the current window. It is served in the
// /metrics payload.
func (b *Budget) GetStats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()
	return map[string]interface{}{
		"provider":   b.name,
		"used":       b.used,
		"limit":      b.limit,
		"rejected":   b.rejected,
		"reset_time": b.resetTime.Format(time.RFC3339),
	}
}

// checkReset resets counters if reset time has passed
func (b *Budget) checkReset() {
	now := b.now()
	if now.Before(b.resetTime) {
		return
	}
	b.log.Info("resetting AI request budget", "provider", b.name, "used", b.used, "rejected", b.rejected)
	b.used = 0
	b.rejected = 0
	b.resetTime = now.Add(budgetWindow)
}
