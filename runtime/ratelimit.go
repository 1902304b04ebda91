package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeworks-ai/toolforge/memory"
)

const (
	// DefaultMaxCallsPerMinute caps capability invocations per
	// (tool, integration) pair.
	DefaultMaxCallsPerMinute = 60

	rateLimitNamespace = "ratelimit"
	rateLimitWindow    = time.Minute
)

// RateLimiter enforces a sliding-window call budget per (tool, integration)
// using two memory entries: the window start and the call count. The
// read-modify-write is not optimistic-locked; concurrent actions on the
// same tool can momentarily overshoot the budget, which is accepted for a
// per-minute courtesy limit.
type RateLimiter struct {
	mem          *memory.Store
	maxPerMinute int
	now          func() time.Time
}

// NewRateLimiter creates a limiter over the given memory store.
// maxPerMinute <= 0 applies the default of 60.
func NewRateLimiter(mem *memory.Store, maxPerMinute int, now func() time.Time) *RateLimiter {
	if maxPerMinute <= 0 {
		maxPerMinute = DefaultMaxCallsPerMinute
	}
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{mem: mem, maxPerMinute: maxPerMinute, now: now}
}

// Allow records one call for (tool, integration), failing with
// RATE_LIMIT_EXCEEDED when the window budget is exhausted. The counter
// resets once the window elapses.
func (l *RateLimiter) Allow(ctx context.Context, toolID, integrationID string) error {
	scope := memory.ToolScope(toolID)
	windowKey := integrationID + "_window"
	countKey := integrationID + "_count"

	var windowStart int64
	hasWindow, err := l.mem.Get(ctx, scope, rateLimitNamespace, windowKey, &windowStart)
	if err != nil {
		return err
	}

	now := l.now()
	if !hasWindow || now.Sub(time.UnixMilli(windowStart)) >= rateLimitWindow {
		// New window.
		if err := l.mem.SetDurable(ctx, scope, rateLimitNamespace, windowKey, now.UnixMilli()); err != nil {
			return err
		}
		return l.mem.SetDurable(ctx, scope, rateLimitNamespace, countKey, 1)
	}

	var count int
	if _, err := l.mem.Get(ctx, scope, rateLimitNamespace, countKey, &count); err != nil {
		return err
	}
	if count >= l.maxPerMinute {
		retryAt := time.UnixMilli(windowStart).Add(rateLimitWindow)
		return newError(CodeRateLimitExceeded,
			fmt.Sprintf("integration %q exceeded %d calls/minute for tool %q", integrationID, l.maxPerMinute, toolID),
			true, nil).
			withRemediation("wait for the rate-limit window to elapse before retrying").
			withDetails(map[string]any{"retry_at": retryAt.UTC().Format(time.RFC3339)})
	}
	return l.mem.SetDurable(ctx, scope, rateLimitNamespace, countKey, count+1)
}
