package sandbox

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
)

// Limits bounds a single invocation's resource consumption. wazero has no
// native instruction-fuel metering, so HostCallBudget stands in for a
// CPU-fuel counter: every host call the guest makes except time_now
// decrements the budget. Once it is spent, each further host call is
// refused, and a call that returns a result hands the guest a
// host-call-budget error instead; the invocation itself is not ended by
// this and runs until the guest returns or WallClock expires.
type Limits struct {
	MemoryPages    uint32
	HostCallBudget uint64
	WallClock      time.Duration
}

// DefaultLimits returns conservative limits suitable for an untrusted,
// unreviewed module.
func DefaultLimits() Limits {
	return Limits{
		MemoryPages:    256, // 16MiB at 64KiB/page
		HostCallBudget: 10_000,
		WallClock:      10 * time.Second,
	}
}

// budget is the live, per-invocation host-call counter. It is created fresh
// for every Invoke call and is never shared across invocations.
type budget struct {
	mu        sync.Mutex
	remaining uint64
}

func newBudget(limit uint64) *budget {
	return &budget{remaining: limit}
}

// consume decrements the budget by one host call and reports whether any
// remains.
func (b *budget) consume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining == 0 {
		return ironerr.New(ironerr.KindSandboxFuel, "sandbox.budget", "host-call budget exhausted")
	}
	b.remaining--
	return nil
}

// rateLimiters holds one token-bucket per tool name, enforcing the
// per-tool rate quota across invocations (unlike budget, which is
// per-invocation).
type rateLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
}

func newRateLimiters(perMin int) *rateLimiters {
	if perMin <= 0 {
		perMin = 60
	}
	return &rateLimiters{limiters: make(map[string]*rate.Limiter), perMin: perMin}
}

func (r *rateLimiters) allow(toolName string) bool {
	r.mu.Lock()
	limiter, ok := r.limiters[toolName]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(r.perMin)/60.0), r.perMin)
		r.limiters[toolName] = limiter
	}
	r.mu.Unlock()
	return limiter.Allow()
}

// withDeadline derives a context bounded by both the caller's context and
// the invocation's wall-clock limit, whichever is sooner.
func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
