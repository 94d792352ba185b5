package accounting

import (
	"time"

	"golang.org/x/time/rate"
)

// TokenBudget tracks a consumable token allowance over a period (daily or
// monthly) using a token-bucket limiter: capacity equals the period budget,
// and it refills continuously at budget/period so a burst that exhausts it
// recovers smoothly rather than waiting for a hard period boundary. This is
// an approximation of a calendar-aligned quota, chosen because
// golang.org/x/time/rate is the only rate/budget primitive anywhere in the
// example corpus and a calendar-exact quota needs nothing the corpus
// demonstrates a library for.
type TokenBudget struct {
	limiter *rate.Limiter
}

// NewTokenBudget builds a budget of capacity tokens that fully refills over
// periodSeconds.
func NewTokenBudget(capacity int, periodSeconds int) *TokenBudget {
	if capacity <= 0 {
		capacity = 1
	}
	if periodSeconds <= 0 {
		periodSeconds = 1
	}
	perSecond := rate.Limit(float64(capacity) / float64(periodSeconds))
	return &TokenBudget{limiter: rate.NewLimiter(perSecond, capacity)}
}

// Allow reports whether n tokens are available right now, consuming them if
// so. A false result means the caller should fall back to L1-only mode.
func (b *TokenBudget) Allow(n int) bool {
	return b.limiter.AllowN(time.Now(), n)
}
