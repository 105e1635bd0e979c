package session

import (
	"math"
	"math/rand/v2"
	"time"
)

// ReconnectPolicy controls how the live feed is re-established after an
// unrequested disconnect. Delays grow geometrically from InitialDelay by
// Multiplier up to MaxDelay, with a random spread of ±Jitter.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Jitter is a fraction of the delay in [0, 1].
	Jitter float64

	// MaxAttempts caps consecutive failed attempts; 0 means unlimited.
	MaxAttempts int
}

// DefaultReconnectPolicy returns the policy used when none is configured.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: time.Second,
		MaxDelay:     2 * time.Minute,
		Multiplier:   1.5,
		Jitter:       0.2,
	}
}

// Delay returns the wait before the given attempt (1-based) and whether
// the attempt is allowed at all.
func (p ReconnectPolicy) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 {
		attempt = 1
	}
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if j := min(max(p.Jitter, 0), 1); j > 0 {
		delay += delay * j * (2*rand.Float64() - 1) //nolint:gosec // G404: jitter needs no crypto randomness
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay), true
}
