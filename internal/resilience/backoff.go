package resilience

import (
	"math/rand/v2"
	"time"
)

// Backoff doubles base for every attempt after the first. jitterPct spreads
// the result uniformly by that fraction either way, so 0.2 gives +/-20%.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	attempt = max(attempt, 1)
	d := base << min(attempt-1, 16)
	if jitterPct <= 0 {
		return d
	}
	spread := float64(d) * min(jitterPct, 1)
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
