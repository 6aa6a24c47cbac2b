// Package backoff computes retry delays for the link and session layers.
//
// The delay doubles with every attempt up to a factor of 64, is clamped to
// [base, ceiling], and is then perturbed by up to ±10% so that a fleet of
// devices restarting together does not reconnect in lockstep. The jittered
// result never drops below base.
//
// Usage:
//
//	rng := rand.New(rand.NewPCG(seed, seed))
//	d := backoff.Delay(10*time.Second, time.Minute, retries, rng)
package backoff

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultCeiling is the delay cap used when none is configured.
	DefaultCeiling = 60 * time.Second

	// maxShift caps the exponential growth at base * 2^6.
	maxShift = 6

	// jitterPercent is the jitter amplitude relative to the nominal delay.
	jitterPercent = 10
)

// Nominal returns the delay for attempt before jitter is applied.
//
// The result is base * 2^min(attempt, 6), clamped to [base, ceiling].
// A non-positive ceiling means DefaultCeiling. Negative attempts count as 0.
func Nominal(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if attempt < 0 {
		attempt = 0
	}

	shift := min(attempt, maxShift)
	d := base << shift
	if d > ceiling {
		d = ceiling
	}
	if d < base {
		d = base
	}
	return d
}

// Delay returns the jittered delay for attempt.
//
// Jitter is drawn uniformly from [-d/10, +d/10] where d is the nominal
// delay. If rng is nil the global math/rand/v2 source is used.
func Delay(base, ceiling time.Duration, attempt int, rng *rand.Rand) time.Duration {
	d := Nominal(base, ceiling, attempt)
	if d <= 0 {
		return d
	}

	jitter := d * jitterPercent / 100
	if jitter > 0 {
		span := int64(2*jitter) + 1
		var n int64
		if rng != nil {
			n = rng.Int64N(span)
		} else {
			n = rand.Int64N(span)
		}
		d += time.Duration(n) - jitter
	}

	return max(d, base)
}
