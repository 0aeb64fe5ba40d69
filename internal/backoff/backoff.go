// Package backoff computes the sleep between attempts for the request
// engine's retry loop.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/stablereq/stablereq/pkg/models"
)

// Compute returns the delay to sleep after attempt attemptIndex (1-based),
// before the next attempt starts. wait and maxAllowedWait
// are both in milliseconds, matching the request options' units.
func Compute(strategy models.RetryStrategy, attemptIndex int, waitMs, maxAllowedWaitMs int, jitter float64) time.Duration {
	var baseMs float64
	switch strategy {
	case models.StrategyLinear:
		baseMs = float64(attemptIndex) * float64(waitMs)
	case models.StrategyExponential:
		baseMs = float64(waitMs) * math.Pow(2, float64(attemptIndex-1))
	case models.StrategyFixed:
		fallthrough
	default:
		baseMs = float64(waitMs)
	}

	if jitter > 0 {
		// uniform factor in [1-jitter, 1+jitter]
		factor := (1 - jitter) + rand.Float64()*(2*jitter)
		baseMs = math.Round(baseMs * factor)
	}

	if maxAllowedWaitMs > 0 && baseMs > float64(maxAllowedWaitMs) {
		baseMs = float64(maxAllowedWaitMs)
	}
	if baseMs < 0 {
		baseMs = 0
	}
	return time.Duration(baseMs) * time.Millisecond
}
