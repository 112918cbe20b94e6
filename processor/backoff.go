package processor

import (
	"math"
	"math/rand"
	"time"

	"pythagoras/config"
)

const (
	backoffFactor = 2.0
	backoffJitter = 0.2
	backoffFloor  = 100 * time.Millisecond
)

// Backoff spaces reconnect attempts: Min doubles (or grows by Factor) per
// attempt up to Max, then Jitter spreads it by up to ±Jitter of the wait.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// NewBackoff builds the schedule for feed.reconnect.
func NewBackoff(rc config.ReconnectConfig) Backoff {
	return Backoff{
		Min:    rc.MinBackoff,
		Max:    rc.MaxBackoff,
		Factor: backoffFactor,
		Jitter: backoffJitter,
	}
}

// Next returns the wait before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	lo := b.Min
	if lo <= 0 {
		lo = backoffFloor
	}
	hi := b.Max
	if hi < lo {
		hi = lo
	}
	factor := b.Factor
	if factor <= 1 {
		factor = backoffFactor
	}

	wait := float64(lo) * math.Pow(factor, float64(attempt-1))
	if math.IsInf(wait, 0) || wait > float64(hi) {
		wait = float64(hi)
	}
	if spread := math.Min(b.Jitter, 1); spread > 0 {
		wait += (2*rand.Float64() - 1) * spread * wait
	}
	return time.Duration(wait)
}
