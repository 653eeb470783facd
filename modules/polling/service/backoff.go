package service

import (
	"math"
	"time"
)

type backoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter spreads retries by up to this fraction in either direction.
	Jitter float64
}

// nextDelay returns the wait after the given number of consecutive failures.
// rng is a uniform sample in [0, 1).
func (cfg backoffConfig) nextDelay(failures int, rng float64) time.Duration {
	if failures < 1 {
		failures = 1
	}
	base := float64(cfg.Initial)
	if base <= 0 {
		base = float64(time.Minute)
	}
	delay := base * math.Pow(2, float64(failures-1))
	if cfg.Jitter > 0 {
		j := math.Min(cfg.Jitter, 1)
		delay = delay * (1 + (rng*2-1)*j)
	}
	if cfg.Max > 0 && delay > float64(cfg.Max) {
		delay = float64(cfg.Max)
	}
	return time.Duration(delay)
}
