package session

import (
	"math"
	"math/rand/v2"
	"time"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based). A nil
// rng applies the midpoint jitter factor.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	mult := max(cfg.Multiplier, 1.0)
	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 1.0
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Retrier counts attempts against a backoff schedule. Reconnect policy lives
// with the embedding application; the driver itself never retries.
type Retrier struct {
	cfg      BackoffConfig
	attempts int
	limit    int
	rng      *rand.Rand
}

// NewRetrier allows limit attempts in total; limit <= 0 means one attempt.
func NewRetrier(cfg BackoffConfig, limit int, rng *rand.Rand) *Retrier {
	if limit <= 0 {
		limit = 1
	}
	return &Retrier{cfg: cfg, limit: limit, rng: rng}
}

// Next reports whether another attempt is allowed and how long to wait first.
func (r *Retrier) Next() (time.Duration, bool) {
	if r.attempts >= r.limit {
		return 0, false
	}
	r.attempts++
	if r.attempts == 1 {
		return 0, true
	}
	return NextBackoffDelay(r.cfg, r.attempts-1, r.rng), true
}

func (r *Retrier) Attempts() int {
	return r.attempts
}
