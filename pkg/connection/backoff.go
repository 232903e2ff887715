package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// CoAP transmission parameters, RFC 7252 section 4.8.
const (
	AckTimeout      = 2 * time.Second
	AckRandomFactor = 1.5
	MaxRetransmit   = 4
)

// Defaults of a general purpose Backoff.
const (
	InitialBackoff    = time.Second
	MaxBackoff        = time.Minute
	BackoffMultiplier = 2.0
	JitterFactor      = 0.25
)

// BackoffConfig parameterizes a Backoff. Zero fields take the package
// defaults, except Jitter, where zero disables randomization.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter stretches each delay by a random fraction in [0, Jitter).
	Jitter float64

	// FixedJitter draws the stretch once per Reset instead of per delay.
	// CoAP uses this for the timeouts of one confirmable exchange.
	FixedJitter bool
}

// Backoff yields exponentially growing delays. It is safe for concurrent use.
type Backoff struct {
	cfg BackoffConfig

	mu       sync.Mutex
	base     time.Duration
	attempts int
	stretch  float64 // 0 unless FixedJitter
}

// NewBackoff returns a Backoff with the default parameters and JitterFactor.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Jitter: JitterFactor})
}

// NewBackoffWithConfig returns a Backoff for cfg.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	cfg.Jitter = max(cfg.Jitter, 0)

	b := &Backoff{cfg: cfg}
	b.Reset()
	return b
}

// NewRetransmitBackoff returns the timeout schedule of one confirmable
// exchange: ACK_TIMEOUT scaled by a random factor drawn once, then doubled
// for each retransmission.
func NewRetransmitBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{
		Initial:     AckTimeout,
		Max:         AckTimeout << MaxRetransmit,
		Jitter:      AckRandomFactor - 1,
		FixedJitter: true,
	})
}

// RetransmitSequence lists the unrandomized timeouts of a confirmable
// exchange, one per transmission.
func RetransmitSequence() []time.Duration {
	seq := make([]time.Duration, MaxRetransmit+1)
	for i := range seq {
		seq[i] = AckTimeout << i
	}
	return seq
}

// Next returns the current delay, randomized, and advances to the next step.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.stretched(b.base)
	b.attempts++
	b.base = min(time.Duration(float64(b.base)*b.cfg.Multiplier), b.cfg.Max)
	return d
}

// Peek returns the current delay, randomized, without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stretched(b.base)
}

// Reset returns to the initial delay and, with FixedJitter, redraws the stretch.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.base = b.cfg.Initial
	b.attempts = 0
	if b.cfg.FixedJitter {
		b.stretch = 1 + b.cfg.Jitter*rand.Float64()
	}
}

// Attempts counts Next calls since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the unrandomized current delay.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base
}

// Jitter returns the random extra this Backoff would add to d.
func (b *Backoff) Jitter(d time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stretched(d) - d
}

func (b *Backoff) stretched(d time.Duration) time.Duration {
	switch {
	case b.cfg.Jitter == 0:
		return d
	case b.stretch != 0:
		return time.Duration(float64(d) * b.stretch)
	default:
		return d + time.Duration(float64(d)*b.cfg.Jitter*rand.Float64())
	}
}
