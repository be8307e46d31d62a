package worker

import (
	"math/rand"
	"sync"
	"time"
)

// Respawn backoff constants.
const (
	// InitialBackoff is the delay before the first respawn attempt.
	InitialBackoff = 500 * time.Millisecond

	// MaxBackoff is the maximum respawn delay.
	MaxBackoff = 30 * time.Second

	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of base delay.
	JitterFactor = 0.25
)

// Backoff calculates exponential respawn delays with jitter. A worker
// process that exits unexpectedly is restarted on next use after the
// current delay; a healthy start resets the sequence.
type Backoff struct {
	mu sync.Mutex

	current    time.Duration
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	attempts int

	rng *rand.Rand
}

// NewBackoff creates a backoff calculator with default settings.
func NewBackoff() *Backoff {
	return &Backoff{
		current:    InitialBackoff,
		initial:    InitialBackoff,
		max:        MaxBackoff,
		multiplier: BackoffMultiplier,
		jitter:     JitterFactor,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Reset resets the backoff to initial values.
// Call this after a worker starts and answers its first probe.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of attempts since last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	jitterAmount := time.Duration(float64(d) * b.jitter * b.rng.Float64())
	return d + jitterAmount
}
