package backoff

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultBase   = time.Second
	DefaultFactor = 2.0
	DefaultJitter = 0.2
	DefaultMax    = 5 * time.Minute
)

// Options configures a Backoff. Zero fields take the package defaults.
type Options struct {
	Base   time.Duration
	Factor float64
	Jitter float64
	Max    time.Duration

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// Backoff computes reconnect delays after a stream drop.
// It is not safe for concurrent use; each consumer owns its own.
type Backoff struct {
	base    time.Duration
	factor  float64
	jitter  float64
	max     time.Duration
	rand    func() float64
	current time.Duration
}

// New creates a Backoff starting at its base delay.
func New(opts Options) *Backoff {
	b := &Backoff{
		base:   opts.Base,
		factor: opts.Factor,
		jitter: opts.Jitter,
		max:    opts.Max,
		rand:   opts.Rand,
	}
	if b.base <= 0 {
		b.base = DefaultBase
	}
	if b.factor < 1 {
		b.factor = DefaultFactor
	}
	if b.jitter < 0 || b.jitter >= 1 {
		b.jitter = DefaultJitter
	}
	if b.max <= 0 {
		b.max = DefaultMax
	}
	if b.max < b.base {
		b.max = b.base
	}
	if b.rand == nil {
		b.rand = rand.Float64
	}
	b.current = b.base
	return b
}

// Reset sets the delay back to the base delay.
func (b *Backoff) Reset() {
	b.current = b.base
}

// Current returns the un-jittered delay the next call to Next will use.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Next returns the current delay with jitter applied, then grows the
// underlying delay by the factor, capped at the maximum.
func (b *Backoff) Next() time.Duration {
	d := b.current
	spread := b.jitter * (2*b.rand() - 1)
	jittered := time.Duration(float64(d) * (1 + spread))
	if jittered < 0 {
		jittered = 0
	}

	grown := time.Duration(float64(b.current) * b.factor)
	if grown > b.max || grown < b.current {
		grown = b.max
	}
	b.current = grown

	return jittered
}
