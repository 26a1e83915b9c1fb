// Package retry computes reconnect delays for the tunnel supervisor.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const (
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 5 * time.Minute
	DefaultMultiplier = 2.0
)

// Strategy selects how the delay grows with the attempt counter.
type Strategy string

const (
	// StrategyFixed waits the base delay on every attempt.
	StrategyFixed Strategy = "fixed"
	// StrategyLinear waits base + attempt*base, capped at the max delay.
	StrategyLinear Strategy = "linear"
	// StrategyExponential waits base*multiplier^attempt, capped at the
	// max delay. This is the default.
	StrategyExponential Strategy = "exponential"
	// StrategyCustom delegates to a caller-supplied function.
	StrategyCustom Strategy = "custom"
)

// Redeclare time functions so they can be overridden in tests.
type Clock struct {
	Now   func() time.Time
	After func(d time.Duration) <-chan time.Time
}

// DelayFunc computes the delay for a given attempt under StrategyCustom.
type DelayFunc func(attempt uint) time.Duration

// Policy describes a reconnect delay schedule. Attempt 0 waits the base
// delay; jitter multiplies the computed delay by a random factor in
// [0.5, 1.5]. MaxAttempts of 0 retries forever.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
	MaxAttempts uint
	Strategy    Strategy
	Custom      DelayFunc
}

// DefaultPolicy is exponential backoff with jitter and no attempt cap.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
		Jitter:      true,
		MaxAttempts: 0,
		Strategy:    StrategyExponential,
	}
}

// BackoffHandler tracks consecutive failed attempts and turns a Policy
// into concrete waits. Not safe for concurrent use; the supervisor owns
// it.
type BackoffHandler struct {
	policy  Policy
	attempt uint

	Clock Clock
	rand  *rand.Rand
}

func NewBackoff(policy Policy) *BackoffHandler {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultMaxDelay
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = DefaultMultiplier
	}
	if policy.Strategy == "" {
		policy.Strategy = StrategyExponential
	}
	return &BackoffHandler{
		policy: policy,
		Clock:  Clock{Now: time.Now, After: time.After},
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
	}
}

// Delay returns the wait before the given attempt, without jitter.
func (b *BackoffHandler) Delay(attempt uint) time.Duration {
	p := b.policy
	var d time.Duration
	switch p.Strategy {
	case StrategyFixed:
		d = p.BaseDelay
	case StrategyLinear:
		d = p.BaseDelay + time.Duration(attempt)*p.BaseDelay
	case StrategyCustom:
		if p.Custom != nil {
			d = p.Custom(attempt)
			break
		}
		fallthrough
	default:
		scaled := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
		if scaled > float64(p.MaxDelay) || math.IsInf(scaled, 1) {
			return p.MaxDelay
		}
		d = time.Duration(scaled)
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// NextDelay returns the wait before the next attempt, with jitter
// applied when the policy enables it.
func (b *BackoffHandler) NextDelay() time.Duration {
	d := b.Delay(b.attempt)
	if b.policy.Jitter && d > 0 {
		factor := 0.5 + b.rand.Float64()
		d = time.Duration(float64(d) * factor)
	}
	return d
}

// Backoff sleeps the next delay and advances the attempt counter.
// Returns false when the attempt budget is exhausted or ctx is done.
func (b *BackoffHandler) Backoff(ctx context.Context) bool {
	if b.ReachedMaxAttempts() {
		return false
	}
	d := b.NextDelay()
	b.attempt++
	select {
	case <-b.Clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// Attempt returns the number of consecutive failed attempts.
func (b *BackoffHandler) Attempt() uint {
	return b.attempt
}

// ReachedMaxAttempts reports whether the policy's attempt budget is
// spent. A budget of 0 never exhausts.
func (b *BackoffHandler) ReachedMaxAttempts() bool {
	return b.policy.MaxAttempts > 0 && b.attempt >= b.policy.MaxAttempts
}

// Reset clears the attempt counter. The supervisor calls this after a
// session authenticates.
func (b *BackoffHandler) Reset() {
	b.attempt = 0
}
