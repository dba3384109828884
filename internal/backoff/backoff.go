// Package backoff computes retry delays after consecutive check failures.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultBase                   = time.Second
	DefaultMax                    = 5 * time.Minute
	DefaultMaxConsecutiveFailures = 5
	DefaultJitter                 = 0.2
)

// Policy is an exponential backoff: min(Base * 2^failures, Max), stretched
// by up to Jitter (a fraction in [0, 1]) and never above Max.
//
// Jitter only ever lengthens the delay, and by at most one doubling, so the
// sequence of delays stays non-decreasing.
type Policy struct {
	Base                   time.Duration
	Max                    time.Duration
	MaxConsecutiveFailures int
	Jitter                 float64
}

func Default() Policy {
	return Policy{
		Base:                   DefaultBase,
		Max:                    DefaultMax,
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		Jitter:                 DefaultJitter,
	}
}

// Normalize fills zero fields with defaults and clamps Jitter.
func (p Policy) Normalize() Policy {
	if p.Base <= 0 {
		p.Base = DefaultBase
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.MaxConsecutiveFailures <= 0 {
		p.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	p.Jitter = math.Min(math.Max(p.Jitter, 0), 1)
	return p
}

// Delay returns the wait before the next attempt after failures consecutive
// failures.
func (p Policy) Delay(failures int) time.Duration {
	return p.delay(failures, rand.Float64)
}

// Ceiling is the un-jittered delay for failures.
func (p Policy) Ceiling(failures int) time.Duration {
	p = p.Normalize()
	if failures < 0 {
		failures = 0
	}
	factor := math.Pow(2, float64(failures))
	delay := float64(p.Base) * factor
	if delay >= float64(p.Max) || math.IsInf(delay, 0) {
		return p.Max
	}
	return time.Duration(delay)
}

// Exhausted reports whether failures has reached the degrade threshold.
func (p Policy) Exhausted(failures int) bool {
	return failures >= p.Normalize().MaxConsecutiveFailures
}

func (p Policy) delay(failures int, random func() float64) time.Duration {
	p = p.Normalize()
	delay := p.Ceiling(failures)
	if p.Jitter == 0 || delay >= p.Max {
		return delay
	}
	jittered := time.Duration(float64(delay) * (1 + p.Jitter*random()))
	if jittered > p.Max {
		return p.Max
	}
	return jittered
}
