// Package backoff computes how long a failed job waits before it becomes
// eligible for another attempt.
package backoff

import (
	"fmt"
	"math"
	"time"
)

// Strategy returns the delay before retry attempt n. Attempt 1 is the first retry.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant waits the same interval before every retry
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt: min(Initial * 2^(attempt-1), Max)
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential strategy
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	f := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && f >= float64(e.Max) {
		return e.Max
	}
	if f >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

// Kind names a strategy in configuration files
type Kind string

const (
	KindConstant    Kind = "constant"
	KindExponential Kind = "exponential"
)

// New builds the strategy named by kind. An empty kind means constant.
func New(kind Kind, initial, maxDelay time.Duration) (Strategy, error) {
	switch kind {
	case KindConstant, "":
		return NewConstant(initial), nil
	case KindExponential:
		return NewExponential(initial, maxDelay), nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", kind)
	}
}
