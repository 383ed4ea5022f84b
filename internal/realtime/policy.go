package realtime

import (
	"errors"
	"math"
	"time"

	"github.com/rickgao/housekeeping/internal/feed"
)

// Policy defaults
const (
	DefaultMaxAttempts    = 3
	DefaultReconnectDelay = time.Second
	DefaultMultiplier     = 1.0
)

// Policy decides whether a failed connection is retried. The zero Policy
// behaves like DefaultPolicy.
type Policy struct {
	// MaxAttempts is the failed-attempt budget.
	MaxAttempts int

	// Delay is the wait before the first retry.
	Delay time.Duration

	// Multiplier scales Delay per further attempt. 1 keeps it fixed.
	Multiplier float64

	// MaxDelay caps the scaled delay. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultPolicy returns the fixed-delay policy: three attempts, one second
// apart.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultReconnectDelay,
		Multiplier:  DefaultMultiplier,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Delay <= 0 {
		p.Delay = DefaultReconnectDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.MaxDelay < 0 {
		p.MaxDelay = 0
	}
	return p
}

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Retry bool
	Delay time.Duration

	// Reason is the terminal error message when Retry is false.
	Reason string
}

// Decide maps the failed-attempt count and the failure cause to a retry
// decision. It has no side effects.
func (p Policy) Decide(attempts int, cause error) Decision {
	p = p.withDefaults()

	if errors.Is(cause, feed.ErrNotConfigured) {
		return Decision{Reason: MsgNotConfigured}
	}
	if attempts >= p.MaxAttempts {
		return Decision{Reason: MsgMaxAttempts}
	}
	return Decision{Retry: true, Delay: p.delay(attempts)}
}

// delay returns Delay * Multiplier^(attempts-1), capped at MaxDelay.
func (p Policy) delay(attempts int) time.Duration {
	if attempts < 1 || p.Multiplier == 1 {
		return p.capped(p.Delay)
	}
	scaled := float64(p.Delay) * math.Pow(p.Multiplier, float64(attempts-1))
	if scaled >= math.MaxInt64 {
		return p.capped(time.Duration(math.MaxInt64))
	}
	return p.capped(time.Duration(scaled))
}

func (p Policy) capped(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
