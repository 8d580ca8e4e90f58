package realtime

import (
	"fmt"
	"math"
	"time"
)

const (
	// DefaultMaxAttempts is the number of reconnect attempts made before
	// the client gives up and enters StateFailed.
	DefaultMaxAttempts = 5

	// DefaultBaseDelay is the delay before the first reconnect attempt.
	DefaultBaseDelay = 3 * time.Second

	// DefaultBackoffFactor is the multiplicative growth applied per attempt.
	DefaultBackoffFactor = 1.5
)

// ReconnectPolicy bounds and paces automatic reconnection.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
}

// DefaultReconnectPolicy returns the policy used when none is configured.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Factor:      DefaultBackoffFactor,
	}
}

// Delay returns the wait before reconnect attempt n (1-based):
// BaseDelay * Factor^(n-1). Values of n below 1 are treated as 1.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}

// Validate checks that the policy can be used by a Client.
func (p ReconnectPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts cannot be negative: %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay cannot be negative: %v", p.BaseDelay)
	}
	if p.Factor < 1 {
		return fmt.Errorf("backoff factor must be at least 1, got %v", p.Factor)
	}
	return nil
}
