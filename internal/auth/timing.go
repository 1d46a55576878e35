package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for response time equalization on the login path
type TimingConfig struct {
	BaseDelayMs    int  // Minimum total duration of a failed attempt
	RandomDelayMs  int  // Random jitter added on top of the base
	DelayOnSuccess bool // If true, successful attempts are padded too
}

// TimingDelay pads login responses so unknown-account, wrong-password and blocked
// outcomes take roughly the same wall time
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// Enabled reports whether any padding is configured
func (td *TimingDelay) Enabled() bool {
	return td != nil && (td.config.BaseDelayMs > 0 || td.config.RandomDelayMs > 0)
}

// cryptoRandIntn returns a secure random number between 0 and max (exclusive)
func cryptoRandIntn(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0, err
	}

	return int(binary.BigEndian.Uint64(randomBytes) % uint64(max)), nil
}

func (td *TimingDelay) target() time.Duration {
	base := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs > 0 {
		if n, err := cryptoRandIntn(td.config.RandomDelayMs); err == nil {
			base += time.Duration(n) * time.Millisecond
		}
	}
	return base
}

// WaitFrom sleeps until at least base+jitter has elapsed since start.
// It returns early if ctx is done.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if !td.Enabled() || (success && !td.config.DelayOnSuccess) {
		return
	}

	remaining := td.target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
