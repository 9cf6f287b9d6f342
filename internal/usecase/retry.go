// File: internal/usecase/retry.go
package usecase

import "time"

// RetryPolicy is the exponential backoff shared by the inbox and the mail outbox.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Next returns when attempt number attempts+1 may run, and whether attempts is the last one allowed.
func (p RetryPolicy) Next(attempts int, now time.Time) (time.Time, bool) {
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return now, true
	}
	return now.Add(p.Backoff(attempts)), false
}

// Backoff is base * 2^(attempts-1), capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	base := p.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}
